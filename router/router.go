package router

import (
	"log/slog"

	"difyline/config"
	"difyline/controllers"
	dbpkg "difyline/db"
	"difyline/middleware"
	"difyline/webhook"

	"github.com/gin-gonic/gin"
)

// Dependencies are the runtime components the routes hand requests to.
type Dependencies struct {
	Receiver  *webhook.Receiver
	Processor controllers.EventHandler
	// Ledger is nil when no database is configured.
	Ledger *dbpkg.Ledger
	Logger *slog.Logger
}

// Initialize wires all routes and middlewares.
// Public: health + LINE webhook. Admin routes only exist with a ledger and an admin token.
func Initialize(r *gin.Engine, cfg config.Configuration, deps Dependencies) {
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(Logger(deps.Logger))

	r.GET("/", controllers.Health(cfg.BotName))
	r.POST("/webhook", controllers.WebhookUpdate(deps.Receiver, deps.Processor, deps.Logger))

	if deps.Ledger == nil || cfg.AdminToken == "" {
		return
	}

	admin := r.Group("/api")
	admin.Use(Adminizer(cfg.AdminToken))
	admin.Use(dbpkg.SetLedgerToContext(deps.Ledger))

	admin.GET("/deliveries", controllers.GetDeliveries)
	admin.GET("/deliveries/:id", controllers.GetDeliveryByID)
}
