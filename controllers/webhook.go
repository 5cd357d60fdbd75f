package controllers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"difyline/models"
	"difyline/webhook"

	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 1 << 20

// EventHandler is what the webhook hands verified events to.
type EventHandler interface {
	ProcessAll(ctx context.Context, events []models.MessageEvent)
}

// GET /
func Health(botName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		RespondSuccess(c, gin.H{
			"status":  "ok",
			"message": botName + " is running",
		})
	}
}

// POST /webhook
//
// Only a bad signature changes the response; once the body is authentic the
// caller gets {"status":"ok"} whatever happens to the individual replies.
func WebhookUpdate(receiver *webhook.Receiver, handler EventHandler, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logger.With("request_id", c.GetString(requestIDKey))

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)
		raw, err := c.GetRawData()
		if err != nil {
			log.Warn("webhook: failed to read body", "error", err)
			RespondDetail(c, "failed to read body", http.StatusBadRequest)
			return
		}

		signature := c.GetHeader(webhook.SignatureHeaderName)
		log.Info("webhook received", "body_len", len(raw), "signature_present", signature != "")

		events, err := receiver.Handle(raw, signature)
		switch {
		case errors.Is(err, webhook.ErrInvalidSignature):
			log.Error("webhook: invalid signature")
			RespondDetail(c, "Invalid signature", http.StatusBadRequest)
			return
		case err != nil:
			log.Error("webhook: could not handle payload", "error", err)
			events = nil
		}

		if len(events) > 0 {
			// A dropped inbound connection must not abort replies already owed.
			handler.ProcessAll(context.WithoutCancel(c.Request.Context()), events)
		}

		RespondSuccess(c, gin.H{"status": "ok"})
	}
}
