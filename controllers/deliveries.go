package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	dbpkg "difyline/db"

	"github.com/gin-gonic/gin"
)

// GET /api/deliveries (admin)
func GetDeliveries(c *gin.Context) {
	ledger := dbpkg.LedgerInstance(c)
	if ledger == nil {
		RespondError(c, "ledger not configured", http.StatusServiceUnavailable)
		return
	}

	limit := dbpkg.DefaultRecentLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			RespondError(c, "invalid limit", http.StatusBadRequest)
			return
		}
		if n > dbpkg.MaxRecentLimit {
			RespondError(c, fmt.Sprintf("limit must be at most %d", dbpkg.MaxRecentLimit), http.StatusBadRequest)
			return
		}
		limit = n
	}

	deliveries, err := ledger.Recent(limit)
	if err != nil {
		RespondError(c, err.Error(), http.StatusInternalServerError)
		return
	}

	RespondSuccess(c, gin.H{"deliveries": deliveries})
}

// GET /api/deliveries/:id (admin)
func GetDeliveryByID(c *gin.Context) {
	id, ok := ParamID(c, "id")
	if !ok {
		return
	}

	ledger := dbpkg.LedgerInstance(c)
	if ledger == nil {
		RespondError(c, "ledger not configured", http.StatusServiceUnavailable)
		return
	}

	delivery, err := ledger.Get(id)
	if errors.Is(err, dbpkg.ErrNotFound) {
		RespondError(c, "delivery not found", http.StatusNotFound)
		return
	}
	if err != nil {
		RespondError(c, err.Error(), http.StatusInternalServerError)
		return
	}

	RespondSuccess(c, gin.H{"delivery": delivery})
}
