package db

import (
	"github.com/gin-gonic/gin"
)

const ledgerKey = "ledger"

// SetLedgerToContext exposes the ledger to the handlers of a route group.
func SetLedgerToContext(ledger *Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ledgerKey, ledger)
		c.Next()
	}
}

func LedgerInstance(c *gin.Context) *Ledger {
	v, ok := c.Get(ledgerKey)
	if !ok {
		return nil
	}
	ledger, _ := v.(*Ledger)
	return ledger
}
