package workers

import (
	"context"
	"log/slog"
	"time"
)

// Purger drops ledger rows created before a cutoff.
type Purger interface {
	Purge(before time.Time) (int64, error)
}

// StartLedgerJanitor starts a loop that removes ledger rows older than retention.
// It stops when ctx is done.
func StartLedgerJanitor(ctx context.Context, purger Purger, retention, interval time.Duration, logger *slog.Logger) {
	if purger == nil || retention <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		purgeExpired(purger, retention, logger)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				purgeExpired(purger, retention, logger)
			}
		}
	}()
}

func purgeExpired(purger Purger, retention time.Duration, logger *slog.Logger) {
	cutoff := time.Now().Add(-retention)
	n, err := purger.Purge(cutoff)
	if err != nil {
		logger.Warn("ledger janitor: purge failed", "error", err)
		return
	}
	if n > 0 {
		logger.Info("ledger janitor: purged deliveries", "count", n, "before", cutoff.Format(time.RFC3339))
	}
}
