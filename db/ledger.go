package db

import (
	"errors"
	"fmt"
	"time"

	"difyline/models"

	"github.com/jinzhu/gorm"
)

var ErrNotFound = errors.New("delivery not found")

// Ledger is the gorm-backed record of handled webhook events. It is what lets
// a LINE redelivery be recognized and skipped.
type Ledger struct {
	db *gorm.DB
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// Claim inserts a processing row for ev. It returns false when a row with the
// same webhook event id already exists.
func (l *Ledger) Claim(ev models.MessageEvent) (bool, error) {
	if ev.WebhookEventID == "" {
		return true, nil
	}

	var existing models.Delivery
	err := l.db.Where("webhook_event_id = ?", ev.WebhookEventID).First(&existing).Error
	if err == nil {
		return false, nil
	}
	if !gorm.IsRecordNotFoundError(err) {
		return false, fmt.Errorf("lookup delivery: %w", err)
	}

	d := models.Delivery{
		WebhookEventID: ev.WebhookEventID,
		SenderID:       ev.SenderID,
		Status:         models.DELIVERY_STATUS_PROCESSING,
		Redelivery:     ev.Redelivery,
	}
	if err := l.db.Create(&d).Error; err != nil {
		// lost a race on the unique index
		if l.db.Where("webhook_event_id = ?", ev.WebhookEventID).First(&existing).Error == nil {
			return false, nil
		}
		return false, fmt.Errorf("create delivery: %w", err)
	}
	return true, nil
}

// Complete stores the outcome of a claimed event.
func (l *Ledger) Complete(ev models.MessageEvent, answerKind string, replyErr error) error {
	if ev.WebhookEventID == "" {
		return nil
	}

	now := time.Now()
	status := models.DELIVERY_STATUS_DONE
	errClass := ""
	if replyErr != nil {
		status = models.DELIVERY_STATUS_REPLY_FAILED
		errClass = errorClass(replyErr)
	}

	return l.db.Model(&models.Delivery{}).
		Where("webhook_event_id = ?", ev.WebhookEventID).
		Updates(map[string]any{
			"status":       status,
			"answer_kind":  answerKind,
			"error_class":  errClass,
			"processed_at": &now,
		}).Error
}

const (
	DefaultRecentLimit = 200
	MaxRecentLimit     = 500
)

// Recent lists the newest deliveries first, at most MaxRecentLimit of them.
func (l *Ledger) Recent(limit int) ([]models.Delivery, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}
	var out []models.Delivery
	if err := l.db.Order("id desc").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Ledger) Get(id int64) (*models.Delivery, error) {
	var d models.Delivery
	err := l.db.First(&d, id).Error
	if gorm.IsRecordNotFoundError(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Purge deletes deliveries created before the cutoff.
func (l *Ledger) Purge(before time.Time) (int64, error) {
	res := l.db.Where("created_at < ?", before).Delete(&models.Delivery{})
	return res.RowsAffected, res.Error
}

// errorClass names the innermost error type, e.g. "*url.Error".
func errorClass(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return fmt.Sprintf("%T", err)
		}
		err = next
	}
}
