package models

import "time"

/************************************************
/**** MARK: DELIVERY STATUS ****/
/************************************************/
const DELIVERY_STATUS_PROCESSING = "processing"
const DELIVERY_STATUS_DONE = "done"
const DELIVERY_STATUS_REPLY_FAILED = "reply_failed"

// Delivery records how one webhook event was handled.
// It keeps identifiers and outcome only, never the message or the answer text.
type Delivery struct {
	ID             int64      `gorm:"primary_key;AUTO_INCREMENT" json:"id"`
	WebhookEventID string     `gorm:"not null;unique_index" json:"webhook_event_id"`
	SenderID       string     `gorm:"not null;default:'';index" json:"sender_id"`
	Status         string     `gorm:"not null;default:'processing';index" json:"status"`
	AnswerKind     string     `gorm:"not null;default:''" json:"answer_kind"`
	Redelivery     bool       `gorm:"not null;default:false" json:"redelivery"`
	ErrorClass     string     `gorm:"default:''" json:"error_class"`
	ProcessedAt    *time.Time `json:"processed_at"`
	CreatedAt      *time.Time `gorm:"index" json:"created_at"`
	UpdatedAt      *time.Time `json:"updated_at"`
}
