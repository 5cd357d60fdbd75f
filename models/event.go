package models

import "time"

/************************************************
/**** MARK: SOURCE TYPES ****/
/************************************************/
const SOURCE_TYPE_USER = "user"
const SOURCE_TYPE_GROUP = "group"
const SOURCE_TYPE_ROOM = "room"

// MessageEvent is one inbound text message extracted from a LINE webhook.
// It lives only for the duration of the webhook request that carried it.
type MessageEvent struct {
	WebhookEventID string
	SenderID       string
	SourceType     string
	Text           string
	ReplyToken     string // single use
	Redelivery     bool
	Timestamp      time.Time
}
