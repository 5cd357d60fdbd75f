// Package webhook verifies and parses LINE Messaging API webhook deliveries.
package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"difyline/models"

	"github.com/google/uuid"
)

const (
	EVENT_TYPE_MESSAGE  = "message"
	MESSAGE_TYPE_TEXT   = "text"
	EVENT_MODE_STANDBY  = "standby"
	SignatureHeaderName = "X-Line-Signature"
)

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrMalformedPayload = errors.New("malformed webhook payload")
)

// CallbackRequest is the subset of the LINE webhook envelope the relay reads.
type CallbackRequest struct {
	Destination string      `json:"destination"`
	Events      []LineEvent `json:"events"`
}

type LineEvent struct {
	Type            string `json:"type"`
	Mode            string `json:"mode"`
	Timestamp       int64  `json:"timestamp"`
	WebhookEventID  string `json:"webhookEventId"`
	ReplyToken      string `json:"replyToken"`
	DeliveryContext struct {
		IsRedelivery bool `json:"isRedelivery"`
	} `json:"deliveryContext"`
	Source struct {
		Type    string `json:"type"`
		UserID  string `json:"userId"`
		GroupID string `json:"groupId"`
		RoomID  string `json:"roomId"`
	} `json:"source"`
	Message *struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"message,omitempty"`
}

// eventDecoder turns one raw event into a MessageEvent, or reports false when
// the event carries nothing the relay answers.
type eventDecoder func(ev LineEvent) (models.MessageEvent, bool)

// Receiver checks the signature of a webhook body and extracts message events.
type Receiver struct {
	secret   string
	decoders map[string]eventDecoder
	logger   *slog.Logger
}

func NewReceiver(channelSecret string, logger *slog.Logger) *Receiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Receiver{
		secret: channelSecret,
		decoders: map[string]eventDecoder{
			EVENT_TYPE_MESSAGE: decodeTextMessage,
		},
		logger: logger,
	}
}

// Handle verifies rawBody against signature and returns the text message events
// it contains, in delivery order. Nothing is parsed when the signature is wrong.
func (r *Receiver) Handle(rawBody []byte, signature string) ([]models.MessageEvent, error) {
	if !VerifySignature(r.secret, rawBody, signature) {
		return nil, ErrInvalidSignature
	}

	var payload CallbackRequest
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	out := make([]models.MessageEvent, 0, len(payload.Events))
	for i, ev := range payload.Events {
		decode, ok := r.decoders[ev.Type]
		if !ok {
			r.logger.Debug("webhook event ignored", "index", i, "type", ev.Type)
			continue
		}
		if ev.Mode == EVENT_MODE_STANDBY || strings.TrimSpace(ev.ReplyToken) == "" {
			r.logger.Info("webhook event not answerable", "index", i, "type", ev.Type, "mode", ev.Mode)
			continue
		}
		msg, ok := decode(ev)
		if !ok {
			r.logger.Debug("webhook event skipped by decoder", "index", i, "type", ev.Type)
			continue
		}
		out = append(out, msg)
	}

	return out, nil
}

func decodeTextMessage(ev LineEvent) (models.MessageEvent, bool) {
	if ev.Message == nil || ev.Message.Type != MESSAGE_TYPE_TEXT {
		return models.MessageEvent{}, false
	}

	sender := ev.Source.UserID
	if sender == "" {
		sender = ev.Source.GroupID
	}
	if sender == "" {
		sender = ev.Source.RoomID
	}

	// Older payloads carry no webhookEventId; give the event a local key.
	id := ev.WebhookEventID
	if id == "" {
		id = "local-" + uuid.NewString()
	}

	var ts time.Time
	if ev.Timestamp > 0 {
		ts = time.UnixMilli(ev.Timestamp)
	}

	return models.MessageEvent{
		WebhookEventID: id,
		SenderID:       sender,
		SourceType:     ev.Source.Type,
		Text:           ev.Message.Text,
		ReplyToken:     ev.ReplyToken,
		Redelivery:     ev.DeliveryContext.IsRedelivery,
		Timestamp:      ts,
	}, true
}
