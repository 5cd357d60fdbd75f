package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"difyline/config"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
)

const (
	lineMaxTextRunes = 5000
	lineReplyTimeout = 15 * time.Second
)

// LineReplier sends a single text reply through the LINE Messaging API.
type LineReplier struct {
	token  string
	opts   []messaging_api.MessagingApiAPIOption
	logger *slog.Logger
}

func NewLineReplier(cfg config.Configuration, logger *slog.Logger) (*LineReplier, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := []messaging_api.MessagingApiAPIOption{
		messaging_api.WithHTTPClient(newHTTPClient(lineReplyTimeout)),
	}
	if endpoint := strings.TrimSpace(cfg.Line.ApiEndpoint); endpoint != "" {
		opts = append(opts, messaging_api.WithEndpoint(endpoint))
	}

	token := strings.TrimSpace(cfg.Line.ChannelAccessToken)
	if _, err := messaging_api.NewMessagingApiAPI(token, opts...); err != nil {
		return nil, fmt.Errorf("line messaging api: %w", err)
	}

	return &LineReplier{token: token, opts: opts, logger: logger.With("component", "line")}, nil
}

// Reply consumes replyToken to send text. The token is single use, so callers
// must not retry a failed reply. ctx bounds the request on top of the 15s client timeout.
func (r *LineReplier) Reply(ctx context.Context, replyToken, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// WithContext mutates the client; it must not be shared across concurrent replies.
	api, err := messaging_api.NewMessagingApiAPI(r.token, r.opts...)
	if err != nil {
		return fmt.Errorf("line messaging api: %w", err)
	}

	_, err = api.WithContext(ctx).ReplyMessage(&messaging_api.ReplyMessageRequest{
		ReplyToken: replyToken,
		Messages: []messaging_api.MessageInterface{
			messaging_api.TextMessage{Text: Truncate(text, lineMaxTextRunes)},
		},
	})
	if err != nil {
		return fmt.Errorf("line reply: %w", err)
	}

	r.logger.Debug("reply sent", "text_len", len(text))
	return nil
}
