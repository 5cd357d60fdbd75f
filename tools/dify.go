package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"difyline/config"
	"difyline/models"

	"github.com/tidwall/gjson"
)

const (
	difyResponseModeBlocking = "blocking"
	difyMaxResponseBytes     = 4 << 20
	logQueryPreview          = 100
	logBodyPreview           = 200
)

type difyRequest struct {
	Inputs       map[string]any `json:"inputs"`
	Query        string         `json:"query"`
	ResponseMode string         `json:"response_mode"`
	User         string         `json:"user"`
}

// DifyClient asks a Dify chat app for one blocking answer.
type DifyClient struct {
	apiKey     string
	baseURL    string
	fallbacks  config.Fallbacks
	httpClient *http.Client
	logger     *slog.Logger
}

func NewDifyClient(cfg config.Configuration, logger *slog.Logger) *DifyClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &DifyClient{
		apiKey:     strings.TrimSpace(cfg.Dify.ApiKey),
		baseURL:    strings.TrimRight(cfg.Dify.BaseURL, "/"),
		fallbacks:  cfg.Fallbacks,
		httpClient: newHTTPClient(cfg.AI.Timeout),
		logger:     logger.With("component", "dify"),
	}
}

// Query posts text to {base}/chat-messages on behalf of userID and never fails:
// every error path resolves to a fallback Answer.
func (c *DifyClient) Query(ctx context.Context, userID, text string) (answer models.Answer) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("unexpected panic", "panic", r, "stack", string(debug.Stack()))
			answer = fallbackAnswer(c.fallbacks, models.ANSWER_KIND_UNEXPECTED)
		}
	}()

	url := c.baseURL + "/chat-messages"
	b, err := json.Marshal(difyRequest{
		Inputs:       map[string]any{},
		Query:        text,
		ResponseMode: difyResponseModeBlocking,
		User:         userID,
	})
	if err != nil {
		c.logger.Error("encode request", "error", err)
		return fallbackAnswer(c.fallbacks, models.ANSWER_KIND_UNEXPECTED)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		c.logger.Error("build request", "url", url, "error", err)
		return fallbackAnswer(c.fallbacks, models.ANSWER_KIND_UNEXPECTED)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	c.logger.Info("querying", "url", url, "user", userID, "query", Truncate(text, logQueryPreview))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		kind := classifyError(err)
		c.logger.Error("request failed", "kind", kind, "error", err, "elapsed", time.Since(start))
		return fallbackAnswer(c.fallbacks, kind)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, difyMaxResponseBytes))
	if err != nil {
		kind := classifyError(err)
		c.logger.Error("read response", "kind", kind, "status", resp.StatusCode, "error", err)
		return fallbackAnswer(c.fallbacks, kind)
	}

	c.logger.Info("response",
		"status", resp.StatusCode,
		"body", Truncate(string(raw), logBodyPreview),
		"elapsed", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("http error", "status", resp.StatusCode, "body", Truncate(string(raw), logBodyPreview))
		return fallbackAnswer(c.fallbacks, models.ANSWER_KIND_HTTP_ERROR)
	}

	if !gjson.ValidBytes(raw) {
		c.logger.Warn("response is not json", "body", Truncate(string(raw), logBodyPreview))
		return fallbackAnswer(c.fallbacks, models.ANSWER_KIND_EMPTY)
	}

	if text, ok := stringField(raw, "answer"); ok {
		return models.Answer{Text: text, Kind: models.ANSWER_KIND_ANSWER}
	}
	if text, ok := stringField(raw, "message"); ok {
		return models.Answer{Text: text, Kind: models.ANSWER_KIND_MESSAGE}
	}

	c.logger.Warn("unexpected response structure", "body", Truncate(string(raw), logBodyPreview))
	return fallbackAnswer(c.fallbacks, models.ANSWER_KIND_EMPTY)
}

// stringField returns the named top-level field only when it is a non-blank JSON string.
func stringField(raw []byte, name string) (string, bool) {
	v := gjson.GetBytes(raw, name)
	if v.Type != gjson.String || strings.TrimSpace(v.Str) == "" {
		return "", false
	}
	return v.Str, true
}
