package tools

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"difyline/config"
	"difyline/models"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient answers through an OpenAI-compatible chat completions endpoint.
// It shares the Dify client's fallback taxonomy so the processor can't tell them apart.
type OpenAIClient struct {
	client       *openai.Client
	model        string
	systemPrompt string
	fallbacks    config.Fallbacks
	logger       *slog.Logger
}

func NewOpenAIClient(cfg config.Configuration, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	oc := openai.DefaultConfig(strings.TrimSpace(cfg.OpenAI.ApiKey))
	if base := strings.TrimSpace(cfg.OpenAI.BaseURL); base != "" {
		oc.BaseURL = strings.TrimRight(base, "/")
	}
	oc.HTTPClient = newHTTPClient(cfg.AI.Timeout)

	return &OpenAIClient{
		client:       openai.NewClientWithConfig(oc),
		model:        cfg.OpenAI.Model,
		systemPrompt: cfg.OpenAI.SystemPrompt,
		fallbacks:    cfg.Fallbacks,
		logger:       logger.With("component", "openai"),
	}
}

func (c *OpenAIClient) Query(ctx context.Context, userID, text string) (answer models.Answer) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("unexpected panic", "panic", r, "stack", string(debug.Stack()))
			answer = fallbackAnswer(c.fallbacks, models.ANSWER_KIND_UNEXPECTED)
		}
	}()

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if strings.TrimSpace(c.systemPrompt) != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: c.systemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: text,
	})

	c.logger.Info("querying", "model", c.model, "user", userID, "query", Truncate(text, logQueryPreview))

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
		User:     userID,
	})
	if err != nil {
		kind := c.classify(err)
		c.logger.Error("request failed", "kind", kind, "error", Truncate(err.Error(), logBodyPreview), "elapsed", time.Since(start))
		return fallbackAnswer(c.fallbacks, kind)
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		c.logger.Warn("empty completion", "choices", len(resp.Choices))
		return fallbackAnswer(c.fallbacks, models.ANSWER_KIND_EMPTY)
	}

	content := resp.Choices[0].Message.Content
	c.logger.Info("response", "answer", Truncate(content, logBodyPreview), "elapsed", time.Since(start))
	return models.Answer{Text: content, Kind: models.ANSWER_KIND_ANSWER}
}

func (c *OpenAIClient) classify(err error) string {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return models.ANSWER_KIND_HTTP_ERROR
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return models.ANSWER_KIND_HTTP_ERROR
	}
	return classifyError(err)
}
