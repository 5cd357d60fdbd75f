package workers

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"difyline/config"
	"difyline/models"
	"difyline/tools"

	"golang.org/x/sync/errgroup"
)

// Gateway produces an answer for one user message. Implementations never fail
// outward; errors are folded into the Answer's Kind and fallback Text.
type Gateway interface {
	Query(ctx context.Context, userID, text string) models.Answer
}

// Replier sends the final text back to the chat the event came from.
type Replier interface {
	Reply(ctx context.Context, replyToken, text string) error
}

// Ledger remembers which webhook events were already handled.
type Ledger interface {
	// Claim returns false when the event was claimed before (a redelivery).
	Claim(ev models.MessageEvent) (bool, error)
	Complete(ev models.MessageEvent, answerKind string, replyErr error) error
}

// NopLedger claims every event and records nothing.
type NopLedger struct{}

func (NopLedger) Claim(models.MessageEvent) (bool, error) { return true, nil }

func (NopLedger) Complete(models.MessageEvent, string, error) error { return nil }

// EventProcessor turns message events into exactly one reply each.
type EventProcessor struct {
	gateway     Gateway
	replier     Replier
	ledger      Ledger
	fallbacks   config.Fallbacks
	concurrency int
	logger      *slog.Logger
}

func NewEventProcessor(cfg config.Configuration, gateway Gateway, replier Replier, ledger Ledger, logger *slog.Logger) *EventProcessor {
	if ledger == nil {
		ledger = NopLedger{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := cfg.MaxConcurrentEvents
	if concurrency < 1 {
		concurrency = 1
	}
	return &EventProcessor{
		gateway:     gateway,
		replier:     replier,
		ledger:      ledger,
		fallbacks:   cfg.Fallbacks,
		concurrency: concurrency,
		logger:      logger.With("component", "processor"),
	}
}

// ProcessAll handles every event independently. With concurrency 1 events are
// handled in order; a failing event never stops its siblings.
func (p *EventProcessor) ProcessAll(ctx context.Context, events []models.MessageEvent) {
	if len(events) == 0 {
		return
	}
	if p.concurrency == 1 || len(events) == 1 {
		for _, ev := range events {
			p.Process(ctx, ev)
		}
		return
	}

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for _, ev := range events {
		ev := ev
		g.Go(func() error {
			p.Process(ctx, ev)
			return nil
		})
	}
	_ = g.Wait()
}

// Process asks the gateway and sends one reply. Reply failures are logged and swallowed.
func (p *EventProcessor) Process(ctx context.Context, ev models.MessageEvent) {
	start := time.Now()
	log := p.logger.With("webhook_event_id", ev.WebhookEventID, "user", ev.SenderID)

	claimed, err := p.ledger.Claim(ev)
	if err != nil {
		log.Warn("ledger claim failed, processing anyway", "error", err)
	} else if !claimed {
		log.Info("event already handled, skipping redelivery")
		return
	}

	log.Info("message received", "text", tools.Truncate(ev.Text, 100), "redelivery", ev.Redelivery)

	answer := p.query(ctx, ev, log)
	log.Info("answer ready", "kind", answer.Kind, "answer", tools.Truncate(answer.Text, 100))

	replyErr := p.reply(ctx, ev, answer.Text)
	if replyErr != nil {
		log.Error("reply failed", "error", replyErr, "kind", answer.Kind)
	} else {
		log.Info("reply sent", "elapsed", time.Since(start))
	}

	if err := p.ledger.Complete(ev, answer.Kind, replyErr); err != nil {
		log.Warn("ledger complete failed", "error", err)
	}
}

func (p *EventProcessor) query(ctx context.Context, ev models.MessageEvent, log *slog.Logger) (answer models.Answer) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("gateway panic", "panic", r, "stack", string(debug.Stack()))
			answer = models.Answer{
				Text: tools.FallbackText(p.fallbacks, models.ANSWER_KIND_SYSTEM_ERROR),
				Kind: models.ANSWER_KIND_SYSTEM_ERROR,
			}
		}
	}()

	answer = p.gateway.Query(ctx, ev.SenderID, ev.Text)
	if answer.Text == "" {
		kind := answer.Kind
		if kind == "" || !answer.Fallback() {
			kind = models.ANSWER_KIND_EMPTY
		}
		answer = models.Answer{Text: tools.FallbackText(p.fallbacks, kind), Kind: kind}
	}
	return answer
}

func (p *EventProcessor) reply(ctx context.Context, ev models.MessageEvent, text string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reply panic: %v", r)
		}
	}()
	return p.replier.Reply(ctx, ev.ReplyToken, text)
}
