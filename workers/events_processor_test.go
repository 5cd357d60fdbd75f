package workers

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"difyline/config"
	"difyline/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type fakeGateway struct {
	mu      sync.Mutex
	calls   []string
	answers map[string]models.Answer // by user
	panicOn string
}

func (g *fakeGateway) Query(_ context.Context, userID, text string) models.Answer {
	g.mu.Lock()
	g.calls = append(g.calls, userID+":"+text)
	g.mu.Unlock()
	if userID == g.panicOn {
		panic("gateway exploded")
	}
	if a, ok := g.answers[userID]; ok {
		return a
	}
	return models.Answer{Text: "echo " + text, Kind: models.ANSWER_KIND_ANSWER}
}

type sentReply struct {
	Token string
	Text  string
}

type fakeReplier struct {
	mu      sync.Mutex
	sent    []sentReply
	failFor map[string]error
	panicOn string
}

func (r *fakeReplier) Reply(_ context.Context, token, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentReply{Token: token, Text: text})
	if token == r.panicOn {
		panic("replier exploded")
	}
	if err, ok := r.failFor[token]; ok {
		return err
	}
	return nil
}

type fakeLedger struct {
	mu        sync.Mutex
	seen      map[string]bool
	completed map[string]string
	claimErr  error
	replyErrs map[string]error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{seen: map[string]bool{}, completed: map[string]string{}, replyErrs: map[string]error{}}
}

func (l *fakeLedger) Claim(ev models.MessageEvent) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.claimErr != nil {
		return false, l.claimErr
	}
	if l.seen[ev.WebhookEventID] {
		return false, nil
	}
	l.seen[ev.WebhookEventID] = true
	return true, nil
}

func (l *fakeLedger) Complete(ev models.MessageEvent, kind string, replyErr error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.completed[ev.WebhookEventID] = kind
	l.replyErrs[ev.WebhookEventID] = replyErr
	return nil
}

func event(id, user, text string) models.MessageEvent {
	return models.MessageEvent{WebhookEventID: id, SenderID: user, Text: text, ReplyToken: "tok-" + id}
}

func newProcessor(g Gateway, r Replier, l Ledger, concurrency int) *EventProcessor {
	cfg := config.Default()
	cfg.MaxConcurrentEvents = concurrency
	return NewEventProcessor(cfg, g, r, l, testLogger())
}

func TestProcess_RepliesWithAnswer(t *testing.T) {
	g := &fakeGateway{answers: map[string]models.Answer{
		"U1": {Text: "Hi there", Kind: models.ANSWER_KIND_ANSWER},
	}}
	r := &fakeReplier{}
	l := newFakeLedger()

	newProcessor(g, r, l, 1).Process(context.Background(), event("e1", "U1", "Hello"))

	if len(g.calls) != 1 || g.calls[0] != "U1:Hello" {
		t.Errorf("gateway calls: %v", g.calls)
	}
	if len(r.sent) != 1 || r.sent[0] != (sentReply{Token: "tok-e1", Text: "Hi there"}) {
		t.Errorf("replies: %+v", r.sent)
	}
	if l.completed["e1"] != models.ANSWER_KIND_ANSWER {
		t.Errorf("ledger kind: %q", l.completed["e1"])
	}
}

func TestProcess_FallbackAnswerIsStillSent(t *testing.T) {
	fallbacks := config.Default().Fallbacks
	g := &fakeGateway{answers: map[string]models.Answer{
		"U1": {Text: fallbacks.Timeout, Kind: models.ANSWER_KIND_TIMEOUT},
	}}
	r := &fakeReplier{}

	newProcessor(g, r, nil, 1).Process(context.Background(), event("e1", "U1", "slow"))

	if len(r.sent) != 1 || r.sent[0].Text != fallbacks.Timeout {
		t.Errorf("replies: %+v", r.sent)
	}
}

func TestProcess_GatewayPanicSendsSystemFallbackOnce(t *testing.T) {
	g := &fakeGateway{panicOn: "U1"}
	r := &fakeReplier{}
	l := newFakeLedger()

	newProcessor(g, r, l, 1).Process(context.Background(), event("e1", "U1", "boom"))

	if len(r.sent) != 1 {
		t.Fatalf("expected exactly one reply, got %d", len(r.sent))
	}
	if r.sent[0].Text != config.Default().Fallbacks.System {
		t.Errorf("reply text: %q", r.sent[0].Text)
	}
	if l.completed["e1"] != models.ANSWER_KIND_SYSTEM_ERROR {
		t.Errorf("ledger kind: %q", l.completed["e1"])
	}
}

func TestProcess_EmptyAnswerBecomesFallback(t *testing.T) {
	g := &fakeGateway{answers: map[string]models.Answer{
		"U1": {Text: "", Kind: models.ANSWER_KIND_ANSWER},
	}}
	r := &fakeReplier{}

	newProcessor(g, r, nil, 1).Process(context.Background(), event("e1", "U1", "?"))

	if len(r.sent) != 1 || r.sent[0].Text != config.Default().Fallbacks.Empty {
		t.Errorf("replies: %+v", r.sent)
	}
}

func TestProcess_ReplyFailureIsSwallowed(t *testing.T) {
	replyErr := errors.New("invalid reply token")
	g := &fakeGateway{}
	r := &fakeReplier{failFor: map[string]error{"tok-e1": replyErr}}
	l := newFakeLedger()

	newProcessor(g, r, l, 1).Process(context.Background(), event("e1", "U1", "hi"))

	if len(r.sent) != 1 {
		t.Errorf("reply must be attempted exactly once, got %d", len(r.sent))
	}
	if !errors.Is(l.replyErrs["e1"], replyErr) {
		t.Errorf("ledger should record reply error, got %v", l.replyErrs["e1"])
	}
}

func TestProcess_ReplyPanicIsSwallowed(t *testing.T) {
	g := &fakeGateway{}
	r := &fakeReplier{panicOn: "tok-e1"}
	l := newFakeLedger()

	newProcessor(g, r, l, 1).Process(context.Background(), event("e1", "U1", "hi"))

	if l.replyErrs["e1"] == nil {
		t.Error("reply panic should be recorded as an error")
	}
}

func TestProcess_SkipsRedelivery(t *testing.T) {
	g := &fakeGateway{}
	r := &fakeReplier{}
	l := newFakeLedger()
	p := newProcessor(g, r, l, 1)

	ev := event("e1", "U1", "hi")
	p.Process(context.Background(), ev)
	ev.Redelivery = true
	p.Process(context.Background(), ev)

	if len(g.calls) != 1 || len(r.sent) != 1 {
		t.Errorf("redelivered event must not be answered twice: calls=%d replies=%d", len(g.calls), len(r.sent))
	}
}

func TestProcess_LedgerErrorDoesNotBlock(t *testing.T) {
	g := &fakeGateway{}
	r := &fakeReplier{}
	l := newFakeLedger()
	l.claimErr = errors.New("db down")

	newProcessor(g, r, l, 1).Process(context.Background(), event("e1", "U1", "hi"))

	if len(r.sent) != 1 {
		t.Errorf("expected reply despite ledger error, got %d", len(r.sent))
	}
}

func TestProcessAll_SequentialKeepsOrder(t *testing.T) {
	g := &fakeGateway{}
	r := &fakeReplier{}
	events := []models.MessageEvent{
		event("e1", "U1", "one"),
		event("e2", "U2", "two"),
		event("e3", "U3", "three"),
	}

	newProcessor(g, r, nil, 1).ProcessAll(context.Background(), events)

	want := []string{"tok-e1", "tok-e2", "tok-e3"}
	if len(r.sent) != len(want) {
		t.Fatalf("expected %d replies, got %d", len(want), len(r.sent))
	}
	for i, w := range want {
		if r.sent[i].Token != w {
			t.Errorf("reply %d: got %s, want %s", i, r.sent[i].Token, w)
		}
	}
}

func TestProcessAll_FailureDoesNotAbortSiblings(t *testing.T) {
	g := &fakeGateway{panicOn: "U2"}
	r := &fakeReplier{failFor: map[string]error{"tok-e1": errors.New("expired")}}
	events := []models.MessageEvent{
		event("e1", "U1", "one"),
		event("e2", "U2", "two"),
		event("e3", "U3", "three"),
	}

	newProcessor(g, r, nil, 1).ProcessAll(context.Background(), events)

	if len(r.sent) != 3 {
		t.Fatalf("every event should get one reply attempt, got %d", len(r.sent))
	}
	if r.sent[2].Text != "echo three" {
		t.Errorf("third event: got %q", r.sent[2].Text)
	}
}

func TestProcessAll_Concurrent(t *testing.T) {
	g := &fakeGateway{answers: map[string]models.Answer{
		"U1": {Text: "for U1", Kind: models.ANSWER_KIND_ANSWER},
		"U2": {Text: "for U2", Kind: models.ANSWER_KIND_ANSWER},
	}}
	r := &fakeReplier{}
	events := []models.MessageEvent{
		event("e1", "U1", "a"),
		event("e2", "U2", "b"),
	}

	newProcessor(g, r, newFakeLedger(), 4).ProcessAll(context.Background(), events)

	got := map[string]string{}
	for _, s := range r.sent {
		got[s.Token] = s.Text
	}
	if len(r.sent) != 2 || got["tok-e1"] != "for U1" || got["tok-e2"] != "for U2" {
		t.Errorf("unexpected replies: %+v", r.sent)
	}
}

type countingPurger struct {
	mu    sync.Mutex
	calls int
	last  time.Time
}

func (p *countingPurger) Purge(before time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.last = before
	return 1, nil
}

func (p *countingPurger) snapshot() (int, time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls, p.last
}

func TestStartLedgerJanitor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := &countingPurger{}
	StartLedgerJanitor(ctx, p, time.Hour, 10*time.Millisecond, testLogger())

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if calls, _ := p.snapshot(); calls >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	calls, last := p.snapshot()
	if calls < 2 {
		t.Fatalf("expected repeated purges, got %d", calls)
	}
	if age := time.Since(last); age < time.Hour || age > time.Hour+time.Minute {
		t.Errorf("cutoff should be ~1h ago, got %s", age)
	}
}
