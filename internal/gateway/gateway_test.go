package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/hivegate/hivegate/internal/circuitbreaker"
	"github.com/hivegate/hivegate/internal/domain"
	"github.com/hivegate/hivegate/internal/events"
	"github.com/hivegate/hivegate/internal/pipeline"
	"github.com/hivegate/hivegate/internal/ratelimit"
	"github.com/hivegate/hivegate/internal/registry"
	"github.com/hivegate/hivegate/internal/repository"
	"github.com/hivegate/hivegate/internal/secrets"
	"github.com/hivegate/hivegate/internal/upstream"
	"github.com/hivegate/hivegate/internal/usage"
)

type fakeUpstream struct {
	mu     sync.Mutex
	calls  int32
	delay  time.Duration
	err    error
	text   string
	chunks []string
}

func (f *fakeUpstream) Execute(ctx context.Context, req upstream.Request) (*domain.ChatResponse, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &domain.ChatResponse{
		ID:     "chatcmpl-fake",
		Object: "chat.completion",
		Model:  req.Provider.Model,
		Choices: []domain.Choice{{
			Message:      &domain.Message{Role: "assistant", Content: domain.Text(f.text)},
			FinishReason: "stop",
		}},
		Usage: domain.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func (f *fakeUpstream) ExecuteStream(ctx context.Context, req upstream.Request) (<-chan domain.StreamChunk, <-chan error) {
	atomic.AddInt32(&f.calls, 1)
	chunks := make(chan domain.StreamChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		if f.err != nil {
			errs <- f.err
			return
		}
		for _, text := range f.chunks {
			chunks <- domain.StreamChunk{
				Object:  "chat.completion.chunk",
				Choices: []domain.Choice{{Delta: &domain.Delta{Content: text}}},
			}
		}
	}()
	return chunks, errs
}

func (f *fakeUpstream) callCount() int {
	return int(atomic.LoadInt32(&f.calls))
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r, err := registry.New([]domain.ServiceDefinition{
		{
			Name:    "test-model",
			Aliases: []string{"tm"},
			Route: domain.ProviderRoute{
				Kind:     domain.KindOpenAICompat,
				Endpoint: "https://upstream.example.com/v1/chat/completions",
				Model:    "wire-model",
				AuthKey:  "sk-test",
			},
		},
		{
			Name:     "premium-model",
			PaidOnly: true,
			Route: domain.ProviderRoute{
				Kind:     domain.KindOpenAICompat,
				Endpoint: "https://upstream.example.com/v1/chat/completions",
				Model:    "wire-premium",
				AuthKey:  "sk-test",
			},
		},
	})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return r
}

type fixture struct {
	gateway  *Gateway
	upstream *fakeUpstream
	accounts *repository.InMemoryAccountStore
	sink     *events.MemorySink
}

func newFixture(t *testing.T, up *fakeUpstream) *fixture {
	t.Helper()

	accounts := repository.NewInMemoryAccountStore()
	pricer := usage.NewPricer()
	pricer.SetPricing("test-model", usage.Pricing{InputPer1K: 1, OutputPer1K: 1})
	sink := events.NewMemorySink()

	g := New(Config{
		Registry:    testRegistry(t),
		Pipeline:    pipeline.Default(secrets.StaticStore{}, http.DefaultClient, nil),
		Upstream:    up,
		Biller:      usage.NewBiller(accounts, pricer, usage.NewInMemoryTracker()),
		Breakers:    circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig()),
		Limiter:     ratelimit.NewInMemoryLimiter(),
		Limits:      ratelimit.DefaultTierLimits(),
		Events:      sink,
		Environment: "test",
	})

	return &fixture{gateway: g, upstream: up, accounts: accounts, sink: sink}
}

func seededAccount(f *fixture, id string, tier, pack float64) *domain.Account {
	account := &domain.Account{ID: id, Tier: "spore", TierBalance: tier, PackBalance: pack, Enabled: true}
	f.accounts.Seed(account, "")
	return account
}

func chatRequest(model, text string) domain.ChatRequest {
	return domain.ChatRequest{
		Messages: []domain.Message{{Role: "user", Content: domain.Text(text)}},
		Options:  domain.Options{Model: model},
	}
}

func TestCompleteHappyPath(t *testing.T) {
	f := newFixture(t, &fakeUpstream{text: "hello from upstream"})
	account := seededAccount(f, "acct-1", 5, 0)

	resp, err := f.gateway.Complete(context.Background(), account, chatRequest("tm", "hi"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Model != "test-model" {
		t.Errorf("response must carry canonical model id, got %q", resp.Model)
	}
	if resp.Choices[0].Message.Content.Text != "hello from upstream" {
		t.Errorf("unexpected content: %q", resp.Choices[0].Message.Content.Text)
	}

	// Billing happened against the tier balance.
	stored, _ := f.accounts.GetByID(context.Background(), "acct-1")
	if stored.TierBalance >= 5 {
		t.Error("tier balance was not debited")
	}
}

func TestAdmissionFailuresNeverReachUpstream(t *testing.T) {
	tests := []struct {
		name    string
		account *domain.Account
		model   string
		want    error
	}{
		{
			name:    "unknown model",
			account: &domain.Account{ID: "a", Tier: "spore", TierBalance: 5, Enabled: true},
			model:   "nope",
			want:    domain.ErrModelNotFound,
		},
		{
			name:    "model not on allowlist",
			account: &domain.Account{ID: "a", Tier: "spore", TierBalance: 5, AllowedModels: []string{"premium-model"}, Enabled: true},
			model:   "test-model",
			want:    domain.ErrModelNotAllowed,
		},
		{
			name:    "exhausted balance",
			account: &domain.Account{ID: "a", Tier: "spore", Enabled: true},
			model:   "test-model",
			want:    domain.ErrQuotaExceeded,
		},
		{
			name:    "paid-only with tier pollen only",
			account: &domain.Account{ID: "a", Tier: "spore", TierBalance: 5, Enabled: true},
			model:   "premium-model",
			want:    domain.ErrPaidBalanceRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, &fakeUpstream{text: "x"})
			f.accounts.Seed(tt.account, "")

			_, err := f.gateway.Complete(context.Background(), tt.account, chatRequest(tt.model, "hi"))
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
			if f.upstream.callCount() != 0 {
				t.Error("rejected request must not reach the upstream")
			}

			_, _, err = f.gateway.CompleteStream(context.Background(), tt.account, chatRequest(tt.model, "hi"))
			if !errors.Is(err, tt.want) {
				t.Errorf("stream: expected %v, got %v", tt.want, err)
			}
			if f.upstream.callCount() != 0 {
				t.Error("rejected stream must not reach the upstream")
			}
		})
	}
}

func TestCompleteDeduplicatesConcurrentIdenticalRequests(t *testing.T) {
	f := newFixture(t, &fakeUpstream{text: "shared", delay: 50 * time.Millisecond})
	account := seededAccount(f, "acct-1", 100, 0)

	const n = 8
	var wg sync.WaitGroup
	responses := make([]*domain.ChatResponse, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			responses[i], errs[i] = f.gateway.Complete(context.Background(), account, chatRequest("test-model", "same question"))
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("request %d failed: %v", i, errs[i])
		}
		if responses[i].ID != responses[0].ID {
			t.Error("all deduplicated callers must receive the identical response")
		}
	}
	if got := f.upstream.callCount(); got != 1 {
		t.Errorf("expected 1 upstream execution, got %d", got)
	}

	// One execution, one charge.
	stored, _ := f.accounts.GetByID(context.Background(), "acct-1")
	charged := 100 - stored.TierBalance
	if charged <= 0 {
		t.Fatal("no charge recorded")
	}
	single := 0.015 // 10 + 5 tokens at 1 pollen per 1K each
	if charged > single*1.5 {
		t.Errorf("deduplicated requests were billed more than once: charged %v", charged)
	}
}

func TestDifferentRequestsAreNotDeduplicated(t *testing.T) {
	f := newFixture(t, &fakeUpstream{text: "x", delay: 20 * time.Millisecond})
	account := seededAccount(f, "acct-1", 100, 0)

	var wg sync.WaitGroup
	for _, q := range []string{"one", "two"} {
		wg.Add(1)
		go func(q string) {
			defer wg.Done()
			f.gateway.Complete(context.Background(), account, chatRequest("test-model", q))
		}(q)
	}
	wg.Wait()

	if got := f.upstream.callCount(); got != 2 {
		t.Errorf("distinct requests must execute separately, got %d calls", got)
	}
}

func TestIdenticalRequestsFromDifferentAccountsBillBoth(t *testing.T) {
	f := newFixture(t, &fakeUpstream{text: "shared", delay: 50 * time.Millisecond})
	a := seededAccount(f, "acct-a", 100, 0)
	b := seededAccount(f, "acct-b", 100, 0)

	var wg sync.WaitGroup
	for _, account := range []*domain.Account{a, b} {
		wg.Add(1)
		go func(account *domain.Account) {
			defer wg.Done()
			if _, err := f.gateway.Complete(context.Background(), account, chatRequest("test-model", "same question")); err != nil {
				t.Errorf("%s: %v", account.ID, err)
			}
		}(account)
	}
	wg.Wait()

	if got := f.upstream.callCount(); got != 2 {
		t.Errorf("accounts must not share executions, got %d upstream calls", got)
	}
	for _, id := range []string{"acct-a", "acct-b"} {
		stored, _ := f.accounts.GetByID(context.Background(), id)
		if stored.TierBalance >= 100 {
			t.Errorf("account %s was never billed for its request", id)
		}
	}
}

func TestStreamingBypassesDedup(t *testing.T) {
	f := newFixture(t, &fakeUpstream{chunks: []string{"a", "b"}})
	account := seededAccount(f, "acct-1", 100, 0)

	for i := 0; i < 2; i++ {
		chunks, errs, err := f.gateway.CompleteStream(context.Background(), account, chatRequest("test-model", "same"))
		if err != nil {
			t.Fatalf("stream %d: %v", i, err)
		}
		for range chunks {
		}
		if err := <-errs; err != nil {
			t.Fatalf("stream %d error: %v", i, err)
		}
	}

	if got := f.upstream.callCount(); got != 2 {
		t.Errorf("streams must not share executions, got %d calls", got)
	}
}

func TestStreamDeliversChunksAndBills(t *testing.T) {
	f := newFixture(t, &fakeUpstream{chunks: []string{"Hel", "lo ", "bee"}})
	account := seededAccount(f, "acct-1", 100, 0)

	chunks, errs, err := f.gateway.CompleteStream(context.Background(), account, chatRequest("test-model", "greet me"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var text strings.Builder
	for chunk := range chunks {
		text.WriteString(chunk.Choices[0].Delta.Content)
	}
	if err := <-errs; err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if text.String() != "Hello bee" {
		t.Errorf("expected concatenated stream %q, got %q", "Hello bee", text.String())
	}

	// Settlement runs after the stream drains.
	deadline := time.After(time.Second)
	for {
		stored, _ := f.accounts.GetByID(context.Background(), "acct-1")
		if stored.TierBalance < 100 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("stream was never billed")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestUpstreamFailureOpensBreaker(t *testing.T) {
	f := newFixture(t, &fakeUpstream{err: &domain.UpstreamError{Status: 503, Message: "down"}})
	account := seededAccount(f, "acct-1", 100, 0)

	cfg := circuitbreaker.DefaultConfig()
	for i := 0; i < cfg.FailureThreshold; i++ {
		// Vary the prompt so dedup does not collapse the attempts.
		req := chatRequest("test-model", "attempt "+strings.Repeat("x", i))
		if _, err := f.gateway.Complete(context.Background(), account, req); err == nil {
			t.Fatal("expected upstream error")
		}
	}

	before := f.upstream.callCount()
	_, err := f.gateway.Complete(context.Background(), account, chatRequest("test-model", "after open"))
	if !errors.Is(err, domain.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if f.upstream.callCount() != before {
		t.Error("open breaker must shed load before the upstream")
	}
}

func TestRateLimitRejects(t *testing.T) {
	f := newFixture(t, &fakeUpstream{text: "x"})
	account := &domain.Account{ID: "acct-1", Tier: "microbe", PackBalance: 100, Enabled: true}
	f.accounts.Seed(account, "")

	limit := ratelimit.DefaultTierLimits().For("microbe")
	var rejected bool
	for i := 0; i <= limit; i++ {
		_, err := f.gateway.Complete(context.Background(), account, chatRequest("test-model", strings.Repeat("q", i+1)))
		if errors.Is(err, domain.ErrRateLimitExceeded) {
			rejected = true
			break
		}
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	if !rejected {
		t.Errorf("expected a rate limit rejection within %d requests", limit+1)
	}
}

func TestCompleteEmitsGenerationEvent(t *testing.T) {
	f := newFixture(t, &fakeUpstream{text: "done"})
	account := seededAccount(f, "acct-1", 100, 0)

	if _, err := f.gateway.Complete(context.Background(), account, chatRequest("test-model", "hi")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		evs := f.sink.Events()
		if len(evs) > 0 {
			if evs[0].Type != events.TypeGeneration {
				t.Errorf("expected generation event, got %q", evs[0].Type)
			}
			if evs[0].AccountID != "acct-1" || evs[0].Model != "test-model" {
				t.Errorf("event missing identity fields: %+v", evs[0])
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("generation event never published")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestCompleteRecordsPollenOnSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))

	f := newFixture(t, &fakeUpstream{text: "traced"})
	account := seededAccount(f, "acct-1", 5, 0)

	if _, err := f.gateway.Complete(context.Background(), account, chatRequest("test-model", "hi")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var found bool
	for _, span := range recorder.Ended() {
		if span.Name() != "gateway.complete" {
			continue
		}
		for _, attr := range span.Attributes() {
			if attr.Key == "pollen.charged" {
				found = true
				if attr.Value.AsFloat64() <= 0 {
					t.Errorf("pollen.charged = %v, want a positive charge", attr.Value.AsFloat64())
				}
			}
		}
	}
	if !found {
		t.Error("completion span never carried the pollen charge")
	}
}

func TestModelsListing(t *testing.T) {
	f := newFixture(t, &fakeUpstream{})

	free := &domain.Account{ID: "free", Tier: "spore", TierBalance: 3}
	listing := f.gateway.Models(free)
	for _, m := range listing.Data {
		if m.PaidOnly {
			t.Error("paid-only models must be hidden from accounts without paid balance")
		}
	}

	paid := &domain.Account{ID: "paid", PackBalance: 10}
	listing = f.gateway.Models(paid)
	var sawPremium bool
	for _, m := range listing.Data {
		if m.ID == "premium-model" {
			sawPremium = true
		}
	}
	if !sawPremium {
		t.Error("accounts with paid balance should see paid-only models")
	}

	restricted := &domain.Account{ID: "r", PackBalance: 10, AllowedModels: []string{"test-model"}}
	listing = f.gateway.Models(restricted)
	if len(listing.Data) != 1 || listing.Data[0].ID != "test-model" {
		t.Errorf("allowlist not applied to listing: %+v", listing.Data)
	}
}
