// Package events delivers billing and refill telemetry. Delivery is
// fire-and-forget: failures are logged and never propagate into the
// operation that produced the event.
package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const (
	TypeTierRefill  = "tier_refill"
	TypeTierChange  = "tier_change"
	TypeGeneration  = "generation"
	TypeRefillBatch = "tier_refill_complete"
)

// Event is one NDJSON telemetry record.
type Event struct {
	Type            string   `json:"event_type"`
	Environment     string   `json:"environment,omitempty"`
	AccountID       string   `json:"user_id,omitempty"`
	Tier            string   `json:"tier,omitempty"`
	Model           string   `json:"model,omitempty"`
	PollenAmount    float64  `json:"pollen_amount,omitempty"`
	PreviousBalance *float64 `json:"previous_balance,omitempty"`
	InputTokens     int      `json:"input_tokens,omitempty"`
	OutputTokens    int      `json:"output_tokens,omitempty"`
	Timestamp       string   `json:"timestamp"`
}

// Publisher delivers a batch of events to a telemetry backend.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

// HTTPPublisher posts newline-delimited JSON to an ingest endpoint with a
// bearer token, the contract analytics backends such as Tinybird expect.
type HTTPPublisher struct {
	url         string
	token       string
	environment string
	client      *http.Client
}

func NewHTTPPublisher(url, token, environment string, client *http.Client) *HTTPPublisher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPPublisher{url: url, token: token, environment: environment, client: client}
}

func (p *HTTPPublisher) Publish(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for i := range events {
		if events[i].Environment == "" {
			events[i].Environment = p.environment
		}
		if err := enc.Encode(events[i]); err != nil {
			return fmt.Errorf("encode event: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, &body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-ndjson")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("post events: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("event ingest rejected: status=%d body=%s", resp.StatusCode, detail)
	}
	return nil
}

// PublishAsync delivers events on a separate goroutine, logging failures.
// This is the call sites' default: telemetry must never block or fail a
// request or a refill.
func PublishAsync(p Publisher, events ...Event) {
	if p == nil || len(events) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := p.Publish(ctx, events...); err != nil {
			slog.Warn("failed to publish telemetry events", "error", err, "count", len(events))
		}
	}()
}

// MemorySink records events for tests and development.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Publish(ctx context.Context, events ...Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// NopPublisher discards everything.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, events ...Event) error { return nil }
