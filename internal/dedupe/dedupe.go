// Package dedupe collapses concurrent, billing-equivalent buffered
// requests into a single upstream execution. Streaming requests never
// pass through here: a byte stream can only be consumed once, so fanning
// it out would require materializing it and re-introduce the latency the
// deduplicator exists to avoid.
package dedupe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"

	"github.com/hivegate/hivegate/internal/domain"
)

// Fingerprint derives the dedup key from every input that affects both
// the output content and the billed amount. Two requests with equal
// fingerprints are the same unit of work.
func Fingerprint(req domain.ChatRequest) string {
	data, _ := json.Marshal(struct {
		Model            string                 `json:"model"`
		Messages         []domain.Message       `json:"messages"`
		Temperature      *float64               `json:"temperature,omitempty"`
		TopP             *float64               `json:"top_p,omitempty"`
		PresencePenalty  *float64               `json:"presence_penalty,omitempty"`
		FrequencyPenalty *float64               `json:"frequency_penalty,omitempty"`
		Seed             *int                   `json:"seed,omitempty"`
		MaxTokens        *int                   `json:"max_tokens,omitempty"`
		Stop             []string               `json:"stop,omitempty"`
		ResponseFormat   *domain.ResponseFormat `json:"response_format,omitempty"`
	}{
		Model:            req.Model,
		Messages:         req.Messages,
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		PresencePenalty:  req.PresencePenalty,
		FrequencyPenalty: req.FrequencyPenalty,
		Seed:             req.Seed,
		MaxTokens:        req.MaxTokens,
		Stop:             req.Stop,
		ResponseFormat:   req.ResponseFormat,
	})

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Work produces the buffered result for one fingerprint.
type Work func(ctx context.Context) (*domain.ChatResponse, error)

type entry struct {
	done    chan struct{}
	result  *domain.ChatResponse
	err     error
	waiters int
}

// Deduplicator is the keyed in-flight registry. One instance is owned by
// the gateway; it is never global state.
type Deduplicator struct {
	mu       sync.Mutex
	inflight map[string]*entry
}

func New() *Deduplicator {
	return &Deduplicator{inflight: make(map[string]*entry)}
}

// Do executes work for the fingerprint, or attaches to an execution
// already in flight. Every caller receives the identical result or error.
// The entry is removed when the owning call completes, success or not.
// The returned bool reports whether this caller shared another call's
// execution.
func (d *Deduplicator) Do(ctx context.Context, fingerprint string, work Work) (*domain.ChatResponse, bool, error) {
	d.mu.Lock()
	if e, ok := d.inflight[fingerprint]; ok {
		e.waiters++
		d.mu.Unlock()

		select {
		case <-e.done:
			return e.result, true, e.err
		case <-ctx.Done():
			return nil, true, ctx.Err()
		}
	}

	e := &entry{done: make(chan struct{})}
	d.inflight[fingerprint] = e
	d.mu.Unlock()

	e.result, e.err = work(ctx)

	d.mu.Lock()
	delete(d.inflight, fingerprint)
	d.mu.Unlock()
	close(e.done)

	return e.result, false, e.err
}

// InFlight reports the number of registered fingerprints, for metrics.
func (d *Deduplicator) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}
