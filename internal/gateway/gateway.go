// Package gateway orchestrates one request's full path: catalog
// resolution, authorization, rate limiting, quota admission,
// deduplication, the transform pipeline, upstream execution and
// settlement.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/hivegate/hivegate/internal/auth"
	"github.com/hivegate/hivegate/internal/circuitbreaker"
	"github.com/hivegate/hivegate/internal/dedupe"
	"github.com/hivegate/hivegate/internal/domain"
	"github.com/hivegate/hivegate/internal/events"
	"github.com/hivegate/hivegate/internal/metrics"
	"github.com/hivegate/hivegate/internal/pipeline"
	"github.com/hivegate/hivegate/internal/quota"
	"github.com/hivegate/hivegate/internal/ratelimit"
	"github.com/hivegate/hivegate/internal/registry"
	"github.com/hivegate/hivegate/internal/telemetry"
	"github.com/hivegate/hivegate/internal/upstream"
	"github.com/hivegate/hivegate/internal/usage"
)

type Gateway struct {
	registry    *registry.Registry
	guard       *quota.Guard
	dedup       *dedupe.Deduplicator
	pipeline    pipeline.Pipeline
	upstream    Executor
	biller      *usage.Biller
	breakers    *circuitbreaker.Registry
	limiter     ratelimit.Limiter
	limits      ratelimit.TierLimits
	events      events.Publisher
	environment string
}

// Executor is the upstream surface the gateway needs; the concrete
// client satisfies it, tests substitute it.
type Executor interface {
	Execute(ctx context.Context, req upstream.Request) (*domain.ChatResponse, error)
	ExecuteStream(ctx context.Context, req upstream.Request) (<-chan domain.StreamChunk, <-chan error)
}

type Config struct {
	Registry    *registry.Registry
	Pipeline    pipeline.Pipeline
	Upstream    Executor
	Biller      *usage.Biller
	Breakers    *circuitbreaker.Registry
	Limiter     ratelimit.Limiter
	Limits      ratelimit.TierLimits
	Events      events.Publisher
	Environment string
}

func New(cfg Config) *Gateway {
	ev := cfg.Events
	if ev == nil {
		ev = events.NopPublisher{}
	}
	return &Gateway{
		registry:    cfg.Registry,
		guard:       quota.NewGuard(),
		dedup:       dedupe.New(),
		pipeline:    cfg.Pipeline,
		upstream:    cfg.Upstream,
		biller:      cfg.Biller,
		breakers:    cfg.Breakers,
		limiter:     cfg.Limiter,
		limits:      cfg.Limits,
		events:      ev,
		environment: cfg.Environment,
	}
}

// admit runs every pre-flight check and resolves the service. Nothing
// here touches an upstream; a rejected request costs only local work.
func (g *Gateway) admit(ctx context.Context, account *domain.Account, model string) (*domain.ServiceDefinition, error) {
	def, err := g.registry.Resolve(model)
	if err != nil {
		metrics.RecordRejection("model_not_found")
		return nil, err
	}

	if err := auth.Authorize(account, def.Name); err != nil {
		metrics.RecordRejection("model_not_allowed")
		return nil, err
	}

	if g.limiter != nil {
		allowed, _, _, err := g.limiter.Allow(ctx, account.ID, g.limits.For(account.Tier))
		if err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
		if !allowed {
			metrics.RecordRejection("rate_limited")
			return nil, domain.ErrRateLimitExceeded
		}
	}

	if err := g.guard.Admit(account, def); err != nil {
		metrics.RecordRejection("quota")
		return nil, err
	}

	return def, nil
}

// Complete handles a buffered request. Identical concurrent requests
// share one upstream execution and one charge.
func (g *Gateway) Complete(ctx context.Context, account *domain.Account, req domain.ChatRequest) (*domain.ChatResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "gateway.complete")
	defer span.End()

	start := time.Now()
	requestID := uuid.NewString()

	def, err := g.admit(ctx, account, req.Model)
	if err != nil {
		g.recordOutcome(account, req.Model, "rejected", false, start)
		return nil, err
	}

	telemetry.AddRequestAttributes(span, account.ID, account.Tier, def.Name, requestID)

	// The dedup key is scoped per account: an identical request from a
	// different account must run and be billed on its own.
	fingerprint := account.ID + ":" + dedupe.Fingerprint(req)
	resp, shared, err := g.dedup.Do(ctx, fingerprint, func(ctx context.Context) (*domain.ChatResponse, error) {
		resp, err := g.execute(ctx, def, req, false)
		if err != nil {
			return nil, err
		}
		g.settle(ctx, account, def, requestID, resp.Usage, false, time.Since(start))
		return resp, nil
	})
	telemetry.AddDedupAttribute(span, shared)
	if shared {
		metrics.DedupSharedTotal.Inc()
	}
	metrics.DedupInFlight.Set(float64(g.dedup.InFlight()))

	if err != nil {
		telemetry.AddErrorAttribute(span, err)
		g.recordOutcome(account, def.Name, "error", false, start)
		return nil, err
	}

	telemetry.AddTokenAttributes(span, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	g.recordOutcome(account, def.Name, "ok", false, start)
	return resp, nil
}

// CompleteStream handles a streamed request. Admission errors return
// synchronously so the caller can still write an error status; once
// channels are returned the response is committed to SSE. Streams
// bypass deduplication because a stream is consumed once.
func (g *Gateway) CompleteStream(ctx context.Context, account *domain.Account, req domain.ChatRequest) (<-chan domain.StreamChunk, <-chan error, error) {
	ctx, span := telemetry.StartSpan(ctx, "gateway.complete_stream")

	start := time.Now()
	requestID := uuid.NewString()

	def, err := g.admit(ctx, account, req.Model)
	if err != nil {
		g.recordOutcome(account, req.Model, "rejected", true, start)
		span.End()
		return nil, nil, err
	}

	telemetry.AddRequestAttributes(span, account.ID, account.Tier, def.Name, requestID)

	state, err := g.transform(ctx, def, req, true)
	if err != nil {
		telemetry.AddErrorAttribute(span, err)
		span.End()
		return nil, nil, err
	}

	breaker := g.breakerFor(state.Provider)
	if breaker != nil {
		if err := breaker.Allow(); err != nil {
			metrics.RecordRejection("circuit_open")
			span.End()
			return nil, nil, err
		}
	}

	upChunks, upErrs := g.upstream.ExecuteStream(ctx, upstream.Request{
		Provider: state.Provider,
		Messages: state.Messages,
		Options:  state.Options,
	})

	chunks := make(chan domain.StreamChunk)
	errs := make(chan error, 1)
	metrics.ActiveStreams.Inc()

	go func() {
		defer close(chunks)
		defer close(errs)
		defer metrics.ActiveStreams.Dec()
		defer span.End()

		var completion estimator
		completion.prompt(req.Messages)
		failed := false

		for chunk := range upChunks {
			completion.chunk(chunk)
			select {
			case chunks <- chunk:
			case <-ctx.Done():
				failed = true
			}
			if failed {
				break
			}
		}
		if err := <-upErrs; err != nil {
			telemetry.AddErrorAttribute(span, err)
			if breaker != nil {
				breaker.RecordFailure()
			}
			g.recordOutcome(account, def.Name, "error", true, start)
			errs <- err
			return
		}
		if failed {
			g.recordOutcome(account, def.Name, "canceled", true, start)
			return
		}

		if breaker != nil {
			breaker.RecordSuccess()
		}

		u := completion.usage()
		telemetry.AddTokenAttributes(span, u.PromptTokens, u.CompletionTokens)
		g.settle(context.WithoutCancel(ctx), account, def, requestID, u, true, time.Since(start))
		g.recordOutcome(account, def.Name, "ok", true, start)
	}()

	return chunks, errs, nil
}

// execute runs the pipeline and one buffered upstream call behind the
// endpoint's circuit breaker.
func (g *Gateway) execute(ctx context.Context, def *domain.ServiceDefinition, req domain.ChatRequest, stream bool) (*domain.ChatResponse, error) {
	state, err := g.transform(ctx, def, req, stream)
	if err != nil {
		return nil, err
	}

	breaker := g.breakerFor(state.Provider)
	if breaker != nil {
		if err := breaker.Allow(); err != nil {
			metrics.RecordRejection("circuit_open")
			return nil, err
		}
	}

	resp, err := g.upstream.Execute(ctx, upstream.Request{
		Provider: state.Provider,
		Messages: state.Messages,
		Options:  state.Options,
	})
	if breaker != nil {
		if err != nil {
			breaker.RecordFailure()
		} else {
			breaker.RecordSuccess()
		}
	}
	if err != nil {
		metrics.RecordUpstreamError(state.Provider.Kind.String(), classifyError(err))
		return nil, err
	}

	// Replies always carry the canonical model id, whatever alias or
	// provider-side id was involved.
	resp.Model = def.Name
	return resp, nil
}

func (g *Gateway) transform(ctx context.Context, def *domain.ServiceDefinition, req domain.ChatRequest, stream bool) (pipeline.State, error) {
	opts := req.Options
	opts.Model = def.Name
	opts.Stream = stream

	return g.pipeline.Run(ctx, pipeline.State{
		Messages: req.Messages,
		Options:  opts,
		Service:  def,
	})
}

func (g *Gateway) breakerFor(provider *domain.ResolvedProviderConfig) *circuitbreaker.Breaker {
	if g.breakers == nil || provider == nil {
		return nil
	}
	endpoint := provider.Endpoint
	if endpoint == "" {
		endpoint = provider.Kind.String() + "/" + provider.Region
	}
	return g.breakers.Get(endpoint)
}

// settle bills the account and publishes the generation event. Failures
// are logged inside the collaborators; the response is already owed to
// the caller at this point.
func (g *Gateway) settle(ctx context.Context, account *domain.Account, def *domain.ServiceDefinition, requestID string, u domain.Usage, streamed bool, latency time.Duration) {
	if g.biller == nil {
		return
	}

	record, err := g.biller.Charge(ctx, account.ID, def, requestID, u, streamed, latency)
	if err != nil {
		return
	}

	telemetry.AddPollenAttribute(trace.SpanFromContext(ctx), record.Pollen)
	metrics.RecordTokens(def.Name, u.PromptTokens, u.CompletionTokens)
	metrics.RecordPollen(def.Name, account.Tier, record.Pollen)

	events.PublishAsync(g.events, events.Event{
		Type:         events.TypeGeneration,
		Environment:  g.environment,
		AccountID:    account.ID,
		Tier:         account.Tier,
		Model:        def.Name,
		PollenAmount: record.Pollen,
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
		Timestamp:    record.Timestamp.Format(time.RFC3339),
	})
}

func (g *Gateway) recordOutcome(account *domain.Account, model, status string, streamed bool, start time.Time) {
	metrics.RecordRequest(model, account.Tier, status, streamed, time.Since(start).Seconds())
}

func classifyError(err error) string {
	var uerr *domain.UpstreamError
	switch {
	case errors.Is(err, domain.ErrUpstreamTimeout):
		return "timeout"
	case errors.As(err, &uerr):
		return fmt.Sprintf("status_%d", uerr.Status)
	default:
		return "transport"
	}
}
