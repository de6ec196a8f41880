// Package upstream executes fully transformed requests against the
// resolved provider and normalizes every reply, buffered or streamed,
// into the canonical completion shapes.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/hivegate/hivegate/internal/domain"
)

// Request is the wire-ready unit handed over by the transform pipeline.
type Request struct {
	Provider *domain.ResolvedProviderConfig
	Messages []domain.Message
	Options  domain.Options
}

// Client dispatches requests to the provider kind's transport. The
// bedrock runtime client is optional; requests routed to bedrock fail
// cleanly when it is absent.
type Client struct {
	httpClient *http.Client
	bedrock    *bedrockruntime.Client
}

func New(httpClient *http.Client, bedrock *bedrockruntime.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{httpClient: httpClient, bedrock: bedrock}
}

// Execute performs one buffered completion.
func (c *Client) Execute(ctx context.Context, req Request) (*domain.ChatResponse, error) {
	if req.Provider == nil {
		return nil, fmt.Errorf("request has no resolved provider")
	}

	switch req.Provider.Kind {
	case domain.KindOpenAICompat, domain.KindAzureDeployment:
		return c.executeOpenAI(ctx, req)
	case domain.KindAnthropic:
		return c.executeAnthropic(ctx, req)
	case domain.KindBedrock:
		return c.executeBedrock(ctx, req)
	}
	return nil, fmt.Errorf("unhandled provider kind %v", req.Provider.Kind)
}

// ExecuteStream performs one streamed completion. Both channels close
// when the stream ends; the error channel carries at most one value.
func (c *Client) ExecuteStream(ctx context.Context, req Request) (<-chan domain.StreamChunk, <-chan error) {
	if req.Provider == nil {
		return failedStream(fmt.Errorf("request has no resolved provider"))
	}

	switch req.Provider.Kind {
	case domain.KindOpenAICompat, domain.KindAzureDeployment:
		return c.streamOpenAI(ctx, req)
	case domain.KindAnthropic:
		return c.streamAnthropic(ctx, req)
	case domain.KindBedrock:
		return c.streamBedrock(ctx, req)
	}
	return failedStream(fmt.Errorf("unhandled provider kind %v", req.Provider.Kind))
}

func failedStream(err error) (<-chan domain.StreamChunk, <-chan error) {
	chunks := make(chan domain.StreamChunk)
	errs := make(chan error, 1)
	errs <- err
	close(chunks)
	close(errs)
	return chunks, errs
}

// mapTransportError converts timeouts into the canonical timeout
// sentinel so callers can map them to 504 without inspecting transport
// internals.
func mapTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrUpstreamTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", domain.ErrUpstreamTimeout, err)
	}
	return err
}
