package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hivegate/hivegate/internal/domain"
)

// wireRequest is the OpenAI-compatible body sent to HTTP providers.
type wireRequest struct {
	domain.Options
	Messages []domain.Message `json:"messages"`
}

func buildWireRequest(req Request, stream bool) wireRequest {
	opts := req.Options
	opts.Model = req.Provider.Model
	opts.Stream = stream
	return wireRequest{Options: opts, Messages: req.Messages}
}

func (c *Client) newHTTPRequest(ctx context.Context, req Request, stream bool) (*http.Request, error) {
	body, err := json.Marshal(buildWireRequest(req, stream))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.Provider.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range req.Provider.Headers {
		httpReq.Header.Set(k, v)
	}
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	return httpReq, nil
}

func (c *Client) executeOpenAI(ctx context.Context, req Request) (*domain.ChatResponse, error) {
	httpReq, err := c.newHTTPRequest(ctx, req, false)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, mapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, errorForResponse(req.Provider.Kind.String(), resp.StatusCode, bodyBytes)
	}

	var chatResp domain.ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &chatResp, nil
}

func (c *Client) streamOpenAI(ctx context.Context, req Request) (<-chan domain.StreamChunk, <-chan error) {
	chunks := make(chan domain.StreamChunk)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		httpReq, err := c.newHTTPRequest(ctx, req, true)
		if err != nil {
			errs <- err
			return
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			errs <- mapTransportError(err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			bodyBytes, _ := io.ReadAll(resp.Body)
			errs <- errorForResponse(req.Provider.Kind.String(), resp.StatusCode, bodyBytes)
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}

			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				return
			}

			var chunk domain.StreamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}

			select {
			case chunks <- chunk:
			case <-ctx.Done():
				return
			}
		}

		if err := scanner.Err(); err != nil {
			errs <- mapTransportError(fmt.Errorf("scan stream: %w", err))
		}
	}()

	return chunks, errs
}
