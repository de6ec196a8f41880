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
	"time"

	"github.com/google/uuid"
	"github.com/hivegate/hivegate/internal/domain"
)

type anthropicRequest struct {
	Model         string             `json:"model"`
	Messages      []anthropicMessage `json:"messages"`
	MaxTokens     int                `json:"max_tokens"`
	System        string             `json:"system,omitempty"`
	Temperature   *float64           `json:"temperature,omitempty"`
	TopP          *float64           `json:"top_p,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
	Stream        bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type anthropicBlock struct {
	Type   string           `json:"type"`
	Text   string           `json:"text,omitempty"`
	Source *anthropicSource `json:"source,omitempty"`
}

type anthropicSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicResponse struct {
	ID         string `json:"id"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta,omitempty"`
	Usage *struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage,omitempty"`
}

func toAnthropicRequest(req Request, stream bool) anthropicRequest {
	var systemPrompt string
	messages := make([]anthropicMessage, 0, len(req.Messages))

	for _, m := range req.Messages {
		if m.Role == "system" {
			systemPrompt = m.Content.PlainText()
			continue
		}
		messages = append(messages, anthropicMessage{
			Role:    m.Role,
			Content: toAnthropicContent(m.Content),
		})
	}

	maxTokens := 4096
	if req.Options.MaxTokens != nil {
		maxTokens = *req.Options.MaxTokens
	}

	return anthropicRequest{
		Model:         req.Provider.Model,
		Messages:      messages,
		MaxTokens:     maxTokens,
		System:        systemPrompt,
		Temperature:   req.Options.Temperature,
		TopP:          req.Options.TopP,
		StopSequences: req.Options.Stop,
		Stream:        stream,
	}
}

// toAnthropicContent keeps plain strings as strings and converts
// multi-part content to content blocks. Inlined data URIs become base64
// image sources.
func toAnthropicContent(c domain.MessageContent) any {
	if c.Parts == nil {
		return c.Text
	}

	blocks := make([]anthropicBlock, 0, len(c.Parts))
	for _, p := range c.Parts {
		switch p.Type {
		case "text":
			blocks = append(blocks, anthropicBlock{Type: "text", Text: p.Text})
		case "image_url":
			if p.ImageURL == nil {
				continue
			}
			if mediaType, data, ok := parseDataURI(p.ImageURL.URL); ok {
				blocks = append(blocks, anthropicBlock{
					Type:   "image",
					Source: &anthropicSource{Type: "base64", MediaType: mediaType, Data: data},
				})
			}
		}
	}
	return blocks
}

func parseDataURI(uri string) (mediaType, data string, ok bool) {
	rest, found := strings.CutPrefix(uri, "data:")
	if !found {
		return "", "", false
	}
	mediaType, data, found = strings.Cut(rest, ";base64,")
	if !found {
		return "", "", false
	}
	return mediaType, data, true
}

func (c *Client) executeAnthropic(ctx context.Context, req Request) (*domain.ChatResponse, error) {
	body, err := json.Marshal(toAnthropicRequest(req, false))
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

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, mapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, errorForResponse("anthropic", resp.StatusCode, bodyBytes)
	}

	var anthResp anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&anthResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return anthropicToCanonical(anthResp, req.Options.Model), nil
}

func anthropicToCanonical(resp anthropicResponse, model string) *domain.ChatResponse {
	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	id := resp.ID
	if id == "" {
		id = "chatcmpl-" + uuid.NewString()
	}

	return &domain.ChatResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []domain.Choice{{
			Index: 0,
			Message: &domain.Message{
				Role:    "assistant",
				Content: domain.Text(content.String()),
			},
			FinishReason: mapStopReason(resp.StopReason),
		}},
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
}

func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	default:
		return reason
	}
}

func (c *Client) streamAnthropic(ctx context.Context, req Request) (<-chan domain.StreamChunk, <-chan error) {
	chunks := make(chan domain.StreamChunk)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		body, err := json.Marshal(toAnthropicRequest(req, true))
		if err != nil {
			errs <- fmt.Errorf("marshal request: %w", err)
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.Provider.Endpoint, bytes.NewReader(body))
		if err != nil {
			errs <- fmt.Errorf("create request: %w", err)
			return
		}
		for k, v := range req.Provider.Headers {
			httpReq.Header.Set(k, v)
		}
		httpReq.Header.Set("Accept", "text/event-stream")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			errs <- mapTransportError(err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			bodyBytes, _ := io.ReadAll(resp.Body)
			errs <- errorForResponse("anthropic", resp.StatusCode, bodyBytes)
			return
		}

		id := "chatcmpl-" + uuid.NewString()
		created := time.Now().Unix()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}

			var event anthropicStreamEvent
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
				continue
			}

			switch event.Type {
			case "content_block_delta":
				if event.Delta == nil || event.Delta.Text == "" {
					continue
				}
				chunk := domain.StreamChunk{
					ID:      id,
					Object:  "chat.completion.chunk",
					Created: created,
					Model:   req.Options.Model,
					Choices: []domain.Choice{{
						Index: 0,
						Delta: &domain.Delta{Content: event.Delta.Text},
					}},
				}
				select {
				case chunks <- chunk:
				case <-ctx.Done():
					return
				}
			case "message_stop":
				return
			}
		}

		if err := scanner.Err(); err != nil {
			errs <- mapTransportError(fmt.Errorf("scan stream: %w", err))
		}
	}()

	return chunks, errs
}
