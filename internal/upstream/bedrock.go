package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/google/uuid"
	"github.com/hivegate/hivegate/internal/domain"
)

const bedrockAnthropicVersion = "bedrock-2023-05-31"

type bedrockRequest struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int                `json:"max_tokens"`
	Messages         []anthropicMessage `json:"messages"`
	System           string             `json:"system,omitempty"`
	Temperature      *float64           `json:"temperature,omitempty"`
	TopP             *float64           `json:"top_p,omitempty"`
	StopSequences    []string           `json:"stop_sequences,omitempty"`
}

func toBedrockRequest(req Request) bedrockRequest {
	anth := toAnthropicRequest(req, false)
	return bedrockRequest{
		AnthropicVersion: bedrockAnthropicVersion,
		MaxTokens:        anth.MaxTokens,
		Messages:         anth.Messages,
		System:           anth.System,
		Temperature:      anth.Temperature,
		TopP:             anth.TopP,
		StopSequences:    anth.StopSequences,
	}
}

func (c *Client) executeBedrock(ctx context.Context, req Request) (*domain.ChatResponse, error) {
	if c.bedrock == nil {
		return nil, fmt.Errorf("bedrock runtime client not configured")
	}

	body, err := json.Marshal(toBedrockRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	output, err := c.bedrock.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(req.Provider.Model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, mapTransportError(fmt.Errorf("invoke model: %w", err))
	}

	var bedResp anthropicResponse
	if err := json.Unmarshal(output.Body, &bedResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return anthropicToCanonical(bedResp, req.Options.Model), nil
}

func (c *Client) streamBedrock(ctx context.Context, req Request) (<-chan domain.StreamChunk, <-chan error) {
	chunks := make(chan domain.StreamChunk)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		if c.bedrock == nil {
			errs <- fmt.Errorf("bedrock runtime client not configured")
			return
		}

		body, err := json.Marshal(toBedrockRequest(req))
		if err != nil {
			errs <- fmt.Errorf("marshal request: %w", err)
			return
		}

		output, err := c.bedrock.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
			ModelId:     aws.String(req.Provider.Model),
			ContentType: aws.String("application/json"),
			Accept:      aws.String("application/json"),
			Body:        body,
		})
		if err != nil {
			errs <- mapTransportError(fmt.Errorf("invoke model stream: %w", err))
			return
		}

		stream := output.GetStream()
		defer stream.Close()

		id := "chatcmpl-" + uuid.NewString()
		created := time.Now().Unix()

		for event := range stream.Events() {
			member, ok := event.(*types.ResponseStreamMemberChunk)
			if !ok {
				continue
			}

			var streamEvent anthropicStreamEvent
			if err := json.Unmarshal(member.Value.Bytes, &streamEvent); err != nil {
				continue
			}

			switch streamEvent.Type {
			case "content_block_delta":
				if streamEvent.Delta == nil || streamEvent.Delta.Text == "" {
					continue
				}
				chunk := domain.StreamChunk{
					ID:      id,
					Object:  "chat.completion.chunk",
					Created: created,
					Model:   req.Options.Model,
					Choices: []domain.Choice{{
						Index: 0,
						Delta: &domain.Delta{Content: streamEvent.Delta.Text},
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

		if err := stream.Err(); err != nil {
			errs <- mapTransportError(fmt.Errorf("stream error: %w", err))
		}
	}()

	return chunks, errs
}
