package domain

import "time"

// Account holds the metered quota state for a single authenticated caller.
// TierBalance and LastTierGrant are written only by the refill operation;
// PackBalance and CryptoBalance are written by the billing collaborator.
type Account struct {
	ID            string
	Tier          string
	TierBalance   float64
	PackBalance   float64
	CryptoBalance float64
	LastTierGrant time.Time
	APIKeyHash    string
	AllowedModels []string
	Enabled       bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TotalBalance is the sum of every balance component.
func (a *Account) TotalBalance() float64 {
	return a.TierBalance + a.PackBalance + a.CryptoBalance
}

// PaidBalance is the portion of the balance usable for paid-only models.
// Tier pollen never counts toward it.
func (a *Account) PaidBalance() float64 {
	return a.PackBalance + a.CryptoBalance
}

// TierDefinition describes one quota class: how much pollen it grants
// per refill cycle and how often the cycle runs.
type TierDefinition struct {
	Name    string
	Pollen  float64
	Cadence Cadence
	Rank    int
}

type Cadence string

const (
	CadenceDaily  Cadence = "daily"
	CadenceWeekly Cadence = "weekly"
)

// ServiceDefinition is one immutable catalog entry: a canonical model id,
// its aliases, and everything needed to route a request for it.
type ServiceDefinition struct {
	Name       string
	Aliases    []string
	Modalities []string
	PaidOnly   bool
	Route      ProviderRoute

	// Transform optionally rewrites messages and options before any
	// generic pipeline stage runs.
	Transform PreTransform
}

// PreTransform is a model-specific rewrite applied first in the pipeline.
// It must be pure: callers rely on the returned values, never on mutation.
type PreTransform func(messages []Message, opts Options) ([]Message, Options)

// ChatRequest is the canonical inbound request shape. The option fields
// are embedded so the JSON surface stays OpenAI-compatible.
type ChatRequest struct {
	Messages []Message `json:"messages"`
	Options
}

// Options carries every generation parameter the gateway understands.
// Unknown upstream parameters are not forwarded.
type Options struct {
	Model            string          `json:"model"`
	Temperature      *float64        `json:"temperature,omitempty"`
	TopP             *float64        `json:"top_p,omitempty"`
	PresencePenalty  *float64        `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64        `json:"frequency_penalty,omitempty"`
	Seed             *int            `json:"seed,omitempty"`
	MaxTokens        *int            `json:"max_tokens,omitempty"`
	Stop             []string        `json:"stop,omitempty"`
	Stream           bool            `json:"stream,omitempty"`
	ResponseFormat   *ResponseFormat `json:"response_format,omitempty"`
}

type ResponseFormat struct {
	Type string `json:"type"`
}

// ChatResponse is the canonical buffered reply, mirroring the widely used
// completion-object shape.
type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

type Choice struct {
	Index        int      `json:"index"`
	Message      *Message `json:"message,omitempty"`
	Delta        *Delta   `json:"delta,omitempty"`
	FinishReason string   `json:"finish_reason,omitempty"`
}

type Delta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamChunk is one canonical streaming delta.
type StreamChunk struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
}

// UsageRecord is produced after a successful upstream call and consumed
// by billing telemetry.
type UsageRecord struct {
	AccountID    string
	RequestID    string
	Model        string
	InputTokens  int
	OutputTokens int
	Pollen       float64
	Streamed     bool
	LatencyMs    int64
	Timestamp    time.Time
}

// ModelInfo is the catalog listing shape returned by the models endpoint.
type ModelInfo struct {
	ID         string   `json:"id"`
	Object     string   `json:"object"`
	Aliases    []string `json:"aliases,omitempty"`
	Modalities []string `json:"modalities,omitempty"`
	PaidOnly   bool     `json:"paid_only,omitempty"`
}

type ModelsResponse struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}
