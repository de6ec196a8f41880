package registry

import (
	"github.com/hivegate/hivegate/internal/domain"
)

// SystemPromptTransform returns a pre-transform that prepends a default
// system instruction only when the conversation has none. Explicit system
// messages from the caller always win.
func SystemPromptTransform(prompt string) domain.PreTransform {
	return func(messages []domain.Message, opts domain.Options) ([]domain.Message, domain.Options) {
		for _, m := range messages {
			if m.Role == "system" {
				return messages, opts
			}
		}
		out := make([]domain.Message, 0, len(messages)+1)
		out = append(out, domain.Message{Role: "system", Content: domain.Text(prompt)})
		out = append(out, messages...)
		return out, opts
	}
}

// DefaultCatalog is the built-in service catalog. Deployments extend or
// override it with a YAML overlay (see LoadOverlay).
func DefaultCatalog() []domain.ServiceDefinition {
	return []domain.ServiceDefinition{
		{
			Name:       "openai-fast",
			Aliases:    []string{"gpt-4o-mini", "fast"},
			Modalities: []string{"text"},
			Route: domain.ProviderRoute{
				Kind:     domain.KindOpenAICompat,
				Endpoint: "https://api.openai.com/v1/chat/completions",
				Model:    "gpt-4o-mini",
				AuthEnv:  "OPENAI_API_KEY",
			},
		},
		{
			Name:       "openai-large",
			Aliases:    []string{"gpt-4o", "large"},
			Modalities: []string{"text", "image"},
			PaidOnly:   true,
			Route: domain.ProviderRoute{
				Kind:        domain.KindOpenAICompat,
				Endpoint:    "https://api.openai.com/v1/chat/completions",
				Model:       "gpt-4o",
				AuthEnv:     "OPENAI_API_KEY",
				InlineMedia: true,
			},
		},
		{
			Name:       "azure-grok",
			Aliases:    []string{"grok", "grok-fast"},
			Modalities: []string{"text"},
			Route: domain.ProviderRoute{
				Kind:       domain.KindAzureDeployment,
				Endpoint:   "https://hivegate.services.ai.azure.com",
				Model:      "grok-4-fast-non-reasoning",
				Deployment: "grok-4-fast",
				APIVersion: "2024-08-01-preview",
				AuthEnv:    "AZURE_GROK_API_KEY",
			},
		},
		{
			Name:       "claude",
			Aliases:    []string{"claude-sonnet", "anthropic"},
			Modalities: []string{"text"},
			PaidOnly:   true,
			Route: domain.ProviderRoute{
				Kind:     domain.KindAnthropic,
				Endpoint: "https://api.anthropic.com/v1/messages",
				Model:    "claude-sonnet-4-20250514",
				AuthEnv:  "ANTHROPIC_API_KEY",
			},
		},
		{
			Name:       "bedrock-nova",
			Aliases:    []string{"nova", "nova-lite"},
			Modalities: []string{"text"},
			Route: domain.ProviderRoute{
				Kind:   domain.KindBedrock,
				Model:  "amazon.nova-lite-v1:0",
				Region: "us-east-1",
			},
		},
		{
			Name:       "assistant",
			Aliases:    []string{"helper"},
			Modalities: []string{"text"},
			Route: domain.ProviderRoute{
				Kind:     domain.KindOpenAICompat,
				Endpoint: "https://api.openai.com/v1/chat/completions",
				Model:    "gpt-4o-mini",
				AuthEnv:  "OPENAI_API_KEY",
			},
			Transform: SystemPromptTransform(
				"You are a helpful, concise assistant for the Hivegate platform.",
			),
		},
	}
}
