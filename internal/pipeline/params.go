package pipeline

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hivegate/hivegate/internal/cache"
	"github.com/hivegate/hivegate/internal/domain"
	"github.com/hivegate/hivegate/internal/secrets"
)

const anthropicDefaultMaxTokens = 4096

// ParamsStage clamps generation parameters into the ranges upstreams
// accept and strips the ones the resolved provider kind does not
// support. Clamping instead of rejecting keeps permissive callers
// working; out-of-range values are a nuisance, not an attack.
func ParamsStage() Stage {
	return Stage{
		Name: "process-parameters",
		Apply: func(ctx context.Context, s State) (State, error) {
			if s.Provider == nil {
				return s, fmt.Errorf("provider not resolved")
			}

			opts := s.Options
			opts.Temperature = clamp(opts.Temperature, 0, 3)
			opts.TopP = clamp(opts.TopP, 0, 1)
			opts.PresencePenalty = clamp(opts.PresencePenalty, -2, 2)
			opts.FrequencyPenalty = clamp(opts.FrequencyPenalty, -2, 2)
			if opts.MaxTokens != nil && *opts.MaxTokens < 1 {
				opts.MaxTokens = nil
			}

			switch s.Provider.Kind {
			case domain.KindAnthropic:
				opts.PresencePenalty = nil
				opts.FrequencyPenalty = nil
				opts.Seed = nil
				opts.ResponseFormat = nil
				if opts.MaxTokens == nil {
					n := anthropicDefaultMaxTokens
					opts.MaxTokens = &n
				}
			case domain.KindBedrock:
				opts.PresencePenalty = nil
				opts.FrequencyPenalty = nil
				opts.Seed = nil
				opts.ResponseFormat = nil
			case domain.KindOpenAICompat, domain.KindAzureDeployment:
				// Full OpenAI parameter surface.
			}

			s.Options = opts
			return s, nil
		},
	}
}

func clamp(v *float64, lo, hi float64) *float64 {
	if v == nil {
		return nil
	}
	if *v < lo {
		return &lo
	}
	if *v > hi {
		return &hi
	}
	return v
}

// Default assembles the standard stage order. The order is load-bearing:
// resolution before headers, headers before media inlining (the inline
// decision reads the resolved config), sanitization and parameter
// processing last so they see the final message and option set.
func Default(store secrets.SecretStore, client *http.Client, mediaCache cache.MediaCache) Pipeline {
	return New(
		PreTransformStage(),
		ResolveStage(store),
		HeaderStage(),
		InlineMediaStage(client, mediaCache),
		SanitizeStage(),
		ParamsStage(),
	)
}
