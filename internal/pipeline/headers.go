package pipeline

import (
	"context"
	"fmt"

	"github.com/hivegate/hivegate/internal/domain"
)

const anthropicVersion = "2023-06-01"

// HeaderStage derives the wire headers from the resolved provider config.
// Each provider kind carries its key differently; bedrock carries none
// because the SDK signs requests itself.
func HeaderStage() Stage {
	return Stage{
		Name: "generate-headers",
		Apply: func(ctx context.Context, s State) (State, error) {
			if s.Provider == nil {
				return s, fmt.Errorf("provider not resolved")
			}

			headers := map[string]string{
				"Content-Type": "application/json",
			}

			switch s.Provider.Kind {
			case domain.KindOpenAICompat:
				if s.Provider.AuthValue != "" {
					headers["Authorization"] = "Bearer " + s.Provider.AuthValue
				}
			case domain.KindAzureDeployment:
				headers["api-key"] = s.Provider.AuthValue
			case domain.KindAnthropic:
				headers["x-api-key"] = s.Provider.AuthValue
				headers["anthropic-version"] = anthropicVersion
			case domain.KindBedrock:
				// SigV4 signing happens in the SDK transport.
			}

			provider := *s.Provider
			provider.AuthHeader = authHeaderName(s.Provider.Kind)
			provider.Headers = headers
			s.Provider = &provider
			s.Headers = headers
			return s, nil
		},
	}
}

func authHeaderName(kind domain.ProviderKind) string {
	switch kind {
	case domain.KindOpenAICompat:
		return "Authorization"
	case domain.KindAzureDeployment:
		return "api-key"
	case domain.KindAnthropic:
		return "x-api-key"
	case domain.KindBedrock:
		return ""
	}
	return ""
}
