package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"github.com/hivegate/hivegate/internal/domain"
	"github.com/hivegate/hivegate/internal/secrets"
)

// ResolveStage computes the concrete upstream address for the service's
// route. Auth material resolves in precedence order: secrets manager
// name, then literal key, then environment variable.
func ResolveStage(store secrets.SecretStore) Stage {
	return Stage{
		Name: "resolve-provider",
		Apply: func(ctx context.Context, s State) (State, error) {
			if s.Service == nil {
				return s, fmt.Errorf("no service definition on state")
			}
			route := s.Service.Route

			authValue, err := resolveAuth(ctx, store, route)
			if err != nil {
				return s, err
			}

			resolved := &domain.ResolvedProviderConfig{
				Kind:        route.Kind,
				Model:       route.Model,
				AuthValue:   authValue,
				Region:      route.Region,
				InlineMedia: route.InlineMedia,
			}

			switch route.Kind {
			case domain.KindOpenAICompat, domain.KindAnthropic:
				resolved.Endpoint = route.Endpoint
			case domain.KindAzureDeployment:
				resolved.Endpoint = azureEndpoint(route)
			case domain.KindBedrock:
				// Addressed through the SDK, no HTTP endpoint.
			}

			s.Provider = resolved
			return s, nil
		},
	}
}

func resolveAuth(ctx context.Context, store secrets.SecretStore, route domain.ProviderRoute) (string, error) {
	switch {
	case route.SecretName != "":
		if store == nil {
			return "", fmt.Errorf("route references secret %s but no secret store is configured", route.SecretName)
		}
		value, err := store.GetSecret(ctx, route.SecretName)
		if err != nil {
			return "", fmt.Errorf("resolve auth: %w", err)
		}
		return value, nil
	case route.AuthKey != "":
		return route.AuthKey, nil
	case route.AuthEnv != "":
		value := os.Getenv(route.AuthEnv)
		if value == "" {
			return "", fmt.Errorf("auth env %s is not set", route.AuthEnv)
		}
		return value, nil
	}
	return "", nil
}

func azureEndpoint(route domain.ProviderRoute) string {
	return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		route.Endpoint, url.PathEscape(route.Deployment), url.QueryEscape(route.APIVersion))
}
