package registry

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hivegate/hivegate/internal/crypto"
	"github.com/hivegate/hivegate/internal/domain"
)

// encPrefix marks catalog auth keys stored encrypted at rest.
const encPrefix = "enc:"

type overlayFile struct {
	Models []overlayModel `yaml:"models"`
}

type overlayModel struct {
	Name         string       `yaml:"name"`
	Aliases      []string     `yaml:"aliases"`
	Modalities   []string     `yaml:"modalities"`
	PaidOnly     bool         `yaml:"paid_only"`
	SystemPrompt string       `yaml:"system_prompt"`
	Route        overlayRoute `yaml:"route"`
}

type overlayRoute struct {
	Kind        string `yaml:"kind"`
	Endpoint    string `yaml:"endpoint"`
	Model       string `yaml:"model"`
	AuthEnv     string `yaml:"auth_env"`
	AuthKey     string `yaml:"auth_key"`
	SecretName  string `yaml:"secret_name"`
	Deployment  string `yaml:"deployment"`
	APIVersion  string `yaml:"api_version"`
	Region      string `yaml:"region"`
	InlineMedia bool   `yaml:"inline_media"`
}

// LoadOverlay reads a YAML catalog file and merges it over the base
// definitions. Entries with a name already in the base replace it;
// new names are appended. Auth keys with an "enc:" prefix are decrypted
// with the provided encryptor.
func LoadOverlay(path string, base []domain.ServiceDefinition, enc *crypto.Encryptor) ([]domain.ServiceDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog overlay: %w", err)
	}

	var file overlayFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog overlay: %w", err)
	}

	byName := make(map[string]int, len(base))
	merged := make([]domain.ServiceDefinition, len(base))
	copy(merged, base)
	for i, def := range merged {
		byName[def.Name] = i
	}

	for _, m := range file.Models {
		def, err := m.toDefinition(enc)
		if err != nil {
			return nil, fmt.Errorf("model %q: %w", m.Name, err)
		}
		if i, ok := byName[def.Name]; ok {
			merged[i] = def
		} else {
			byName[def.Name] = len(merged)
			merged = append(merged, def)
		}
	}

	return merged, nil
}

func (m overlayModel) toDefinition(enc *crypto.Encryptor) (domain.ServiceDefinition, error) {
	kind, err := parseKind(m.Route.Kind)
	if err != nil {
		return domain.ServiceDefinition{}, err
	}

	authKey := m.Route.AuthKey
	if strings.HasPrefix(authKey, encPrefix) {
		if enc == nil {
			return domain.ServiceDefinition{}, fmt.Errorf("encrypted auth key but no encryption key configured")
		}
		authKey, err = enc.Decrypt(strings.TrimPrefix(authKey, encPrefix))
		if err != nil {
			return domain.ServiceDefinition{}, fmt.Errorf("decrypt auth key: %w", err)
		}
	}

	def := domain.ServiceDefinition{
		Name:       m.Name,
		Aliases:    m.Aliases,
		Modalities: m.Modalities,
		PaidOnly:   m.PaidOnly,
		Route: domain.ProviderRoute{
			Kind:        kind,
			Endpoint:    m.Route.Endpoint,
			Model:       m.Route.Model,
			AuthEnv:     m.Route.AuthEnv,
			AuthKey:     authKey,
			SecretName:  m.Route.SecretName,
			Deployment:  m.Route.Deployment,
			APIVersion:  m.Route.APIVersion,
			Region:      m.Route.Region,
			InlineMedia: m.Route.InlineMedia,
		},
	}

	if m.SystemPrompt != "" {
		def.Transform = SystemPromptTransform(m.SystemPrompt)
	}

	return def, nil
}

func parseKind(s string) (domain.ProviderKind, error) {
	switch s {
	case "openai-compat", "":
		return domain.KindOpenAICompat, nil
	case "azure":
		return domain.KindAzureDeployment, nil
	case "bedrock":
		return domain.KindBedrock, nil
	case "anthropic":
		return domain.KindAnthropic, nil
	default:
		return 0, fmt.Errorf("unknown provider kind %q", s)
	}
}
