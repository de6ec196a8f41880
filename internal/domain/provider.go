package domain

// ProviderKind is the closed set of upstream provider shapes the gateway
// knows how to address. Every switch over it must handle all cases.
type ProviderKind int

const (
	// KindOpenAICompat is any provider exposing the OpenAI HTTP contract
	// at a custom host.
	KindOpenAICompat ProviderKind = iota
	// KindAzureDeployment is a cloud-managed deployment addressed by
	// resource, deployment id and API version.
	KindAzureDeployment
	// KindBedrock invokes models through the native AWS SDK.
	KindBedrock
	// KindAnthropic talks to the vendor API directly.
	KindAnthropic
)

func (k ProviderKind) String() string {
	switch k {
	case KindOpenAICompat:
		return "openai-compat"
	case KindAzureDeployment:
		return "azure"
	case KindBedrock:
		return "bedrock"
	case KindAnthropic:
		return "anthropic"
	default:
		return "unknown"
	}
}

// ProviderRoute is the static half of provider addressing, attached to a
// ServiceDefinition at catalog build time.
type ProviderRoute struct {
	Kind       ProviderKind
	Endpoint   string
	Model      string // provider-side model id
	AuthEnv    string // env var holding the auth key
	AuthKey    string // literal auth key, overrides AuthEnv when set
	SecretName string // secrets-manager name, overrides both when set
	Deployment string // azure deployment id
	APIVersion string // azure api version
	Region     string // bedrock region

	// InlineMedia marks providers that reject media URLs and require
	// embedded data.
	InlineMedia bool
}

// ResolvedProviderConfig is the fully computed provider address for one
// request. It is produced once by the transform pipeline and consumed
// once by the upstream client.
type ResolvedProviderConfig struct {
	Kind        ProviderKind
	Endpoint    string
	Model       string
	AuthHeader  string
	AuthValue   string
	Headers     map[string]string
	Region      string
	InlineMedia bool
}
