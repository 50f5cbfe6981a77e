package turn

import (
	"github.com/MrWong99/glyphoxa/internal/config"
	"github.com/MrWong99/glyphoxa/internal/session"
)

// ResolvedPolicy is the fully-materialized LLM configuration for a single
// turn, produced by Resolve. It is taken by value into the LLM call with no
// locks held.
type ResolvedPolicy struct {
	Kind          session.PolicyKind
	CloudProvider session.CloudProvider
	Model         string
	Endpoint      string
	APIKey        string
}

// Resolve merges a session's policy override with the configured defaults
// into a ResolvedPolicy. A nil override means "use global
// defaults" entirely. A non-nil override always wins on Kind and
// CloudProvider (set_policy_for_session always supplies a whole deliberate
// policy switch, never a partial patch); Model and Endpoint fall back to
// defaults individually when left as the empty string.
//
// Resolve returns ErrUnsatisfiablePolicy if the resolved policy targets a
// cloud provider with no configured API key, or a local endpoint with no
// configured address.
func Resolve(override *session.PolicyOverride, defaults config.LLMPolicyDefaults, apiKeys map[string]string) (ResolvedPolicy, error) {
	defaultKind := session.PolicyLocal
	if defaults.Kind == "CLOUD" {
		defaultKind = session.PolicyCloud
	}
	var defaultProvider session.CloudProvider
	switch defaults.CloudProvider {
	case "OPENAI":
		defaultProvider = session.ProviderOpenAI
	case "CLAUDE":
		defaultProvider = session.ProviderClaude
	}

	resolved := ResolvedPolicy{
		Kind:          defaultKind,
		CloudProvider: defaultProvider,
		Model:         defaults.Model,
		Endpoint:      defaults.Endpoint,
	}

	if override != nil {
		resolved.Kind = override.Kind
		resolved.CloudProvider = override.CloudProvider
		if override.Model != "" {
			resolved.Model = override.Model
		}
		if override.Endpoint != "" {
			resolved.Endpoint = override.Endpoint
		}
	}

	switch resolved.Kind {
	case session.PolicyCloud:
		key := apiKeyFor(resolved.CloudProvider, apiKeys, defaults.APIKeys)
		if key == "" {
			return ResolvedPolicy{}, ErrUnsatisfiablePolicy
		}
		resolved.APIKey = key
	case session.PolicyLocal:
		if resolved.Endpoint == "" {
			return ResolvedPolicy{}, ErrUnsatisfiablePolicy
		}
	}

	return resolved, nil
}

// apiKeyFor looks up the configured API key for a cloud provider, preferring
// the process-wide apiKeys map (e.g. sourced from environment variables) over
// keys embedded directly in the config file.
func apiKeyFor(provider session.CloudProvider, apiKeys map[string]string, fallback map[string]string) string {
	name := provider.String()
	if key, ok := apiKeys[name]; ok && key != "" {
		return key
	}
	if key, ok := fallback[name]; ok && key != "" {
		return key
	}
	return ""
}
