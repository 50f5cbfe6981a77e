// Package policytool provides the built-in "switch_llm" MCP tool that lets a
// model mid-turn redirect its own session to a different LLM backend.
//
// Unlike the other built-in tool packages, this one reads back the Command
// Context bound by [turn.WithSession]: the session it mutates is never passed
// in as an argument, but recovered from ctx via [turn.SessionFromContext].
package policytool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MrWong99/glyphoxa/internal/config"
	"github.com/MrWong99/glyphoxa/internal/mcp/tools"
	"github.com/MrWong99/glyphoxa/internal/session"
	"github.com/MrWong99/glyphoxa/internal/turn"
	"github.com/MrWong99/glyphoxa/pkg/provider/llm"
)

// switchLLMArgs is the JSON-decoded input for the "switch_llm" tool.
type switchLLMArgs struct {
	// Kind is "LOCAL" or "CLOUD". Anything else is rejected.
	Kind string `json:"kind"`

	// CloudProvider names the cloud backend when Kind is "CLOUD": "OPENAI" or
	// "CLAUDE". Ignored for Kind "LOCAL".
	CloudProvider string `json:"cloud_provider,omitempty"`

	// Model overrides the default model name. Left empty falls back to the
	// configured default for the resolved kind/provider.
	Model string `json:"model,omitempty"`

	// Endpoint overrides the local inference endpoint. Only meaningful for
	// Kind "LOCAL"; left empty falls back to the configured default.
	Endpoint string `json:"endpoint,omitempty"`
}

func parseKind(s string) (session.PolicyKind, error) {
	switch s {
	case "LOCAL":
		return session.PolicyLocal, nil
	case "CLOUD":
		return session.PolicyCloud, nil
	default:
		return 0, fmt.Errorf("policytool: switch_llm: unknown kind %q, want LOCAL or CLOUD", s)
	}
}

func parseCloudProvider(s string) (session.CloudProvider, error) {
	switch s {
	case "", "NONE":
		return session.ProviderNone, nil
	case "OPENAI":
		return session.ProviderOpenAI, nil
	case "CLAUDE":
		return session.ProviderClaude, nil
	default:
		return 0, fmt.Errorf("policytool: switch_llm: unknown cloud_provider %q", s)
	}
}

// makeSwitchLLMHandler returns the "switch_llm" handler. defaults and apiKeys
// mirror App.SetPolicyForSession's validation: a CLOUD override is rejected
// up front if no key is configured for the requested provider, the same way
// turn.Resolve would reject it at the top of the next turn — this surfaces
// the error immediately to the model instead of silently failing later.
func makeSwitchLLMHandler(defaults config.LLMPolicyDefaults, apiKeys map[string]string) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		sess, ok := turn.SessionFromContext(ctx)
		if !ok {
			return "", fmt.Errorf("policytool: switch_llm: no session bound to context")
		}

		var a switchLLMArgs
		if err := json.Unmarshal([]byte(args), &a); err != nil {
			return "", fmt.Errorf("policytool: switch_llm: failed to parse arguments: %w", err)
		}

		kind, err := parseKind(a.Kind)
		if err != nil {
			return "", err
		}
		provider, err := parseCloudProvider(a.CloudProvider)
		if err != nil {
			return "", err
		}

		override := &session.PolicyOverride{
			Kind:          kind,
			CloudProvider: provider,
			Model:         a.Model,
			Endpoint:      a.Endpoint,
		}

		err = sess.SetPolicy(override, func(o *session.PolicyOverride) error {
			if o == nil || o.Kind != session.PolicyCloud {
				return nil
			}
			_, err := turn.Resolve(o, defaults, apiKeys)
			return err
		})
		if err != nil {
			return "", fmt.Errorf("policytool: switch_llm: %w", err)
		}

		res, err := json.Marshal(map[string]any{
			"session_id": sess.ID,
			"kind":       kind.String(),
			"provider":   provider.String(),
		})
		if err != nil {
			return "", fmt.Errorf("policytool: switch_llm: failed to encode result: %w", err)
		}
		return string(res), nil
	}
}

// NewTools constructs the policy-switching tool set. defaults and apiKeys
// should be the same values the Orchestrator resolves turns against, so a
// switch that passes validation here is guaranteed resolvable on the very
// next turn.
func NewTools(defaults config.LLMPolicyDefaults, apiKeys map[string]string) []tools.Tool {
	return []tools.Tool{
		{
			Definition: llm.ToolDefinition{
				Name:        "switch_llm",
				Description: "Switch the calling session's own LLM backend for subsequent turns. Use this when asked to move between a local model and a cloud provider, or to change model/endpoint. Only affects the session that calls it.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"kind": map[string]any{
							"type":        "string",
							"description": "Target backend kind.",
							"enum":        []string{"LOCAL", "CLOUD"},
						},
						"cloud_provider": map[string]any{
							"type":        "string",
							"description": "Cloud provider to target when kind is CLOUD.",
							"enum":        []string{"NONE", "OPENAI", "CLAUDE"},
						},
						"model": map[string]any{
							"type":        "string",
							"description": "Model name override. Omit to use the configured default.",
						},
						"endpoint": map[string]any{
							"type":        "string",
							"description": "Local inference endpoint override. Only meaningful for kind LOCAL.",
						},
					},
					"required": []string{"kind"},
				},
				EstimatedDurationMs: 5,
				MaxDurationMs:       50,
				Idempotent:          false,
				CacheableSeconds:    0,
			},
			Handler:     makeSwitchLLMHandler(defaults, apiKeys),
			DeclaredP50: 5,
			DeclaredMax: 50,
		},
	}
}
