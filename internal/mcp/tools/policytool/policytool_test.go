package policytool

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/MrWong99/glyphoxa/internal/config"
	"github.com/MrWong99/glyphoxa/internal/session"
	"github.com/MrWong99/glyphoxa/internal/turn"
)

func testSession(t *testing.T) *session.Session {
	t.Helper()
	r := session.NewRegistry(4)
	s, err := r.Create(session.Web, nil, session.Capabilities{})
	if err != nil {
		t.Fatalf("unexpected error creating session: %v", err)
	}
	return s
}

func TestSwitchLLM_NoSessionInContext(t *testing.T) {
	t.Parallel()
	handler := makeSwitchLLMHandler(config.LLMPolicyDefaults{}, nil)

	_, err := handler(context.Background(), `{"kind":"LOCAL"}`)
	if err == nil {
		t.Fatal("expected error when no session is bound to context")
	}
}

func TestSwitchLLM_SwitchesToLocal(t *testing.T) {
	t.Parallel()
	sess := testSession(t)
	ctx := turn.WithSession(context.Background(), sess)
	handler := makeSwitchLLMHandler(config.LLMPolicyDefaults{}, nil)

	out, err := handler(ctx, `{"kind":"LOCAL","endpoint":"http://localhost:8080"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	override := sess.Policy()
	if override == nil {
		t.Fatal("expected a policy override to be installed")
	}
	if override.Kind != session.PolicyLocal {
		t.Errorf("Kind = %v, want PolicyLocal", override.Kind)
	}
	if override.Endpoint != "http://localhost:8080" {
		t.Errorf("Endpoint = %q, want %q", override.Endpoint, "http://localhost:8080")
	}

	var res map[string]any
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("failed to unmarshal: %v\noutput: %s", err, out)
	}
	if res["kind"] != "LOCAL" {
		t.Errorf("result kind = %v, want LOCAL", res["kind"])
	}
}

func TestSwitchLLM_RejectsCloudWithoutAPIKey(t *testing.T) {
	t.Parallel()
	sess := testSession(t)
	ctx := turn.WithSession(context.Background(), sess)
	handler := makeSwitchLLMHandler(config.LLMPolicyDefaults{}, nil)

	_, err := handler(ctx, `{"kind":"CLOUD","cloud_provider":"OPENAI"}`)
	if err == nil {
		t.Fatal("expected error for unresolvable cloud override")
	}

	if sess.Policy() != nil {
		t.Error("policy override should not be installed when validation fails")
	}
}

func TestSwitchLLM_AcceptsCloudWithAPIKey(t *testing.T) {
	t.Parallel()
	sess := testSession(t)
	ctx := turn.WithSession(context.Background(), sess)
	apiKeys := map[string]string{"OPENAI": "sk-test"}
	handler := makeSwitchLLMHandler(config.LLMPolicyDefaults{}, apiKeys)

	_, err := handler(ctx, `{"kind":"CLOUD","cloud_provider":"OPENAI","model":"gpt-5"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	override := sess.Policy()
	if override == nil || override.CloudProvider != session.ProviderOpenAI {
		t.Fatalf("expected OPENAI override installed, got %+v", override)
	}
}

func TestSwitchLLM_UnknownKind(t *testing.T) {
	t.Parallel()
	sess := testSession(t)
	ctx := turn.WithSession(context.Background(), sess)
	handler := makeSwitchLLMHandler(config.LLMPolicyDefaults{}, nil)

	_, err := handler(ctx, `{"kind":"QUANTUM"}`)
	if err == nil {
		t.Fatal("expected error for unknown kind")
	}
	if !strings.Contains(err.Error(), "unknown kind") {
		t.Errorf("error %q should mention unknown kind", err.Error())
	}
}

func TestSwitchLLM_BadJSON(t *testing.T) {
	t.Parallel()
	sess := testSession(t)
	ctx := turn.WithSession(context.Background(), sess)
	handler := makeSwitchLLMHandler(config.LLMPolicyDefaults{}, nil)

	_, err := handler(ctx, `{bad json}`)
	if err == nil {
		t.Error("expected error for bad JSON")
	}
}

func TestNewTools_ReturnsSwitchLLM(t *testing.T) {
	t.Parallel()
	ts := NewTools(config.LLMPolicyDefaults{}, nil)
	if len(ts) != 1 {
		t.Fatalf("NewTools returned %d tools, want 1", len(ts))
	}
	if ts[0].Definition.Name != "switch_llm" {
		t.Errorf("tool name = %q, want switch_llm", ts[0].Definition.Name)
	}
	if ts[0].Handler == nil {
		t.Error("expected non-nil Handler")
	}
}
