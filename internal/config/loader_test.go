package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/glyphoxa/internal/config"
)

func TestValidate_DuplicateMCPServerNames(t *testing.T) {
	t.Parallel()
	yaml := `
mcp:
  servers:
    - name: tools
      transport: stdio
      command: /bin/tools-a
    - name: tools
      transport: stdio
      command: /bin/tools-b
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for duplicate mcp server names, got nil")
	}
}

func TestValidate_SessionMaxToolIterationsNegative(t *testing.T) {
	t.Parallel()
	yaml := `
session:
  max_tool_iterations: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for negative max_tool_iterations, got nil")
	}
	if !strings.Contains(err.Error(), "max_tool_iterations") {
		t.Errorf("error should mention max_tool_iterations, got: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
session:
  max_sessions: -1
  max_tool_iterations: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "max_sessions") {
		t.Errorf("error should mention max_sessions, got: %v", err)
	}
	if !strings.Contains(errStr, "max_tool_iterations") {
		t.Errorf("error should mention max_tool_iterations, got: %v", err)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	// Sanity-check that the map is populated.
	if len(config.ValidProviderNames) == 0 {
		t.Fatal("ValidProviderNames should not be empty")
	}
	llmNames := config.ValidProviderNames["llm"]
	if len(llmNames) == 0 {
		t.Fatal("ValidProviderNames[\"llm\"] should not be empty")
	}
	// Check that "openai" is in the LLM list.
	found := false
	for _, n := range llmNames {
		if n == "openai" {
			found = true
			break
		}
	}
	if !found {
		t.Error("ValidProviderNames[\"llm\"] should contain \"openai\"")
	}
}
