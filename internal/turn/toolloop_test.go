package turn

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/glyphoxa/internal/mcp"
	"github.com/MrWong99/glyphoxa/pkg/provider/llm"
	"github.com/MrWong99/glyphoxa/pkg/types"
)

// mockProvider replays a fixed sequence of completion rounds, one per call to
// StreamCompletion, in order.
type mockProvider struct {
	rounds []mockRound
	calls  int
}

type mockRound struct {
	chunks []llm.Chunk
	err    error
}

func (p *mockProvider) StreamCompletion(_ context.Context, _ llm.CompletionRequest) (<-chan llm.Chunk, error) {
	if p.calls >= len(p.rounds) {
		p.calls++
		ch := make(chan llm.Chunk)
		close(ch)
		return ch, nil
	}
	round := p.rounds[p.calls]
	p.calls++
	if round.err != nil {
		return nil, round.err
	}
	ch := make(chan llm.Chunk, len(round.chunks))
	for _, c := range round.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (p *mockProvider) Complete(_ context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return nil, errors.New("not implemented")
}

func (p *mockProvider) CountTokens(messages []types.Message) (int, error) {
	return len(messages), nil
}

func (p *mockProvider) Capabilities() types.ModelCapabilities {
	return types.ModelCapabilities{SupportsToolCalling: true, SupportsStreaming: true}
}

// mockHost is a minimal mcp.Host for exercising the tool iteration loop.
type mockHost struct {
	tools       []types.ToolDefinition
	results     map[string]*mcp.ToolResult
	executeErrs map[string]error
	executed    []string
}

func (h *mockHost) RegisterServer(context.Context, mcp.ServerConfig) error { return nil }

func (h *mockHost) AvailableTools(types.BudgetTier) []types.ToolDefinition { return h.tools }

func (h *mockHost) ExecuteTool(_ context.Context, name string, args string) (*mcp.ToolResult, error) {
	h.executed = append(h.executed, name)
	if err, ok := h.executeErrs[name]; ok {
		return nil, err
	}
	if r, ok := h.results[name]; ok {
		return r, nil
	}
	return &mcp.ToolResult{Content: "ok"}, nil
}

func (h *mockHost) Calibrate(context.Context) error { return nil }

func (h *mockHost) Close() error { return nil }

func textChunk(s string) llm.Chunk { return llm.Chunk{Text: s} }

func TestRunToolLoop_NoToolCallsReturnsText(t *testing.T) {
	sess := newTestSession()
	sess.InitWithSystemPrompt("be helpful")
	sess.AppendMessage(types.Message{Role: "user", Content: "hi"})

	provider := &mockProvider{rounds: []mockRound{
		{chunks: []llm.Chunk{textChunk("hello there"), {FinishReason: "stop"}}},
	}}
	host := &mockHost{}
	filter := NewFilter(sess)

	result, err := RunToolLoop(context.Background(), sess, provider, host, filter, types.BudgetFast, 5, nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "hello there" {
		t.Errorf("expected %q, got %q", "hello there", result.Text)
	}
	if result.IterationExceeded {
		t.Error("did not expect iteration exceeded")
	}
}

func TestRunToolLoop_SingleToolRoundTrip(t *testing.T) {
	sess := newTestSession()
	sess.AppendMessage(types.Message{Role: "user", Content: "roll a die"})

	provider := &mockProvider{rounds: []mockRound{
		{chunks: []llm.Chunk{{ToolCalls: []types.ToolCall{{ID: "call1", Name: "roll_dice", Arguments: "{}"}}, FinishReason: "tool_calls"}}},
		{chunks: []llm.Chunk{textChunk("you rolled a 4")}},
	}}
	host := &mockHost{
		tools:   []types.ToolDefinition{{Name: "roll_dice"}},
		results: map[string]*mcp.ToolResult{"roll_dice": {Content: "4"}},
	}
	filter := NewFilter(sess)

	result, err := RunToolLoop(context.Background(), sess, provider, host, filter, types.BudgetFast, 5, nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "you rolled a 4" {
		t.Errorf("expected %q, got %q", "you rolled a 4", result.Text)
	}
	if len(host.executed) != 1 || host.executed[0] != "roll_dice" {
		t.Errorf("expected roll_dice to be executed once, got %v", host.executed)
	}

	snap := sess.Snapshot().Messages()
	// user, assistant(tool_calls), tool, assistant(final) — a contiguous
	// tool-calls/tool-result block between the requesting and follow-up
	// assistant messages.
	if len(snap) < 3 {
		t.Fatalf("expected at least 3 history entries, got %d", len(snap))
	}
	if snap[1].Role != "assistant" || len(snap[1].ToolCalls) != 1 {
		t.Errorf("expected assistant tool_calls message at index 1, got %+v", snap[1])
	}
	if snap[2].Role != "tool" || snap[2].ToolCallID != "call1" {
		t.Errorf("expected tool result message at index 2, got %+v", snap[2])
	}
}

func TestRunToolLoop_SkipFollowupReturnsDirectResponse(t *testing.T) {
	sess := newTestSession()
	sess.AppendMessage(types.Message{Role: "user", Content: "what time is it"})

	provider := &mockProvider{rounds: []mockRound{
		{chunks: []llm.Chunk{{ToolCalls: []types.ToolCall{{ID: "call1", Name: "clock", Arguments: "{}"}}}}},
	}}
	host := &mockHost{
		tools:   []types.ToolDefinition{{Name: "clock"}},
		results: map[string]*mcp.ToolResult{"clock": {Content: "15:00", SkipFollowup: true, DirectResponse: "It's 3pm."}},
	}
	filter := NewFilter(sess)

	result, err := RunToolLoop(context.Background(), sess, provider, host, filter, types.BudgetFast, 5, nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "It's 3pm." {
		t.Errorf("expected direct response, got %q", result.Text)
	}
	if provider.calls != 1 {
		t.Errorf("expected no follow-up LLM call, got %d calls", provider.calls)
	}
}

func TestRunToolLoop_IterationLimitReturnsApology(t *testing.T) {
	sess := newTestSession()
	sess.AppendMessage(types.Message{Role: "user", Content: "loop forever"})

	// Every round requests the same tool, forever.
	rounds := make([]mockRound, 0, 7)
	for i := 0; i < 7; i++ {
		rounds = append(rounds, mockRound{chunks: []llm.Chunk{
			{ToolCalls: []types.ToolCall{{ID: "c", Name: "noop", Arguments: "{}"}}},
		}})
	}
	provider := &mockProvider{rounds: rounds}
	host := &mockHost{tools: []types.ToolDefinition{{Name: "noop"}}}
	filter := NewFilter(sess)

	const maxIterations = 5
	result, err := RunToolLoop(context.Background(), sess, provider, host, filter, types.BudgetFast, maxIterations, nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IterationExceeded {
		t.Error("expected IterationExceeded")
	}
	if result.Text != toolIterationApology {
		t.Errorf("expected apology text, got %q", result.Text)
	}
	if len(host.executed) != maxIterations {
		t.Errorf("expected exactly %d tool executions, got %d", maxIterations, len(host.executed))
	}
	// property 7: at most MAX_TOOL_ITERATIONS+1 LLM calls.
	if provider.calls > maxIterations+1 {
		t.Errorf("expected at most %d LLM calls, got %d", maxIterations+1, provider.calls)
	}
}

func TestRunToolLoop_ToolExecutionFailureIsRecordedAndLoopContinues(t *testing.T) {
	sess := newTestSession()
	sess.AppendMessage(types.Message{Role: "user", Content: "use a broken tool"})

	provider := &mockProvider{rounds: []mockRound{
		{chunks: []llm.Chunk{{ToolCalls: []types.ToolCall{{ID: "call1", Name: "broken", Arguments: "{}"}}}}},
		{chunks: []llm.Chunk{textChunk("sorry, that tool is unavailable")}},
	}}
	host := &mockHost{
		tools:       []types.ToolDefinition{{Name: "broken"}},
		executeErrs: map[string]error{"broken": errors.New("connection refused")},
	}
	filter := NewFilter(sess)

	result, err := RunToolLoop(context.Background(), sess, provider, host, filter, types.BudgetFast, 5, nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "sorry, that tool is unavailable" {
		t.Errorf("unexpected final text: %q", result.Text)
	}
}
