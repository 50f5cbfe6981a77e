package turn

import (
	"context"
	"fmt"

	"github.com/MrWong99/glyphoxa/internal/mcp"
	"github.com/MrWong99/glyphoxa/internal/session"
	"github.com/MrWong99/glyphoxa/pkg/provider/llm"
	"github.com/MrWong99/glyphoxa/pkg/types"
)

// toolIterationApology is delivered as the final text when a turn exhausts
// its tool-iteration budget without the model settling on a plain-text reply.
const toolIterationApology = "I'm having trouble finishing that request right now. Could you try again?"

// ToolLoopResult carries the outcome of RunToolLoop.
type ToolLoopResult struct {
	// Text is the final response text to deliver to the transport.
	Text string

	// IterationExceeded is true when the loop terminated because
	// MAX_TOOL_ITERATIONS was reached rather than a natural stop.
	IterationExceeded bool
}

// RunToolLoop drives the bounded tool-calling round-trip: it streams an LLM
// completion, and for as long as the model
// keeps requesting tool calls, executes them against host and feeds the
// results back for another round, up to maxIterations rounds. Visible text
// is pushed through filter chunk by chunk as it streams from the model; the
// returned Text is only the final round's text (useful for the non-streaming
// fallback and for tests), since earlier rounds' text has no user-visible
// role (assistant tool_calls messages carry null content).
func RunToolLoop(
	ctx context.Context,
	sess *session.Session,
	provider llm.Provider,
	host mcp.Host,
	filter *Filter,
	tier types.BudgetTier,
	maxIterations int,
	initialImage []byte,
	llmUserTextOverride string,
) (ToolLoopResult, error) {
	var pendingImages [][]byte
	if len(initialImage) > 0 {
		pendingImages = [][]byte{initialImage}
	}
	iteration := 0

	for {
		snapshot := sess.Snapshot()
		messages := snapshot.Messages()
		// The satellite location tag is applied only to
		// the outgoing request on the first round; the session's stored
		// history always keeps the raw utterance.
		if iteration == 0 && llmUserTextOverride != "" && len(messages) > 0 {
			tagged := make([]types.Message, len(messages))
			copy(tagged, messages)
			last := len(tagged) - 1
			tagged[last].Content = llmUserTextOverride
			messages = tagged
		}
		req := llm.CompletionRequest{
			Messages: messages,
			Tools:    host.AvailableTools(tier),
			Images:   pendingImages,
		}
		pendingImages = nil

		text, toolCalls, err := runOneRound(ctx, provider, req, filter)
		if err != nil {
			return ToolLoopResult{}, err
		}

		if sess.Disconnected() {
			return ToolLoopResult{}, ErrCancelled
		}

		if len(toolCalls) == 0 {
			return ToolLoopResult{Text: text}, nil
		}

		iteration++
		if iteration > maxIterations {
			return ToolLoopResult{Text: toolIterationApology, IterationExceeded: true}, nil
		}

		sess.AppendMessage(types.Message{Role: "assistant", ToolCalls: toolCalls})

		for _, call := range toolCalls {
			result, execErr := host.ExecuteTool(ctx, call.Name, call.Arguments)
			if execErr != nil {
				sess.AppendMessage(types.Message{
					Role:       "tool",
					Content:    fmt.Sprintf("tool execution failed: %v", execErr),
					ToolCallID: call.ID,
				})
				continue
			}

			sess.AppendMessage(types.Message{
				Role:       "tool",
				Content:    result.Content,
				ToolCallID: call.ID,
			})

			if result.SkipFollowup {
				return ToolLoopResult{Text: result.DirectResponse}, nil
			}
			if len(result.PendingVision) > 0 {
				pendingImages = append(pendingImages, result.PendingVision)
			}
		}
	}
}

// runOneRound issues a single streaming completion call and drains the
// returned channel, feeding every text chunk through filter as it arrives.
// It returns the accumulated filtered text and any tool calls the model
// requested.
func runOneRound(ctx context.Context, provider llm.Provider, req llm.CompletionRequest, filter *Filter) (string, []types.ToolCall, error) {
	chunks, err := provider.StreamCompletion(ctx, req)
	if err != nil {
		return "", nil, err
	}

	var text string
	var toolCalls []types.ToolCall
	for chunk := range chunks {
		if chunk.FinishReason == "error" {
			return "", nil, fmt.Errorf("turn: llm stream error")
		}
		if chunk.Text != "" {
			text += filter.Feed(chunk.Text)
		}
		if len(chunk.ToolCalls) > 0 {
			toolCalls = append(toolCalls, chunk.ToolCalls...)
		}
	}
	trailing, _ := filter.Finish()
	text += trailing
	return text, toolCalls, nil
}
