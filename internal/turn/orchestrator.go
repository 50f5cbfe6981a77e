package turn

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/glyphoxa/internal/config"
	"github.com/MrWong99/glyphoxa/internal/mcp"
	"github.com/MrWong99/glyphoxa/internal/observe"
	"github.com/MrWong99/glyphoxa/internal/session"
	"github.com/MrWong99/glyphoxa/pkg/provider/llm"
	"github.com/MrWong99/glyphoxa/pkg/types"
)

// Orchestrator drives one turn at a time to completion for a given session.
type Orchestrator struct {
	Host    mcp.Host
	Metrics *observe.Metrics
	Config  config.SessionConfig
	APIKeys map[string]string

	// ProviderFor resolves a ResolvedPolicy to a concrete LLM backend. The
	// choice of provider depends on the resolved policy's kind, cloud
	// provider, model, and endpoint, which can vary per session and even per
	// turn, so this is a factory rather than a single fixed Provider.
	ProviderFor func(ResolvedPolicy) (llm.Provider, error)

	// Tier bounds which MCP tools are offered to the model for every turn
	// this Orchestrator drives.
	Tier types.BudgetTier
}

// RunTurn drives session through one user utterance: policy resolution, a
// streaming LLM call bounded by the tool iteration loop, and history
// bookkeeping.
func (o *Orchestrator) RunTurn(ctx context.Context, sess *session.Session, transport Transport, userText string, image []byte) (string, error) {
	// Step 1: fast-reject if already disconnected.
	if sess.Disconnected() {
		return "", ErrCancelled
	}

	// Hold a reference for the duration of the turn so a concurrent Destroy
	// (disconnect, or the idle sweep) blocks in drain until this turn
	// finishes instead of freeing the session out from under it.
	sess.Retain()
	defer sess.Release()

	generation := sess.NextGeneration()

	// Step 2: append the user message to history unconditionally, before any
	// possible failure below, so a later error or cancellation still leaves
	// the utterance available as context for the next turn.
	sess.AppendMessage(types.Message{Role: "user", Content: userText})

	// Step 3: refresh activity.
	sess.Touch()

	// Step 5: satellite sessions tag their turn's LLM input with a location
	// prefix without mutating the stored history entry.
	llmUserText := userText
	if sat, ok := sess.Identity.(session.SatelliteIdentity); ok && sat.Room != "" {
		llmUserText = fmt.Sprintf("[Location: %s] %s", sat.Room, userText)
	}

	// Step 6: resolve the LLM policy before doing any I/O.
	resolved, err := Resolve(sess.Policy(), o.Config.LLMDefaults, o.APIKeys)
	if err != nil {
		transport.SendError("INVALID_POLICY", err.Error())
		return "", err
	}

	provider, err := o.ProviderFor(resolved)
	if err != nil {
		transport.SendError("LLM_TRANSPORT_FAILURE", err.Error())
		return "", err
	}

	// Step 7: bind the Command Context for the remainder of this turn's call
	// tree, so tool callbacks invoked synchronously below can recover the
	// session they are acting for.
	ctx = WithSession(ctx, sess)

	// Step 8: reset the streaming filter for this turn.
	filter := NewFilter(sess)

	// Step 9: stream the completion, bounded by the tool iteration loop. The
	// location-tagged text (if any) is applied only to the outgoing request,
	// never to the stored history entry appended in step 2.
	maxIter := o.Config.MaxToolIterations
	if maxIter <= 0 {
		maxIter = 5
	}
	override := ""
	if llmUserText != userText {
		override = llmUserText
	}

	started := time.Now()
	result, err := RunToolLoop(ctx, sess, provider, o.Host, filter, o.Tier, maxIter, image, override)
	if o.Metrics != nil {
		o.Metrics.LLMDuration.Record(ctx, time.Since(started).Seconds(),
			metric.WithAttributes(
				observe.Attr("kind", resolved.Kind.String()),
				observe.Attr("model", resolved.Model),
			),
		)
	}
	if err != nil {
		if err == ErrCancelled {
			transport.SendStreamEnd(StreamEndCancelled)
			return "", ErrCancelled
		}
		transport.SendStreamEnd(StreamEndError)
		transport.SendError("LLM_TRANSPORT_FAILURE", err.Error())
		return "", err
	}

	// Step 10: deliver the response. SendStreamStart fires lazily here, on the
	// first (and only, given this turn's buffering) emitted chunk, rather than
	// unconditionally before the tool loop ran. A turn that never produces
	// visible content and never sees a command tag skips it entirely and falls
	// back to a single transcript line instead of an empty stream-start/
	// stream-end pair.
	if filter.HadContent() {
		transport.SendStreamStart()
		transport.SendStreamDelta(result.Text)
		transport.SendStreamEnd(StreamEndComplete)
	} else {
		transport.SendTranscript(TranscriptAssistant, result.Text)
	}

	// Step 11: if the session disconnected while the LLM call was in
	// flight, discard the text and report cancellation rather than
	// committing it to history.
	if sess.Disconnected() || sess.Superseded(generation) {
		return "", ErrCancelled
	}

	// Step 12: commit the final assistant message to history.
	sess.AppendMessage(types.Message{Role: "assistant", Content: result.Text})

	return result.Text, nil
}
