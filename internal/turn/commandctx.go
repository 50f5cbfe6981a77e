package turn

import (
	"context"

	"github.com/MrWong99/glyphoxa/internal/session"
)

// sessionCtxKey is the unexported context key type for the Command Context.
// Go has no safe thread-local analog, so the per-worker
// pointer binding "the session this worker is currently acting for" is
// carried as an immutable context.Context value instead: WithSession attaches
// it once at the top of a turn's call tree, and tool callbacks invoked
// synchronously within that same tree read it back with SessionFromContext.
// Because the value is never stored anywhere but the context itself, it is
// automatically cleared the moment the turn's goroutine returns — there is no
// separate cleanup step to forget.
type sessionCtxKey struct{}

// WithSession binds sess as the Command Context for ctx. Callers must not
// hand the derived context to a different goroutine than the one executing
// the rest of the turn — dispatch frameworks that migrate work across threads
// mid-turn are incompatible with this contract.
func WithSession(ctx context.Context, sess *session.Session) context.Context {
	return context.WithValue(ctx, sessionCtxKey{}, sess)
}

// SessionFromContext retrieves the session bound by WithSession, if any.
func SessionFromContext(ctx context.Context) (*session.Session, bool) {
	sess, ok := ctx.Value(sessionCtxKey{}).(*session.Session)
	return sess, ok
}
