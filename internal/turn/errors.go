// Package turn implements the Turn Orchestrator: the single entry point
// that drives one user utterance through policy resolution, a streaming LLM
// call, the bounded tool iteration loop, and history bookkeeping on top of a
// session.Session.
package turn

import "errors"

var (
	// ErrCancelled is returned when a turn is aborted because its session
	// disconnected or was superseded by a newer turn.
	ErrCancelled = errors.New("turn: cancelled")

	// ErrUnsatisfiablePolicy is returned by Resolve when the requested policy
	// cannot be satisfied (missing API key for a cloud provider, no endpoint
	// configured for a local one).
	ErrUnsatisfiablePolicy = errors.New("turn: policy unsatisfiable")
)
