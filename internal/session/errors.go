package session

import "errors"

// Sentinel errors returned by the [Registry] and [Session] operations.
// Callers should compare with [errors.Is], never with ==, since wrapped
// variants may carry additional context.
var (
	// ErrRegistryFull is returned by Create* when no free slot remains.
	ErrRegistryFull = errors.New("session: registry full")

	// ErrUnknownSession is returned when a lookup finds no matching record.
	ErrUnknownSession = errors.New("session: unknown session")

	// ErrDisconnectedSession is returned when a non-reconnect lookup finds a
	// record whose disconnected flag is already set.
	ErrDisconnectedSession = errors.New("session: session is disconnected")

	// ErrInvalidPolicy is returned by SetPolicy when the override cannot be
	// satisfied (e.g. no API key configured for the requested provider).
	ErrInvalidPolicy = errors.New("session: invalid policy override")

	// errDuplicateSatellite is unexported and no code path returns it;
	// CreateSatellite handles a repeated UUID by reconnecting to the
	// existing record instead.
	errDuplicateSatellite = errors.New("session: duplicate satellite UUID")
)
