// Package session implements the fixed-capacity session registry, the
// per-client session record, and the two-phase reference/lifecycle protocol
// that together let many independent worker goroutines share conversation
// state safely.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Registry is a fixed-capacity table of active sessions, guarded by one
// readers/writer lock. It never holds its lock across an LLM
// call, a tool call, or any blocking I/O.
type Registry struct {
	mu sync.RWMutex

	// byID holds every session from creation until phase-2 drain completes,
	// including ones already evicted (disconnected = true) but still
	// draining. This is what makes GetForReconnect able to find a session
	// that destroy has begun evicting but not yet finished freeing.
	byID map[int]*Session

	// byUUID and byIP index only non-disconnected sessions — entries are
	// removed at evict time (phase 1), so a concurrent create_satellite /
	// get_or_create_legacy call never rebinds to a session that is already
	// being torn down.
	byUUID map[string]*Session
	byIP   map[string]*Session

	maxSessions int
	nextID      int
}

// NewRegistry creates a Registry with capacity maxSessions and immediately
// installs the always-on LOCAL session at id 0: slot 0 is LOCAL and always
// present once the registry is initialized.
func NewRegistry(maxSessions int) *Registry {
	if maxSessions < 1 {
		maxSessions = 8
	}
	r := &Registry{
		byID:        make(map[int]*Session, maxSessions),
		byUUID:      make(map[string]*Session),
		byIP:        make(map[string]*Session),
		maxSessions: maxSessions,
	}
	local := newSession(0, Local, nil, Capabilities{}, nil)
	r.byID[0] = local
	r.nextID = 1
	return r
}

// liveCount returns the number of sessions counted against capacity: every
// entry in byID that has not yet finished phase-2 drain. Caller must hold
// r.mu in some mode.
func (r *Registry) liveCount() int {
	return len(r.byID)
}

// Create inserts a new session of the given kind (LOCAL excluded — LOCAL is
// installed once by NewRegistry) bound to transport. Returns ErrRegistryFull
// if capacity is already exhausted.
func (r *Registry) Create(kind Kind, transport any, caps Capabilities) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.liveCount() >= r.maxSessions {
		return nil, ErrRegistryFull
	}

	id := r.nextID
	r.nextID++
	s := newSession(id, kind, nil, caps, transport)
	r.byID[id] = s
	slog.Info("session created", "session_id", id, "kind", kind)
	return s, nil
}

// CreateSatellite implements the reconnect-or-create contract for SATELLITE
// clients. If identity carries a UUID matching a non-disconnected existing
// record, that record's transport is rebound and its refcount bumped
// (reconnect path, preserving history). Otherwise a fresh session is
// created. The refcount increment on the reconnect path happens while the
// registry lock is still held, so a concurrent destroy cannot complete
// between "found it" and "owning it".
func (r *Registry) CreateSatellite(transport any, identity SatelliteIdentity, caps Capabilities) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := identity.Key()
	if key != "" {
		if existing, ok := r.byUUID[key]; ok && !existing.Disconnected() {
			existing.RebindTransport(transport)
			existing.Retain()
			existing.Touch()
			slog.Info("satellite reconnected", "session_id", existing.ID, "uuid", key)
			return existing, nil
		}
	}

	if r.liveCount() >= r.maxSessions {
		return nil, ErrRegistryFull
	}
	if key == "" {
		identity = NewSatelliteIdentity(identity.Name, identity.Room)
		key = identity.Key()
	}

	id := r.nextID
	r.nextID++
	s := newSession(id, Satellite, identity, caps, transport)
	r.byID[id] = s
	r.byUUID[key] = s
	slog.Info("satellite session created", "session_id", id, "uuid", key)
	return s, nil
}

// GetOrCreateLegacy implements the same reconnect-or-create policy as
// CreateSatellite, keyed by client IP instead of UUID. IP identity is
// explicitly provisional and not reclaimable across NAT rebinds — this is a
// known, accepted limitation, not a bug.
func (r *Registry) GetOrCreateLegacy(transport any, ip string, caps Capabilities) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byIP[ip]; ok && !existing.Disconnected() {
		existing.RebindTransport(transport)
		existing.Retain()
		existing.Touch()
		slog.Info("legacy session reconnected", "session_id", existing.ID, "ip", ip)
		return existing, nil
	}

	if r.liveCount() >= r.maxSessions {
		return nil, ErrRegistryFull
	}

	id := r.nextID
	r.nextID++
	s := newSession(id, LegacyNetwork, LegacyNetIdentity{IP: ip}, caps, transport)
	r.byID[id] = s
	r.byIP[ip] = s
	slog.Info("legacy session created", "session_id", id, "ip", ip)
	return s, nil
}

// Get returns the session for id, retaining a reference. It refuses
// disconnected sessions (returns ErrDisconnectedSession) and unknown ids
// (returns ErrUnknownSession).
func (r *Registry) Get(id int) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.byID[id]
	if !ok {
		return nil, ErrUnknownSession
	}
	if s.Disconnected() {
		return nil, ErrDisconnectedSession
	}
	s.Retain()
	return s, nil
}

// GetForReconnect returns the session for id even if it is disconnected,
// retaining a reference. Used by reconnect paths that need to observe a
// session mid-eviction.
func (r *Registry) GetForReconnect(id int) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.byID[id]
	if !ok {
		return nil, ErrUnknownSession
	}
	s.Retain()
	return s, nil
}

// GetLocal returns the always-on LOCAL session without touching its
// refcount.
func (r *Registry) GetLocal() *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[0]
}

// Destroy runs the two-phase destruction protocol for id.
// Phase 1 (evict) runs under the registry write lock: disconnected is set
// and the session is removed from the UUID/IP reconnect indices, making it
// unreachable to new references. Phase 2 (drain) runs with no registry lock
// held: Destroy blocks until the session's ref_count reaches zero, then
// frees it. Destroying the LOCAL session (id 0) is a no-op.
func (r *Registry) Destroy(id int) error {
	if id == 0 {
		return nil
	}

	r.mu.Lock()
	s, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownSession
	}
	s.evict()
	if s.Identity != nil {
		if key := s.Identity.Key(); key != "" {
			switch s.KindOf {
			case Satellite:
				delete(r.byUUID, key)
			case LegacyNetwork:
				delete(r.byIP, key)
			}
		}
	}
	r.mu.Unlock()

	// Release the creation reference newSession started at 1. Nothing else
	// ever releases it — a connected session's turn path retains/releases its
	// own reference per turn but never touches this one — so without this,
	// ref_count would never reach zero and drain below would block forever.
	// If a turn is in flight and holds its own reference, drain still waits
	// for that one to be released, which is the intended behavior.
	s.Release()
	s.drain()

	r.mu.Lock()
	delete(r.byID, id)
	r.mu.Unlock()

	slog.Info("session destroyed", "session_id", id)
	return nil
}

// expiredIDs returns a snapshot of non-LOCAL session ids whose last_activity
// predates the cutoff. Caller must not hold r.mu.
func (r *Registry) expiredIDs(timeout time.Duration) []int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cutoff := time.Now().Add(-timeout)
	var ids []int
	for id, s := range r.byID {
		if id == 0 {
			continue
		}
		if s.Disconnected() {
			continue
		}
		if s.LastActivity().Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}

// SweepExpired collects ids whose last_activity is older than timeout and
// destroys each one, outside the registry lock and in parallel — the sweep
// is cross-session with no ordering requirement, so fan-out via errgroup
// (one goroutine per expired session, no concurrency limit) is appropriate (unlike the bounded tool iteration loop, which is
// deliberately sequential). Returns the number of
// sessions destroyed.
func (r *Registry) SweepExpired(ctx context.Context, timeout time.Duration) int {
	ids := r.expiredIDs(timeout)
	if len(ids) == 0 {
		return 0
	}

	g, _ := errgroup.WithContext(ctx)
	for _, id := range ids {
		g.Go(func() error {
			if err := r.Destroy(id); err != nil {
				slog.Warn("idle sweep: destroy failed", "session_id", id, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return len(ids)
}

// Count returns the number of sessions currently tracked, including the
// always-present LOCAL session.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Shutdown sets disconnected on every session (LOCAL included, as a
// best-effort marker — LOCAL is never actually freed by this call) and
// drains all non-LOCAL sessions. For LOCAL it waits only for ref_count to
// return to its baseline of 1.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	ids := make([]int, 0, len(r.byID))
	for id := range r.byID {
		if id != 0 {
			ids = append(ids, id)
		}
	}
	local := r.byID[0]
	r.mu.RUnlock()

	g, _ := errgroup.WithContext(ctx)
	for _, id := range ids {
		g.Go(func() error { return r.Destroy(id) })
	}
	err := g.Wait()

	local.evict()
	// LOCAL is never freed; baseline ref_count is 1 (the registry's own
	// implicit hold). If something else retained it, wait for those extra
	// references to drop before returning so shutdown doesn't race workers.
	for local.RefCount() > 1 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	return err
}

// historyArtifact names the persisted artifact for one session:
// chat_history_session{id}_{kind}_{YYYYMMDD_HHMMSS}.json.
func historyArtifact(dir string, id int, kind Kind, at time.Time) string {
	name := fmt.Sprintf("chat_history_session%d_%s_%s.json", id, kind, at.Format("20060102_150405"))
	return filepath.Join(dir, name)
}

// SaveAllHistories writes a timestamped JSON artifact for every session
// whose history is longer than just the system prompt. Writes run in
// parallel; a failure on one session does
// not prevent the others from being written; the first failure is
// returned.
func (r *Registry) SaveAllHistories(dir string) error {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	now := time.Now()
	var g errgroup.Group
	for _, s := range sessions {
		g.Go(func() error {
			snap := s.Snapshot()
			if len(snap.Messages()) <= 1 {
				return nil
			}
			path := historyArtifact(dir, s.ID, s.KindOf, now)
			data, err := json.MarshalIndent(snap.Messages(), "", "  ")
			if err != nil {
				return fmt.Errorf("marshal history for session %d: %w", s.ID, err)
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return fmt.Errorf("write history for session %d: %w", s.ID, err)
			}
			return nil
		})
	}
	return g.Wait()
}
