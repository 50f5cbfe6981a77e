package session

import (
	"sync"
	"time"

	"github.com/MrWong99/glyphoxa/pkg/types"
)

// HistorySnapshot is a reference-counted, logically immutable view of a
// session's conversation history at the moment it was taken. Later appends
// to the live history do not retroactively change an already-taken snapshot.
type HistorySnapshot struct {
	messages []types.Message
}

// Messages returns the snapshotted message slice. Callers must not mutate it.
func (h HistorySnapshot) Messages() []types.Message { return h.messages }

// Session is one logical client's conversation state. Four independent
// mutexes guard disjoint field groups and must always be acquired in the
// fixed order:
//
//	ref_mutex < fd_mutex < {policy_mutex, history_mutex}
//
// policy_mutex and history_mutex are siblings and are never held
// simultaneously. No per-session lock is ever held across an LLM call, a
// tool call, or any I/O — every accessor below follows "copy under lock,
// release lock, then work".
type Session struct {
	// ID is the stable monotonic identifier assigned at creation. 0 is
	// reserved for the always-on LOCAL session.
	ID int

	// KindOf classifies the transport family. Immutable after creation.
	KindOf Kind

	// Identity is the per-kind identity variant (nil for LOCAL).
	Identity Identity

	// Caps declares client-side capabilities. Immutable after creation.
	Caps Capabilities

	CreatedAt time.Time

	// fdMutex guards Transport during a reconnect swap (lock order: second,
	// after refMutex).
	fdMutex   sync.Mutex
	transport any

	// refMutex guards refCount and disconnected, and pairs with refCond,
	// which broadcasts when the count reaches zero. It is first in the lock
	// order above; in practice it is always taken without any other session
	// lock held, since retain/release never touch transport, policy, or
	// history state.
	refMutex sync.Mutex
	refCond  *sync.Cond
	refCount int

	// disconnected is monotonic: once true it is cleared only by
	// clearDisconnected (lifecycle.go), which no registry path calls.
	disconnected bool

	// lastActivity and requestGeneration are guarded by activityMutex, a
	// leaf lock independent of the four documented locks (it guards only a
	// timestamp and a counter, never touched during I/O).
	activityMutex     sync.Mutex
	lastActivity      time.Time
	requestGeneration uint64

	// policyMutex guards policyOverride.
	policyMutex    sync.Mutex
	policyOverride *PolicyOverride

	// historyMutex guards history and the streaming-filter state fields,
	// which only ever change alongside a turn's history mutations.
	historyMutex  sync.Mutex
	history       []types.Message
	inCommandTag  bool
	streamHadData bool
	streamActive  bool
}

// newSession constructs a Session with ref_count = 1.
func newSession(id int, kind Kind, identity Identity, caps Capabilities, transport any) *Session {
	s := &Session{
		ID:           id,
		KindOf:       kind,
		Identity:     identity,
		Caps:         caps,
		CreatedAt:    time.Now(),
		transport:    transport,
		refCount:     1,
		lastActivity: time.Now(),
	}
	s.refCond = sync.NewCond(&s.refMutex)
	return s
}

// Transport returns the opaque transport handle used to push output to this
// client. Absent (nil) for LOCAL.
func (s *Session) Transport() any {
	s.fdMutex.Lock()
	defer s.fdMutex.Unlock()
	return s.transport
}

// RebindTransport swaps the transport handle, used on reconnect.
func (s *Session) RebindTransport(t any) {
	s.fdMutex.Lock()
	defer s.fdMutex.Unlock()
	s.transport = t
}

// Disconnected reports the monotonic disconnected flag.
func (s *Session) Disconnected() bool {
	s.refMutex.Lock()
	defer s.refMutex.Unlock()
	return s.disconnected
}

// Touch refreshes last_activity to now. Two consecutive touches are
// indistinguishable from one.
func (s *Session) Touch() {
	s.activityMutex.Lock()
	defer s.activityMutex.Unlock()
	s.lastActivity = time.Now()
}

// LastActivity returns the last-touched timestamp.
func (s *Session) LastActivity() time.Time {
	s.activityMutex.Lock()
	defer s.activityMutex.Unlock()
	return s.lastActivity
}

// NextGeneration increments and returns the new request_generation, called
// once per new user turn to supersede any in-flight worker for this session.
func (s *Session) NextGeneration() uint64 {
	s.activityMutex.Lock()
	defer s.activityMutex.Unlock()
	s.requestGeneration++
	return s.requestGeneration
}

// Generation returns the current request_generation without mutating it.
func (s *Session) Generation() uint64 {
	s.activityMutex.Lock()
	defer s.activityMutex.Unlock()
	return s.requestGeneration
}

// Superseded reports whether generation no longer matches the session's
// current request_generation — i.e. a newer turn has started since the
// caller captured generation.
func (s *Session) Superseded(generation uint64) bool {
	return s.Generation() != generation
}

// ── History operations ──────────────────────────────────────

// AppendMessage locks history, appends one message, unlocks.
func (s *Session) AppendMessage(msg types.Message) {
	s.historyMutex.Lock()
	defer s.historyMutex.Unlock()
	s.history = append(s.history, msg)
}

// Snapshot takes a reference-counted handle to the current history sequence.
// The returned snapshot is logically immutable even as later appends occur,
// since it holds a copy rather than the live backing array.
func (s *Session) Snapshot() HistorySnapshot {
	s.historyMutex.Lock()
	defer s.historyMutex.Unlock()
	cp := make([]types.Message, len(s.history))
	copy(cp, s.history)
	return HistorySnapshot{messages: cp}
}

// ClearHistory replaces the history with an empty sequence.
func (s *Session) ClearHistory() {
	s.historyMutex.Lock()
	defer s.historyMutex.Unlock()
	s.history = nil
}

// InitWithSystemPrompt replaces the history contents atomically with a
// single system message: init_with_system_prompt(P) followed by
// get_system_prompt() always yields P.
func (s *Session) InitWithSystemPrompt(prompt string) {
	s.historyMutex.Lock()
	defer s.historyMutex.Unlock()
	s.history = []types.Message{{Role: "system", Content: prompt}}
}

// SystemPrompt reads the first system-role message and returns a copy of its
// content, or ("", false) if none is present.
func (s *Session) SystemPrompt() (string, bool) {
	s.historyMutex.Lock()
	defer s.historyMutex.Unlock()
	for _, m := range s.history {
		if m.Role == "system" {
			return m.Content, true
		}
	}
	return "", false
}

// HistoryLen returns the number of messages currently in history.
func (s *Session) HistoryLen() int {
	s.historyMutex.Lock()
	defer s.historyMutex.Unlock()
	return len(s.history)
}

// ── Streaming filter state ───────────────────────────────────
// These fields live under history_mutex because they are reset exactly once
// per turn alongside the history append that starts the turn, and are never
// read or written from anywhere except the turn's own goroutine while the
// lock is briefly held to snapshot or reset them.

// ResetStreamState resets the three streaming-filter flags to false.
func (s *Session) ResetStreamState() {
	s.historyMutex.Lock()
	defer s.historyMutex.Unlock()
	s.inCommandTag = false
	s.streamHadData = false
	s.streamActive = false
}

// StreamState returns the current streaming-filter flags.
func (s *Session) StreamState() (inCommandTag, hadData, active bool) {
	s.historyMutex.Lock()
	defer s.historyMutex.Unlock()
	return s.inCommandTag, s.streamHadData, s.streamActive
}

// SetStreamState updates the three streaming-filter flags.
func (s *Session) SetStreamState(inCommandTag, hadData, active bool) {
	s.historyMutex.Lock()
	defer s.historyMutex.Unlock()
	s.inCommandTag = inCommandTag
	s.streamHadData = hadData
	s.streamActive = active
}

// ── Policy operations ────────────────────────────────────────

// SetPolicy installs a per-session override. validate is called with the
// override still under the caller's control (no lock held during the call)
// so the caller can check provider API-key availability; SetPolicy itself
// performs no I/O and holds no lock across validate.
func (s *Session) SetPolicy(override *PolicyOverride, validate func(*PolicyOverride) error) error {
	if validate != nil {
		if err := validate(override); err != nil {
			return err
		}
	}
	s.policyMutex.Lock()
	defer s.policyMutex.Unlock()
	s.policyOverride = override.Clone()
	return nil
}

// Policy returns a copy of the current override (nil means "default").
func (s *Session) Policy() *PolicyOverride {
	s.policyMutex.Lock()
	defer s.policyMutex.Unlock()
	return s.policyOverride.Clone()
}

// ResetPolicy restores the session to the default (no override) policy.
func (s *Session) ResetPolicy() {
	s.policyMutex.Lock()
	defer s.policyMutex.Unlock()
	s.policyOverride = nil
}
