package session

// Retain increments the reference count. On a successful
// registry Get the increment happens while the registry lock is still held,
// so no concurrent destroyer can complete the evict-then-free transition
// between "found it" and "owning it" — see Registry.Get and the reconnect
// paths in registry.go, which call Retain under the lock.
func (s *Session) Retain() {
	s.refMutex.Lock()
	s.refCount++
	s.refMutex.Unlock()
}

// Release decrements the reference count and, if it reaches zero, wakes any
// goroutine blocked in drain (see drain below).
func (s *Session) Release() {
	s.refMutex.Lock()
	s.refCount--
	if s.refCount < 0 {
		// A programming error upstream double-released; pin at zero rather
		// than corrupting the invariant further.
		s.refCount = 0
	}
	if s.refCount == 0 {
		s.refCond.Broadcast()
	}
	s.refMutex.Unlock()
}

// RefCount returns the current outstanding reference count.
func (s *Session) RefCount() int {
	s.refMutex.Lock()
	defer s.refMutex.Unlock()
	return s.refCount
}

// evict is phase 1 of two-phase destruction: set disconnected
// = true. Called by the registry while its write lock is held; the registry
// is responsible for the paired slot removal.
func (s *Session) evict() {
	s.refMutex.Lock()
	s.disconnected = true
	s.refMutex.Unlock()
}

// drain is phase 2 of two-phase destruction: block until ref_count reaches
// zero. Must be called with no registry lock held, since it may block
// indefinitely on slow workers.
func (s *Session) drain() {
	s.refMutex.Lock()
	for s.refCount != 0 {
		s.refCond.Wait()
	}
	s.refMutex.Unlock()
}

// clearDisconnected clears a previously-set disconnected flag. No registry
// path calls it: the SATELLITE/LEGACY_NETWORK reconnect paths in registry.go
// only rebind records that are not disconnected. It must only be called while the caller still holds the
// registry write lock and has verified ref_count has not yet reached zero
// (i.e. drain has not completed), otherwise it could resurrect a record
// mid-free.
func (s *Session) clearDisconnected() {
	s.refMutex.Lock()
	s.disconnected = false
	s.refMutex.Unlock()
}
