package proc

import (
	"sync"
	"time"
)

// Slot holds at most one live child. Installing a new child kills the
// one it displaces. A closed slot holds nothing.
type Slot struct {
	mu sync.Mutex
	// +checklocks:mu
	child *Child
	// +checklocks:mu
	closed bool
}

// Swap installs c and kills the previous child, if any. It returns the
// displaced child after it has been reaped. On a closed slot c itself is
// killed and returned.
func (s *Slot) Swap(c *Child, grace time.Duration) *Child {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = c.Kill(grace)
		return c
	}
	old := s.child
	s.child = c
	s.mu.Unlock()

	if old != nil && old != c {
		_ = old.Kill(grace)
		return old
	}
	return nil
}

// KillActive kills the current child and empties the slot.
func (s *Slot) KillActive(grace time.Duration) error {
	s.mu.Lock()
	old := s.child
	s.child = nil
	s.mu.Unlock()

	if old == nil {
		return nil
	}
	return old.Kill(grace)
}

// Close kills the current child and makes every later Swap kill its
// incoming child.
func (s *Slot) Close(grace time.Duration) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.KillActive(grace)
}

// Closed reports whether Close has been called.
func (s *Slot) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Clear empties the slot if it still holds c. Exit handlers call it so a
// late exit never clears a newer child.
func (s *Slot) Clear(c *Child) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.child != c {
		return false
	}
	s.child = nil
	return true
}

// Active returns the current child if it has not exited.
func (s *Slot) Active() *Child {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.child == nil || s.child.Exited() {
		return nil
	}
	return s.child
}

// PID returns the live child's pid, or 0.
func (s *Slot) PID() int {
	if c := s.Active(); c != nil {
		return c.PID()
	}
	return 0
}
