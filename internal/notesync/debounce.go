package notesync

import (
	"sync"
	"time"

	"github.com/kuitang/note-organizer/internal/clock"
)

// Slot holds at most one pending callback. Scheduling replaces whatever was
// pending, so only the latest call in a burst runs.
type Slot struct {
	clk clock.Clock

	mu    sync.Mutex
	token uint64
	timer clock.Timer
	fn    func()
}

// NewSlot returns an empty slot driven by clk.
func NewSlot(clk clock.Clock) *Slot {
	return &Slot{clk: clk}
}

// Schedule runs fn after d unless the slot is rescheduled, cancelled or
// flushed first.
func (s *Slot) Schedule(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
	token := s.token
	s.fn = fn
	s.timer = s.clk.AfterFunc(d, func() { s.fire(token) })
}

// Cancel drops the pending callback. It reports whether one was pending.
func (s *Slot) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearLocked() != nil
}

// Flush runs the pending callback now, on the calling goroutine.
func (s *Slot) Flush() bool {
	s.mu.Lock()
	fn := s.clearLocked()
	s.mu.Unlock()
	if fn == nil {
		return false
	}
	fn()
	return true
}

// Pending reports whether a callback is waiting.
func (s *Slot) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fn != nil
}

// fire runs the callback scheduled under token. A timer that already fired
// while Cancel or Schedule held the lock finds a newer token and does nothing.
func (s *Slot) fire(token uint64) {
	s.mu.Lock()
	if token != s.token || s.fn == nil {
		s.mu.Unlock()
		return
	}
	fn := s.fn
	s.fn = nil
	s.timer = nil
	s.mu.Unlock()
	fn()
}

func (s *Slot) clearLocked() func() {
	fn := s.fn
	if s.timer != nil {
		s.timer.Stop()
	}
	s.token++
	s.timer = nil
	s.fn = nil
	return fn
}
