// Package notify keeps repeated error messages from storming the operator:
// a bounded, time-windowed de-duplication keyed by message text. It carries
// no correctness weight; dropping a duplicate toast never changes state.
package notify

import (
	"sync"
	"time"
)

const pruneThreshold = 256

// Suppressor remembers recently shown messages for a fixed window
type Suppressor struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewSuppressor creates a suppressor with the given de-duplication window
func NewSuppressor(window time.Duration) *Suppressor {
	return &Suppressor{
		window: window,
		now:    time.Now,
		seen:   make(map[string]time.Time),
	}
}

// ShouldShow reports whether the message may be surfaced, and marks it shown
// when so. The same text asks again only after the window has elapsed.
func (s *Suppressor) ShouldShow(message string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if last, ok := s.seen[message]; ok && now.Sub(last) < s.window {
		return false
	}
	s.seen[message] = now

	if len(s.seen) > pruneThreshold {
		for msg, last := range s.seen {
			if now.Sub(last) >= s.window {
				delete(s.seen, msg)
			}
		}
	}
	return true
}
