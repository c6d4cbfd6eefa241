package realtime

import (
	"sync"
	"time"
)

// AttemptLog records session-creation attempts per client identity
// inside a sliding window. The relay consults it before minting a
// credential so a reconnect loop cannot hammer the upstream API.
type AttemptLog struct {
	mu       sync.Mutex
	window   time.Duration
	max      int
	attempts map[string][]time.Time

	now func() time.Time
}

// NewAttemptLog builds a log allowing max attempts per identity
// within the given window.
func NewAttemptLog(window time.Duration, max int) *AttemptLog {
	return &AttemptLog{
		window:   window,
		max:      max,
		attempts: make(map[string][]time.Time),
		now:      time.Now,
	}
}

// Allow records an attempt for the identity and reports whether it is
// within budget. The attempt is recorded even when denied so a client
// cannot reset its window by retrying.
func (l *AttemptLog) Allow(identity string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	kept := l.attempts[identity][:0]
	for _, t := range l.attempts[identity] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	l.attempts[identity] = kept
	return len(kept) <= l.max
}

// Remaining reports how many attempts the identity has left in the
// current window.
func (l *AttemptLog) Remaining(identity string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	n := 0
	for _, t := range l.attempts[identity] {
		if t.After(cutoff) {
			n++
		}
	}
	if n >= l.max {
		return 0
	}
	return l.max - n
}
