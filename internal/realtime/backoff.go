package realtime

import (
	"sync"
	"time"

	"github.com/voicelink/voicelink/internal/config"
)

// backoff tracks consecutive connection failures and computes the
// delay required before the next attempt. Rate-limit responses carry
// their own sticky delay that survives the exponential curve: it only
// resets on a successful connect.
type backoff struct {
	mu sync.Mutex

	baseDelay        time.Duration
	capDelay         time.Duration
	rateLimitDelay   time.Duration
	rateLimitCeiling time.Duration
	rateLimitStep    time.Duration

	failures    int
	sticky      time.Duration
	lastAttempt time.Time

	now func() time.Time
}

func newBackoff(cfg config.BackoffConfig) *backoff {
	return &backoff{
		baseDelay:        time.Duration(cfg.BaseDelaySecs) * time.Second,
		capDelay:         time.Duration(cfg.CapDelaySecs) * time.Second,
		rateLimitDelay:   time.Duration(cfg.RateLimitDelaySecs) * time.Second,
		rateLimitCeiling: time.Duration(cfg.RateLimitCeilingSecs) * time.Second,
		rateLimitStep:    time.Duration(cfg.RateLimitStepSecs) * time.Second,
		now:              time.Now,
	}
}

// requiredDelay returns the minimum gap that must separate the next
// attempt from the previous one. Zero failures means no gap.
func (b *backoff) requiredDelay() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requiredDelayLocked()
}

func (b *backoff) requiredDelayLocked() time.Duration {
	if b.failures == 0 && b.sticky == 0 {
		return 0
	}
	exp := b.baseDelay
	for i := 0; i < b.failures; i++ {
		exp *= 2
		if exp >= b.capDelay {
			exp = b.capDelay
			break
		}
	}
	if b.failures == 0 {
		exp = 0
	}
	d := b.baseDelay
	if exp > d {
		d = exp
	}
	if b.sticky > d {
		d = b.sticky
	}
	return d
}

// check reports how long the caller must still wait before attempting
// a connection. A zero return means the attempt may proceed; the
// attempt time is recorded.
func (b *backoff) check() (time.Duration, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	req := b.requiredDelayLocked()
	if req > 0 && !b.lastAttempt.IsZero() {
		elapsed := b.now().Sub(b.lastAttempt)
		if elapsed < req {
			return req - elapsed, b.failures
		}
	}
	b.lastAttempt = b.now()
	return 0, b.failures
}

// remaining reports the wait left without recording an attempt
func (b *backoff) remaining() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	req := b.requiredDelayLocked()
	if req == 0 || b.lastAttempt.IsZero() {
		return 0
	}
	elapsed := b.now().Sub(b.lastAttempt)
	if elapsed >= req {
		return 0
	}
	return req - elapsed
}

// recordFailure bumps the consecutive-failure count. Rate-limited
// failures additionally latch the sticky delay at its ceiling so the
// next attempt waits the full penalty regardless of the exponential
// position.
func (b *backoff) recordFailure(rateLimited bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastAttempt = b.now()
	if rateLimited {
		b.sticky = b.rateLimitCeiling
	}
}

// escalate raises the sticky delay, used when the server reports rate
// limiting on an already-established connection. The first hit latches
// the rate-limit floor; repeats climb by the configured step up to the
// ceiling. A credential or negotiation 429 latches the full ceiling
// directly via recordFailure.
func (b *backoff) escalate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sticky < b.rateLimitDelay {
		b.sticky = b.rateLimitDelay
		return
	}
	next := b.sticky + b.rateLimitStep
	if next > b.rateLimitCeiling {
		next = b.rateLimitCeiling
	}
	b.sticky = next
}

// recordSuccess clears all failure state
func (b *backoff) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.sticky = 0
}
