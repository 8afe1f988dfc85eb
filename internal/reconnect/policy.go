// Package reconnect schedules automatic reconnection attempts after an
// unexpected disconnect: fixed delay, bounded number of attempts.
package reconnect

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultDelay       = 2 * time.Second
	DefaultMaxAttempts = 3
)

// Policy owns the reconnect attempt counter and at most one pending timer.
type Policy struct {
	mu          sync.Mutex
	delay       time.Duration
	maxAttempts int
	attempts    int
	generation  uint64 // bumped by Cancel and Schedule; a fired timer from an older generation is ignored
	timer       *time.Timer
	logger      *logrus.Logger
}

// New creates a policy. Non-positive values fall back to the defaults.
func New(delay time.Duration, maxAttempts int, logger *logrus.Logger) *Policy {
	if delay <= 0 {
		delay = DefaultDelay
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Policy{delay: delay, maxAttempts: maxAttempts, logger: logger}
}

// Schedule arranges for fn to run once after the configured delay and counts
// the attempt. It returns the attempt number, or ok=false when the ceiling has
// been reached, in which case nothing is scheduled. A previously scheduled,
// not yet started attempt is replaced.
func (p *Policy) Schedule(fn func(attempt int)) (attempt int, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.attempts >= p.maxAttempts {
		p.logger.WithFields(logrus.Fields{
			"attempts":     p.attempts,
			"max_attempts": p.maxAttempts,
		}).Debug("Reconnect ceiling reached")
		return p.attempts, false
	}

	p.stopLocked()
	p.attempts++
	attempt = p.attempts
	gen := p.generation

	p.timer = time.AfterFunc(p.delay, func() {
		p.mu.Lock()
		if p.generation != gen {
			p.mu.Unlock()
			return
		}
		p.timer = nil
		p.mu.Unlock()

		fn(attempt)
	})

	p.logger.WithFields(logrus.Fields{
		"attempt":      attempt,
		"max_attempts": p.maxAttempts,
		"delay":        p.delay,
	}).Info("Reconnect scheduled")

	return attempt, true
}

// Cancel drops the pending attempt, if any. Once Cancel returns, a timer that
// has not yet started its callback never will. The attempt counter is kept.
func (p *Policy) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *Policy) stopLocked() {
	p.generation++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// Reset zeroes the attempt counter; called after a successful connect
func (p *Policy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts = 0
}

// Attempts returns the number of attempts scheduled since the last Reset
func (p *Policy) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

// Pending reports whether an attempt is waiting for its timer
func (p *Policy) Pending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timer != nil
}

// MaxAttempts returns the attempt ceiling
func (p *Policy) MaxAttempts() int { return p.maxAttempts }

// Delay returns the fixed wait before each attempt
func (p *Policy) Delay() time.Duration { return p.delay }
