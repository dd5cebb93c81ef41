package client

import (
	"math/rand"
	"sync"
	"time"
)

// reconnector tracks backoff state across connection drops. Delays
// grow exponentially from baseDelay to maxDelay with jitter, and the
// attempt counter resets once a connection has stayed up for
// stableResetInterval.
type reconnector struct {
	mu          sync.Mutex
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(baseDelay, maxDelay time.Duration, maxAttempts int) *reconnector {
	return &reconnector{
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		maxAttempts: maxAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempt < r.maxAttempts
}

func (r *reconnector) nextDelay() (int, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delay := r.baseDelay << r.attempt
	if delay > r.maxDelay || delay <= 0 {
		delay = r.maxDelay
	}

	// up to 25% jitter so a fleet of clients does not retry in lockstep
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	delay += jitter
	if delay > r.maxDelay {
		delay = r.maxDelay
	}

	r.attempt++
	return r.attempt, delay
}

func (r *reconnector) markConnected() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) >= stableResetInterval {
		r.attempt = 0
	}
	if r.connectedAt.IsZero() {
		r.attempt = 0
	}
	r.connectedAt = time.Now()
}

func (r *reconnector) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempt = 0
}
