// Package breaker implements the process-wide circuit breaker guarding the
// upstream service.
package breaker

import (
	"sync"
	"time"
)

// State is the breaker's position.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	}
	return "unknown"
}

// Breaker is a three-state circuit breaker. A single instance protects the
// upstream across all accounts.
//
// Closed: failures increment the counter, successes decrement it toward
// zero; reaching the threshold opens the circuit. Open: all dispatches are
// refused until the open duration elapses, at which point the next Allow
// claims the single half-open trial. HalfOpen: the trial's success closes
// the circuit, its failure re-opens it with a fresh deadline.
type Breaker struct {
	mu sync.Mutex

	state         State
	failureCount  int
	openedAt      time.Time
	trialInFlight bool

	failureThreshold int
	openDuration     time.Duration

	now func() time.Time // injectable for tests
}

// Config tunes a Breaker. Zero values select the defaults (15 failures,
// 60s open).
type Config struct {
	FailureThreshold int
	OpenDuration     time.Duration
	Now              func() time.Time
}

// New creates a Breaker in the closed state.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 15
	}
	if cfg.OpenDuration <= 0 {
		cfg.OpenDuration = 60 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{
		failureThreshold: cfg.FailureThreshold,
		openDuration:     cfg.OpenDuration,
		now:              cfg.Now,
	}
}

// Allow reports whether a dispatch may proceed. In the open state it flips
// to half-open once the deadline has passed and grants exactly one trial.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if b.now().Sub(b.openedAt) < b.openDuration {
			return false
		}
		b.state = HalfOpen
		b.trialInFlight = true
		return true
	case HalfOpen:
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		return true
	}
	return false
}

// Record feeds the outcome of a dispatch back into the breaker.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		if success {
			if b.failureCount > 0 {
				b.failureCount--
			}
			return
		}
		b.failureCount++
		if b.failureCount >= b.failureThreshold {
			b.state = Open
			b.openedAt = b.now()
		}
	case HalfOpen:
		b.trialInFlight = false
		if success {
			b.state = Closed
			b.failureCount = 0
			return
		}
		b.state = Open
		b.openedAt = b.now()
	case Open:
		// Late results from calls started before the trip; ignored.
	}
}

// State returns the current state, resolving an elapsed open deadline the
// same way Allow would (without claiming the trial).
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.now().Sub(b.openedAt) >= b.openDuration {
		return HalfOpen
	}
	return b.state
}

// FailureCount returns the closed-state failure counter.
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}
