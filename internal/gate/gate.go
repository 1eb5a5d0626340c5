// Package gate bounds the number of in-flight upstream operations.
package gate

import (
	"context"
	"errors"
	"math/rand/v2"
	"runtime"
	"time"
)

// ErrAcquireTimeout is returned when a slot could not be claimed within the
// acquire budget. The dispatch is rejected rather than queued.
var ErrAcquireTimeout = errors.New("gate: acquire timed out")

const (
	backoffBase   = 50 * time.Millisecond
	backoffFactor = 1.5
	backoffCap    = 2 * time.Second
)

// Gate is a bounded semaphore. Acquire polls with exponential backoff and
// jitter instead of parking on a queue, so a saturated gate sheds load.
type Gate struct {
	slots      chan struct{}
	acquireMax time.Duration
}

// DefaultCapacity derives the gate size from the host: max(50, NumCPU*4).
func DefaultCapacity() int {
	c := runtime.NumCPU() * 4
	if c < 50 {
		c = 50
	}
	return c
}

// New creates a Gate with the given capacity and total acquire budget.
// capacity <= 0 selects DefaultCapacity; acquireMax <= 0 selects 10s.
func New(capacity int, acquireMax time.Duration) *Gate {
	if capacity <= 0 {
		capacity = DefaultCapacity()
	}
	if acquireMax <= 0 {
		acquireMax = 10 * time.Second
	}
	return &Gate{
		slots:      make(chan struct{}, capacity),
		acquireMax: acquireMax,
	}
}

// Acquire claims a slot, backing off between attempts. It fails with
// ErrAcquireTimeout once the acquire budget is spent, or with the context's
// error if ctx is done first.
func (g *Gate) Acquire(ctx context.Context) error {
	deadline := time.Now().Add(g.acquireMax)
	delay := backoffBase

	for {
		select {
		case g.slots <- struct{}{}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrAcquireTimeout
		}

		sleep := delay + time.Duration(rand.Int64N(int64(delay)/2+1))
		if sleep > remaining {
			sleep = remaining
		}

		timer := time.NewTimer(sleep)
		select {
		case g.slots <- struct{}{}:
			timer.Stop()
			return nil
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * backoffFactor)
		if delay > backoffCap {
			delay = backoffCap
		}
	}
}

// Release returns a slot. Releasing more than was acquired panics, which
// would indicate a dispatcher bookkeeping bug.
func (g *Gate) Release() {
	select {
	case <-g.slots:
	default:
		panic("gate: release without acquire")
	}
}

// InFlight returns the number of currently held slots.
func (g *Gate) InFlight() int {
	return len(g.slots)
}

// Capacity returns the gate's slot count.
func (g *Gate) Capacity() int {
	return cap(g.slots)
}
