// Package dispatch implements the orchestration loop: account selection,
// login, execution under timeout, outcome classification, health updates,
// and retry across accounts.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"reflect"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/roostd/roost/internal/breaker"
	"github.com/roostd/roost/internal/classify"
	"github.com/roostd/roost/internal/config"
	"github.com/roostd/roost/internal/driver"
	"github.com/roostd/roost/internal/gate"
	"github.com/roostd/roost/internal/health"
	"github.com/roostd/roost/internal/model"
	"github.com/roostd/roost/internal/proxypool"
	"github.com/roostd/roost/internal/registry"
	"github.com/roostd/roost/internal/requestlog"
)

var (
	// ErrBreakerOpen means the global circuit breaker refused the dispatch.
	ErrBreakerOpen = errors.New("dispatch: circuit breaker open")
	// ErrNoAccounts means no selectable account remained.
	ErrNoAccounts = errors.New("dispatch: no usable accounts")
	// ErrAttemptsExhausted means every attempt failed.
	ErrAttemptsExhausted = errors.New("dispatch: attempts exhausted")
)

// Class is an operation's timeout class.
type Class int

const (
	ClassDefault Class = iota
	ClassLogin
	ClassSearch
	ClassProfile
	ClassTweet
)

// OpFunc runs one upstream operation on a logged-in client.
type OpFunc func(ctx context.Context, client driver.Client) (any, error)

// Op is a named operation with its timeout class. TimeoutFactor stretches
// the class timeout for operations that paginate internally; zero means 1.
type Op struct {
	Name          string
	Class         Class
	TimeoutFactor float64
	Fn            OpFunc
}

const (
	defaultMaxAttempts = 10
	smallBatchMax      = 5
	batchChunkSize     = 10

	initialGlobalRate = 10.0 // requests per second
	minGlobalRate     = 1.0
	maxGlobalRate     = 100.0
)

// Dispatcher coordinates the registry, proxy pool, health tracker, breaker
// and gate around the per-account driver sessions. It owns nothing
// long-lived beyond the background loops.
type Dispatcher struct {
	reg      *registry.Registry
	pool     *proxypool.Pool
	tracker  *health.Tracker
	brk      *breaker.Breaker
	gate     *gate.Gate
	sessions *driver.Manager

	timeouts    *config.RuntimeConfig
	maxAttempts int

	// Global pacing: nanosecond timestamp of the next free dispatch slot
	// and the adjustable rate behind it.
	paceNext  atomic.Int64
	rateMilli atomic.Int64 // requests per second, scaled by 1000

	emit   func(requestlog.Entry)
	region func(host string) string // optional proxy region lookup
}

// Config wires a Dispatcher. Emit and Region are optional.
type Config struct {
	Registry    *registry.Registry
	Pool        *proxypool.Pool
	Tracker     *health.Tracker
	Breaker     *breaker.Breaker
	Gate        *gate.Gate
	Sessions    *driver.Manager
	Runtime     *config.RuntimeConfig
	MaxAttempts int
	Emit        func(requestlog.Entry)
	Region      func(host string) string
}

// New creates a Dispatcher.
func New(cfg Config) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Runtime == nil {
		cfg.Runtime = config.DefaultRuntimeConfig()
	}
	d := &Dispatcher{
		reg:         cfg.Registry,
		pool:        cfg.Pool,
		tracker:     cfg.Tracker,
		brk:         cfg.Breaker,
		gate:        cfg.Gate,
		sessions:    cfg.Sessions,
		timeouts:    cfg.Runtime,
		maxAttempts: cfg.MaxAttempts,
		emit:        cfg.Emit,
		region:      cfg.Region,
	}
	d.rateMilli.Store(int64(initialGlobalRate * 1000))
	return d
}

// GlobalRate returns the current global dispatch rate in requests/second.
func (d *Dispatcher) GlobalRate() float64 {
	return float64(d.rateMilli.Load()) / 1000
}

func (d *Dispatcher) setGlobalRate(rate float64) {
	if rate < minGlobalRate {
		rate = minGlobalRate
	}
	if rate > maxGlobalRate {
		rate = maxGlobalRate
	}
	d.rateMilli.Store(int64(rate * 1000))
}

// Execute runs one operation through the orchestrator. It returns the
// payload, or an error when the breaker is open, the gate timed out, or
// every attempt failed. It never panics through to callers.
func (d *Dispatcher) Execute(ctx context.Context, op Op) (any, error) {
	if !d.brk.Allow() {
		return nil, ErrBreakerOpen
	}

	if err := d.gate.Acquire(ctx); err != nil {
		d.brk.Record(false)
		return nil, fmt.Errorf("dispatch %s: %w", op.Name, err)
	}
	defer d.gate.Release()

	overall := false
	defer func() { d.brk.Record(overall) }()

	dispatchID := uuid.NewString()
	skip := make(map[string]bool)
	var lastEmpty any
	haveEmpty := false
	var lastErr error

	attempts := 0
	for attempts < d.maxAttempts {
		acct, ok, wait := d.selectAccount(skip)
		if !ok {
			if wait > 0 {
				// Every candidate is rate-limited; wait for the
				// soonest window slot. Does not consume an attempt.
				if err := driver.SleepCtx(ctx, wait); err != nil {
					return nil, err
				}
				continue
			}
			break
		}

		if err := d.pace(ctx); err != nil {
			return nil, err
		}

		proxy := d.pool.Assign(acct.Username)
		if err := d.reserveProxy(ctx, proxy); err != nil {
			return nil, err
		}

		sess, err := d.sessions.Session(&acct, proxy)
		if err != nil {
			log.Printf("[dispatch] %s: session for %s: %v", op.Name, acct.Username, err)
			skip[acct.Username] = true
			continue
		}

		attemptNo := attempts + 1
		start := time.Now()

		if err := d.sessions.EnsureLogin(ctx, sess, &acct); err != nil {
			if errors.Is(err, driver.ErrAccountLocked) {
				skip[acct.Username] = true
				continue
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			kind := classify.Error(err)
			d.applyFailure(acct.Username, kind, err.Error())
			d.emitAttempt(dispatchID, op.Name, acct.Username, proxy, attemptNo, time.Since(start), false, kind, err.Error())
			lastErr = err
			if kind.Terminal() || kind == classify.KindTimeout {
				skip[acct.Username] = true
				continue
			}
			attempts++
			continue
		}

		payload, err := d.invoke(ctx, op, sess, acct.Username)
		elapsed := time.Since(start)

		if err == nil {
			if isEmptyPayload(payload) {
				// "No data" is a failure for health purposes but the
				// payload is remembered: if every account agrees the
				// result is empty, empty is the answer.
				d.tracker.OnFailure(acct.Username, classify.KindUnknown, "empty response from "+op.Name)
				d.emitAttempt(dispatchID, op.Name, acct.Username, proxy, attemptNo, elapsed, false, classify.KindUnknown, "empty response")
				lastEmpty, haveEmpty = payload, true
				skip[acct.Username] = true
				continue
			}
			d.tracker.OnSuccess(acct.Username, elapsed)
			d.emitAttempt(dispatchID, op.Name, acct.Username, proxy, attemptNo, elapsed, true, 0, "")
			overall = true
			return payload, nil
		}

		if ctx.Err() != nil && !errors.Is(err, context.DeadlineExceeded) {
			return nil, ctx.Err()
		}

		kind := classify.Error(err)
		keep := d.applyFailure(acct.Username, kind, err.Error())
		d.emitAttempt(dispatchID, op.Name, acct.Username, proxy, attemptNo, elapsed, false, kind, err.Error())
		lastErr = err

		if kind == classify.KindAuth {
			sess.Invalidate()
		}
		if !keep {
			// The account is out of rotation for this dispatch (and,
			// for terminal kinds, beyond); skipping it costs nothing.
			skip[acct.Username] = true
			continue
		}
		attempts++
	}

	if haveEmpty {
		return lastEmpty, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %s: last error: %v", ErrAttemptsExhausted, op.Name, lastErr)
	}
	return nil, fmt.Errorf("%w: %s", ErrNoAccounts, op.Name)
}

// selectAccount picks a selectable account uniformly at random. When none
// qualifies but some are only rate-limited, it returns the soonest wait.
func (d *Dispatcher) selectAccount(skip map[string]bool) (model.Account, bool, time.Duration) {
	var candidates []model.Account
	minWait := time.Duration(math.MaxInt64)
	rateLimited := false

	for _, acct := range d.reg.List() {
		if skip[acct.Username] || !acct.Usable || acct.IsLocked {
			continue
		}
		if !d.tracker.Selectable(acct.Username) {
			continue
		}
		ok, wait := d.tracker.CanRequest(acct.Username)
		if !ok {
			rateLimited = true
			if wait < minWait {
				minWait = wait
			}
			continue
		}
		candidates = append(candidates, acct)
	}

	if len(candidates) == 0 {
		if rateLimited {
			return model.Account{}, false, minWait
		}
		return model.Account{}, false, 0
	}
	return candidates[rand.IntN(len(candidates))], true, 0
}

// applyFailure updates health and persists the unusable flags when the
// tracker retires the account.
func (d *Dispatcher) applyFailure(username string, kind classify.Kind, message string) (keepUsable bool) {
	keep := d.tracker.OnFailure(username, kind, message)
	if keep {
		return true
	}
	switch kind {
	case classify.KindAccountLocked:
		if err := d.reg.MarkLocked(username); err != nil {
			log.Printf("[dispatch] persist lock for %s: %v", username, err)
		}
	default:
		// Suspended, timed out, or disabled: the soft gate closes.
		if err := d.reg.MarkSuspended(username); err != nil {
			log.Printf("[dispatch] persist suspension for %s: %v", username, err)
		}
	}
	return false
}

// invoke runs the operation under its class timeout, scaled up for
// degraded accounts.
func (d *Dispatcher) invoke(ctx context.Context, op Op, sess *driver.Session, username string) (any, error) {
	timeout := d.timeoutFor(op.Class, d.tracker.SuccessRate(username))
	if op.TimeoutFactor > 0 {
		timeout = time.Duration(float64(timeout) * op.TimeoutFactor)
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		payload any
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- result{nil, fmt.Errorf("operation %s panicked: %v", op.Name, p)}
			}
		}()
		payload, err := op.Fn(cctx, sess.Client())
		ch <- result{payload, err}
	}()

	select {
	case r := <-ch:
		return r.payload, r.err
	case <-cctx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("operation %s timed out after %s", op.Name, timeout)
	}
}

// timeoutFor scales the class timeout by max(1, 2 - successRate*1.5) so a
// degraded account gets more headroom.
func (d *Dispatcher) timeoutFor(class Class, successRate float64) time.Duration {
	var base time.Duration
	switch class {
	case ClassLogin:
		base = d.timeouts.LoginTimeout
	case ClassSearch:
		base = d.timeouts.SearchTimeout
	case ClassProfile:
		base = d.timeouts.ProfileTimeout
	case ClassTweet:
		base = d.timeouts.TweetTimeout
	default:
		base = d.timeouts.DefaultTimeout
	}
	scale := 2 - successRate*1.5
	if scale < 1 {
		scale = 1
	}
	return time.Duration(float64(base) * scale)
}

// pace claims a slot on the global rate limiter, sleeping until it is due.
func (d *Dispatcher) pace(ctx context.Context) error {
	interval := time.Duration(float64(time.Second) / d.GlobalRate())
	for {
		now := time.Now().UnixNano()
		next := d.paceNext.Load()
		target := next
		if now > target {
			target = now
		}
		if d.paceNext.CompareAndSwap(next, target+int64(interval)) {
			if wait := target - now; wait > 0 {
				return driver.SleepCtx(ctx, time.Duration(wait))
			}
			return nil
		}
	}
}

// reserveProxy blocks until the proxy's spacing window opens.
func (d *Dispatcher) reserveProxy(ctx context.Context, proxy *model.Proxy) error {
	for {
		ok, wait := d.pool.Reserve(proxy)
		if ok {
			return nil
		}
		if err := driver.SleepCtx(ctx, wait); err != nil {
			return err
		}
	}
}

func (d *Dispatcher) emitAttempt(dispatchID, op, account string, proxy *model.Proxy, attempt int, elapsed time.Duration, success bool, kind classify.Kind, errMsg string) {
	if d.emit == nil {
		return
	}
	proxyID := ""
	if proxy != nil {
		proxyID = proxy.ID
	}
	kindStr := ""
	if !success {
		kindStr = kind.String()
	}
	d.emit(requestlog.Entry{
		ID:         uuid.NewString(),
		DispatchID: dispatchID,
		Timestamp:  time.Now(),
		Operation:  op,
		Account:    account,
		ProxyID:    proxyID,
		Attempt:    attempt,
		Duration:   elapsed,
		Success:    success,
		Kind:       kindStr,
		Error:      errMsg,
	})
}

// isEmptyPayload reports whether a successful payload carries no data:
// nil, a nil pointer, or an empty slice.
func isEmptyPayload(payload any) bool {
	if payload == nil {
		return true
	}
	v := reflect.ValueOf(payload)
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		return v.IsNil()
	case reflect.Slice, reflect.Map:
		return v.IsNil() || v.Len() == 0
	}
	return false
}
