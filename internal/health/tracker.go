// Package health tracks per-account request health: the status state
// machine, sliding request windows, and outcome bookkeeping. State is
// in-memory only; the persistent usable/locked flags live in the registry.
package health

import (
	"log"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/roostd/roost/internal/classify"
)

const (
	authCooldownFailures   = 5
	networkProbationFails  = 10
	unknownProbationFails  = 50
	authDisableCount24h    = 50
	probationPromoteStreak = 3
	errorCounterIdleReset  = 15 * time.Minute
	authDisableWindow      = 24 * time.Hour
)

// ErrorEvent is one entry in an account's bounded error history.
type ErrorEvent struct {
	Kind      classify.Kind
	Timestamp time.Time
	Message   string
}

// Record is the mutable health state for one account. All fields are
// guarded by the tracker's per-record lock.
type Record struct {
	mu sync.Mutex

	Status        Status
	CooldownUntil time.Time

	RequestCount         int64
	ConsecutiveSuccesses int
	ConsecutiveFailures  int

	LastUsed    time.Time
	LastSuccess time.Time
	LastError   time.Time

	errorHistory      []ErrorEvent // bounded ring, oldest first
	responseTimes     []time.Duration
	requestTimestamps []time.Time // trimmed to the rate-limit window
	kindCounts        map[classify.Kind]int
	authTimestamps    []time.Time // for the 24h auth-disable rule
}

// Tracker owns every account's health record.
type Tracker struct {
	records *xsync.Map[string, *Record]

	window           time.Duration
	windowCapacity   int
	cooldownDuration time.Duration
	errorHistoryMax  int
	responseTimesMax int

	now func() time.Time
}

// Config tunes a Tracker. Zero values select the built-in defaults.
type Config struct {
	Window           time.Duration // sliding rate-limit window (15m)
	WindowCapacity   int           // requests per window (200)
	CooldownDuration time.Duration // quarantine length (2m)
	ErrorHistoryMax  int           // error ring size (25)
	ResponseTimesMax int           // response-time ring size (50)
	Now              func() time.Time
}

// NewTracker creates an empty Tracker.
func NewTracker(cfg Config) *Tracker {
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Minute
	}
	if cfg.WindowCapacity <= 0 {
		cfg.WindowCapacity = 200
	}
	if cfg.CooldownDuration <= 0 {
		cfg.CooldownDuration = 2 * time.Minute
	}
	if cfg.ErrorHistoryMax <= 0 {
		cfg.ErrorHistoryMax = 25
	}
	if cfg.ResponseTimesMax <= 0 {
		cfg.ResponseTimesMax = 50
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Tracker{
		records:          xsync.NewMap[string, *Record](),
		window:           cfg.Window,
		windowCapacity:   cfg.WindowCapacity,
		cooldownDuration: cfg.CooldownDuration,
		errorHistoryMax:  cfg.ErrorHistoryMax,
		responseTimesMax: cfg.ResponseTimesMax,
		now:              cfg.Now,
	}
}

// Get returns the record for username, lazily creating a healthy one.
func (t *Tracker) Get(username string) *Record {
	rec, _ := t.records.LoadOrCompute(username, func() (*Record, bool) {
		return &Record{
			Status:     Healthy,
			kindCounts: make(map[classify.Kind]int),
		}, false
	})
	return rec
}

// CanRequest reports whether the account may dispatch now. When refused,
// wait is the time until the oldest window entry ages out.
func (t *Tracker) CanRequest(username string) (ok bool, wait time.Duration) {
	rec := t.Get(username)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	now := t.now()
	rec.trimWindowLocked(now, t.window)
	if len(rec.requestTimestamps) < t.windowCapacity {
		return true, 0
	}
	oldest := rec.requestTimestamps[0]
	return false, t.window - now.Sub(oldest)
}

// Selectable reports whether the account may be picked for a dispatch:
// not in a sink state and not in an unexpired cooldown. The rate window is
// checked separately via CanRequest.
func (t *Tracker) Selectable(username string) bool {
	rec := t.Get(username)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.Status.Sink() {
		return false
	}
	if rec.Status == Cooldown && t.now().Before(rec.CooldownUntil) {
		return false
	}
	return true
}

// OnSuccess records a successful dispatch with its round-trip time.
func (t *Tracker) OnSuccess(username string, rtt time.Duration) {
	rec := t.Get(username)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	now := t.now()
	rec.noteRequestLocked(now)
	rec.ConsecutiveSuccesses++
	rec.ConsecutiveFailures = 0
	rec.LastSuccess = now

	rec.responseTimes = append(rec.responseTimes, rtt)
	if len(rec.responseTimes) > t.responseTimesMax {
		rec.responseTimes = rec.responseTimes[len(rec.responseTimes)-t.responseTimesMax:]
	}

	if rec.Status == Probation && rec.ConsecutiveSuccesses >= probationPromoteStreak {
		rec.Status = Healthy
		log.Printf("[health] %s promoted probation -> healthy", username)
	}
}

// OnFailure applies the classified failure to the account and reports
// whether the account stays usable. A false return means the caller must
// persist the unusable flags (locked/suspended) or retire the account for
// the process (disabled).
func (t *Tracker) OnFailure(username string, kind classify.Kind, message string) (keepUsable bool) {
	rec := t.Get(username)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	now := t.now()
	rec.noteRequestLocked(now)
	rec.LastError = now
	rec.kindCounts[kind]++
	rec.errorHistory = append(rec.errorHistory, ErrorEvent{Kind: kind, Timestamp: now, Message: message})
	if len(rec.errorHistory) > t.errorHistoryMax {
		rec.errorHistory = rec.errorHistory[len(rec.errorHistory)-t.errorHistoryMax:]
	}
	rec.ConsecutiveSuccesses = 0

	switch kind {
	case classify.KindNotFound:
		// Benign: the target was missing, not the account.
		if rec.ConsecutiveFailures > 0 {
			rec.ConsecutiveFailures--
		}
		return true
	case classify.KindAccountLocked:
		rec.ConsecutiveFailures++
		rec.Status = Locked
		log.Printf("[health] %s locked: %s", username, message)
		return false
	case classify.KindAccountSuspended:
		rec.ConsecutiveFailures++
		rec.Status = Suspended
		log.Printf("[health] %s suspended: %s", username, message)
		return false
	case classify.KindTimeout:
		// A timed-out session is indistinguishable from a silently
		// rate-limited one; the account is pulled from rotation.
		rec.ConsecutiveFailures++
		rec.Status = Suspended
		log.Printf("[health] %s suspended after timeout", username)
		return false
	case classify.KindAuth:
		rec.ConsecutiveFailures++
		rec.authTimestamps = append(rec.authTimestamps, now)
		rec.trimAuthLocked(now)
		if len(rec.authTimestamps) >= authDisableCount24h {
			rec.Status = Disabled
			log.Printf("[health] %s disabled: %d auth errors in 24h", username, len(rec.authTimestamps))
			return false
		}
		if rec.ConsecutiveFailures >= authCooldownFailures {
			rec.enterCooldownLocked(now, t.cooldownDuration)
			log.Printf("[health] %s cooldown after %d auth failures", username, rec.ConsecutiveFailures)
		}
		return true
	case classify.KindRateLimit:
		rec.ConsecutiveFailures++
		rec.enterCooldownLocked(now, t.cooldownDuration)
		log.Printf("[health] %s cooldown after rate limit", username)
		return true
	case classify.KindNetwork:
		rec.ConsecutiveFailures++
		if rec.ConsecutiveFailures >= networkProbationFails {
			rec.Status = Probation
		}
		return true
	default: // KindUnknown
		rec.ConsecutiveFailures++
		if rec.ConsecutiveFailures >= unknownProbationFails {
			rec.Status = Probation
		}
		return true
	}
}

// MarkSuspended forces the account into the suspended sink, used when a
// terminal signal is observed outside a normal dispatch outcome.
func (t *Tracker) MarkSuspended(username string) {
	rec := t.Get(username)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.Status = Suspended
}

// MarkLocked forces the account into the locked sink.
func (t *Tracker) MarkLocked(username string) {
	rec := t.Get(username)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.Status = Locked
}

// Status returns the account's current status.
func (t *Tracker) Status(username string) Status {
	rec := t.Get(username)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.Status
}

// SuccessRate returns the account's success ratio in [0, 1]. An account
// with no requests scores 1. The error term is the bounded history ring,
// so this is not a strict sliding ratio.
func (t *Tracker) SuccessRate(username string) float64 {
	rec := t.Get(username)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.successRateLocked()
}

// Sweep performs background maintenance: trims request windows, expires
// cooldowns into probation, resets idle error counters, and returns the
// accounts idle for longer than the cooldown duration that are candidates
// for a reactivation login (sinks excluded).
func (t *Tracker) Sweep() (reactivate []string) {
	now := t.now()
	t.records.Range(func(username string, rec *Record) bool {
		rec.mu.Lock()

		rec.trimWindowLocked(now, t.window)
		rec.trimAuthLocked(now)

		if rec.Status == Cooldown && !now.Before(rec.CooldownUntil) {
			rec.Status = Probation
			rec.ConsecutiveSuccesses = 0
			log.Printf("[health] %s cooldown expired -> probation", username)
		}

		if !rec.LastError.IsZero() && now.Sub(rec.LastError) >= errorCounterIdleReset {
			rec.errorHistory = rec.errorHistory[:0]
			rec.kindCounts = make(map[classify.Kind]int)
			rec.LastError = time.Time{}
		}

		idle := rec.LastUsed.IsZero() || now.Sub(rec.LastUsed) > t.cooldownDuration
		if idle && !rec.Status.Sink() {
			reactivate = append(reactivate, username)
		}

		rec.mu.Unlock()
		return true
	})
	return reactivate
}

// MeanSuccessRate averages the success rate across active accounts (at
// least one request, not in a sink state). Returns the mean and the number
// of accounts counted; no active accounts yields (1, 0).
func (t *Tracker) MeanSuccessRate() (float64, int) {
	var sum float64
	n := 0
	t.records.Range(func(_ string, rec *Record) bool {
		rec.mu.Lock()
		if rec.RequestCount > 0 && !rec.Status.Sink() {
			sum += rec.successRateLocked()
			n++
		}
		rec.mu.Unlock()
		return true
	})
	if n == 0 {
		return 1, 0
	}
	return sum / float64(n), n
}

// StatusCounts returns the number of accounts per status bucket.
func (t *Tracker) StatusCounts() map[Status]int {
	counts := make(map[Status]int)
	t.records.Range(func(_ string, rec *Record) bool {
		rec.mu.Lock()
		counts[rec.Status]++
		rec.mu.Unlock()
		return true
	})
	return counts
}

// WindowOccupancy returns, per account, how full the rate window is.
func (t *Tracker) WindowOccupancy() map[string]int {
	now := t.now()
	out := make(map[string]int)
	t.records.Range(func(username string, rec *Record) bool {
		rec.mu.Lock()
		rec.trimWindowLocked(now, t.window)
		out[username] = len(rec.requestTimestamps)
		rec.mu.Unlock()
		return true
	})
	return out
}

// WindowLen returns the current rate-window occupancy for one account.
func (t *Tracker) WindowLen(username string) int {
	rec := t.Get(username)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.trimWindowLocked(t.now(), t.window)
	return len(rec.requestTimestamps)
}

// ErrorHistory returns a copy of the account's error ring, oldest first.
func (t *Tracker) ErrorHistory(username string) []ErrorEvent {
	rec := t.Get(username)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := make([]ErrorEvent, len(rec.errorHistory))
	copy(out, rec.errorHistory)
	return out
}

// --- Record internals (callers hold rec.mu) ---

func (r *Record) noteRequestLocked(now time.Time) {
	r.RequestCount++
	r.LastUsed = now
	r.requestTimestamps = append(r.requestTimestamps, now)
}

func (r *Record) trimWindowLocked(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(r.requestTimestamps) && !r.requestTimestamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		r.requestTimestamps = r.requestTimestamps[i:]
	}
}

func (r *Record) trimAuthLocked(now time.Time) {
	cutoff := now.Add(-authDisableWindow)
	i := 0
	for i < len(r.authTimestamps) && r.authTimestamps[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		r.authTimestamps = r.authTimestamps[i:]
	}
}

func (r *Record) enterCooldownLocked(now time.Time, d time.Duration) {
	r.Status = Cooldown
	r.CooldownUntil = now.Add(d)
}

func (r *Record) successRateLocked() float64 {
	if r.RequestCount == 0 {
		return 1
	}
	rate := float64(r.RequestCount-int64(len(r.errorHistory))) / float64(r.RequestCount)
	if rate < 0 {
		return 0
	}
	if rate > 1 {
		return 1
	}
	return rate
}
