package health

import (
	"fmt"
	"testing"
	"time"

	"github.com/roostd/roost/internal/classify"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestTracker(clk *clock) *Tracker {
	return NewTracker(Config{
		Window:           15 * time.Minute,
		WindowCapacity:   200,
		CooldownDuration: 2 * time.Minute,
		Now:              clk.now,
	})
}

func TestTracker_LazyHealthyRecord(t *testing.T) {
	clk := &clock{t: time.Unix(10_000, 0)}
	tr := newTestTracker(clk)
	if got := tr.Status("fresh"); got != Healthy {
		t.Fatalf("status = %v, want healthy", got)
	}
	if ok, _ := tr.CanRequest("fresh"); !ok {
		t.Fatal("fresh account must be allowed")
	}
}

func TestTracker_WindowRefusalAndWait(t *testing.T) {
	clk := &clock{t: time.Unix(10_000, 0)}
	tr := NewTracker(Config{WindowCapacity: 2, Window: 15 * time.Minute, Now: clk.now})

	tr.OnSuccess("a", 100*time.Millisecond)
	clk.advance(time.Minute)
	tr.OnSuccess("a", 100*time.Millisecond)

	ok, wait := tr.CanRequest("a")
	if ok {
		t.Fatal("full window must refuse")
	}
	// Oldest entry is 1m old; it ages out after window-1m more.
	if want := 14 * time.Minute; wait != want {
		t.Fatalf("wait = %v, want %v", wait, want)
	}

	// Window never holds more than capacity entries inside the window.
	if n := tr.WindowLen("a"); n > 2 {
		t.Fatalf("window holds %d, cap 2", n)
	}

	clk.advance(14*time.Minute + time.Second)
	if ok, _ := tr.CanRequest("a"); !ok {
		t.Fatal("expected oldest entry to age out")
	}
}

func TestTracker_LockedIsSink(t *testing.T) {
	clk := &clock{t: time.Unix(10_000, 0)}
	tr := newTestTracker(clk)

	keep := tr.OnFailure("a", classify.KindAccountLocked, `{"errors":[{"code":326}]}`)
	if keep {
		t.Fatal("locked account must not stay usable")
	}
	if tr.Status("a") != Locked {
		t.Fatalf("status = %v, want locked", tr.Status("a"))
	}
	if tr.Selectable("a") {
		t.Fatal("locked account must never be selectable")
	}

	// Success cannot resurrect a sink; the sweep must not either.
	tr.Sweep()
	if tr.Status("a") != Locked {
		t.Fatal("sweep cleared a sink")
	}
}

func TestTracker_TimeoutSuspends(t *testing.T) {
	clk := &clock{t: time.Unix(10_000, 0)}
	tr := newTestTracker(clk)

	if keep := tr.OnFailure("a", classify.KindTimeout, "timed out"); keep {
		t.Fatal("timeout must pull the account from rotation")
	}
	if tr.Status("a") != Suspended {
		t.Fatalf("status = %v, want suspended", tr.Status("a"))
	}
}

func TestTracker_AuthCooldownAfterStreak(t *testing.T) {
	clk := &clock{t: time.Unix(10_000, 0)}
	tr := newTestTracker(clk)

	for i := 0; i < 4; i++ {
		if keep := tr.OnFailure("a", classify.KindAuth, "bad credentials"); !keep {
			t.Fatal("auth failures below the streak keep the account usable")
		}
		if tr.Status("a") == Cooldown {
			t.Fatalf("cooldown entered early at failure %d", i+1)
		}
	}
	tr.OnFailure("a", classify.KindAuth, "bad credentials") // 5th
	if tr.Status("a") != Cooldown {
		t.Fatalf("status = %v, want cooldown after 5 auth failures", tr.Status("a"))
	}
	if tr.Selectable("a") {
		t.Fatal("cooldown account must not be selectable before expiry")
	}

	// Cooldown auto-expires to probation via the sweep.
	clk.advance(2*time.Minute + time.Second)
	tr.Sweep()
	if tr.Status("a") != Probation {
		t.Fatalf("status = %v, want probation after cooldown expiry", tr.Status("a"))
	}
	if !tr.Selectable("a") {
		t.Fatal("probation account must be selectable")
	}
}

func TestTracker_RateLimitCooldownImmediate(t *testing.T) {
	clk := &clock{t: time.Unix(10_000, 0)}
	tr := newTestTracker(clk)

	tr.OnFailure("a", classify.KindRateLimit, "429")
	if tr.Status("a") != Cooldown {
		t.Fatalf("status = %v, want cooldown on first rate limit", tr.Status("a"))
	}
}

func TestTracker_ProbationPromotion(t *testing.T) {
	clk := &clock{t: time.Unix(10_000, 0)}
	tr := newTestTracker(clk)

	for i := 0; i < networkProbationFails; i++ {
		tr.OnFailure("a", classify.KindNetwork, "connection reset")
	}
	if tr.Status("a") != Probation {
		t.Fatalf("status = %v, want probation", tr.Status("a"))
	}

	tr.OnSuccess("a", 50*time.Millisecond)
	tr.OnSuccess("a", 50*time.Millisecond)
	if tr.Status("a") != Probation {
		t.Fatal("two successes must not promote")
	}

	// An intervening failure resets the streak.
	tr.OnFailure("a", classify.KindNetwork, "connection reset")
	tr.OnSuccess("a", 50*time.Millisecond)
	tr.OnSuccess("a", 50*time.Millisecond)
	if tr.Status("a") != Probation {
		t.Fatal("streak must restart after a failure")
	}
	tr.OnSuccess("a", 50*time.Millisecond)
	if tr.Status("a") != Healthy {
		t.Fatalf("status = %v, want healthy after 3 straight successes", tr.Status("a"))
	}
}

func TestTracker_NotFoundIsBenign(t *testing.T) {
	clk := &clock{t: time.Unix(10_000, 0)}
	tr := newTestTracker(clk)

	tr.OnFailure("a", classify.KindNetwork, "connection reset")
	tr.OnFailure("a", classify.KindNetwork, "connection reset")
	tr.OnFailure("a", classify.KindNotFound, "404")

	rec := tr.Get("a")
	rec.mu.Lock()
	cf := rec.ConsecutiveFailures
	rec.mu.Unlock()
	if cf != 1 {
		t.Fatalf("consecutiveFailures = %d, want 1 after benign decrement", cf)
	}
	if tr.Status("a") != Healthy {
		t.Fatalf("status = %v, want healthy", tr.Status("a"))
	}
}

func TestTracker_AuthStormDisables(t *testing.T) {
	clk := &clock{t: time.Unix(10_000, 0)}
	tr := newTestTracker(clk)

	var keep bool
	for i := 0; i < authDisableCount24h; i++ {
		keep = tr.OnFailure("a", classify.KindAuth, "bad credentials")
		clk.advance(time.Minute)
	}
	if keep {
		t.Fatal("50th auth error in 24h must retire the account")
	}
	if tr.Status("a") != Disabled {
		t.Fatalf("status = %v, want disabled", tr.Status("a"))
	}
	if tr.Selectable("a") {
		t.Fatal("disabled account must never be selectable")
	}
}

func TestTracker_SuccessRate(t *testing.T) {
	clk := &clock{t: time.Unix(10_000, 0)}
	tr := newTestTracker(clk)

	if got := tr.SuccessRate("a"); got != 1 {
		t.Fatalf("untouched account rate = %v, want 1", got)
	}

	for i := 0; i < 8; i++ {
		tr.OnSuccess("a", 10*time.Millisecond)
	}
	tr.OnFailure("a", classify.KindNetwork, "reset")
	tr.OnFailure("a", classify.KindNetwork, "reset")

	// 10 requests, 2 recent errors.
	if got := tr.SuccessRate("a"); got != 0.8 {
		t.Fatalf("rate = %v, want 0.8", got)
	}
}

func TestTracker_SweepResetsIdleErrorCounters(t *testing.T) {
	clk := &clock{t: time.Unix(10_000, 0)}
	tr := newTestTracker(clk)

	tr.OnFailure("a", classify.KindNetwork, "reset")
	if len(tr.ErrorHistory("a")) != 1 {
		t.Fatal("expected one error event")
	}

	clk.advance(16 * time.Minute)
	tr.Sweep()
	if len(tr.ErrorHistory("a")) != 0 {
		t.Fatal("idle error history must be reset by the sweep")
	}
}

func TestTracker_SweepReactivationCandidates(t *testing.T) {
	clk := &clock{t: time.Unix(10_000, 0)}
	tr := newTestTracker(clk)

	tr.OnSuccess("idle", 10*time.Millisecond)
	tr.OnSuccess("busy", 10*time.Millisecond)
	tr.OnFailure("dead", classify.KindAccountLocked, "locked")

	clk.advance(3 * time.Minute)
	tr.OnSuccess("busy", 10*time.Millisecond)

	got := tr.Sweep()
	want := map[string]bool{"idle": true}
	if len(got) != 1 || !want[got[0]] {
		t.Fatalf("reactivation candidates = %v, want [idle]", got)
	}
}

func TestTracker_ErrorHistoryBounded(t *testing.T) {
	clk := &clock{t: time.Unix(10_000, 0)}
	tr := newTestTracker(clk)

	for i := 0; i < 40; i++ {
		tr.OnFailure("a", classify.KindUnknown, fmt.Sprintf("boom %d", i))
	}
	hist := tr.ErrorHistory("a")
	if len(hist) != 25 {
		t.Fatalf("history len = %d, want 25", len(hist))
	}
	if hist[len(hist)-1].Message != "boom 39" {
		t.Fatalf("ring must keep the newest entries, got %q", hist[len(hist)-1].Message)
	}
}

func TestTracker_StatusCounts(t *testing.T) {
	clk := &clock{t: time.Unix(10_000, 0)}
	tr := newTestTracker(clk)

	tr.OnSuccess("a", time.Millisecond)
	tr.OnFailure("b", classify.KindAccountLocked, "locked")
	tr.OnFailure("c", classify.KindRateLimit, "429")

	counts := tr.StatusCounts()
	if counts[Healthy] != 1 || counts[Locked] != 1 || counts[Cooldown] != 1 {
		t.Fatalf("counts = %v", counts)
	}
}
