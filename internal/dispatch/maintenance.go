package dispatch

import (
	"context"
	"log"
	"runtime"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/roostd/roost/internal/scanloop"
)

const reactivationLoginTimeout = 50 * time.Second

// Maintenance owns the dispatcher's background loops: the jittered health
// sweep, the periodic stats report, and the global rate adjustment.
type Maintenance struct {
	d    *Dispatcher
	cron *cron.Cron

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewMaintenance builds the maintenance runner for a dispatcher.
func NewMaintenance(d *Dispatcher) *Maintenance {
	return &Maintenance{
		d:      d,
		cron:   cron.New(),
		stopCh: make(chan struct{}),
	}
}

// Start launches the background loops. The health sweep runs on a jittered
// two-minute loop; the stats report and rate adjustment run on fixed cron
// schedules.
func (m *Maintenance) Start() error {
	if _, err := m.cron.AddFunc("@every 5m", m.reportStats); err != nil {
		return err
	}
	if _, err := m.cron.AddFunc("@every 1m", m.adjustRate); err != nil {
		return err
	}
	m.cron.Start()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		scanloop.Run(m.stopCh, scanloop.DefaultMinInterval, scanloop.DefaultJitterRange, m.healthSweep)
	}()
	return nil
}

// Stop cancels the loops and waits for in-flight sweeps to finish.
func (m *Maintenance) Stop() {
	close(m.stopCh)
	ctx := m.cron.Stop()
	<-ctx.Done()
	m.wg.Wait()
}

// healthSweep runs the tracker's maintenance pass and dry-run logins for
// accounts that have been idle long enough to deserve a reactivation probe.
func (m *Maintenance) healthSweep() {
	candidates := m.d.tracker.Sweep()
	for _, username := range candidates {
		select {
		case <-m.stopCh:
			return
		default:
		}
		m.dryRunLogin(username)
	}
}

// dryRunLogin attempts a login for an idle account without dispatching an
// operation, so a rotted session is discovered before real traffic hits it.
func (m *Maintenance) dryRunLogin(username string) {
	acct, ok := m.d.reg.FindByUsername(username)
	if !ok || !acct.Usable || acct.IsLocked {
		return
	}

	proxy := m.d.pool.Assign(acct.Username)
	sess, err := m.d.sessions.Session(&acct, proxy)
	if err != nil {
		log.Printf("[maintenance] reactivation session for %s: %v", username, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), reactivationLoginTimeout)
	defer cancel()
	if err := m.d.sessions.EnsureLogin(ctx, sess, &acct); err != nil {
		log.Printf("[maintenance] reactivation login for %s failed: %v", username, err)
		return
	}
	log.Printf("[maintenance] reactivated %s", username)
}

// adjustRate nudges the global dispatch rate based on the mean success
// rate across active accounts.
func (m *Maintenance) adjustRate() {
	mean, active := m.d.tracker.MeanSuccessRate()
	if active == 0 {
		return
	}
	rate := m.d.GlobalRate()
	switch {
	case mean > 0.9:
		m.d.setGlobalRate(rate * 1.1)
	case mean < 0.7:
		m.d.setGlobalRate(rate * 0.5)
	default:
		return
	}
	log.Printf("[maintenance] mean success %.2f over %d accounts, global rate %.1f -> %.1f req/s",
		mean, active, rate, m.d.GlobalRate())
}

// reportStats logs a periodic snapshot of the orchestrator's state.
func (m *Maintenance) reportStats() {
	counts := m.d.tracker.StatusCounts()
	occupancy := m.d.tracker.WindowOccupancy()
	total := 0
	for _, n := range occupancy {
		total += n
	}

	assignments := m.d.pool.Assignments()
	regions := make(map[string]int)
	if m.d.region != nil {
		for _, p := range m.d.pool.Proxies() {
			if r := m.d.region(p.Host); r != "" {
				regions[r]++
			}
		}
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	log.Printf("[stats] accounts=%v in_flight=%d/%d breaker=%s proxies=%d assigned=%d window_occupancy=%d rate=%.1freq/s heap=%dMB",
		counts, m.d.gate.InFlight(), m.d.gate.Capacity(), m.d.brk.State(),
		m.d.pool.Size(), len(assignments), total, m.d.GlobalRate(), mem.HeapAlloc/(1<<20))
	if len(regions) > 0 {
		log.Printf("[stats] proxy regions: %v", regions)
	}
}
