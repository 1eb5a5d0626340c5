package dispatch

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roostd/roost/internal/classify"
	"github.com/roostd/roost/internal/driver"
	"github.com/roostd/roost/internal/model"
)

// ExecuteBatch runs a group of operations. Small batches fan out as
// independent Execute calls; larger ones reserve a single account, log in
// once, and run the closures in chunks on that session. The result slice
// holds nil for every failed slot.
func (d *Dispatcher) ExecuteBatch(ctx context.Context, ops []Op) []any {
	results := make([]any, len(ops))
	if len(ops) == 0 {
		return results
	}

	if len(ops) <= smallBatchMax {
		var wg sync.WaitGroup
		for i := range ops {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				payload, err := d.Execute(ctx, ops[i])
				if err != nil {
					log.Printf("[dispatch] batch slot %d (%s): %v", i, ops[i].Name, err)
					return
				}
				results[i] = payload
			}(i)
		}
		wg.Wait()
		return results
	}

	if !d.brk.Allow() {
		return results
	}
	succeeded := d.executeBatchSingleAccount(ctx, ops, results)
	d.brk.Record(succeeded >= (len(ops)+1)/2)
	return results
}

// executeBatchSingleAccount amortizes one login across the whole batch and
// returns how many slots succeeded.
func (d *Dispatcher) executeBatchSingleAccount(ctx context.Context, ops []Op, results []any) int {
	if err := d.gate.Acquire(ctx); err != nil {
		log.Printf("[dispatch] batch gate: %v", err)
		return 0
	}
	defer d.gate.Release()

	dispatchID := uuid.NewString()
	skip := make(map[string]bool)

	// Reserve one account that survives login.
	for attempt := 0; attempt < d.maxAttempts; attempt++ {
		acct, ok, wait := d.selectAccount(skip)
		if !ok {
			if wait > 0 {
				if err := driver.SleepCtx(ctx, wait); err != nil {
					return 0
				}
				continue
			}
			return 0
		}

		proxy := d.pool.Assign(acct.Username)
		sess, err := d.sessions.Session(&acct, proxy)
		if err != nil {
			skip[acct.Username] = true
			continue
		}
		if err := d.sessions.EnsureLogin(ctx, sess, &acct); err != nil {
			if !errors.Is(err, driver.ErrAccountLocked) {
				d.applyFailure(acct.Username, classify.Error(err), err.Error())
			}
			skip[acct.Username] = true
			continue
		}

		return d.runBatchChunks(ctx, dispatchID, ops, results, sess, &acct, proxy)
	}
	return 0
}

// runBatchChunks executes the closures in chunks on one session. Health
// updates are serialized per account by the tracker's record lock.
func (d *Dispatcher) runBatchChunks(ctx context.Context, dispatchID string, ops []Op, results []any, sess *driver.Session, acct *model.Account, proxy *model.Proxy) int {
	succeeded := 0
	var mu sync.Mutex

	for start := 0; start < len(ops); start += batchChunkSize {
		end := start + batchChunkSize
		if end > len(ops) {
			end = len(ops)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()

				if err := d.pace(ctx); err != nil {
					return
				}
				if err := d.reserveProxy(ctx, proxy); err != nil {
					return
				}

				begin := time.Now()
				payload, err := d.invoke(ctx, ops[i], sess, acct.Username)
				elapsed := time.Since(begin)

				if err != nil {
					kind := classify.Error(err)
					d.applyFailure(acct.Username, kind, err.Error())
					d.emitAttempt(dispatchID, ops[i].Name, acct.Username, proxy, i+1, elapsed, false, kind, err.Error())
					if kind == classify.KindAuth {
						sess.Invalidate()
					}
					return
				}
				if isEmptyPayload(payload) {
					d.tracker.OnFailure(acct.Username, classify.KindUnknown, "empty response from "+ops[i].Name)
					d.emitAttempt(dispatchID, ops[i].Name, acct.Username, proxy, i+1, elapsed, false, classify.KindUnknown, "empty response")
					return
				}

				d.tracker.OnSuccess(acct.Username, elapsed)
				d.emitAttempt(dispatchID, ops[i].Name, acct.Username, proxy, i+1, elapsed, true, 0, "")
				mu.Lock()
				results[i] = payload
				succeeded++
				mu.Unlock()
			}(i)
		}
		wg.Wait()
	}
	return succeeded
}
