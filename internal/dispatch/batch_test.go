package dispatch_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/roostd/roost/internal/dispatch"
	"github.com/roostd/roost/internal/driver"
)

func TestExecuteBatch_SmallFansOut(t *testing.T) {
	h := newHarness(t, harnessOpts{accounts: []string{"a", "b", "c"}})

	ops := make([]dispatch.Op, 3)
	for i := range ops {
		i := i
		ops[i] = profileOp(func(context.Context, driver.Client) (any, error) {
			return fmt.Sprintf("slot-%d", i), nil
		})
	}

	results := h.d.ExecuteBatch(context.Background(), ops)
	if len(results) != 3 {
		t.Fatalf("results len = %d", len(results))
	}
	for i, r := range results {
		if r != fmt.Sprintf("slot-%d", i) {
			t.Fatalf("slot %d = %v", i, r)
		}
	}
}

func TestExecuteBatch_LargeSingleAccountSingleLogin(t *testing.T) {
	h := newHarness(t, harnessOpts{accounts: []string{"a", "b"}})
	// Prime the breaker with one failure so the majority-success update
	// is observable as a decrement back to zero.
	h.brk.Record(false)

	var calls atomic.Int32
	ops := make([]dispatch.Op, 7)
	for i := range ops {
		i := i
		ops[i] = profileOp(func(context.Context, driver.Client) (any, error) {
			calls.Add(1)
			if i < 3 {
				return nil, errors.New("something exploded")
			}
			return fmt.Sprintf("slot-%d", i), nil
		})
	}

	results := h.d.ExecuteBatch(context.Background(), ops)

	if calls.Load() != 7 {
		t.Fatalf("calls = %d, want 7", calls.Load())
	}
	if h.fake.SetCookieCalls != 1 {
		t.Fatalf("SetCookieCalls = %d, want a single login for the batch", h.fake.SetCookieCalls)
	}
	for i := 0; i < 3; i++ {
		if results[i] != nil {
			t.Fatalf("failed slot %d = %v, want nil", i, results[i])
		}
	}
	for i := 3; i < 7; i++ {
		if results[i] != fmt.Sprintf("slot-%d", i) {
			t.Fatalf("slot %d = %v", i, results[i])
		}
	}

	// 4 of 7 succeeded: majority, so the breaker saw one success.
	if got := h.brk.FailureCount(); got != 0 {
		t.Fatalf("breaker failure count = %d, want 0 after majority success", got)
	}
}

func TestExecuteBatch_LargeMinoritySuccessFailsBreaker(t *testing.T) {
	h := newHarness(t, harnessOpts{accounts: []string{"a"}})

	ops := make([]dispatch.Op, 6)
	for i := range ops {
		i := i
		ops[i] = profileOp(func(context.Context, driver.Client) (any, error) {
			if i < 4 {
				return nil, errors.New("something exploded")
			}
			return "x", nil
		})
	}

	h.d.ExecuteBatch(context.Background(), ops)
	// 2 of 6 succeeded: the breaker saw a failure.
	if got := h.brk.FailureCount(); got != 1 {
		t.Fatalf("breaker failure count = %d, want 1 after minority success", got)
	}
}

func TestExecuteBatch_Empty(t *testing.T) {
	h := newHarness(t, harnessOpts{accounts: []string{"a"}})
	if got := h.d.ExecuteBatch(context.Background(), nil); len(got) != 0 {
		t.Fatalf("results = %v", got)
	}
}
