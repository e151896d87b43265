package chaos

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"cluster-chaos/internal/retry"
)

// check reports whether a postcondition holds and, either way, what was
// observed.
type check func(ctx context.Context) (done bool, observed string, err error)

// waitFor polls fn every interval until it holds or the action deadline
// passes. ok is false on timeout; err is only set for failures that are
// not the deadline itself.
func (inv *Invocation) waitFor(ctx context.Context, interval time.Duration, fn check) (observed string, ok bool, err error) {
	for polls := 1; ; polls++ {
		done, seen, err := fn(ctx)
		if err != nil {
			if inv.deadlineHit(ctx, err) {
				return observed, false, nil
			}
			return observed, false, err
		}
		observed = seen
		if done {
			inv.Logger.DebugContext(ctx, "Postcondition observed", "polls", polls, "state", seen)
			return observed, true, nil
		}
		if inv.Budget.Expired() {
			return observed, false, nil
		}

		if err := inv.sleep(ctx, interval); err != nil {
			if inv.deadlineHit(ctx, err) {
				return observed, false, nil
			}
			return observed, false, err
		}
	}
}

// deadlineHit tells the action deadline apart from cancellation and real
// failures.
func (inv *Invocation) deadlineHit(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.Canceled) {
		return false
	}
	return inv.Budget.Expired() ||
		errors.Is(err, retry.ErrBudgetExhausted) ||
		errors.Is(err, context.DeadlineExceeded)
}

// verify runs waitFor with the executor's poll interval and turns a timeout
// into PostconditionTimeout.
func (inv *Invocation) verify(ctx context.Context, what string, target *ActionError, fn check) error {
	ctx, span := inv.tracer.StartStep(ctx, "verify")
	defer span.End()

	observed, ok, err := inv.waitFor(ctx, inv.timing.PollInterval, fn)
	if err != nil {
		return err
	}
	if !ok {
		e := *target
		e.Code = CodePostconditionTimeout
		e.Message = what + " not observed before the deadline"
		if observed != "" {
			e.Message += "; last seen " + observed
		}
		return &e
	}
	return nil
}
