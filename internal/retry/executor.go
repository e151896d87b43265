package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cockroachdb/errors"

	"cluster-chaos/internal/logging"
)

// DefaultBackoff is the fixed pause between attempts
const DefaultBackoff = 5 * time.Second

// ErrBudgetExhausted marks the last underlying error when a call was still
// retryable at the moment its overall timeout ran out.
var ErrBudgetExhausted = errors.New("retry budget exhausted")

// Observer is told about every attempt. Metrics hook in here.
type Observer interface {
	ObserveAttempt(operation string, outcome Outcome)
}

// Executor runs cluster calls under a Policy
type Executor struct {
	backoff  time.Duration
	logger   *logging.Logger
	observer Observer
}

type ExecutorOption func(*Executor)

func WithBackoff(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.backoff = d }
}

func WithLogger(l *logging.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

func WithObserver(o Observer) ExecutorOption {
	return func(e *Executor) { e.observer = o }
}

func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{backoff: DefaultBackoff}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.NewNopLogger()
	}
	return e
}

func (e *Executor) Backoff() time.Duration { return e.backoff }

// Do is Execute for calls without a result
func (e *Executor) Do(ctx context.Context, operation string, policy *Policy, timeout time.Duration, fn func(context.Context) error) error {
	_, err := Execute(ctx, e, operation, policy, timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Execute calls fn until it succeeds, fails with an error the policy does
// not retry, or timeout elapses. A RetrySuccess classification returns the
// zero T and a nil error. When the timeout runs out on a retryable error the
// last error is returned marked with ErrBudgetExhausted. ctx is checked
// before every attempt. A timeout <= 0 leaves only ctx as the bound.
func Execute[T any](ctx context.Context, e *Executor, operation string, policy *Policy, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if policy == nil {
		policy = Default
	}

	var (
		zero        T
		attempt     int
		lastErr     error
		lastOutcome Outcome
		canceled    bool
	)

	op := func() (T, error) {
		if err := ctx.Err(); err != nil {
			canceled = true
			return zero, backoff.Permanent(err)
		}
		attempt++

		res, err := fn(ctx)
		if err == nil {
			e.observe(operation, Succeeded)
			return res, nil
		}

		outcome := policy.Classify(err)
		lastOutcome = outcome
		e.observe(operation, outcome)
		e.logger.RetryAttempt(ctx, operation, attempt, outcome.String(), err)

		switch outcome {
		case Retryable:
			lastErr = err
			return zero, err
		case RetrySuccess:
			return zero, nil
		default:
			return zero, backoff.Permanent(err)
		}
	}

	res, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(e.backoff)),
		backoff.WithMaxElapsedTime(timeout),
	)
	if err == nil {
		return res, nil
	}

	if !canceled && lastOutcome != Retryable {
		return zero, err
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return zero, errors.Wrapf(ctx.Err(), "%s canceled after %d attempts", operation, attempt)
	}
	if lastErr != nil {
		return zero, errors.Mark(lastErr, ErrBudgetExhausted)
	}
	return zero, errors.Mark(errors.Wrapf(err, "%s", operation), ErrBudgetExhausted)
}

func (e *Executor) observe(operation string, outcome Outcome) {
	if e.observer != nil {
		e.observer.ObserveAttempt(operation, outcome)
	}
}
