package chaos

import (
	"context"
	"sync"
	"time"
)

// State is the lifecycle state of a run
type State string

const (
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Run is one execution of an action. Its result is published exactly once
// when the handler returns; a result is only present on success.
type Run struct {
	ID        string
	Kind      Kind
	Action    Action
	StartedAt time.Time

	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}

	mu         sync.Mutex
	state      State
	finishedAt time.Time
	result     interface{}
	err        error
}

func newRun(id string, action Action, cancel context.CancelFunc) *Run {
	return &Run{
		ID:        id,
		Kind:      action.Kind(),
		Action:    action,
		StartedAt: time.Now().UTC(),
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     StateRunning,
	}
}

// finish publishes the outcome. Only the first call has any effect.
func (r *Run) finish(result interface{}, err error, cancelled bool) bool {
	published := false
	r.once.Do(func() {
		r.mu.Lock()
		r.finishedAt = time.Now().UTC()
		switch {
		case err == nil:
			r.state = StateSucceeded
			r.result = result
		case cancelled:
			r.state = StateCancelled
			r.err = err
		default:
			r.state = StateFailed
			r.err = err
		}
		r.mu.Unlock()
		close(r.done)
		published = true
	})
	return published
}

// Done is closed once the run has finished
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run finishes or ctx ends. Ending ctx does not
// cancel the run.
func (r *Run) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-r.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result, r.err
}

// Cancel asks the run to stop. Fault rules it installed are still removed.
func (r *Run) Cancel() {
	r.cancel()
}

func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// RunStatus is a point-in-time view of a run
type RunStatus struct {
	ID         string      `json:"id"`
	Kind       Kind        `json:"kind"`
	State      State       `json:"state"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	Action     Action      `json:"action"`
	Result     interface{} `json:"result,omitempty"`
	Error      string      `json:"error,omitempty"`
}

func (r *Run) Status() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := RunStatus{
		ID:        r.ID,
		Kind:      r.Kind,
		State:     r.state,
		StartedAt: r.StartedAt,
		Action:    r.Action,
		Result:    r.result,
	}
	if !r.finishedAt.IsZero() {
		t := r.finishedAt
		s.FinishedAt = &t
	}
	if r.err != nil {
		s.Error = r.err.Error()
	}
	return s
}
