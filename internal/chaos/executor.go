package chaos

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"cluster-chaos/internal/cluster"
	"cluster-chaos/internal/config"
	"cluster-chaos/internal/faults"
	"cluster-chaos/internal/lock"
	"cluster-chaos/internal/logging"
	"cluster-chaos/internal/retry"
	"cluster-chaos/internal/stability"
	"cluster-chaos/internal/tracing"
)

// Timing holds the defaults and pacing the handlers use
type Timing struct {
	RequestTimeout time.Duration
	ActionTimeout  time.Duration
	// PollInterval spaces postcondition polls
	PollInterval time.Duration
	// RulePropagation is how long a fault rule needs to take effect
	RulePropagation time.Duration

	DataLossPollAttempts int
	DataLossPollInterval time.Duration
	// DataLossMaxAttempts caps block-and-remove rounds; 0 leaves only the
	// action deadline.
	DataLossMaxAttempts int

	LockTTL time.Duration
}

func DefaultTiming() Timing {
	return TimingFromConfig(config.DefaultConfig())
}

func TimingFromConfig(cfg *config.Config) Timing {
	return Timing{
		RequestTimeout:       cfg.Timeouts.Request,
		ActionTimeout:        cfg.Timeouts.Action,
		PollInterval:         cfg.Timeouts.PollInterval,
		RulePropagation:      cfg.Timeouts.RulePropagation,
		DataLossPollAttempts: cfg.DataLoss.PollAttempts,
		DataLossPollInterval: cfg.DataLoss.PollInterval,
		DataLossMaxAttempts:  cfg.DataLoss.MaxAttempts,
		LockTTL:              cfg.Lock.TTL,
	}
}

// DefaultRetention is how many finished runs an executor keeps in memory
const DefaultRetention = 100

// Recorder is told about every finished run
type Recorder interface {
	ActionFinished(kind, outcome string, d time.Duration)
}

// Executor binds actions to handlers and runs them
type Executor struct {
	client    cluster.Client
	registry  *Registry
	retry     *retry.Executor
	faults    *faults.Controller
	validator *stability.Validator
	resolver  TargetResolver
	locker    lock.Locker
	logger    *logging.Logger
	tracer    *tracing.Service
	recorder  Recorder
	random    Random
	timing    Timing

	mu       sync.Mutex
	runs     map[string]*Run
	finished []string
	retain   int
}

type Option func(*Executor)

func WithRegistry(r *Registry) Option { return func(x *Executor) { x.registry = r } }
func WithRetry(r *retry.Executor) Option { return func(x *Executor) { x.retry = r } }
func WithFaults(c *faults.Controller) Option { return func(x *Executor) { x.faults = c } }
func WithValidator(v *stability.Validator) Option { return func(x *Executor) { x.validator = v } }
func WithResolver(r TargetResolver) Option { return func(x *Executor) { x.resolver = r } }
func WithLocker(l lock.Locker) Option { return func(x *Executor) { x.locker = l } }
func WithLogger(l *logging.Logger) Option { return func(x *Executor) { x.logger = l } }
func WithTracer(t *tracing.Service) Option { return func(x *Executor) { x.tracer = t } }
func WithRecorder(r Recorder) Option { return func(x *Executor) { x.recorder = r } }
func WithTiming(t Timing) Option { return func(x *Executor) { x.timing = t } }

// WithRetention bounds how many finished runs Get and Runs still return.
// Older finished runs are dropped first; running ones are always kept.
func WithRetention(n int) Option { return func(x *Executor) { x.retain = n } }

// WithRandom fixes the random source used to pick targets
func WithRandom(r Random) Option { return func(x *Executor) { x.random = r } }

// NewExecutor wires an executor around client. Collaborators not passed as
// options are built from the client with default settings.
func NewExecutor(client cluster.Client, opts ...Option) *Executor {
	x := &Executor{
		client: client,
		timing: DefaultTiming(),
		runs:   make(map[string]*Run),
		retain: DefaultRetention,
	}
	for _, opt := range opts {
		opt(x)
	}

	if x.logger == nil {
		x.logger = logging.NewNopLogger()
	}
	if x.registry == nil {
		x.registry = DefaultRegistry()
	}
	if x.retry == nil {
		x.retry = retry.NewExecutor(retry.WithLogger(x.logger))
	}
	if x.faults == nil {
		x.faults = faults.NewController(client, x.retry,
			faults.WithLogger(x.logger),
			faults.WithRequestTimeout(x.timing.RequestTimeout),
		)
	}
	if x.validator == nil {
		x.validator = stability.NewValidator(client, x.retry,
			stability.WithLogger(x.logger),
			stability.WithPollInterval(x.timing.PollInterval),
			stability.WithRequestTimeout(x.timing.RequestTimeout),
		)
	}
	if x.random == nil {
		x.random = NewRandom(time.Now().UnixNano())
	}
	if x.resolver == nil {
		x.resolver = NewResolver(client, x.retry)
	}
	if x.locker == nil {
		x.locker = lock.NewLocalLocker()
	}
	if x.tracer == nil {
		x.tracer, _ = tracing.NewService(config.TracingConfig{})
	}
	x.logger = x.logger.WithComponent("chaos")
	return x
}

// Kinds lists the actions this executor can run
func (x *Executor) Kinds() []Kind { return x.registry.Kinds() }

// Start launches action in the background. The run outlives ctx's
// cancellation but keeps its values; use Run.Cancel to stop it.
func (x *Executor) Start(ctx context.Context, action Action) (*Run, error) {
	return x.start(context.WithoutCancel(ctx), action)
}

// Run executes action and waits for it. Canceling ctx cancels the action.
func (x *Executor) Run(ctx context.Context, action Action) (interface{}, error) {
	run, err := x.start(ctx, action)
	if err != nil {
		return nil, err
	}
	<-run.Done()
	return run.Wait(context.Background())
}

// RunAs is Run with the result converted to the handler's result type
func RunAs[R any](ctx context.Context, x *Executor, action Action) (R, error) {
	var zero R
	res, err := x.Run(ctx, action)
	if err != nil {
		return zero, err
	}
	r, ok := res.(R)
	if !ok {
		return zero, errors.AssertionFailedf("%s returned %T", action.Kind(), res)
	}
	return r, nil
}

// Get returns a run started by this executor, unless it finished and was
// since dropped.
func (x *Executor) Get(id string) (*Run, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	r, ok := x.runs[id]
	return r, ok
}

// Forget drops a finished run, for callers that keep runs elsewhere. It
// reports false for unknown or still running runs.
func (x *Executor) Forget(id string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	r, ok := x.runs[id]
	if !ok {
		return false
	}
	select {
	case <-r.Done():
	default:
		return false
	}
	delete(x.runs, id)
	for i, fid := range x.finished {
		if fid == id {
			x.finished = append(x.finished[:i], x.finished[i+1:]...)
			break
		}
	}
	return true
}

// retire queues a finished run and drops the oldest beyond retention
func (x *Executor) retire(id string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.runs[id]; !ok {
		return
	}
	x.finished = append(x.finished, id)
	for len(x.finished) > 0 && len(x.finished) > x.retain {
		delete(x.runs, x.finished[0])
		x.finished = x.finished[1:]
	}
}

// Runs lists every retained run, newest first
func (x *Executor) Runs() []*Run {
	x.mu.Lock()
	runs := make([]*Run, 0, len(x.runs))
	for _, r := range x.runs {
		runs = append(runs, r)
	}
	x.mu.Unlock()

	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	return runs
}

func (x *Executor) limits(action Action) Timeouts {
	t := action.Limits()
	if t.RequestTimeout <= 0 {
		t.RequestTimeout = x.timing.RequestTimeout
	}
	if t.ActionTimeout <= 0 {
		t.ActionTimeout = x.timing.ActionTimeout
	}
	return t
}

func (x *Executor) start(parent context.Context, action Action) (*Run, error) {
	if action == nil {
		return nil, invalidParameters("no action")
	}
	handler, ok := x.registry.Lookup(action.Kind())
	if !ok {
		return nil, &ActionError{Code: CodeUnknownAction, Message: string(action.Kind())}
	}

	limits := x.limits(action)
	id := uuid.NewString()
	ctx := logging.WithAction(parent, id, string(action.Kind()))
	ctx, cancel := context.WithCancel(ctx)

	run := newRun(id, action, cancel)
	x.mu.Lock()
	x.runs[id] = run
	x.mu.Unlock()

	go x.execute(ctx, cancel, run, handler, limits)
	return run, nil
}

func (x *Executor) execute(ctx context.Context, cancel context.CancelFunc, run *Run, handler Handler, limits Timeouts) {
	defer cancel()

	budget := retry.NewBudget(limits.ActionTimeout)
	ctx, stop := budget.Context(ctx)
	defer stop()

	ctx, span := x.tracer.StartAction(ctx, string(run.Kind), run.ID)
	logger := x.logger.WithContext(ctx)
	logger.InfoContext(ctx, "Action started", "timeout", limits.ActionTimeout)

	inv := &Invocation{
		Executor: x,
		Budget:   budget,
		Request:  limits.RequestTimeout,
		Logger:   logger,
	}

	var (
		result interface{}
		err    error
	)
	func() {
		defer func() {
			if p := recover(); p != nil {
				err = errors.AssertionFailedf("%s handler panicked: %v", run.Kind, p)
			}
		}()
		result, err = handler.Handle(ctx, inv, run.Action)
	}()

	cancelled := err != nil && errors.Is(ctx.Err(), context.Canceled)
	if err != nil && !cancelled && budget.Expired() && !errors.Is(err, retry.ErrBudgetExhausted) {
		err = errors.Mark(err, retry.ErrBudgetExhausted)
	}
	state := StateSucceeded
	switch {
	case cancelled:
		state = StateCancelled
	case err != nil:
		state = StateFailed
	}

	// observers hear about the run before waiters are released
	tracing.End(span, err)
	logger.ActionFinished(ctx, string(run.Kind), budget.Elapsed(), err)
	if x.recorder != nil {
		x.recorder.ActionFinished(string(run.Kind), string(state), budget.Elapsed())
	}
	run.finish(result, err, cancelled)
	x.retire(run.ID)
}

// Invocation is what a handler gets besides its action: the executor's
// collaborators, the action's deadline and a logger tagged with the run.
type Invocation struct {
	*Executor
	Budget  *retry.Budget
	Request time.Duration
	Logger  *logging.Logger
}

// Sub runs another action inline under this invocation's deadline
func (inv *Invocation) Sub(ctx context.Context, action Action) (interface{}, error) {
	handler, ok := inv.registry.Lookup(action.Kind())
	if !ok {
		return nil, &ActionError{Code: CodeUnknownAction, Message: string(action.Kind())}
	}
	ctx, span := inv.tracer.StartStep(ctx, "sub."+string(action.Kind()))
	res, err := handler.Handle(ctx, inv, action)
	tracing.End(span, err)
	return res, err
}

// call issues one cluster call under policy, bounded by the action deadline
func (inv *Invocation) call(ctx context.Context, operation string, policy *retry.Policy, fn func(ctx context.Context, timeout time.Duration) error) error {
	return inv.retry.Do(ctx, operation, policy, inv.Budget.Remaining(), func(ctx context.Context) error {
		return fn(ctx, inv.Request)
	})
}

// query is call for operations with a result
func query[T any](ctx context.Context, inv *Invocation, operation string, fn func(ctx context.Context, timeout time.Duration) (T, error)) (T, error) {
	return retry.Execute(ctx, inv.retry, operation, retry.Default, inv.Budget.Remaining(), func(ctx context.Context) (T, error) {
		return fn(ctx, inv.Request)
	})
}

// step wraps fn in a tracing span
func (inv *Invocation) step(ctx context.Context, name string, fn func(context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, span := inv.tracer.StartStep(ctx, name, attrs...)
	err := fn(ctx)
	tracing.End(span, err)
	return err
}

// lockPartition holds the partition for the rest of the action
func (inv *Invocation) lockPartition(ctx context.Context, p SelectedPartition) (lock.Unlock, error) {
	ttl := inv.Budget.Remaining() + time.Minute
	if ttl < inv.timing.LockTTL {
		ttl = inv.timing.LockTTL
	}
	unlock, err := inv.locker.TryLock(ctx, lock.PartitionKey(p.PartitionID), ttl)
	if errors.Is(err, lock.ErrLocked) {
		return nil, newActionError(CodeActionInProgress, p, "another action holds the partition")
	}
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			inv.Logger.WithError(err).WarnContext(ctx, "Failed to release partition lock", "partition_id", p.PartitionID)
		}
		return nil
	}, nil
}

// sleep waits d, cut short by the deadline
func (inv *Invocation) sleep(ctx context.Context, d time.Duration) error {
	_, err := inv.Budget.Sleep(ctx, d)
	return err
}

// release ends a fault scope. Cleanup failures are logged, never returned.
func (inv *Invocation) release(ctx context.Context, scope *faults.Scope) {
	if err := scope.ReleaseAll(ctx); err != nil {
		inv.Logger.WithError(err).WarnContext(ctx, "Fault rules left installed", "count", scope.Len())
	}
}

// Random is the source of target choices
type Random interface {
	Intn(n int) int
}

type lockedRandom struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRandom returns a Random safe for concurrent use
func NewRandom(seed int64) Random {
	return &lockedRandom{r: rand.New(rand.NewSource(seed))}
}

func (l *lockedRandom) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Intn(n)
}
