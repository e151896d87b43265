package chaos

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cluster-chaos/internal/lock"
)

type recorded struct {
	kind, outcome string
}

type fakeRecorder struct {
	mu   sync.Mutex
	runs []recorded
}

func (f *fakeRecorder) ActionFinished(kind, outcome string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, recorded{kind, outcome})
}

func (f *fakeRecorder) all() []recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recorded(nil), f.runs...)
}

type unknownAction struct{ Timeouts }

func (unknownAction) Kind() Kind { return "Teleport" }

func TestExecutorUnknownAction(t *testing.T) {
	x := newTestExecutor(demo(t))

	_, err := x.Start(context.Background(), unknownAction{})
	assert.True(t, errors.Is(err, ErrUnknownAction))

	_, err = x.Start(context.Background(), nil)
	assert.True(t, errors.Is(err, ErrInvalidParameters))
	assert.Empty(t, x.Runs())
}

func TestDefaultRegistryCoversEveryKind(t *testing.T) {
	kinds := DefaultRegistry().Kinds()
	assert.Len(t, kinds, len(factories))
	for _, k := range kinds {
		_, ok := factories[k]
		assert.True(t, ok, "no parameter factory for %s", k)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	register(r, KindStopNode, stopNode)
	assert.Panics(t, func() { register(r, KindStopNode, stopNode) })
}

func TestRunSucceeds(t *testing.T) {
	rec := &fakeRecorder{}
	x := newTestExecutor(demo(t), WithRecorder(rec))

	run, err := x.Start(context.Background(), &RestartNode{NodeTarget: NodeTarget{NodeName: "node-3"}})
	require.NoError(t, err)
	require.NotEmpty(t, run.ID)

	res, err := run.Wait(context.Background())
	require.NoError(t, err)
	assert.IsType(t, NodeResult{}, res)
	assert.Equal(t, StateSucceeded, run.State())

	got, ok := x.Get(run.ID)
	require.True(t, ok)
	assert.Same(t, run, got)

	status := run.Status()
	assert.Equal(t, KindRestartNode, status.Kind)
	require.NotNil(t, status.FinishedAt)
	assert.Empty(t, status.Error)

	assert.Equal(t, []recorded{{"RestartNode", "succeeded"}}, rec.all())
}

func TestRunFails(t *testing.T) {
	rec := &fakeRecorder{}
	x := newTestExecutor(demo(t), WithRecorder(rec))

	run, err := x.Start(context.Background(), &StartNode{NodeName: "node-0"})
	require.NoError(t, err)
	<-run.Done()

	// node-0 is up already, so the start is a no-op that verifies
	assert.Equal(t, StateSucceeded, run.State())

	run, err = x.Start(context.Background(), &StartNode{NodeName: "ghost"})
	require.NoError(t, err)
	_, err = run.Wait(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, run.State())
	assert.NotEmpty(t, run.Status().Error)
	assert.Nil(t, run.Status().Result)

	assert.Equal(t, recorded{"StartNode", "failed"}, rec.all()[1])
}

func TestRunCancelRemovesRules(t *testing.T) {
	backend := demo(t)
	pid := partitionOf(t, backend, demoStore)
	x := newTestExecutor(backend)

	run, err := x.Start(context.Background(), &InduceQuorumLoss{
		Partition:          PartitionSelector{PartitionID: pid},
		QuorumLossDuration: time.Minute,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return backend.RuleCount() == 3 }, 2*time.Second, 5*time.Millisecond)
	run.Cancel()

	_, err = run.Wait(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, StateCancelled, run.State())
	assert.Equal(t, 0, backend.RuleCount())
}

func TestStartOutlivesCallerContext(t *testing.T) {
	x := newTestExecutor(demo(t))
	ctx, cancel := context.WithCancel(context.Background())

	run, err := x.Start(ctx, &RestartNode{NodeTarget: NodeTarget{NodeName: "node-1"}})
	require.NoError(t, err)
	cancel()

	_, err = run.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, run.State())
}

func TestRunHonoursCallerCancellation(t *testing.T) {
	backend := demo(t)
	pid := partitionOf(t, backend, demoStore)
	x := newTestExecutor(backend)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for backend.RuleCount() < 3 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	_, err := x.Run(ctx, &InduceQuorumLoss{
		Partition:          PartitionSelector{PartitionID: pid},
		QuorumLossDuration: time.Minute,
	})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, backend.RuleCount())
}

func TestConcurrentActionsOnOnePartition(t *testing.T) {
	backend := demo(t)
	pid := partitionOf(t, backend, demoStore)
	x := newTestExecutor(backend, WithLocker(lock.NewLocalLocker()))

	run, err := x.Start(context.Background(), &InduceQuorumLoss{
		Partition:          PartitionSelector{PartitionID: pid},
		QuorumLossDuration: time.Minute,
	})
	require.NoError(t, err)
	defer run.Cancel()
	require.Eventually(t, func() bool { return backend.RuleCount() == 3 }, 2*time.Second, 5*time.Millisecond)

	_, err = x.Run(context.Background(), &RestartPartition{Partition: PartitionSelector{PartitionID: pid}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrActionInProgress))
	assert.Equal(t, 3, backend.Calls("RestartReplica"))
}

func TestRunFinishIsWriteOnce(t *testing.T) {
	run := newRun("r1", &StopNode{}, func() {})

	assert.True(t, run.finish(NodeResult{NodeName: "a"}, nil, false))
	assert.False(t, run.finish(nil, errors.New("late"), false))

	res, err := run.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, NodeResult{NodeName: "a"}, res)
	assert.Equal(t, StateSucceeded, run.State())
}

func TestWaitEndsWithContext(t *testing.T) {
	run := newRun("r2", &StopNode{}, func() {})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := run.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateRunning, run.State())
}

func TestRunsNewestFirst(t *testing.T) {
	x := newTestExecutor(demo(t))
	ctx := context.Background()

	first, err := x.Start(ctx, &StopNode{NodeTarget: NodeTarget{NodeName: "node-4"}, Completion: DoNotVerify})
	require.NoError(t, err)
	<-first.Done()
	time.Sleep(time.Millisecond)
	second, err := x.Start(ctx, &StartNode{NodeName: "node-4", Completion: DoNotVerify})
	require.NoError(t, err)
	<-second.Done()

	runs := x.Runs()
	require.Len(t, runs, 2)
	assert.Equal(t, second.ID, runs[0].ID)
	assert.Equal(t, first.ID, runs[1].ID)
}

func TestTimingFromConfigDefaults(t *testing.T) {
	timing := DefaultTiming()
	assert.Equal(t, 30*time.Second, timing.RequestTimeout)
	assert.Equal(t, 10*time.Minute, timing.ActionTimeout)
	assert.Equal(t, 30, timing.DataLossPollAttempts)
	assert.Zero(t, timing.DataLossMaxAttempts)
}

func TestExecutorDropsOldestFinishedRuns(t *testing.T) {
	x := newTestExecutor(demo(t), WithRetention(2))

	var ids []string
	for i := 0; i < 3; i++ {
		run, err := x.Start(context.Background(), &RestartNode{NodeTarget: NodeTarget{NodeName: "node-3"}})
		require.NoError(t, err)
		_, err = run.Wait(context.Background())
		require.NoError(t, err)
		ids = append(ids, run.ID)
	}

	require.Eventually(t, func() bool { return len(x.Runs()) == 2 }, time.Second, time.Millisecond)
	_, ok := x.Get(ids[0])
	assert.False(t, ok)
	for _, id := range ids[1:] {
		_, ok := x.Get(id)
		assert.True(t, ok, id)
	}
}

func TestExecutorForget(t *testing.T) {
	x := newTestExecutor(demo(t))

	run, err := x.Start(context.Background(), &RestartNode{NodeTarget: NodeTarget{NodeName: "node-3"}})
	require.NoError(t, err)
	_, err = run.Wait(context.Background())
	require.NoError(t, err)

	assert.True(t, x.Forget(run.ID))
	_, ok := x.Get(run.ID)
	assert.False(t, ok)
	assert.False(t, x.Forget(run.ID))
	assert.False(t, x.Forget("unknown"))
}
