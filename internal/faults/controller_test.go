package faults

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cluster-chaos/internal/cluster"
	"cluster-chaos/internal/cluster/sim"
	"cluster-chaos/internal/retry"
	"cluster-chaos/internal/testutil"
)

type countingObserver struct {
	active int
}

func (o *countingObserver) RuleInstalled() { o.active++ }
func (o *countingObserver) RuleRemoved()   { o.active-- }

func setup(t *testing.T) (*sim.Cluster, *Controller, *Journal, *countingObserver) {
	t.Helper()

	backend := sim.New(sim.WithSeed(5))
	backend.AddNodes("n0", "n1", "n2")

	journal := NewJournal(testutil.TestStorageEngine(t))
	observer := &countingObserver{}
	exec := retry.NewExecutor(retry.WithBackoff(10 * time.Millisecond))
	controller := NewController(backend, exec,
		WithJournal(journal),
		WithObserver(observer),
		WithReleaseTimeout(time.Second),
	)
	return backend, controller, journal, observer
}

func TestInstallJournalsAndRemoveForgets(t *testing.T) {
	backend, controller, journal, observer := setup(t)
	ctx := context.Background()

	rule := BlockReopen("p1")
	require.NoError(t, controller.Install(ctx, "n1", rule, time.Second))
	assert.Equal(t, []cluster.FaultRule{rule}, backend.Rules("n1"))
	assert.Equal(t, 1, observer.active)

	entries, err := journal.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "n1", entries[0].Node)
	assert.Equal(t, rule, entries[0].Rule)

	require.NoError(t, controller.Remove(ctx, "n1", rule.Name, time.Second))
	assert.Equal(t, 0, backend.RuleCount())
	assert.Equal(t, 0, observer.active)

	entries, err = journal.Entries()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRemoveMissingRuleSucceeds(t *testing.T) {
	backend, controller, _, _ := setup(t)

	require.NoError(t, controller.Remove(context.Background(), "n2", "never-installed", time.Second))
	assert.Equal(t, 1, backend.Calls("RemoveFaultRule"))
}

func TestInstallOnUnknownNodeIsFatal(t *testing.T) {
	backend, controller, _, observer := setup(t)

	err := controller.Install(context.Background(), "n9", BlockReopen("p1"), time.Second)
	require.Error(t, err)
	assert.Equal(t, cluster.CodeNodeNotFound, cluster.CodeOf(err))
	assert.Equal(t, 1, backend.Calls("AddFaultRule"))
	assert.Equal(t, 0, observer.active)
}

func TestScopeReleasesEveryRule(t *testing.T) {
	backend, controller, journal, _ := setup(t)
	ctx, cancel := context.WithCancel(context.Background())

	scope := controller.NewScope()
	require.NoError(t, scope.Install(ctx, "n0", BlockReopen("p1"), time.Second))
	require.NoError(t, scope.Install(ctx, "n1", BlockReopen("p1"), time.Second))
	assert.Equal(t, 2, backend.RuleCount())

	// release still runs after the action's context is gone
	cancel()
	require.NoError(t, scope.ReleaseAll(ctx))
	assert.Equal(t, 0, backend.RuleCount())
	assert.Equal(t, 0, scope.Len())

	entries, err := journal.Entries()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestScopeTracksFailedInstall(t *testing.T) {
	backend, controller, _, observer := setup(t)
	ctx := context.Background()

	backend.FailNth("AddFaultRule", 1, cluster.NewError(cluster.KindInvalidOperation, cluster.CodeUnknown, "boom"))

	scope := controller.NewScope()
	require.Error(t, scope.Install(ctx, "n0", BlockReopen("p1"), time.Second))
	assert.Equal(t, 1, scope.Len())

	// the rule never landed, so removal reports not-found, which counts as removed
	require.NoError(t, scope.ReleaseAll(ctx))
	assert.Equal(t, 0, scope.Len())
	assert.Equal(t, 0, observer.active)
	assert.Equal(t, 0, backend.RuleCount())
}

func TestRemoveOnlyCountsRulesInstalledHere(t *testing.T) {
	_, controller, _, observer := setup(t)
	ctx := context.Background()

	rule := BlockReopen("p1")
	require.NoError(t, controller.Install(ctx, "n1", rule, time.Second))
	require.NoError(t, controller.Install(ctx, "n1", rule, time.Second))
	assert.Equal(t, 1, observer.active)

	require.NoError(t, controller.Remove(ctx, "n1", rule.Name, time.Second))
	require.NoError(t, controller.Remove(ctx, "n1", rule.Name, time.Second))
	require.NoError(t, controller.Remove(ctx, "n2", "never-installed", time.Second))
	assert.Equal(t, 0, observer.active)
}

func TestScopeReleaseEarly(t *testing.T) {
	backend, controller, _, _ := setup(t)
	ctx := context.Background()

	scope := controller.NewScope()
	rule := BlockReconfiguration("p1")
	require.NoError(t, scope.Install(ctx, "n0", rule, time.Second))
	require.NoError(t, scope.Release(ctx, "n0", rule.Name, time.Second))
	assert.Equal(t, 0, scope.Len())

	require.NoError(t, scope.ReleaseAll(ctx))
	assert.Equal(t, 1, backend.Calls("RemoveFaultRule"))
}

func TestScopeKeepsRuleWhenRemovalFails(t *testing.T) {
	backend, controller, _, _ := setup(t)
	ctx := context.Background()

	scope := controller.NewScope()
	require.NoError(t, scope.Install(ctx, "n0", BlockReopen("p1"), time.Second))

	backend.FailNth("RemoveFaultRule", 1, cluster.NewError(cluster.KindArgument, cluster.CodeInvalidNode, "bad node"))
	require.Error(t, scope.ReleaseAll(ctx))
	assert.Equal(t, 1, scope.Len())
	assert.Equal(t, 1, backend.RuleCount())

	require.NoError(t, scope.ReleaseAll(ctx))
	assert.Equal(t, 0, backend.RuleCount())
}

func TestRecoverOrphans(t *testing.T) {
	backend, controller, journal, _ := setup(t)
	ctx := context.Background()

	// a previous run installed rules and died before removing them
	scope := controller.NewScope()
	require.NoError(t, scope.Install(ctx, "n0", BlockReconfiguration("p1"), time.Second))
	require.NoError(t, scope.Install(ctx, "n2", BlockReopen("p2"), time.Second))
	// this one was removed out of band
	require.NoError(t, journal.Record(Entry{Node: "n1", Rule: BlockReopen("p3")}))

	removed, err := controller.RecoverOrphans(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	assert.Equal(t, 0, backend.RuleCount())

	entries, err := journal.Entries()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRuleNamesAreUnique(t *testing.T) {
	a, b := BlockReopen("p"), BlockReopen("p")
	assert.NotEqual(t, a.Name, b.Name)
	assert.Equal(t, cluster.MessageStatefulServiceReopen, a.MessageType)
	assert.Equal(t, cluster.MessageDoReconfiguration, BlockReconfiguration("p").MessageType)
}
