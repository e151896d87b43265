package stability

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cluster-chaos/internal/cluster"
	"cluster-chaos/internal/cluster/sim"
	"cluster-chaos/internal/retry"
)

type pollCounter struct {
	mu    sync.Mutex
	polls map[string]int
}

func (p *pollCounter) ValidationPoll(check string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.polls == nil {
		p.polls = map[string]int{}
	}
	result := "fail"
	if ok {
		result = "pass"
	}
	p.polls[result]++
}

func newValidator(backend cluster.QueryClient, observer PollObserver) *Validator {
	exec := retry.NewExecutor(retry.WithBackoff(5 * time.Millisecond))
	opts := []Option{WithPollInterval(10 * time.Millisecond)}
	if observer != nil {
		opts = append(opts, WithObserver(observer))
	}
	return NewValidator(backend, exec, opts...)
}

// threeNodeCluster runs a service that wants 5 replicas on 3 nodes
func threeNodeCluster(t *testing.T) (*sim.Cluster, string) {
	t.Helper()
	backend := sim.New(sim.WithSeed(11))
	backend.AddNodes("n0", "n1", "n2")
	backend.AddApplication("fabric:/app", "AppType")
	ids := backend.AddStatefulService("fabric:/app", "fabric:/app/svc", 1, 5, true)
	require.Len(t, ids, 1)
	return backend, ids[0]
}

func secondary(t *testing.T, backend *sim.Cluster, partitionID string) cluster.Replica {
	t.Helper()
	replicas, err := backend.GetReplicaList(context.Background(), partitionID, time.Second)
	require.NoError(t, err)
	for _, r := range replicas {
		if r.Role == cluster.RoleActiveSecondary {
			return r
		}
	}
	t.Fatalf("no secondary in partition %s", partitionID)
	return cluster.Replica{}
}

func TestExpectedCount(t *testing.T) {
	tests := []struct {
		up, target, want int
	}{
		{up: 3, target: 5, want: 3},
		{up: 5, target: 3, want: 3},
		{up: 4, target: cluster.AllNodes, want: 4},
		{up: 0, target: 3, want: 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExpectedCount(tt.up, tt.target), "up=%d target=%d", tt.up, tt.target)
	}
}

func TestEnsureStabilityCapsTargetAtUpNodes(t *testing.T) {
	backend, _ := threeNodeCluster(t)
	counter := &pollCounter{}
	v := newValidator(backend, counter)

	report, err := v.EnsureStability(context.Background(), "fabric:/app/svc", time.Second, DefaultChecks())
	require.NoError(t, err)
	assert.False(t, report.Failed, report.Reason)
	assert.Equal(t, 1, counter.polls["pass"])
}

func TestEnsureStabilityFailsBelowExpected(t *testing.T) {
	backend, pid := threeNodeCluster(t)
	r := secondary(t, backend, pid)
	backend.SetReplicaStatus(pid, r.ID, cluster.ReplicaInBuild)

	counter := &pollCounter{}
	v := newValidator(backend, counter)

	report, err := v.EnsureStability(context.Background(), "fabric:/app/svc", 100*time.Millisecond, DefaultChecks())
	require.NoError(t, err)
	assert.True(t, report.Failed)
	assert.Contains(t, report.Reason, "2 ready replicas, expected 3")
	assert.GreaterOrEqual(t, counter.polls["fail"], 2)
	assert.Zero(t, counter.polls["pass"])
}

func TestEnsureStabilityWaitsForRecovery(t *testing.T) {
	backend, pid := threeNodeCluster(t)
	r := secondary(t, backend, pid)
	backend.SetReplicaStatus(pid, r.ID, cluster.ReplicaInBuild)

	go func() {
		time.Sleep(50 * time.Millisecond)
		backend.SetReplicaStatus(pid, r.ID, cluster.ReplicaReady)
	}()

	v := newValidator(backend, nil)
	report, err := v.EnsureStability(context.Background(), "fabric:/app/svc", 2*time.Second, DefaultChecks())
	require.NoError(t, err)
	assert.False(t, report.Failed, report.Reason)
}

func TestEnsureStabilityQuorumLossCheck(t *testing.T) {
	backend, pid := threeNodeCluster(t)
	replicas, err := backend.GetReplicaList(context.Background(), pid, time.Second)
	require.NoError(t, err)
	for _, r := range replicas[:2] {
		backend.SetReplicaStatus(pid, r.ID, cluster.ReplicaDown)
	}
	p, err := backend.GetPartition(context.Background(), pid, time.Second)
	require.NoError(t, err)
	require.Equal(t, cluster.PartitionInQuorumLoss, p.Status)

	v := newValidator(backend, nil)

	report, err := v.EnsureStability(context.Background(), "fabric:/app/svc", 50*time.Millisecond, DefaultChecks())
	require.NoError(t, err)
	assert.True(t, report.Failed)
	assert.Contains(t, report.Reason, "quorum loss")

	tolerant := DefaultChecks()
	tolerant.QuorumLoss = false
	report, err = v.EnsureStability(context.Background(), "fabric:/app/svc", 50*time.Millisecond, tolerant)
	require.NoError(t, err)
	assert.False(t, report.Failed, report.Reason)
	assert.Contains(t, report.Reason, "quorum loss")
	assert.Contains(t, report.Reason, pid)
}

// flickeringPartitions reports one partition too many on its first listing
type flickeringPartitions struct {
	*sim.Cluster
	mu    sync.Mutex
	calls int
}

func (f *flickeringPartitions) GetPartitionList(ctx context.Context, serviceName string, timeout time.Duration) ([]cluster.Partition, error) {
	ps, err := f.Cluster.GetPartitionList(ctx, serviceName, timeout)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls == 1 && len(ps) > 0 {
		ps = append(ps, ps[0])
	}
	return ps, nil
}

func TestEnsureStabilityPartitionCountMismatchIsFinal(t *testing.T) {
	backend, _ := threeNodeCluster(t)
	counter := &pollCounter{}
	v := newValidator(&flickeringPartitions{Cluster: backend}, counter)

	report, err := v.EnsureStability(context.Background(), "fabric:/app/svc", time.Second, DefaultChecks())
	require.NoError(t, err)
	assert.True(t, report.Failed)
	assert.Contains(t, report.Reason, "has 2 partitions, expected 1")
	assert.Equal(t, 1, counter.polls["fail"])
	assert.Zero(t, counter.polls["pass"])
}

func TestValidateServiceKeepsToleratedQuorumLoss(t *testing.T) {
	backend, pid := threeNodeCluster(t)
	replicas, err := backend.GetReplicaList(context.Background(), pid, time.Second)
	require.NoError(t, err)
	for _, r := range replicas[:2] {
		backend.SetReplicaStatus(pid, r.ID, cluster.ReplicaDown)
	}

	report, err := newValidator(backend, nil).ValidateService(context.Background(), "fabric:/app/svc", 200*time.Millisecond, Checks{})
	require.NoError(t, err)
	assert.False(t, report.Failed, report.Reason)
	assert.Contains(t, report.Reason, "tolerated partitions in quorum loss: "+pid)
}

func TestEnsureStabilityCachesServiceInfo(t *testing.T) {
	backend, _ := threeNodeCluster(t)
	v := newValidator(backend, nil)

	for i := 0; i < 3; i++ {
		_, err := v.EnsureStability(context.Background(), "fabric:/app/svc", time.Second, DefaultChecks())
		require.NoError(t, err)
	}
	assert.Equal(t, 1, backend.Calls("GetService"))
}

func TestEnsureStabilityUnknownService(t *testing.T) {
	backend, _ := threeNodeCluster(t)
	v := newValidator(backend, nil)

	_, err := v.EnsureStability(context.Background(), "fabric:/app/missing", time.Second, DefaultChecks())
	require.Error(t, err)
	assert.Equal(t, cluster.CodeServiceNotFound, cluster.CodeOf(err))
}

func TestEnsureStabilityRetriesTransientQueries(t *testing.T) {
	backend, _ := threeNodeCluster(t)
	backend.FailNth("GetReplicaList", 1, cluster.NewError(cluster.KindCommunication, cluster.CodeGatewayUnreachable, "gateway down"))

	v := newValidator(backend, nil)
	report, err := v.EnsureStability(context.Background(), "fabric:/app/svc", time.Second, DefaultChecks())
	require.NoError(t, err)
	assert.False(t, report.Failed, report.Reason)
	assert.Equal(t, 2, backend.Calls("GetReplicaList"))
}

func TestEnsureStabilityCanceled(t *testing.T) {
	backend, pid := threeNodeCluster(t)
	backend.SetReplicaStatus(pid, secondary(t, backend, pid).ID, cluster.ReplicaInBuild)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	v := newValidator(backend, nil)
	_, err := v.EnsureStability(ctx, "fabric:/app/svc", 5*time.Second, DefaultChecks())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCheckPartition(t *testing.T) {
	ready := cluster.Partition{ID: "p", Status: cluster.PartitionReady}
	replicas := []cluster.Replica{
		{ID: 1, Role: cluster.RolePrimary, Status: cluster.ReplicaReady},
		{ID: 2, Role: cluster.RoleActiveSecondary, Status: cluster.ReplicaReady},
		{ID: 3, Role: cluster.RoleIdleSecondary, Status: cluster.ReplicaReady},
		{ID: 4, Role: cluster.RoleActiveSecondary, Status: cluster.ReplicaInBuild},
	}

	assert.Empty(t, checkPartition(ready, replicas, true, 2, Checks{}))
	assert.Contains(t, checkPartition(ready, replicas, true, 3, Checks{}), "2 ready replicas")
	assert.Contains(t, checkPartition(ready, replicas, true, 2, Checks{InBuild: true}), "in build")
	// idle secondaries only count for stateless-style counting
	assert.Empty(t, checkPartition(ready, replicas, false, 3, Checks{}))

	notReady := cluster.Partition{ID: "p", Status: cluster.PartitionReconfiguring}
	assert.Contains(t, checkPartition(notReady, replicas, true, 1, Checks{}), "Reconfiguring")
}

func TestValidateHealth(t *testing.T) {
	backend, _ := threeNodeCluster(t)
	v := newValidator(backend, nil)
	ctx := context.Background()

	report, err := v.ValidateHealth(ctx, "fabric:/app/svc", time.Second, DefaultChecks())
	require.NoError(t, err)
	assert.False(t, report.Failed, report.Reason)

	backend.ReportHealth("fabric:/app/svc", cluster.HealthEvent{
		SourceID:    "watchdog",
		Property:    "latency",
		State:       cluster.HealthWarning,
		Description: "p99 above threshold",
	})

	report, err = v.ValidateHealth(ctx, "fabric:/app/svc", 50*time.Millisecond, DefaultChecks())
	require.NoError(t, err)
	assert.True(t, report.Failed)
	assert.Contains(t, report.Reason, "p99 above threshold")

	lenient := DefaultChecks()
	lenient.Warning = false
	report, err = v.ValidateHealth(ctx, "fabric:/app/svc", 50*time.Millisecond, lenient)
	require.NoError(t, err)
	assert.False(t, report.Failed, report.Reason)
}

func TestCheckHealthUnknownAlwaysFails(t *testing.T) {
	h := cluster.ServiceHealth{ServiceName: "s", State: cluster.HealthUnknown}
	assert.NotEmpty(t, checkHealth(h, Checks{}))

	h.State = cluster.HealthError
	h.Partitions = []cluster.PartitionHealth{{
		PartitionID: "p1",
		State:       cluster.HealthError,
		Replicas: []cluster.ReplicaHealth{{
			ReplicaID: 7,
			State:     cluster.HealthError,
			Events:    []cluster.HealthEvent{{SourceID: "fm", Property: "state", State: cluster.HealthError, Description: "replica down"}},
		}},
	}}
	reason := checkHealth(h, Checks{Error: true})
	assert.Contains(t, reason, "replica 7 of partition p1")
	assert.Contains(t, reason, "replica down")
	assert.Empty(t, checkHealth(h, Checks{}))
}

func TestValidateClusterWaitsForEveryBranch(t *testing.T) {
	backend := sim.NewDemo(5, 3)
	backend.AddApplication("fabric:/other", "OtherType")
	ids := backend.AddStatefulService("fabric:/other", "fabric:/other/svc", 1, 3, true)

	v := newValidator(backend, nil)
	ctx := context.Background()

	report, err := v.ValidateCluster(ctx, time.Second, DefaultChecks())
	require.NoError(t, err)
	assert.False(t, report.Failed, report.Reason)

	backend.SetReplicaStatus(ids[0], secondary(t, backend, ids[0]).ID, cluster.ReplicaInBuild)
	before := backend.Calls("GetServiceHealth")

	report, err = v.ValidateCluster(ctx, 100*time.Millisecond, DefaultChecks())
	require.NoError(t, err)
	assert.True(t, report.Failed)
	assert.Contains(t, report.Reason, "fabric:/other/svc")
	assert.NotContains(t, report.Reason, "fabric:/demo")
	// the three healthy demo services still ran their health checks
	assert.Equal(t, before+3, backend.Calls("GetServiceHealth"))
}

func TestMerge(t *testing.T) {
	merged := Merge(Report{}, Report{Failed: true, Reason: "b"}, Report{Failed: true, Reason: "a"})
	assert.True(t, merged.Failed)
	assert.Equal(t, "a\nb", merged.Reason)
	assert.False(t, Merge().Failed)
}
