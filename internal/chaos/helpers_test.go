package chaos

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cluster-chaos/internal/cluster"
	"cluster-chaos/internal/cluster/sim"
	"cluster-chaos/internal/retry"
	"cluster-chaos/internal/testutil"
)

const (
	demoApp   = testutil.DemoApp
	demoStore = testutil.DemoStore
	demoCache = testutil.DemoCache
	demoWeb   = testutil.DemoWeb
)

func testTiming() Timing {
	return TimingFromConfig(testutil.TestConfig())
}

func newTestExecutor(backend cluster.Client, opts ...Option) *Executor {
	base := []Option{
		WithRetry(retry.NewExecutor(retry.WithBackoff(time.Millisecond))),
		WithTiming(testTiming()),
		WithRandom(NewRandom(1)),
	}
	return NewExecutor(backend, append(base, opts...)...)
}

func demo(t *testing.T) *sim.Cluster {
	t.Helper()
	return testutil.DemoCluster(t)
}

// partitionOf returns the first partition of service
func partitionOf(t *testing.T, backend *sim.Cluster, service string) string {
	t.Helper()
	return testutil.FirstPartition(t, backend, service)
}

func replicasOf(t *testing.T, backend *sim.Cluster, partitionID string) []cluster.Replica {
	t.Helper()
	rs, err := backend.GetReplicaList(context.Background(), partitionID, time.Second)
	require.NoError(t, err)
	return rs
}

func partitionState(t *testing.T, backend *sim.Cluster, partitionID string) cluster.Partition {
	t.Helper()
	p, err := backend.GetPartition(context.Background(), partitionID, time.Second)
	require.NoError(t, err)
	return p
}

func primaryOf(t *testing.T, backend *sim.Cluster, partitionID string) cluster.Replica {
	t.Helper()
	for _, r := range replicasOf(t, backend, partitionID) {
		if r.Role == cluster.RolePrimary && r.IsStable() {
			return r
		}
	}
	t.Fatalf("partition %s has no primary", partitionID)
	return cluster.Replica{}
}

func nodeOf(t *testing.T, backend *sim.Cluster, name string) cluster.Node {
	t.Helper()
	nodes, err := backend.GetNodeList(context.Background(), time.Second)
	require.NoError(t, err)
	for _, n := range nodes {
		if n.Name == name {
			return n
		}
	}
	t.Fatalf("node %s not found", name)
	return cluster.Node{}
}

// replicaSet builds a snapshot with one primary and n-1 ready secondaries
func replicaSet(n int) []cluster.Replica {
	rs := make([]cluster.Replica, 0, n)
	for i := 0; i < n; i++ {
		role := cluster.RoleActiveSecondary
		if i == 0 {
			role = cluster.RolePrimary
		}
		rs = append(rs, cluster.Replica{
			ID:         int64(i + 1),
			NodeName:   fmt.Sprintf("n%d", i),
			Role:       role,
			Status:     cluster.ReplicaReady,
			InstanceID: int64(100 + i),
		})
	}
	return rs
}
