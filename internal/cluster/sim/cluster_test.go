package sim

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cluster-chaos/internal/cluster"
)

func newFiveNode(t *testing.T) (*Cluster, string) {
	t.Helper()
	c := New(WithSeed(7))
	c.AddNodes("n0", "n1", "n2", "n3", "n4")
	c.AddApplication("fabric:/app", "AppType")
	ids := c.AddStatefulService("fabric:/app", "fabric:/app/svc", 1, 5, true)
	require.Len(t, ids, 1)
	return c, ids[0]
}

func replicas(t *testing.T, c *Cluster, pid string) []cluster.Replica {
	t.Helper()
	rs, err := c.GetReplicaList(context.Background(), pid, 0)
	require.NoError(t, err)
	return rs
}

func partitionStatus(t *testing.T, c *Cluster, pid string) cluster.Partition {
	t.Helper()
	p, err := c.GetPartition(context.Background(), pid, 0)
	require.NoError(t, err)
	return p
}

func TestInitialPlacement(t *testing.T) {
	c, pid := newFiveNode(t)

	rs := replicas(t, c, pid)
	require.Len(t, rs, 5)

	primaries := 0
	nodes := map[string]bool{}
	for _, r := range rs {
		if r.Role == cluster.RolePrimary {
			primaries++
		}
		nodes[r.NodeName] = true
		assert.Equal(t, cluster.ReplicaReady, r.Status)
	}
	assert.Equal(t, 1, primaries)
	assert.Len(t, nodes, 5)
	assert.Equal(t, cluster.PartitionReady, partitionStatus(t, c, pid).Status)
}

func TestQuorumLossWhileReopenBlocked(t *testing.T) {
	c, pid := newFiveNode(t)
	ctx := context.Background()
	rs := replicas(t, c, pid)

	// block reopen on three nodes and restart the replicas there
	for _, r := range rs[:3] {
		rule := cluster.FaultRule{Name: "reopen-" + r.NodeName, SourceNode: cluster.AnyNode, MessageType: cluster.MessageStatefulServiceReopen, PartitionID: pid}
		require.NoError(t, c.AddFaultRule(ctx, r.NodeName, rule, 0))
		require.NoError(t, c.RestartReplica(ctx, r.NodeName, pid, r.ID, 0))
	}
	assert.Equal(t, cluster.PartitionInQuorumLoss, partitionStatus(t, c, pid).Status)

	health, err := c.GetServiceHealth(ctx, "fabric:/app/svc", 0)
	require.NoError(t, err)
	assert.Equal(t, cluster.HealthError, health.State)

	for _, r := range rs[:3] {
		require.NoError(t, c.RemoveFaultRule(ctx, r.NodeName, "reopen-"+r.NodeName, 0))
	}
	assert.Equal(t, cluster.PartitionReady, partitionStatus(t, c, pid).Status)
	assert.Equal(t, 0, c.RuleCount())
}

func TestDataLossWhileReconfigurationBlocked(t *testing.T) {
	c, pid := newFiveNode(t)
	ctx := context.Background()
	before := partitionStatus(t, c, pid).DataLossNumber

	fm, err := c.GetFailoverManagerPrimary(ctx, 0)
	require.NoError(t, err)
	rule := cluster.FaultRule{Name: "block", SourceNode: cluster.AnyNode, MessageType: cluster.MessageDoReconfiguration, PartitionID: pid}
	require.NoError(t, c.AddFaultRule(ctx, fm, rule, 0))

	for _, r := range replicas(t, c, pid)[:3] {
		require.NoError(t, c.RemoveReplica(ctx, r.NodeName, pid, r.ID, false, 0))
	}
	assert.Equal(t, before, partitionStatus(t, c, pid).DataLossNumber)

	require.NoError(t, c.RemoveFaultRule(ctx, fm, "block", 0))

	after := partitionStatus(t, c, pid)
	assert.Equal(t, before+1, after.DataLossNumber)
	assert.Equal(t, cluster.PartitionReady, after.Status)
}

func TestRemoveWithoutBlockKeepsData(t *testing.T) {
	c, pid := newFiveNode(t)
	ctx := context.Background()

	r := replicas(t, c, pid)[0]
	require.NoError(t, c.RemoveReplica(ctx, r.NodeName, pid, r.ID, false, 0))

	p := partitionStatus(t, c, pid)
	assert.Equal(t, int64(0), p.DataLossNumber)
	assert.Equal(t, cluster.PartitionReady, p.Status)
}

func TestMovePrimary(t *testing.T) {
	c, pid := newFiveNode(t)
	ctx := context.Background()

	var primary, secondary cluster.Replica
	for _, r := range replicas(t, c, pid) {
		if r.Role == cluster.RolePrimary {
			primary = r
		} else {
			secondary = r
		}
	}

	err := c.MovePrimary(ctx, primary.NodeName, pid, false, 0)
	assert.True(t, cluster.IsCode(err, cluster.CodeAlreadyPrimaryReplica))

	require.NoError(t, c.MovePrimary(ctx, secondary.NodeName, pid, false, 0))
	for _, r := range replicas(t, c, pid) {
		if r.NodeName == secondary.NodeName {
			assert.Equal(t, cluster.RolePrimary, r.Role)
		}
	}
}

func TestNodeLifecycle(t *testing.T) {
	c, pid := newFiveNode(t)
	ctx := context.Background()

	nodes, err := c.GetNodeList(ctx, 0)
	require.NoError(t, err)
	n := nodes[1]

	err = c.StopNode(ctx, n.Name, n.InstanceID+1, 0)
	assert.True(t, cluster.IsCode(err, cluster.CodeInstanceIDMismatch))

	require.NoError(t, c.StopNode(ctx, n.Name, n.InstanceID, 0))
	err = c.StopNode(ctx, n.Name, 0, 0)
	var native *cluster.NativeError
	assert.ErrorAs(t, err, &native)

	for _, r := range replicas(t, c, pid) {
		if r.NodeName == n.Name {
			assert.Equal(t, cluster.ReplicaDown, r.Status)
		}
	}

	require.NoError(t, c.StartNode(ctx, n.Name, 0, 0))
	nodes, err = c.GetNodeList(ctx, 0)
	require.NoError(t, err)
	assert.True(t, nodes[1].IsUp())
	assert.Greater(t, nodes[1].InstanceID, n.InstanceID)
	assert.Equal(t, cluster.PartitionReady, partitionStatus(t, c, pid).Status)
}

func TestRestartCodePackage(t *testing.T) {
	c, _ := newFiveNode(t)
	ctx := context.Background()

	pkgs, err := c.GetDeployedCodePackageList(ctx, "n2", "fabric:/app", 0)
	require.NoError(t, err)
	require.Len(t, pkgs, 1)

	id := cluster.CodePackageID{NodeName: "n2", ApplicationName: "fabric:/app", ServiceManifestName: pkgs[0].ServiceManifestName, CodePackageName: pkgs[0].Name}
	require.NoError(t, c.RestartDeployedCodePackage(ctx, id, pkgs[0].EntryPoint.InstanceID, 0))

	after, err := c.GetDeployedCodePackageList(ctx, "n2", "fabric:/app", 0)
	require.NoError(t, err)
	assert.Greater(t, after[0].EntryPoint.InstanceID, pkgs[0].EntryPoint.InstanceID)

	id.CodePackageName = "Missing"
	err = c.RestartDeployedCodePackage(ctx, id, 0, 0)
	assert.True(t, cluster.IsCode(err, cluster.CodeCodePackageNotFound))
}

func TestInterceptorAndCallCounts(t *testing.T) {
	c, pid := newFiveNode(t)
	ctx := context.Background()
	busy := cluster.NewError(cluster.KindTransient, cluster.CodeServiceTooBusy, "busy")
	c.FailNth("GetPartition", 2, busy)

	_, err := c.GetPartition(ctx, pid, 0)
	require.NoError(t, err)
	_, err = c.GetPartition(ctx, pid, 0)
	assert.ErrorIs(t, err, busy)
	_, err = c.GetPartition(ctx, pid, 0)
	require.NoError(t, err)

	assert.Equal(t, 3, c.Calls("GetPartition"))
}

func TestDemoTopology(t *testing.T) {
	c := NewDemo(3, 1)
	ctx := context.Background()

	svcs, err := c.GetServiceList(ctx, "fabric:/demo", 0)
	require.NoError(t, err)
	require.Len(t, svcs, 3)

	web, err := c.GetPartitionList(ctx, "fabric:/demo/web", 0)
	require.NoError(t, err)
	rs := replicas(t, c, web[0].ID)
	assert.Len(t, rs, 3)
}
