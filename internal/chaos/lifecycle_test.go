package chaos

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cluster-chaos/internal/cluster"
	"cluster-chaos/internal/faults"
	"cluster-chaos/internal/stability"
)

func TestRestartNode(t *testing.T) {
	backend := demo(t)
	before := nodeOf(t, backend, "node-1")
	x := newTestExecutor(backend)

	res, err := RunAs[NodeResult](context.Background(), x, &RestartNode{NodeTarget: NodeTarget{NodeName: "node-1"}})
	require.NoError(t, err)

	assert.Equal(t, before.InstanceID, res.InstanceID)
	assert.Greater(t, res.NewInstanceID, before.InstanceID)
	assert.Equal(t, cluster.NodeUp, res.Status)
}

func TestStopAndStartNode(t *testing.T) {
	backend := demo(t)
	x := newTestExecutor(backend)
	ctx := context.Background()

	stopped, err := RunAs[NodeResult](ctx, x, &StopNode{NodeTarget: NodeTarget{NodeName: "node-2"}})
	require.NoError(t, err)
	assert.Equal(t, cluster.NodeDown, stopped.Status)

	// stopping twice is fine
	_, err = x.Run(ctx, &StopNode{NodeTarget: NodeTarget{NodeName: "node-2"}})
	require.NoError(t, err)

	started, err := RunAs[NodeResult](ctx, x, &StartNode{NodeName: "node-2"})
	require.NoError(t, err)
	assert.Equal(t, cluster.NodeUp, started.Status)
	assert.Greater(t, started.NewInstanceID, stopped.InstanceID)
}

func TestStopNodeThroughReplica(t *testing.T) {
	backend := demo(t)
	pid := partitionOf(t, backend, demoStore)
	primary := primaryOf(t, backend, pid)
	x := newTestExecutor(backend)

	res, err := RunAs[NodeResult](context.Background(), x, &StopNode{
		NodeTarget: NodeTarget{Replica: &ReplicaSelector{
			PartitionSelector: PartitionSelector{PartitionID: pid},
			Role:              PrimaryReplica,
		}},
		Completion: DoNotVerify,
	})
	require.NoError(t, err)
	assert.Equal(t, primary.NodeName, res.NodeName)
	assert.Equal(t, cluster.NodeDown, nodeOf(t, backend, primary.NodeName).Status)
}

func TestNodeTargetNeedsNodeOrReplica(t *testing.T) {
	x := newTestExecutor(demo(t))

	_, err := x.Run(context.Background(), &RestartNode{})
	assert.True(t, errors.Is(err, ErrInvalidParameters))

	_, err = x.Run(context.Background(), &RestartNode{NodeTarget: NodeTarget{NodeName: "nowhere"}})
	assert.Equal(t, cluster.CodeNodeNotFound, cluster.CodeOf(err))
}

func TestRestartReplica(t *testing.T) {
	backend := demo(t)
	pid := partitionOf(t, backend, demoStore)
	x := newTestExecutor(backend)

	res, err := RunAs[ReplicaResult](context.Background(), x, &RestartReplica{
		Replica: ReplicaSelector{PartitionSelector: PartitionSelector{PartitionID: pid}, Role: SecondaryReplica},
	})
	require.NoError(t, err)
	assert.Equal(t, cluster.RoleActiveSecondary, res.Replica.Role)

	for _, r := range replicasOf(t, backend, pid) {
		if r.ID == res.Replica.ReplicaID {
			assert.Greater(t, r.InstanceID, res.Replica.InstanceID)
			assert.True(t, r.IsStable())
		}
	}
}

func TestRestartReplicaVerifyTimesOut(t *testing.T) {
	backend := demo(t)
	pid := partitionOf(t, backend, demoStore)
	primary := primaryOf(t, backend, pid)

	ctx := context.Background()
	rule := faults.BlockReopen(pid)
	require.NoError(t, backend.AddFaultRule(ctx, primary.NodeName, rule, time.Second))
	defer backend.RemoveFaultRule(ctx, primary.NodeName, rule.Name, time.Second)

	x := newTestExecutor(backend)
	_, err := x.Run(ctx, &RestartReplica{
		Timeouts: Timeouts{ActionTimeout: 100 * time.Millisecond},
		Replica:  ReplicaSelector{PartitionSelector: PartitionSelector{PartitionID: pid}, ReplicaID: primary.ID},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPostconditionTimeout))

	var ae *ActionError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, primary.NodeName, ae.NodeName)
	assert.Contains(t, ae.Message, "replica restart")
}

func TestRemoveReplica(t *testing.T) {
	backend := demo(t)
	pid := partitionOf(t, backend, demoStore)
	x := newTestExecutor(backend)

	res, err := RunAs[ReplicaResult](context.Background(), x, &RemoveReplica{
		Replica: ReplicaSelector{PartitionSelector: PartitionSelector{PartitionID: pid}, Role: SecondaryReplica},
	})
	require.NoError(t, err)

	for _, r := range replicasOf(t, backend, pid) {
		if r.ID == res.Replica.ReplicaID {
			assert.Equal(t, cluster.ReplicaDropped, r.Status)
		}
	}
}

func TestRemoveMissingReplica(t *testing.T) {
	backend := demo(t)
	pid := partitionOf(t, backend, demoStore)
	x := newTestExecutor(backend)

	_, err := x.Run(context.Background(), &RemoveReplica{
		Replica: ReplicaSelector{PartitionSelector: PartitionSelector{PartitionID: pid}, ReplicaID: 1},
	})
	assert.Equal(t, cluster.CodeReplicaNotFound, cluster.CodeOf(err))
	assert.Equal(t, 0, backend.Calls("RemoveReplica"))
}

func TestRestartDeployedCodePackage(t *testing.T) {
	backend := demo(t)
	x := newTestExecutor(backend)

	res, err := RunAs[CodePackageResult](context.Background(), x, &RestartDeployedCodePackage{
		NodeName:            "node-0",
		ApplicationName:     demoApp,
		ServiceManifestName: demoStore + "Pkg",
		CodePackageName:     "Code",
	})
	require.NoError(t, err)
	assert.Equal(t, "node-0", res.CodePackage.NodeName)
	assert.Greater(t, res.NewInstanceID, res.InstanceID)
}

func TestRestartDeployedCodePackageInstance(t *testing.T) {
	backend := demo(t)
	x := newTestExecutor(backend)
	action := func(instance int64) *RestartDeployedCodePackage {
		return &RestartDeployedCodePackage{
			NodeName:            "node-0",
			ApplicationName:     demoApp,
			ServiceManifestName: demoStore + "Pkg",
			CodePackageName:     "Code",
			InstanceID:          instance,
		}
	}

	first, err := RunAs[CodePackageResult](context.Background(), x, action(0))
	require.NoError(t, err)

	// the instance that was just replaced
	_, err = x.Run(context.Background(), action(first.InstanceID))
	assert.Equal(t, cluster.CodeInstanceIDMismatch, cluster.CodeOf(err))

	second, err := RunAs[CodePackageResult](context.Background(), x, action(first.NewInstanceID))
	require.NoError(t, err)
	assert.Equal(t, first.NewInstanceID, second.InstanceID)
}

func TestRestartDeployedCodePackageThroughReplica(t *testing.T) {
	backend := demo(t)
	pid := partitionOf(t, backend, demoStore)
	primary := primaryOf(t, backend, pid)
	x := newTestExecutor(backend)

	res, err := RunAs[CodePackageResult](context.Background(), x, &RestartDeployedCodePackage{
		Replica:             &ReplicaSelector{PartitionSelector: PartitionSelector{PartitionID: pid}, Role: PrimaryReplica},
		ApplicationName:     demoApp,
		ServiceManifestName: demoStore + "Pkg",
		CodePackageName:     "Code",
		Completion:          DoNotVerify,
	})
	require.NoError(t, err)
	assert.Equal(t, primary.NodeName, res.CodePackage.NodeName)
	assert.Zero(t, res.NewInstanceID)
}

func TestRestartUnknownCodePackage(t *testing.T) {
	backend := demo(t)
	x := newTestExecutor(backend)

	_, err := x.Run(context.Background(), &RestartDeployedCodePackage{
		NodeName:            "node-0",
		ApplicationName:     demoApp,
		ServiceManifestName: "missingPkg",
		CodePackageName:     "Code",
	})
	assert.Equal(t, cluster.CodeCodePackageNotFound, cluster.CodeOf(err))
	assert.Equal(t, 0, backend.Calls("RestartDeployedCodePackage"))
}

func TestValidateActions(t *testing.T) {
	backend := demo(t)
	x := newTestExecutor(backend)
	ctx := context.Background()
	checks := stability.DefaultChecks()

	res, err := RunAs[ValidationResult](ctx, x, &ValidateService{ServiceName: demoStore, Checks: checks})
	require.NoError(t, err)
	assert.False(t, res.Report.Failed)

	_, err = x.Run(ctx, &ValidateApplication{ApplicationName: demoApp, Checks: checks})
	require.NoError(t, err)

	_, err = x.Run(ctx, &ValidateCluster{Checks: checks})
	require.NoError(t, err)
}

func TestValidateServiceFails(t *testing.T) {
	backend := demo(t)
	pid := partitionOf(t, backend, demoStore)
	rs := replicasOf(t, backend, pid)
	backend.SetReplicaStatus(pid, rs[len(rs)-1].ID, cluster.ReplicaInBuild)
	x := newTestExecutor(backend)

	_, err := x.Run(context.Background(), &ValidateService{
		Timeouts:    Timeouts{ActionTimeout: 100 * time.Millisecond},
		ServiceName: demoStore,
		Checks:      stability.DefaultChecks(),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidationFailed))

	var ae *ActionError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, demoStore, ae.ServiceName)
	assert.NotEmpty(t, ae.Message)
}
