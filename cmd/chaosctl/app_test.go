package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cluster-chaos/internal/chaos"
	"cluster-chaos/internal/cluster/sim"
	"cluster-chaos/internal/testutil"
)

func TestAppRunsActionsAgainstSimulatedCluster(t *testing.T) {
	ctx := context.Background()
	a, err := newApp(ctx, testutil.TestConfig())
	require.NoError(t, err)
	defer a.Close(ctx)

	backend, ok := a.client.(*sim.Cluster)
	require.True(t, ok)
	pid := testutil.FirstPartition(t, backend, testutil.DemoStore)

	res, err := chaos.RunAs[chaos.DataLossResult](ctx, a.executor, &chaos.InduceDataLoss{
		Partition: chaos.PartitionSelector{PartitionID: pid},
		Mode:      chaos.PartialDataLoss,
	})
	require.NoError(t, err)
	assert.Greater(t, res.After, res.Before)

	// the journal is empty again once the rule is lifted
	n, err := a.faults.RecoverOrphans(ctx, a.cfg.Timeouts.Request)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, backend.RuleCount())
}

func TestAppClosesRedisLocker(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cfg := testutil.TestConfig()
	cfg.Lock.Backend = "redis"
	cfg.Lock.RedisAddr = mr.Addr()

	ctx := context.Background()
	a, err := newApp(ctx, cfg)
	require.NoError(t, err)

	// journal store and redis client
	assert.Len(t, a.closers, 2)
	a.Close(ctx)
}

func TestRunCommandPrintsStatus(t *testing.T) {
	cfg = testutil.TestConfig()

	var out bytes.Buffer
	runCmd.SetOut(&out)
	t.Cleanup(func() { runCmd.SetOut(nil) })
	require.NoError(t, runCmd.Flags().Set("param", "node_name=node-2"))

	err := runAction(runCmd, []string{string(chaos.KindRestartNode)})
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, string(chaos.StateSucceeded), decoded["state"])
	assert.Equal(t, string(chaos.KindRestartNode), decoded["kind"])
	assert.NotEmpty(t, decoded["duration"])
}

func TestRunCommandRejectsUnknownKind(t *testing.T) {
	cfg = testutil.TestConfig()

	err := runAction(runCmd, []string{"Teleport"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), string(chaos.CodeUnknownAction))
}
