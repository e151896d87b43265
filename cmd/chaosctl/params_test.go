package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cluster-chaos/internal/chaos"
)

func TestParseParams(t *testing.T) {
	params, err := parseParams(`{"mode": "AllReplicas", "partition": {"partition_id": "p-1"}}`, []string{
		"partition.service_name=fabric:/demo/store",
		"quorum_loss_duration=20s",
		"mode=QuorumReplicas",
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]interface{}{
		"mode":                 "QuorumReplicas",
		"quorum_loss_duration": "20s",
		"partition": map[string]interface{}{
			"partition_id": "p-1",
			"service_name": "fabric:/demo/store",
		},
	}, params)
}

func TestParseParamsErrors(t *testing.T) {
	_, err := parseParams("", []string{"node_name"})
	assert.Error(t, err)

	_, err = parseParams("", []string{"=x"})
	assert.Error(t, err)

	_, err = parseParams("", []string{"partition=p", "partition.service_name=s"})
	assert.Error(t, err)

	_, err = parseParams("[1,2]", nil)
	assert.Error(t, err)
}

func TestParsedParamsDecode(t *testing.T) {
	params, err := parseParams("", []string{
		"replica.partition_id=p-1",
		"replica.replica_id=42",
		"create_dump=true",
		"action_timeout=3m",
	})
	require.NoError(t, err)

	action, err := chaos.Decode(chaos.KindRestartNode, params)
	require.NoError(t, err)

	restart := action.(*chaos.RestartNode)
	require.NotNil(t, restart.Replica)
	assert.Equal(t, int64(42), restart.Replica.ReplicaID)
	assert.True(t, restart.CreateDump)
	assert.Equal(t, 3*time.Minute, restart.Limits().ActionTimeout)
	assert.Equal(t, chaos.Verify, restart.Completion)
}
