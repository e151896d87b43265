package chaos

import (
	"context"
	"time"

	"cluster-chaos/internal/cluster"
	"cluster-chaos/internal/retry"
)

func (inv *Invocation) resolveReplica(ctx context.Context, sel ReplicaSelector) (SelectedReplica, error) {
	r, _, err := inv.resolver.ResolveReplica(ctx, sel, inv.random, inv.Request)
	return r, err
}

// replicaState finds the replica in a fresh snapshot of its partition
func (inv *Invocation) replicaState(ctx context.Context, sel SelectedReplica) (cluster.Replica, bool, error) {
	replicas, err := inv.refresh(ctx, sel.Partition)
	if err != nil {
		return cluster.Replica{}, false, err
	}
	for _, r := range replicas {
		if r.ID == sel.ReplicaID {
			return r, true, nil
		}
	}
	return cluster.Replica{}, false, nil
}

func replicaError(sel SelectedReplica) *ActionError {
	e := newActionError("", sel.Partition, "")
	e.NodeName = sel.NodeName
	return e
}

func restartReplica(ctx context.Context, inv *Invocation, a *RestartReplica) (ReplicaResult, error) {
	sel, err := inv.resolveReplica(ctx, a.Replica)
	if err != nil {
		return ReplicaResult{}, err
	}
	if sel.Partition.Kind != cluster.Stateful {
		return ReplicaResult{}, newActionError(CodeInvalidServiceKind, sel.Partition, "stateless instances are removed, not restarted")
	}

	unlock, err := inv.lockPartition(ctx, sel.Partition)
	if err != nil {
		return ReplicaResult{}, err
	}
	defer unlock(ctx)

	err = inv.call(ctx, "RestartReplica", retry.Default, func(ctx context.Context, timeout time.Duration) error {
		return inv.client.RestartReplica(ctx, sel.NodeName, sel.Partition.PartitionID, sel.ReplicaID, timeout)
	})
	if err != nil {
		return ReplicaResult{}, err
	}
	inv.Logger.ClusterEvent(ctx, "replica_restarted", sel.NodeName, map[string]interface{}{
		"partition_id": sel.Partition.PartitionID,
		"replica_id":   sel.ReplicaID,
	})

	if a.Completion.verify() {
		err := inv.verify(ctx, "replica restart", replicaError(sel), func(ctx context.Context) (bool, string, error) {
			r, ok, err := inv.replicaState(ctx, sel)
			if err != nil || !ok {
				return false, "missing", err
			}
			return r.IsStable() && r.InstanceID > sel.InstanceID, r.String(), nil
		})
		if err != nil {
			return ReplicaResult{}, err
		}
	}
	return ReplicaResult{Replica: sel}, nil
}

func removeReplica(ctx context.Context, inv *Invocation, a *RemoveReplica) (ReplicaResult, error) {
	sel, err := inv.resolveReplica(ctx, a.Replica)
	if err != nil {
		return ReplicaResult{}, err
	}

	unlock, err := inv.lockPartition(ctx, sel.Partition)
	if err != nil {
		return ReplicaResult{}, err
	}
	defer unlock(ctx)

	err = inv.call(ctx, "RemoveReplica", retry.Default, func(ctx context.Context, timeout time.Duration) error {
		return inv.client.RemoveReplica(ctx, sel.NodeName, sel.Partition.PartitionID, sel.ReplicaID, a.Force, timeout)
	})
	if err != nil {
		return ReplicaResult{}, err
	}
	inv.Logger.ClusterEvent(ctx, "replica_removed", sel.NodeName, map[string]interface{}{
		"partition_id": sel.Partition.PartitionID,
		"replica_id":   sel.ReplicaID,
		"force":        a.Force,
	})

	if a.Completion.verify() {
		err := inv.verify(ctx, "replica removal", replicaError(sel), func(ctx context.Context) (bool, string, error) {
			r, ok, err := inv.replicaState(ctx, sel)
			if err != nil {
				return false, "", err
			}
			if !ok {
				return true, "gone", nil
			}
			return r.Status == cluster.ReplicaDropped, r.String(), nil
		})
		if err != nil {
			return ReplicaResult{}, err
		}
	}
	return ReplicaResult{Replica: sel}, nil
}
