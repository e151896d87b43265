package chaos

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"cluster-chaos/internal/cluster"
	"cluster-chaos/internal/retry"
)

// restartTargets returns the replicas RestartPartition acts on
func restartTargets(p SelectedPartition, replicas []cluster.Replica, mode RestartPartitionMode) ([]cluster.Replica, error) {
	switch mode {
	case AllReplicasOrInstances, "":
	case OnlyActiveSecondaries:
		if p.Kind != cluster.Stateful {
			return nil, newActionError(CodeInvalidServiceKind, p, "%s applies to stateful services only", mode)
		}
	default:
		return nil, invalidParameters("unknown restart partition mode %q", mode)
	}

	var targets []cluster.Replica
	for _, r := range replicas {
		if r.Status == cluster.ReplicaDropped {
			continue
		}
		if mode == OnlyActiveSecondaries && r.Role != cluster.RoleActiveSecondary {
			continue
		}
		targets = append(targets, r)
	}
	return targets, nil
}

// restartPartition restarts every replica of a stateful partition, or
// removes every instance of a stateless one so it is recreated.
func restartPartition(ctx context.Context, inv *Invocation, a *RestartPartition) (RestartPartitionResult, error) {
	res, err := inv.resolve(ctx, a.Partition)
	if err != nil {
		return RestartPartitionResult{}, err
	}
	p := res.Partition

	targets, err := restartTargets(p, res.Replicas, a.Mode)
	if err != nil {
		return RestartPartitionResult{}, err
	}

	unlock, err := inv.lockPartition(ctx, p)
	if err != nil {
		return RestartPartitionResult{}, err
	}
	defer unlock(ctx)

	result := RestartPartitionResult{Partition: p}
	for _, r := range targets {
		err := inv.step(ctx, "restart_replica", func(ctx context.Context) error {
			if p.Kind == cluster.Stateless {
				return inv.call(ctx, "RemoveReplica", removeReplicaPolicy, func(ctx context.Context, timeout time.Duration) error {
					return inv.client.RemoveReplica(ctx, r.NodeName, p.PartitionID, r.ID, false, timeout)
				})
			}
			return inv.call(ctx, "RestartReplica", retry.Default, func(ctx context.Context, timeout time.Duration) error {
				return inv.client.RestartReplica(ctx, r.NodeName, p.PartitionID, r.ID, timeout)
			})
		}, attribute.String("node", r.NodeName), attribute.Int64("replica_id", r.ID))
		if err != nil {
			return RestartPartitionResult{}, err
		}
		result.Affected = append(result.Affected, r)
	}

	inv.Logger.InfoContext(ctx, "Partition restarted", "partition_id", p.PartitionID, "kind", p.Kind, "affected", len(result.Affected))
	return result, nil
}
