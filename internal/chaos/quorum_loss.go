package chaos

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"cluster-chaos/internal/cluster"
	"cluster-chaos/internal/faults"
	"cluster-chaos/internal/retry"
)

// selectQuorumLossTargets picks the stable replicas to restart, primary
// first. QuorumReplicas takes a write quorum of the replica set,
// AllReplicas every stable replica but one.
func selectQuorumLossTargets(replicas []cluster.Replica, mode QuorumLossMode) ([]cluster.Replica, error) {
	st := stable(replicas)
	if len(st) == 0 || st[0].Role != cluster.RolePrimary {
		return nil, cluster.ErrNotReady("partition has no ready primary")
	}

	var total int
	switch mode {
	case QuorumReplicas, "":
		live := 0
		for _, r := range replicas {
			if r.Status != cluster.ReplicaDropped {
				live++
			}
		}
		total = cluster.WriteQuorumSize(live)
	case AllReplicas:
		total = len(st) - 1
	default:
		return nil, invalidParameters("unknown quorum loss mode %q", mode)
	}

	if total < 1 {
		total = 1
	}
	if total > len(st) {
		total = len(st)
	}
	return st[:total], nil
}

func induceQuorumLoss(ctx context.Context, inv *Invocation, a *InduceQuorumLoss) (QuorumLossResult, error) {
	res, err := inv.resolve(ctx, a.Partition)
	if err != nil {
		return QuorumLossResult{}, err
	}
	p := res.Partition
	if p.Kind != cluster.Stateful {
		return QuorumLossResult{}, newActionError(CodeInvalidServiceKind, p, "quorum loss needs a stateful service")
	}

	unlock, err := inv.lockPartition(ctx, p)
	if err != nil {
		return QuorumLossResult{}, err
	}
	defer unlock(ctx)

	targets, err := selectQuorumLossTargets(res.Replicas, a.Mode)
	if err != nil {
		return QuorumLossResult{}, err
	}
	inv.Logger.InfoContext(ctx, "Inducing quorum loss",
		"partition_id", p.PartitionID, "mode", a.Mode, "targets", len(targets), "replicas", len(res.Replicas))

	scope := inv.faults.NewScope()
	defer inv.release(ctx, scope)

	result := QuorumLossResult{Partition: p}
	for _, r := range targets {
		err := inv.step(ctx, "restart_blocked_replica", func(ctx context.Context) error {
			if err := scope.Install(ctx, r.NodeName, faults.BlockReopen(p.PartitionID), inv.Budget.Remaining()); err != nil {
				return err
			}
			if err := inv.sleep(ctx, inv.timing.RulePropagation); err != nil {
				return err
			}
			return inv.call(ctx, "RestartReplica", retry.Default, func(ctx context.Context, timeout time.Duration) error {
				return inv.client.RestartReplica(ctx, r.NodeName, p.PartitionID, r.ID, timeout)
			})
		}, attribute.String("node", r.NodeName), attribute.Int64("replica_id", r.ID))
		if err != nil {
			return QuorumLossResult{}, err
		}
		result.Restarted = append(result.Restarted, r)
		inv.Logger.ClusterEvent(ctx, "replica_restarted", r.NodeName, map[string]interface{}{
			"partition_id": p.PartitionID,
			"replica_id":   r.ID,
			"role":         r.Role,
		})
	}

	if err := inv.sleep(ctx, a.QuorumLossDuration); err != nil {
		return QuorumLossResult{}, err
	}

	partition, err := query(ctx, inv, "GetPartition", func(ctx context.Context, timeout time.Duration) (cluster.Partition, error) {
		return inv.client.GetPartition(ctx, p.PartitionID, timeout)
	})
	if err != nil {
		return QuorumLossResult{}, err
	}
	if partition.Status != cluster.PartitionInQuorumLoss {
		return QuorumLossResult{}, newActionError(CodeQuorumLossNotObserved, p,
			"partition is %s after restarting %d replicas", partition.Status, len(result.Restarted))
	}

	inv.Logger.InfoContext(ctx, "Quorum loss observed", "partition_id", p.PartitionID, "held_for", a.QuorumLossDuration)
	return result, nil
}
