package chaos

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"cluster-chaos/internal/cluster"
	"cluster-chaos/internal/faults"
	"cluster-chaos/internal/retry"
)

// removeReplicaPolicy treats a replica that is already gone as removed
var removeReplicaPolicy = retry.Default.With("remove_replica",
	retry.SuccessCodes(cluster.CodeReplicaNotFound),
)

// selectDataLossTargets picks the stable replicas whose removal loses the
// partition's data. Full mode takes all of them; partial mode takes the
// primary plus a write quorum of the stable set minus one secondaries.
func selectDataLossTargets(replicas []cluster.Replica, mode DataLossMode) ([]cluster.Replica, error) {
	st := stable(replicas)
	if len(st) == 0 {
		return nil, cluster.ErrNotReady("partition has no ready replica")
	}

	switch mode {
	case FullDataLoss:
		return st, nil
	case PartialDataLoss, "":
	default:
		return nil, invalidParameters("unknown data loss mode %q", mode)
	}

	var targets []cluster.Replica
	secondaries := cluster.WriteQuorumSize(len(st)) - 1
	for _, r := range st {
		if r.Role == cluster.RolePrimary {
			targets = append(targets, r)
			continue
		}
		if secondaries > 0 {
			targets = append(targets, r)
			secondaries--
		}
	}
	return targets, nil
}

func induceDataLoss(ctx context.Context, inv *Invocation, a *InduceDataLoss) (DataLossResult, error) {
	res, err := inv.resolve(ctx, a.Partition)
	if err != nil {
		return DataLossResult{}, err
	}
	p := res.Partition
	if p.Kind != cluster.Stateful {
		return DataLossResult{}, newActionError(CodeInvalidServiceKind, p, "data loss needs a stateful service")
	}
	if !p.HasPersistedState {
		return DataLossResult{}, newActionError(CodeNotPersisted, p, "service keeps no persisted state to lose")
	}

	unlock, err := inv.lockPartition(ctx, p)
	if err != nil {
		return DataLossResult{}, err
	}
	defer unlock(ctx)

	before, err := inv.dataLossNumber(ctx, p)
	if err != nil {
		return DataLossResult{}, err
	}
	inv.Logger.InfoContext(ctx, "Inducing data loss", "partition_id", p.PartitionID, "mode", a.Mode, "data_loss_number", before)

	result := DataLossResult{Partition: p, Before: before}
	replicas := res.Replicas
	for attempt := 1; ; attempt++ {
		result.Attempts = attempt

		removed, err := inv.blockAndRemove(ctx, p, replicas, a.Mode)
		result.Removed = append(result.Removed, removed...)
		if err != nil {
			return DataLossResult{}, err
		}

		after, changed, err := inv.awaitDataLoss(ctx, p, before)
		if err != nil {
			return DataLossResult{}, err
		}
		if changed {
			result.After = after
			inv.Logger.ClusterEvent(ctx, "data_loss_observed", p.PartitionID, map[string]interface{}{
				"before":   before,
				"after":    after,
				"attempts": attempt,
			})
			return result, nil
		}

		if limit := inv.timing.DataLossMaxAttempts; limit > 0 && attempt >= limit {
			return DataLossResult{}, newActionError(CodePostconditionTimeout, p,
				"data loss number still %d after %d attempts", before, attempt)
		}
		if inv.Budget.Expired() {
			return DataLossResult{}, newActionError(CodePostconditionTimeout, p,
				"data loss number still %d when the action deadline passed", before)
		}
		inv.Logger.WarnContext(ctx, "Data loss not observed, trying again", "partition_id", p.PartitionID, "attempt", attempt)

		if replicas, err = inv.refresh(ctx, p); err != nil {
			return DataLossResult{}, err
		}
	}
}

// blockAndRemove blocks reconfiguration of p on the failover manager's
// primary and removes the target replicas while it is blocked. The block
// is lifted before returning on every path.
func (inv *Invocation) blockAndRemove(ctx context.Context, p SelectedPartition, replicas []cluster.Replica, mode DataLossMode) ([]cluster.Replica, error) {
	targets, err := selectDataLossTargets(replicas, mode)
	if err != nil {
		return nil, err
	}

	fm, err := query(ctx, inv, "GetFailoverManagerPrimary", func(ctx context.Context, timeout time.Duration) (string, error) {
		return inv.client.GetFailoverManagerPrimary(ctx, timeout)
	})
	if err != nil {
		return nil, err
	}

	scope := inv.faults.NewScope()
	defer inv.release(ctx, scope)

	rule := faults.BlockReconfiguration(p.PartitionID)
	if err := scope.Install(ctx, fm, rule, inv.Budget.Remaining()); err != nil {
		return nil, err
	}
	if err := inv.sleep(ctx, inv.timing.RulePropagation); err != nil {
		return nil, err
	}

	var removed []cluster.Replica
	for _, r := range targets {
		err := inv.step(ctx, "remove_replica", func(ctx context.Context) error {
			return inv.call(ctx, "RemoveReplica", removeReplicaPolicy, func(ctx context.Context, timeout time.Duration) error {
				return inv.client.RemoveReplica(ctx, r.NodeName, p.PartitionID, r.ID, false, timeout)
			})
		}, attribute.String("node", r.NodeName), attribute.Int64("replica_id", r.ID))
		if err != nil {
			return removed, err
		}
		removed = append(removed, r)
		inv.Logger.ClusterEvent(ctx, "replica_removed", r.NodeName, map[string]interface{}{
			"partition_id": p.PartitionID,
			"replica_id":   r.ID,
			"role":         r.Role,
		})
	}

	// lifting the block lets the failover manager commit the shrunken
	// configuration, which is where the data goes
	if err := scope.Release(ctx, fm, rule.Name, inv.Budget.Remaining()); err != nil {
		return removed, err
	}
	return removed, nil
}

func (inv *Invocation) dataLossNumber(ctx context.Context, p SelectedPartition) (int64, error) {
	partition, err := query(ctx, inv, "GetPartition", func(ctx context.Context, timeout time.Duration) (cluster.Partition, error) {
		return inv.client.GetPartition(ctx, p.PartitionID, timeout)
	})
	if err != nil {
		return 0, err
	}
	return partition.DataLossNumber, nil
}

// awaitDataLoss polls a bounded number of times for the data loss number
// to move away from before.
func (inv *Invocation) awaitDataLoss(ctx context.Context, p SelectedPartition, before int64) (int64, bool, error) {
	attempts := inv.timing.DataLossPollAttempts
	if attempts < 1 {
		attempts = 1
	}

	current := before
	for i := 0; i < attempts; i++ {
		n, err := inv.dataLossNumber(ctx, p)
		if err != nil {
			if inv.deadlineHit(ctx, err) {
				return current, false, nil
			}
			return 0, false, err
		}
		current = n
		if n != before {
			return n, true, nil
		}
		if i == attempts-1 || inv.Budget.Expired() {
			break
		}
		if err := inv.sleep(ctx, inv.timing.DataLossPollInterval); err != nil {
			if inv.deadlineHit(ctx, err) {
				break
			}
			return 0, false, err
		}
	}
	return current, false, nil
}
