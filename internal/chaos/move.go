package chaos

import (
	"context"
	"time"

	"cluster-chaos/internal/cluster"
	"cluster-chaos/internal/retry"
)

func movePrimary(ctx context.Context, inv *Invocation, a *MovePrimary) (MoveResult, error) {
	res, err := inv.resolve(ctx, a.Partition)
	if err != nil {
		return MoveResult{}, err
	}
	p := res.Partition
	if p.Kind != cluster.Stateful {
		return MoveResult{}, newActionError(CodeInvalidServiceKind, p, "stateless partitions have no primary")
	}

	primary, ok := findRole(res.Replicas, cluster.RolePrimary)
	if !ok {
		return MoveResult{}, cluster.ErrNotReady("partition %s has no primary", p.PartitionID)
	}

	target := a.NodeName
	if target == "" {
		secondaries := withRole(res.Replicas, cluster.RoleActiveSecondary)
		if len(secondaries) == 0 {
			return MoveResult{}, newActionError(CodeInvalidReplicaState, p, "no ready secondary to promote")
		}
		target = secondaries[inv.random.Intn(len(secondaries))].NodeName
	}
	if !a.IgnoreConstraints && target == primary.NodeName {
		e := newActionError(CodeAlreadyPrimaryReplica, p, "primary is already hosted there")
		e.NodeName = target
		return MoveResult{}, e
	}

	unlock, err := inv.lockPartition(ctx, p)
	if err != nil {
		return MoveResult{}, err
	}
	defer unlock(ctx)

	err = inv.call(ctx, "MovePrimary", retry.MovePrimary, func(ctx context.Context, timeout time.Duration) error {
		return inv.client.MovePrimary(ctx, target, p.PartitionID, a.IgnoreConstraints, timeout)
	})
	if err != nil {
		return MoveResult{}, err
	}

	inv.Logger.ClusterEvent(ctx, "primary_moved", p.PartitionID, map[string]interface{}{
		"from": primary.NodeName,
		"to":   target,
	})
	return MoveResult{Partition: p, CurrentNode: primary.NodeName, NewNode: target}, nil
}

func moveSecondary(ctx context.Context, inv *Invocation, a *MoveSecondary) (MoveResult, error) {
	res, err := inv.resolve(ctx, a.Partition)
	if err != nil {
		return MoveResult{}, err
	}
	p := res.Partition
	if p.Kind != cluster.Stateful {
		return MoveResult{}, newActionError(CodeInvalidServiceKind, p, "stateless partitions have no secondaries")
	}

	secondaries := withRole(res.Replicas, cluster.RoleActiveSecondary)
	source := a.CurrentNode
	switch {
	case source == "":
		if len(secondaries) == 0 {
			return MoveResult{}, newActionError(CodeInvalidReplicaState, p, "no ready secondary to move")
		}
		source = secondaries[inv.random.Intn(len(secondaries))].NodeName
	case !a.IgnoreConstraints && !hosts(secondaries, source):
		e := newActionError(CodeInvalidReplicaState, p, "no ready secondary on the source node")
		e.NodeName = source
		return MoveResult{}, e
	}

	dest := a.NewNode
	if dest == "" {
		free, err := inv.freeNodes(ctx, res.Replicas)
		if err != nil {
			return MoveResult{}, err
		}
		if len(free) == 0 {
			return MoveResult{}, newActionError(CodeInvalidReplicaState, p, "every up node already hosts a replica")
		}
		dest = free[inv.random.Intn(len(free))]
	}
	if !a.IgnoreConstraints {
		for _, r := range res.Replicas {
			if r.NodeName != dest || r.Status == cluster.ReplicaDropped {
				continue
			}
			code := CodeAlreadySecondaryReplica
			if r.Role == cluster.RolePrimary {
				code = CodeAlreadyPrimaryReplica
			}
			e := newActionError(code, p, "destination already hosts a %s replica", r.Role)
			e.NodeName = dest
			return MoveResult{}, e
		}
	}

	unlock, err := inv.lockPartition(ctx, p)
	if err != nil {
		return MoveResult{}, err
	}
	defer unlock(ctx)

	err = inv.call(ctx, "MoveSecondary", retry.MoveSecondary, func(ctx context.Context, timeout time.Duration) error {
		return inv.client.MoveSecondary(ctx, source, dest, p.PartitionID, a.IgnoreConstraints, timeout)
	})
	if err != nil {
		return MoveResult{}, err
	}

	inv.Logger.ClusterEvent(ctx, "secondary_moved", p.PartitionID, map[string]interface{}{
		"from": source,
		"to":   dest,
	})
	return MoveResult{Partition: p, CurrentNode: source, NewNode: dest}, nil
}

func findRole(replicas []cluster.Replica, role cluster.ReplicaRole) (cluster.Replica, bool) {
	for _, r := range replicas {
		if r.Role == role && r.IsStable() {
			return r, true
		}
	}
	return cluster.Replica{}, false
}

// withRole returns the ready replicas in role
func withRole(replicas []cluster.Replica, role cluster.ReplicaRole) []cluster.Replica {
	var out []cluster.Replica
	for _, r := range replicas {
		if r.Role == role && r.IsStable() {
			out = append(out, r)
		}
	}
	return out
}

func hosts(replicas []cluster.Replica, node string) bool {
	for _, r := range replicas {
		if r.NodeName == node {
			return true
		}
	}
	return false
}

// freeNodes lists up nodes hosting no live replica of the partition
func (inv *Invocation) freeNodes(ctx context.Context, replicas []cluster.Replica) ([]string, error) {
	nodes, err := query(ctx, inv, "GetNodeList", func(ctx context.Context, timeout time.Duration) ([]cluster.Node, error) {
		return inv.client.GetNodeList(ctx, timeout)
	})
	if err != nil {
		return nil, err
	}

	busy := map[string]bool{}
	for _, r := range replicas {
		if r.Status != cluster.ReplicaDropped {
			busy[r.NodeName] = true
		}
	}
	var free []string
	for _, n := range nodes {
		if n.IsUp() && !busy[n.Name] {
			free = append(free, n.Name)
		}
	}
	return free, nil
}
