package chaos

import (
	"context"
	"time"

	"cluster-chaos/internal/cluster"
	"cluster-chaos/internal/retry"
)

// TargetResolver turns selectors into concrete identities. Handlers resolve
// once per invocation and reuse the result.
type TargetResolver interface {
	ResolvePartition(ctx context.Context, sel PartitionSelector, rnd Random, timeout time.Duration) (Resolution, error)
	ResolveReplica(ctx context.Context, sel ReplicaSelector, rnd Random, timeout time.Duration) (SelectedReplica, Resolution, error)
}

// BasicResolver resolves by service name, partition ID, replica ID and role.
// Calls are bounded by ctx; timeout applies to each query.
type BasicResolver struct {
	client cluster.QueryClient
	retry  *retry.Executor
}

func NewResolver(client cluster.QueryClient, exec *retry.Executor) *BasicResolver {
	return &BasicResolver{client: client, retry: exec}
}

func (r *BasicResolver) ResolvePartition(ctx context.Context, sel PartitionSelector, rnd Random, timeout time.Duration) (Resolution, error) {
	if sel.ServiceName == "" && sel.PartitionID == "" {
		return Resolution{}, invalidParameters("partition selector needs a service name or partition id")
	}

	var partition cluster.Partition
	if sel.PartitionID != "" {
		p, err := retry.Execute(ctx, r.retry, "GetPartition", retry.Default, 0, func(ctx context.Context) (cluster.Partition, error) {
			return r.client.GetPartition(ctx, sel.PartitionID, timeout)
		})
		if err != nil {
			return Resolution{}, err
		}
		if sel.ServiceName != "" && p.ServiceName != sel.ServiceName {
			return Resolution{}, invalidParameters("partition %s belongs to %s, not %s", p.ID, p.ServiceName, sel.ServiceName)
		}
		partition = p
	} else {
		ps, err := retry.Execute(ctx, r.retry, "GetPartitionList", retry.Default, 0, func(ctx context.Context) ([]cluster.Partition, error) {
			return r.client.GetPartitionList(ctx, sel.ServiceName, timeout)
		})
		if err != nil {
			return Resolution{}, err
		}
		if len(ps) == 0 {
			return Resolution{}, cluster.ErrPartitionNotFound("any partition of " + sel.ServiceName)
		}
		partition = ps[rnd.Intn(len(ps))]
	}

	svc, err := retry.Execute(ctx, r.retry, "GetService", retry.Default, 0, func(ctx context.Context) (cluster.Service, error) {
		return r.client.GetService(ctx, partition.ServiceName, timeout)
	})
	if err != nil {
		return Resolution{}, err
	}

	replicas, err := retry.Execute(ctx, r.retry, "GetReplicaList", retry.Default, 0, func(ctx context.Context) ([]cluster.Replica, error) {
		return r.client.GetReplicaList(ctx, partition.ID, timeout)
	})
	if err != nil {
		return Resolution{}, err
	}

	return Resolution{
		Partition: SelectedPartition{
			PartitionID:       partition.ID,
			ServiceName:       svc.Name,
			Kind:              svc.Kind,
			HasPersistedState: svc.HasPersistedState,
		},
		Replicas: replicas,
	}, nil
}

func (r *BasicResolver) ResolveReplica(ctx context.Context, sel ReplicaSelector, rnd Random, timeout time.Duration) (SelectedReplica, Resolution, error) {
	res, err := r.ResolvePartition(ctx, sel.PartitionSelector, rnd, timeout)
	if err != nil {
		return SelectedReplica{}, Resolution{}, err
	}

	replica, ok := pickReplica(res.Replicas, sel, rnd)
	if !ok {
		if sel.ReplicaID != 0 {
			return SelectedReplica{}, res, cluster.ErrReplicaNotFound(res.Partition.PartitionID, sel.ReplicaID)
		}
		return SelectedReplica{}, res, cluster.ErrNotReady("partition %s has no %s replica", res.Partition.PartitionID, roleName(sel.Role))
	}

	return SelectedReplica{
		Partition:  res.Partition,
		ReplicaID:  replica.ID,
		NodeName:   replica.NodeName,
		Role:       replica.Role,
		InstanceID: replica.InstanceID,
	}, res, nil
}

func roleName(f ReplicaRoleFilter) string {
	if f == AnyReplica {
		return "live"
	}
	return string(f)
}

func pickReplica(replicas []cluster.Replica, sel ReplicaSelector, rnd Random) (cluster.Replica, bool) {
	var candidates []cluster.Replica
	for _, r := range replicas {
		if r.Status == cluster.ReplicaDropped {
			continue
		}
		switch {
		case sel.ReplicaID != 0:
			if r.ID == sel.ReplicaID {
				return r, true
			}
		case sel.Role == PrimaryReplica:
			if r.Role == cluster.RolePrimary {
				return r, true
			}
		case sel.Role == SecondaryReplica:
			if r.Role == cluster.RoleActiveSecondary {
				candidates = append(candidates, r)
			}
		default:
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return cluster.Replica{}, false
	}
	return candidates[rnd.Intn(len(candidates))], true
}

func resolvePartition(ctx context.Context, inv *Invocation, a *ResolvePartition) (Resolution, error) {
	return inv.resolver.ResolvePartition(ctx, a.Selector, inv.random, inv.Request)
}

// resolve runs ResolvePartition as a sub-action
func (inv *Invocation) resolve(ctx context.Context, sel PartitionSelector) (Resolution, error) {
	res, err := inv.Sub(ctx, &ResolvePartition{Selector: sel})
	if err != nil {
		return Resolution{}, err
	}
	return res.(Resolution), nil
}

// refresh re-reads the replica set of p
func (inv *Invocation) refresh(ctx context.Context, p SelectedPartition) ([]cluster.Replica, error) {
	return query(ctx, inv, "GetReplicaList", func(ctx context.Context, timeout time.Duration) ([]cluster.Replica, error) {
		return inv.client.GetReplicaList(ctx, p.PartitionID, timeout)
	})
}

// stable returns the Ready replicas, primary first
func stable(replicas []cluster.Replica) []cluster.Replica {
	var primary, rest []cluster.Replica
	for _, r := range replicas {
		if !r.IsStable() {
			continue
		}
		if r.Role == cluster.RolePrimary {
			primary = append(primary, r)
		} else {
			rest = append(rest, r)
		}
	}
	return append(primary, rest...)
}
