package sim

import (
	"context"
	"fmt"
	"time"

	"cluster-chaos/internal/cluster"
)

const healthSource = "System.FM"

func healthRank(s cluster.HealthState) int {
	switch s {
	case cluster.HealthOK:
		return 0
	case cluster.HealthWarning:
		return 1
	case cluster.HealthUnknown:
		return 2
	case cluster.HealthInvalid:
		return 3
	case cluster.HealthError:
		return 4
	default:
		return 2
	}
}

func worse(a, b cluster.HealthState) cluster.HealthState {
	if healthRank(b) > healthRank(a) {
		return b
	}
	return a
}

func (c *Cluster) GetServiceHealth(ctx context.Context, serviceName string, _ time.Duration) (cluster.ServiceHealth, error) {
	if err := c.enter(ctx, "GetServiceHealth"); err != nil {
		return cluster.ServiceHealth{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.services[serviceName]
	if !ok {
		return cluster.ServiceHealth{}, cluster.ErrServiceNotFound(serviceName)
	}

	out := cluster.ServiceHealth{ServiceName: serviceName, State: cluster.HealthOK}
	for _, ev := range c.reports[serviceName] {
		out.Events = append(out.Events, ev)
		out.State = worse(out.State, ev.State)
	}

	for _, pid := range s.partitions {
		ph := c.partitionHealth(c.partitions[pid])
		out.State = worse(out.State, ph.State)
		out.Partitions = append(out.Partitions, ph)
	}
	return out, nil
}

func (c *Cluster) partitionHealth(p *partition) cluster.PartitionHealth {
	ph := cluster.PartitionHealth{PartitionID: p.ID, State: cluster.HealthOK}

	switch p.Status {
	case cluster.PartitionReady:
	case cluster.PartitionInQuorumLoss:
		ph.Events = append(ph.Events, cluster.HealthEvent{
			SourceID:    healthSource,
			Property:    "State",
			State:       cluster.HealthError,
			Description: "partition is in quorum loss",
		})
	default:
		ph.Events = append(ph.Events, cluster.HealthEvent{
			SourceID:    healthSource,
			Property:    "State",
			State:       cluster.HealthWarning,
			Description: fmt.Sprintf("partition is %s", p.Status),
		})
	}
	ph.Events = append(ph.Events, c.reports[p.ID]...)
	for _, ev := range ph.Events {
		ph.State = worse(ph.State, ev.State)
	}

	for _, r := range p.replicas {
		if r.Status == cluster.ReplicaDropped {
			continue
		}
		rh := cluster.ReplicaHealth{ReplicaID: r.ID, State: cluster.HealthOK}
		if r.Status != cluster.ReplicaReady {
			rh.State = cluster.HealthWarning
			rh.Events = append(rh.Events, cluster.HealthEvent{
				SourceID:    healthSource,
				Property:    "State",
				State:       cluster.HealthWarning,
				Description: fmt.Sprintf("replica on %s is %s", r.NodeName, r.Status),
			})
		}
		ph.State = worse(ph.State, rh.State)
		ph.Replicas = append(ph.Replicas, rh)
	}
	return ph
}
