package sim

import (
	"cluster-chaos/internal/cluster"
)

// recompute derives a partition's status from its replicas, promoting a
// ready secondary when the primary is gone and a write quorum remains.
func (c *Cluster) recompute(p *partition) {
	if p.Kind == cluster.Stateless {
		p.Status = cluster.PartitionNotReady
		for _, r := range p.replicas {
			if r.Status == cluster.ReplicaReady {
				p.Status = cluster.PartitionReady
				break
			}
		}
		return
	}

	active := 0
	ready := 0
	var primary *cluster.Replica
	var candidate *cluster.Replica
	for _, r := range p.replicas {
		if r.Status == cluster.ReplicaDropped {
			continue
		}
		active++
		if r.Status != cluster.ReplicaReady {
			continue
		}
		ready++
		switch r.Role {
		case cluster.RolePrimary:
			primary = r
		case cluster.RoleActiveSecondary:
			if candidate == nil {
				candidate = r
			}
		}
	}

	quorum := cluster.WriteQuorumSize(p.configSize)
	if primary == nil && candidate != nil && ready >= quorum {
		for _, r := range p.replicas {
			if r.Role == cluster.RolePrimary && r.Status != cluster.ReplicaDropped {
				r.Role = cluster.RoleActiveSecondary
			}
		}
		candidate.Role = cluster.RolePrimary
		primary = candidate
		p.ConfigurationNumber++
	}

	switch {
	case active == 0:
		p.Status = cluster.PartitionNotReady
	case primary != nil && ready >= quorum:
		p.Status = cluster.PartitionReady
	default:
		p.Status = cluster.PartitionInQuorumLoss
	}
}

// blocked reports whether a rule on node drops messageType for partitionID
func (c *Cluster) blocked(node, messageType, partitionID string) bool {
	for _, r := range c.rules[node] {
		if r.MessageType != messageType {
			continue
		}
		if r.PartitionID == "" || r.PartitionID == partitionID {
			return true
		}
	}
	return false
}

func (c *Cluster) reconfigurationBlocked(partitionID string) bool {
	return c.blocked(c.fmPrimary, cluster.MessageDoReconfiguration, partitionID)
}

// reopen brings a replica back after a restart unless its node is down or
// a rule on its node blocks the reopen.
func (c *Cluster) reopen(p *partition, r *cluster.Replica) {
	if r.Status == cluster.ReplicaDropped {
		return
	}
	node := c.nodes[r.NodeName]
	if node == nil || !node.IsUp() {
		r.Status = cluster.ReplicaDown
		return
	}
	if p.Kind == cluster.Stateful && c.blocked(r.NodeName, cluster.MessageStatefulServiceReopen, p.ID) {
		r.Status = cluster.ReplicaDown
		return
	}
	r.Status = cluster.ReplicaReady
	r.InstanceID = c.newID()
}

// rebuild commits a new configuration after replicas were dropped. Losing a
// write quorum of the last configuration loses the partition's data.
func (c *Cluster) rebuild(p *partition) {
	p.pendingRebuild = false

	if p.Kind == cluster.Stateful {
		survivors := 0
		for _, r := range p.replicas {
			if r.Status != cluster.ReplicaDropped {
				survivors++
			}
		}
		if survivors < cluster.WriteQuorumSize(p.configSize) {
			p.DataLossNumber++
			for _, r := range p.replicas {
				r.Status = cluster.ReplicaDropped
			}
		}
	}

	c.refill(p)
	p.ConfigurationNumber++
}

// refill builds replacement replicas on up nodes that host none for p
func (c *Cluster) refill(p *partition) {
	s := c.services[p.ServiceName]
	want := s.TargetCount()
	up := c.upNodes()
	if want == cluster.AllNodes || want > len(up) {
		want = len(up)
	}

	hosting := map[string]bool{}
	active := 0
	for _, r := range p.replicas {
		if r.Status != cluster.ReplicaDropped {
			hosting[r.NodeName] = true
			active++
		}
	}

	var free []string
	for _, n := range up {
		if !hosting[n] {
			free = append(free, n)
		}
	}
	c.rng.Shuffle(len(free), func(i, j int) { free[i], free[j] = free[j], free[i] })

	for _, n := range free {
		if active >= want {
			break
		}
		role := cluster.RoleNone
		if p.Kind == cluster.Stateful {
			role = cluster.RoleActiveSecondary
		}
		p.replicas = append(p.replicas, &cluster.Replica{
			ID:         c.newID(),
			NodeName:   n,
			Role:       role,
			Status:     cluster.ReplicaReady,
			InstanceID: c.newID(),
		})
		active++
	}

	p.configSize = active
	c.recompute(p)
}

// afterRuleRemoved replays what the removed rule was holding back
func (c *Cluster) afterRuleRemoved(node string, rule cluster.FaultRule) {
	switch rule.MessageType {
	case cluster.MessageStatefulServiceReopen:
		for _, p := range c.partitions {
			if rule.PartitionID != "" && rule.PartitionID != p.ID {
				continue
			}
			changed := false
			for _, r := range p.replicas {
				if r.NodeName == node && r.Status == cluster.ReplicaDown {
					c.reopen(p, r)
					changed = true
				}
			}
			if changed {
				c.recompute(p)
			}
		}
	case cluster.MessageDoReconfiguration:
		if node != c.fmPrimary {
			return
		}
		for _, p := range c.partitions {
			if p.pendingRebuild && !c.reconfigurationBlocked(p.ID) {
				c.rebuild(p)
			}
		}
	}
}

// replicasOn returns p's non-dropped replicas hosted on node
func replicasOn(p *partition, node string) []*cluster.Replica {
	var out []*cluster.Replica
	for _, r := range p.replicas {
		if r.NodeName == node && r.Status != cluster.ReplicaDropped {
			out = append(out, r)
		}
	}
	return out
}
