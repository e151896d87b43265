package sim

import (
	"context"
	"time"

	"cluster-chaos/internal/cluster"
)

func (c *Cluster) stateful(partitionID string) (*partition, error) {
	p, ok := c.partitions[partitionID]
	if !ok {
		return nil, cluster.ErrPartitionNotFound(partitionID)
	}
	if p.Kind != cluster.Stateful {
		return nil, cluster.NewError(cluster.KindInvalidOperation, cluster.CodeInvalidServiceKind, "partition %s belongs to a stateless service", partitionID)
	}
	return p, nil
}

func (c *Cluster) upNode(name string) (*cluster.Node, error) {
	n, ok := c.nodes[name]
	if !ok {
		return nil, cluster.ErrNodeNotFound(name)
	}
	if !n.IsUp() {
		return nil, cluster.NewError(cluster.KindInvalidOperation, cluster.CodeInvalidNode, "node %s is %s", name, n.Status)
	}
	return n, nil
}

func (c *Cluster) MovePrimary(ctx context.Context, nodeName, partitionID string, _ bool, _ time.Duration) error {
	if err := c.enter(ctx, "MovePrimary"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	p, err := c.stateful(partitionID)
	if err != nil {
		return err
	}
	if _, err := c.upNode(nodeName); err != nil {
		return err
	}

	var current, target *cluster.Replica
	for _, r := range p.replicas {
		if r.Status == cluster.ReplicaDropped {
			continue
		}
		if r.Role == cluster.RolePrimary {
			current = r
		}
		if r.NodeName == nodeName {
			target = r
		}
	}
	if current == nil {
		return cluster.ErrNotReady("partition %s has no primary", partitionID)
	}
	if current.NodeName == nodeName {
		return cluster.NewError(cluster.KindInvalidOperation, cluster.CodeAlreadyPrimaryReplica, "primary of %s is already on %s", partitionID, nodeName).
			WithInner(&cluster.NativeError{Code: cluster.NativeAlreadyPrimaryReplica})
	}

	if target != nil {
		if target.Status != cluster.ReplicaReady {
			return cluster.NewError(cluster.KindInvalidOperation, cluster.CodeInvalidReplicaState, "replica on %s is %s", nodeName, target.Status)
		}
		target.Role, current.Role = cluster.RolePrimary, cluster.RoleActiveSecondary
	} else {
		// no replica on the destination: build one there and retire the old primary
		current.Status = cluster.ReplicaDropped
		p.replicas = append(p.replicas, &cluster.Replica{
			ID:         c.newID(),
			NodeName:   nodeName,
			Role:       cluster.RolePrimary,
			Status:     cluster.ReplicaReady,
			InstanceID: c.newID(),
		})
	}
	p.ConfigurationNumber++
	c.recompute(p)
	return nil
}

func (c *Cluster) MoveSecondary(ctx context.Context, currentNode, newNode, partitionID string, _ bool, _ time.Duration) error {
	if err := c.enter(ctx, "MoveSecondary"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	p, err := c.stateful(partitionID)
	if err != nil {
		return err
	}
	if _, err := c.upNode(newNode); err != nil {
		return err
	}

	var source *cluster.Replica
	for _, r := range replicasOn(p, currentNode) {
		if r.Role == cluster.RoleActiveSecondary {
			source = r
		}
	}
	if source == nil {
		return cluster.NewError(cluster.KindInvalidOperation, cluster.CodeInvalidReplicaState, "no secondary of %s on %s", partitionID, currentNode)
	}
	if existing := replicasOn(p, newNode); len(existing) > 0 {
		if existing[0].Role == cluster.RolePrimary {
			return cluster.NewError(cluster.KindInvalidOperation, cluster.CodeAlreadyPrimaryReplica, "primary of %s is on %s", partitionID, newNode)
		}
		return cluster.NewError(cluster.KindInvalidOperation, cluster.CodeAlreadySecondaryReplica, "secondary of %s is already on %s", partitionID, newNode).
			WithInner(&cluster.NativeError{Code: cluster.NativeAlreadySecondaryReplica})
	}

	source.Status = cluster.ReplicaDropped
	p.replicas = append(p.replicas, &cluster.Replica{
		ID:         c.newID(),
		NodeName:   newNode,
		Role:       cluster.RoleActiveSecondary,
		Status:     cluster.ReplicaReady,
		InstanceID: c.newID(),
	})
	p.ConfigurationNumber++
	c.recompute(p)
	return nil
}

func (c *Cluster) findReplica(nodeName, partitionID string, replicaID int64) (*partition, *cluster.Replica, error) {
	if _, ok := c.nodes[nodeName]; !ok {
		return nil, nil, cluster.ErrNodeNotFound(nodeName)
	}
	p, ok := c.partitions[partitionID]
	if !ok {
		return nil, nil, cluster.ErrPartitionNotFound(partitionID)
	}
	for _, r := range p.replicas {
		if r.ID == replicaID && r.NodeName == nodeName && r.Status != cluster.ReplicaDropped {
			return p, r, nil
		}
	}
	return nil, nil, cluster.ErrReplicaNotFound(partitionID, replicaID)
}

func (c *Cluster) RestartReplica(ctx context.Context, nodeName, partitionID string, replicaID int64, _ time.Duration) error {
	if err := c.enter(ctx, "RestartReplica"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	p, r, err := c.findReplica(nodeName, partitionID, replicaID)
	if err != nil {
		return err
	}
	c.reopen(p, r)
	c.recompute(p)
	return nil
}

func (c *Cluster) RemoveReplica(ctx context.Context, nodeName, partitionID string, replicaID int64, _ bool, _ time.Duration) error {
	if err := c.enter(ctx, "RemoveReplica"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	p, r, err := c.findReplica(nodeName, partitionID, replicaID)
	if err != nil {
		return err
	}

	r.Status = cluster.ReplicaDropped
	if p.Kind == cluster.Stateful && c.reconfigurationBlocked(p.ID) {
		p.pendingRebuild = true
		c.recompute(p)
		return nil
	}
	c.rebuild(p)
	return nil
}

func (c *Cluster) checkInstance(n *cluster.Node, instanceID int64) error {
	if instanceID != 0 && instanceID != n.InstanceID {
		return cluster.NewError(cluster.KindArgument, cluster.CodeInstanceIDMismatch, "node %s has instance %d, not %d", n.Name, n.InstanceID, instanceID)
	}
	return nil
}

// cycleNode restarts everything hosted on a node that just came up
func (c *Cluster) cycleNode(name string) {
	for _, p := range c.partitions {
		changed := false
		for _, r := range replicasOn(p, name) {
			c.reopen(p, r)
			changed = true
		}
		if changed {
			c.recompute(p)
		}
	}
	for _, pkg := range c.packages {
		if pkg.NodeName == name {
			pkg.EntryPoint = cluster.EntryPoint{Status: cluster.EntryPointStarted, InstanceID: c.newID()}
		}
	}
}

func (c *Cluster) RestartNode(ctx context.Context, nodeName string, instanceID int64, _ bool, _ time.Duration) error {
	if err := c.enter(ctx, "RestartNode"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	n, err := c.upNode(nodeName)
	if err != nil {
		return err
	}
	if err := c.checkInstance(n, instanceID); err != nil {
		return err
	}

	n.InstanceID = c.newID()
	c.cycleNode(nodeName)
	return nil
}

func (c *Cluster) StopNode(ctx context.Context, nodeName string, instanceID int64, _ time.Duration) error {
	if err := c.enter(ctx, "StopNode"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.nodes[nodeName]
	if !ok {
		return cluster.ErrNodeNotFound(nodeName)
	}
	if err := c.checkInstance(n, instanceID); err != nil {
		return err
	}
	if !n.IsUp() {
		return cluster.NewError(cluster.KindInvalidOperation, cluster.CodeUnknown, "node %s is already stopped", nodeName).
			WithInner(&cluster.NativeError{Code: cluster.NativeNodeAlreadyStopped})
	}

	n.Status = cluster.NodeDown
	for _, p := range c.partitions {
		rs := replicasOn(p, nodeName)
		for _, r := range rs {
			r.Status = cluster.ReplicaDown
		}
		if len(rs) > 0 {
			c.recompute(p)
		}
	}
	for _, pkg := range c.packages {
		if pkg.NodeName == nodeName {
			pkg.EntryPoint.Status = cluster.EntryPointStopped
		}
	}
	return nil
}

func (c *Cluster) StartNode(ctx context.Context, nodeName string, instanceID int64, _ time.Duration) error {
	if err := c.enter(ctx, "StartNode"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.nodes[nodeName]
	if !ok {
		return cluster.ErrNodeNotFound(nodeName)
	}
	if n.IsUp() {
		return cluster.NewError(cluster.KindInvalidOperation, cluster.CodeNodeIsUp, "node %s is already up", nodeName)
	}
	if err := c.checkInstance(n, instanceID); err != nil {
		return err
	}

	n.Status = cluster.NodeUp
	n.InstanceID = c.newID()
	c.cycleNode(nodeName)
	return nil
}

func (c *Cluster) RestartDeployedCodePackage(ctx context.Context, id cluster.CodePackageID, instanceID int64, _ time.Duration) error {
	if err := c.enter(ctx, "RestartDeployedCodePackage"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var pkg *codePackage
	for _, candidate := range c.packages {
		if id.Matches(candidate.DeployedCodePackage) {
			pkg = candidate
			break
		}
	}
	if pkg == nil {
		return cluster.NewError(cluster.KindNotFound, cluster.CodeCodePackageNotFound, "code package %s/%s not deployed on %s", id.ServiceManifestName, id.CodePackageName, id.NodeName)
	}
	if _, err := c.upNode(id.NodeName); err != nil {
		return err
	}
	if instanceID != 0 && instanceID != pkg.EntryPoint.InstanceID {
		return cluster.NewError(cluster.KindArgument, cluster.CodeInstanceIDMismatch, "code package instance is %d, not %d", pkg.EntryPoint.InstanceID, instanceID)
	}

	pkg.EntryPoint = cluster.EntryPoint{Status: cluster.EntryPointStarted, InstanceID: c.newID()}
	for _, pid := range c.services[pkg.serviceName].partitions {
		p := c.partitions[pid]
		rs := replicasOn(p, id.NodeName)
		for _, r := range rs {
			c.reopen(p, r)
		}
		if len(rs) > 0 {
			c.recompute(p)
		}
	}
	return nil
}
