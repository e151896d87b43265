package sim

import (
	"context"
	"time"

	"cluster-chaos/internal/cluster"
)

var _ cluster.Client = (*Cluster)(nil)

func (c *Cluster) GetNodeList(ctx context.Context, _ time.Duration) ([]cluster.Node, error) {
	if err := c.enter(ctx, "GetNodeList"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]cluster.Node, 0, len(c.nodeOrder))
	for _, name := range c.nodeOrder {
		out = append(out, *c.nodes[name])
	}
	return out, nil
}

func (c *Cluster) GetApplicationList(ctx context.Context, _ time.Duration) ([]cluster.Application, error) {
	if err := c.enter(ctx, "GetApplicationList"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]cluster.Application, 0, len(c.appOrder))
	for _, name := range c.appOrder {
		out = append(out, c.apps[name])
	}
	return out, nil
}

func (c *Cluster) GetServiceList(ctx context.Context, applicationName string, _ time.Duration) ([]cluster.Service, error) {
	if err := c.enter(ctx, "GetServiceList"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.apps[applicationName]; !ok {
		return nil, cluster.NewError(cluster.KindNotFound, cluster.CodeApplicationNotFound, "application %q not found", applicationName)
	}
	var out []cluster.Service
	for _, name := range c.serviceOrder {
		if s := c.services[name]; s.ApplicationName == applicationName {
			out = append(out, s.Service)
		}
	}
	return out, nil
}

func (c *Cluster) GetService(ctx context.Context, serviceName string, _ time.Duration) (cluster.Service, error) {
	if err := c.enter(ctx, "GetService"); err != nil {
		return cluster.Service{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.services[serviceName]
	if !ok {
		return cluster.Service{}, cluster.ErrServiceNotFound(serviceName)
	}
	return s.Service, nil
}

func (c *Cluster) GetPartitionList(ctx context.Context, serviceName string, _ time.Duration) ([]cluster.Partition, error) {
	if err := c.enter(ctx, "GetPartitionList"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.services[serviceName]
	if !ok {
		return nil, cluster.ErrServiceNotFound(serviceName)
	}
	out := make([]cluster.Partition, 0, len(s.partitions))
	for _, id := range s.partitions {
		out = append(out, c.partitions[id].Partition)
	}
	return out, nil
}

func (c *Cluster) GetPartition(ctx context.Context, partitionID string, _ time.Duration) (cluster.Partition, error) {
	if err := c.enter(ctx, "GetPartition"); err != nil {
		return cluster.Partition{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.partitions[partitionID]
	if !ok {
		return cluster.Partition{}, cluster.ErrPartitionNotFound(partitionID)
	}
	return p.Partition, nil
}

func (c *Cluster) GetReplicaList(ctx context.Context, partitionID string, _ time.Duration) ([]cluster.Replica, error) {
	if err := c.enter(ctx, "GetReplicaList"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.partitions[partitionID]
	if !ok {
		return nil, cluster.ErrPartitionNotFound(partitionID)
	}
	out := make([]cluster.Replica, 0, len(p.replicas))
	for _, r := range p.replicas {
		out = append(out, *r)
	}
	return out, nil
}

func (c *Cluster) GetDeployedCodePackageList(ctx context.Context, nodeName, applicationName string, _ time.Duration) ([]cluster.DeployedCodePackage, error) {
	if err := c.enter(ctx, "GetDeployedCodePackageList"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.nodes[nodeName]; !ok {
		return nil, cluster.ErrNodeNotFound(nodeName)
	}
	var out []cluster.DeployedCodePackage
	for _, pkg := range c.packages {
		if pkg.NodeName == nodeName && pkg.ApplicationName == applicationName {
			out = append(out, pkg.DeployedCodePackage)
		}
	}
	return out, nil
}

func (c *Cluster) GetFailoverManagerPrimary(ctx context.Context, _ time.Duration) (string, error) {
	if err := c.enter(ctx, "GetFailoverManagerPrimary"); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fmPrimary, nil
}

func (c *Cluster) AddFaultRule(ctx context.Context, nodeName string, rule cluster.FaultRule, _ time.Duration) error {
	if err := c.enter(ctx, "AddFaultRule"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.nodes[nodeName]; !ok {
		return cluster.ErrNodeNotFound(nodeName)
	}
	if c.rules[nodeName] == nil {
		c.rules[nodeName] = map[string]cluster.FaultRule{}
	}
	if _, ok := c.rules[nodeName][rule.Name]; ok {
		return cluster.NewError(cluster.KindInvalidOperation, cluster.CodeFaultRuleAlreadyExist, "fault rule %q already exists on node %s", rule.Name, nodeName)
	}
	c.rules[nodeName][rule.Name] = rule
	return nil
}

func (c *Cluster) RemoveFaultRule(ctx context.Context, nodeName, ruleName string, _ time.Duration) error {
	if err := c.enter(ctx, "RemoveFaultRule"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	rule, ok := c.rules[nodeName][ruleName]
	if !ok {
		return cluster.ErrFaultRuleNotFound(nodeName, ruleName)
	}
	delete(c.rules[nodeName], ruleName)
	c.afterRuleRemoved(nodeName, rule)
	return nil
}
