package chaos

import (
	"context"
	"fmt"
	"time"

	"cluster-chaos/internal/cluster"
	"cluster-chaos/internal/retry"
)

// nodeName resolves a NodeTarget, going through the replica selector when
// no node is named.
func (inv *Invocation) nodeName(ctx context.Context, t NodeTarget) (string, error) {
	if t.NodeName != "" {
		return t.NodeName, nil
	}
	if t.Replica == nil {
		return "", invalidParameters("node target needs a node name or a replica selector")
	}
	r, _, err := inv.resolver.ResolveReplica(ctx, *t.Replica, inv.random, inv.Request)
	if err != nil {
		return "", err
	}
	return r.NodeName, nil
}

func (inv *Invocation) node(ctx context.Context, name string) (cluster.Node, error) {
	nodes, err := query(ctx, inv, "GetNodeList", func(ctx context.Context, timeout time.Duration) ([]cluster.Node, error) {
		return inv.client.GetNodeList(ctx, timeout)
	})
	if err != nil {
		return cluster.Node{}, err
	}
	for _, n := range nodes {
		if n.Name == name {
			return n, nil
		}
	}
	return cluster.Node{}, cluster.ErrNodeNotFound(name)
}

// awaitNode polls the node until want holds
func (inv *Invocation) awaitNode(ctx context.Context, name, what string, want func(cluster.Node) bool) (cluster.Node, error) {
	var last cluster.Node
	err := inv.verify(ctx, what, &ActionError{NodeName: name}, func(ctx context.Context) (bool, string, error) {
		n, err := inv.node(ctx, name)
		if err != nil {
			return false, "", err
		}
		last = n
		return want(n), fmt.Sprintf("%s instance %d", n.Status, n.InstanceID), nil
	})
	return last, err
}

func restartNode(ctx context.Context, inv *Invocation, a *RestartNode) (NodeResult, error) {
	name, err := inv.nodeName(ctx, a.NodeTarget)
	if err != nil {
		return NodeResult{}, err
	}
	before, err := inv.node(ctx, name)
	if err != nil {
		return NodeResult{}, err
	}

	err = inv.call(ctx, "RestartNode", retry.RestartNode, func(ctx context.Context, timeout time.Duration) error {
		return inv.client.RestartNode(ctx, name, a.InstanceID, a.CreateDump, timeout)
	})
	if err != nil {
		return NodeResult{}, err
	}
	inv.Logger.ClusterEvent(ctx, "node_restarted", name, map[string]interface{}{"instance_id": before.InstanceID})

	result := NodeResult{NodeName: name, InstanceID: before.InstanceID}
	if !a.Completion.verify() {
		return result, nil
	}
	after, err := inv.awaitNode(ctx, name, "node restart", func(n cluster.Node) bool {
		return n.IsUp() && n.InstanceID > before.InstanceID
	})
	if err != nil {
		return NodeResult{}, err
	}
	result.NewInstanceID, result.Status = after.InstanceID, after.Status
	return result, nil
}

func stopNode(ctx context.Context, inv *Invocation, a *StopNode) (NodeResult, error) {
	name, err := inv.nodeName(ctx, a.NodeTarget)
	if err != nil {
		return NodeResult{}, err
	}
	before, err := inv.node(ctx, name)
	if err != nil {
		return NodeResult{}, err
	}

	err = inv.call(ctx, "StopNode", retry.StopNode, func(ctx context.Context, timeout time.Duration) error {
		return inv.client.StopNode(ctx, name, a.InstanceID, timeout)
	})
	if err != nil {
		return NodeResult{}, err
	}
	inv.Logger.ClusterEvent(ctx, "node_stopped", name, map[string]interface{}{"instance_id": before.InstanceID})

	result := NodeResult{NodeName: name, InstanceID: before.InstanceID}
	if !a.Completion.verify() {
		return result, nil
	}
	after, err := inv.awaitNode(ctx, name, "node stop", func(n cluster.Node) bool {
		return n.Status == cluster.NodeDown
	})
	if err != nil {
		return NodeResult{}, err
	}
	result.Status = after.Status
	return result, nil
}

func startNode(ctx context.Context, inv *Invocation, a *StartNode) (NodeResult, error) {
	if a.NodeName == "" {
		return NodeResult{}, invalidParameters("start node needs a node name")
	}
	before, err := inv.node(ctx, a.NodeName)
	if err != nil {
		return NodeResult{}, err
	}

	err = inv.call(ctx, "StartNode", retry.StartNode, func(ctx context.Context, timeout time.Duration) error {
		return inv.client.StartNode(ctx, a.NodeName, a.InstanceID, timeout)
	})
	if err != nil {
		return NodeResult{}, err
	}
	inv.Logger.ClusterEvent(ctx, "node_started", a.NodeName, map[string]interface{}{"instance_id": before.InstanceID})

	result := NodeResult{NodeName: a.NodeName, InstanceID: before.InstanceID}
	if !a.Completion.verify() {
		return result, nil
	}
	// a node that was already up keeps its instance
	wasUp := before.IsUp()
	after, err := inv.awaitNode(ctx, a.NodeName, "node start", func(n cluster.Node) bool {
		return n.IsUp() && (wasUp || n.InstanceID > before.InstanceID)
	})
	if err != nil {
		return NodeResult{}, err
	}
	result.NewInstanceID, result.Status = after.InstanceID, after.Status
	return result, nil
}
