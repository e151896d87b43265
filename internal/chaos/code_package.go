package chaos

import (
	"context"
	"fmt"
	"time"

	"cluster-chaos/internal/cluster"
	"cluster-chaos/internal/retry"
)

func (inv *Invocation) codePackage(ctx context.Context, id cluster.CodePackageID) (cluster.DeployedCodePackage, error) {
	pkgs, err := query(ctx, inv, "GetDeployedCodePackageList", func(ctx context.Context, timeout time.Duration) ([]cluster.DeployedCodePackage, error) {
		return inv.client.GetDeployedCodePackageList(ctx, id.NodeName, id.ApplicationName, timeout)
	})
	if err != nil {
		return cluster.DeployedCodePackage{}, err
	}
	for _, p := range pkgs {
		if id.Matches(p) {
			return p, nil
		}
	}
	return cluster.DeployedCodePackage{}, cluster.NewError(cluster.KindNotFound, cluster.CodeCodePackageNotFound,
		"code package %s/%s of %s not deployed on %s", id.ServiceManifestName, id.CodePackageName, id.ApplicationName, id.NodeName)
}

// restartDeployedCodePackage kills and restarts the process behind a code
// package, taking every replica it hosts down with it.
func restartDeployedCodePackage(ctx context.Context, inv *Invocation, a *RestartDeployedCodePackage) (CodePackageResult, error) {
	if a.ApplicationName == "" || a.ServiceManifestName == "" || a.CodePackageName == "" {
		return CodePackageResult{}, invalidParameters("code package needs application, service manifest and code package names")
	}

	node := a.NodeName
	if node == "" {
		if a.Replica == nil {
			return CodePackageResult{}, invalidParameters("code package needs a node name or a replica selector")
		}
		r, err := inv.resolveReplica(ctx, *a.Replica)
		if err != nil {
			return CodePackageResult{}, err
		}
		node = r.NodeName
	}

	id := cluster.CodePackageID{
		NodeName:            node,
		ApplicationName:     a.ApplicationName,
		ServiceManifestName: a.ServiceManifestName,
		CodePackageName:     a.CodePackageName,
	}
	before, err := inv.codePackage(ctx, id)
	if err != nil {
		return CodePackageResult{}, err
	}

	err = inv.call(ctx, "RestartDeployedCodePackage", retry.RestartCodePackage, func(ctx context.Context, timeout time.Duration) error {
		return inv.client.RestartDeployedCodePackage(ctx, id, a.InstanceID, timeout)
	})
	if err != nil {
		return CodePackageResult{}, err
	}
	inv.Logger.ClusterEvent(ctx, "code_package_restarted", node, map[string]interface{}{
		"application":  id.ApplicationName,
		"manifest":     id.ServiceManifestName,
		"code_package": id.CodePackageName,
		"instance_id":  before.EntryPoint.InstanceID,
	})

	result := CodePackageResult{CodePackage: id, InstanceID: before.EntryPoint.InstanceID}
	if !a.Completion.verify() {
		return result, nil
	}

	err = inv.verify(ctx, "code package restart", &ActionError{NodeName: node}, func(ctx context.Context) (bool, string, error) {
		p, err := inv.codePackage(ctx, id)
		if err != nil {
			return false, "", err
		}
		ep := p.EntryPoint
		result.NewInstanceID = ep.InstanceID
		return ep.Status == cluster.EntryPointStarted && ep.InstanceID > before.EntryPoint.InstanceID,
			fmt.Sprintf("%s instance %d", ep.Status, ep.InstanceID), nil
	})
	if err != nil {
		return CodePackageResult{}, err
	}
	return result, nil
}
