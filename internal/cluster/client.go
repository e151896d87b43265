package cluster

import (
	"context"
	"time"
)

// Client is the cluster-management connection. Every operation takes a
// per-call timeout in addition to ctx and fails with *Error. Implementations
// must be safe for concurrent use.
type Client interface {
	QueryClient
	ManagementClient
	FaultClient
}

// QueryClient reads cluster state
type QueryClient interface {
	GetNodeList(ctx context.Context, timeout time.Duration) ([]Node, error)
	GetApplicationList(ctx context.Context, timeout time.Duration) ([]Application, error)
	GetServiceList(ctx context.Context, applicationName string, timeout time.Duration) ([]Service, error)
	GetService(ctx context.Context, serviceName string, timeout time.Duration) (Service, error)
	GetPartitionList(ctx context.Context, serviceName string, timeout time.Duration) ([]Partition, error)
	GetPartition(ctx context.Context, partitionID string, timeout time.Duration) (Partition, error)
	GetReplicaList(ctx context.Context, partitionID string, timeout time.Duration) ([]Replica, error)
	GetServiceHealth(ctx context.Context, serviceName string, timeout time.Duration) (ServiceHealth, error)
	GetDeployedCodePackageList(ctx context.Context, nodeName, applicationName string, timeout time.Duration) ([]DeployedCodePackage, error)
	// GetFailoverManagerPrimary returns the node hosting the primary of the
	// system service that drives reconfiguration.
	GetFailoverManagerPrimary(ctx context.Context, timeout time.Duration) (string, error)
}

// ManagementClient changes replica, node and process state
type ManagementClient interface {
	MovePrimary(ctx context.Context, nodeName, partitionID string, ignoreConstraints bool, timeout time.Duration) error
	MoveSecondary(ctx context.Context, currentNode, newNode, partitionID string, ignoreConstraints bool, timeout time.Duration) error
	RestartReplica(ctx context.Context, nodeName, partitionID string, replicaID int64, timeout time.Duration) error
	RemoveReplica(ctx context.Context, nodeName, partitionID string, replicaID int64, force bool, timeout time.Duration) error
	RestartNode(ctx context.Context, nodeName string, instanceID int64, createDump bool, timeout time.Duration) error
	StartNode(ctx context.Context, nodeName string, instanceID int64, timeout time.Duration) error
	StopNode(ctx context.Context, nodeName string, instanceID int64, timeout time.Duration) error
	RestartDeployedCodePackage(ctx context.Context, pkg CodePackageID, instanceID int64, timeout time.Duration) error
}

// FaultClient installs and removes transport fault rules
type FaultClient interface {
	AddFaultRule(ctx context.Context, nodeName string, rule FaultRule, timeout time.Duration) error
	RemoveFaultRule(ctx context.Context, nodeName, ruleName string, timeout time.Duration) error
}

// CodePackageID identifies a code package deployed on a node
type CodePackageID struct {
	NodeName            string `json:"node_name"`
	ApplicationName     string `json:"application_name"`
	ServiceManifestName string `json:"service_manifest_name"`
	CodePackageName     string `json:"code_package_name"`
}

// Matches reports whether the deployed package is the one identified
func (id CodePackageID) Matches(p DeployedCodePackage) bool {
	return p.NodeName == id.NodeName &&
		p.ApplicationName == id.ApplicationName &&
		p.ServiceManifestName == id.ServiceManifestName &&
		p.Name == id.CodePackageName
}
