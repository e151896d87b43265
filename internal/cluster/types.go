// Package cluster defines the contract between the fault-injection engine and
// the cluster it drives: the entities it queries, the errors the cluster
// raises, and the Client used to issue every remote call.
package cluster

import "fmt"

// NodeStatus is the membership state reported for a node
type NodeStatus string

const (
	NodeUp      NodeStatus = "Up"
	NodeDown    NodeStatus = "Down"
	NodeUnknown NodeStatus = "Unknown"
)

// Node is a single cluster member
type Node struct {
	Name       string     `json:"name"`
	InstanceID int64      `json:"instance_id"`
	Status     NodeStatus `json:"status"`
}

// IsUp reports whether the node participates in placement
func (n Node) IsUp() bool {
	return n.Status == NodeUp
}

// ServiceKind distinguishes replicated services from instance-based ones
type ServiceKind string

const (
	Stateful  ServiceKind = "Stateful"
	Stateless ServiceKind = "Stateless"
)

// AllNodes is the instance count of a stateless service placed on every node
const AllNodes = -1

// Service describes a deployed service
type Service struct {
	Name              string      `json:"name"`
	ApplicationName   string      `json:"application_name"`
	Kind              ServiceKind `json:"kind"`
	HasPersistedState bool        `json:"has_persisted_state"`
	PartitionCount    int         `json:"partition_count"`
	// TargetReplicaSetSize applies to stateful services.
	TargetReplicaSetSize int `json:"target_replica_set_size"`
	MinReplicaSetSize    int `json:"min_replica_set_size"`
	// InstanceCount applies to stateless services; AllNodes means one per node.
	InstanceCount int `json:"instance_count"`
}

// TargetCount returns the replica or instance count the service converges to
func (s Service) TargetCount() int {
	if s.Kind == Stateful {
		return s.TargetReplicaSetSize
	}
	return s.InstanceCount
}

// Application groups services
type Application struct {
	Name     string `json:"name"`
	TypeName string `json:"type_name"`
}

// PartitionStatus is the reconfiguration state of a partition
type PartitionStatus string

const (
	PartitionReady         PartitionStatus = "Ready"
	PartitionNotReady      PartitionStatus = "NotReady"
	PartitionInQuorumLoss  PartitionStatus = "InQuorumLoss"
	PartitionReconfiguring PartitionStatus = "Reconfiguring"
	PartitionDeleting      PartitionStatus = "Deleting"
)

// Partition is one shard of a service
type Partition struct {
	ID          string          `json:"id"`
	ServiceName string          `json:"service_name"`
	Kind        ServiceKind     `json:"kind"`
	Status      PartitionStatus `json:"status"`
	// DataLossNumber is bumped by the failover manager every time the
	// partition's persisted state is rebuilt from nothing.
	DataLossNumber      int64 `json:"data_loss_number"`
	ConfigurationNumber int64 `json:"configuration_number"`
}

// ReplicaRole is the role of a stateful replica; stateless instances report RoleNone
type ReplicaRole string

const (
	RolePrimary         ReplicaRole = "Primary"
	RoleActiveSecondary ReplicaRole = "ActiveSecondary"
	RoleIdleSecondary   ReplicaRole = "IdleSecondary"
	RoleNone            ReplicaRole = "None"
)

// ReplicaStatus is the lifecycle state of a replica or instance
type ReplicaStatus string

const (
	ReplicaReady   ReplicaStatus = "Ready"
	ReplicaInBuild ReplicaStatus = "InBuild"
	ReplicaStandby ReplicaStatus = "Standby"
	ReplicaDown    ReplicaStatus = "Down"
	ReplicaDropped ReplicaStatus = "Dropped"
)

// Replica is a read-only snapshot of one member of a partition's replica set,
// taken at query time. Callers re-query rather than cache it.
type Replica struct {
	ID         int64         `json:"id"`
	NodeName   string        `json:"node_name"`
	Role       ReplicaRole   `json:"role"`
	Status     ReplicaStatus `json:"status"`
	InstanceID int64         `json:"instance_id"`
}

// IsStable reports whether the replica is Ready
func (r Replica) IsStable() bool {
	return r.Status == ReplicaReady
}

func (r Replica) String() string {
	return fmt.Sprintf("replica %d on %s (%s, %s)", r.ID, r.NodeName, r.Role, r.Status)
}

// HealthState is an aggregated health evaluation
type HealthState string

const (
	HealthOK      HealthState = "Ok"
	HealthWarning HealthState = "Warning"
	HealthError   HealthState = "Error"
	HealthUnknown HealthState = "Unknown"
	HealthInvalid HealthState = "Invalid"
)

// HealthEvent is one report contributing to an entity's health
type HealthEvent struct {
	SourceID    string      `json:"source_id"`
	Property    string      `json:"property"`
	State       HealthState `json:"state"`
	Description string      `json:"description"`
}

type ReplicaHealth struct {
	ReplicaID int64         `json:"replica_id"`
	State     HealthState   `json:"state"`
	Events    []HealthEvent `json:"events,omitempty"`
}

type PartitionHealth struct {
	PartitionID string          `json:"partition_id"`
	State       HealthState     `json:"state"`
	Replicas    []ReplicaHealth `json:"replicas,omitempty"`
	Events      []HealthEvent   `json:"events,omitempty"`
}

type ServiceHealth struct {
	ServiceName string            `json:"service_name"`
	State       HealthState       `json:"state"`
	Partitions  []PartitionHealth `json:"partitions,omitempty"`
	Events      []HealthEvent     `json:"events,omitempty"`
}

// EntryPointStatus is the process state of a code package entry point
type EntryPointStatus string

const (
	EntryPointStarted  EntryPointStatus = "Started"
	EntryPointStopped  EntryPointStatus = "Stopped"
	EntryPointPending  EntryPointStatus = "Pending"
	EntryPointStarting EntryPointStatus = "Starting"
)

type EntryPoint struct {
	Status     EntryPointStatus `json:"status"`
	InstanceID int64            `json:"instance_id"`
}

// DeployedCodePackage is a code package activated on a node
type DeployedCodePackage struct {
	NodeName            string     `json:"node_name"`
	ApplicationName     string     `json:"application_name"`
	ServiceManifestName string     `json:"service_manifest_name"`
	Name                string     `json:"name"`
	EntryPoint          EntryPoint `json:"entry_point"`
}

// Message types understood by the transport fault layer
const (
	MessageStatefulServiceReopen = "StatefulServiceReopen"
	MessageDoReconfiguration     = "DoReconfiguration"
)

// AnyNode matches messages from every source node
const AnyNode = "*"

// FaultRule blocks one message type on the node it is installed on
type FaultRule struct {
	Name        string `json:"name"`
	SourceNode  string `json:"source_node"`
	MessageType string `json:"message_type"`
	PartitionID string `json:"partition_id"`
}

func (r FaultRule) String() string {
	return fmt.Sprintf("%s[%s from %s, partition %s]", r.Name, r.MessageType, r.SourceNode, r.PartitionID)
}

// WriteQuorumSize is the number of replicas that must acknowledge a write
// in a replica set of size n.
func WriteQuorumSize(n int) int {
	return n/2 + 1
}
