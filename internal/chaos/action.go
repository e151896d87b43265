// Package chaos drives fault-injection actions against a cluster. Each
// Action is an immutable description of intent; the Executor binds it to
// exactly one handler, runs it under the action's deadline and publishes
// its result once.
package chaos

import (
	"time"

	"cluster-chaos/internal/stability"
)

// Kind names an action. Every kind has exactly one handler.
type Kind string

const (
	KindResolvePartition           Kind = "ResolvePartition"
	KindInduceQuorumLoss           Kind = "InduceQuorumLoss"
	KindInduceDataLoss             Kind = "InduceDataLoss"
	KindRestartPartition           Kind = "RestartPartition"
	KindMovePrimary                Kind = "MovePrimary"
	KindMoveSecondary              Kind = "MoveSecondary"
	KindRestartNode                Kind = "RestartNode"
	KindStartNode                  Kind = "StartNode"
	KindStopNode                   Kind = "StopNode"
	KindRestartReplica             Kind = "RestartReplica"
	KindRemoveReplica              Kind = "RemoveReplica"
	KindRestartDeployedCodePackage Kind = "RestartDeployedCodePackage"
	KindValidateService            Kind = "ValidateService"
	KindValidateApplication        Kind = "ValidateApplication"
	KindValidateCluster            Kind = "ValidateCluster"
)

// Timeouts bounds an action. RequestTimeout applies to each cluster call,
// ActionTimeout to the whole action. Zero values take the executor's
// defaults.
type Timeouts struct {
	RequestTimeout time.Duration `json:"request_timeout,omitempty" mapstructure:"request_timeout"`
	ActionTimeout  time.Duration `json:"action_timeout,omitempty" mapstructure:"action_timeout"`
}

func (t Timeouts) Limits() Timeouts { return t }

// Action is implemented by every action type below
type Action interface {
	Kind() Kind
	Limits() Timeouts
}

// PartitionSelector picks a partition. An empty PartitionID picks one of
// the service's partitions at random.
type PartitionSelector struct {
	ServiceName string `json:"service_name" mapstructure:"service_name"`
	PartitionID string `json:"partition_id,omitempty" mapstructure:"partition_id"`
}

// ReplicaRoleFilter narrows a random replica choice
type ReplicaRoleFilter string

const (
	AnyReplica       ReplicaRoleFilter = ""
	PrimaryReplica   ReplicaRoleFilter = "primary"
	SecondaryReplica ReplicaRoleFilter = "secondary"
)

// ReplicaSelector picks a replica of a selected partition. A non-zero
// ReplicaID wins over Role.
type ReplicaSelector struct {
	PartitionSelector `mapstructure:",squash"`
	ReplicaID         int64             `json:"replica_id,omitempty" mapstructure:"replica_id"`
	Role              ReplicaRoleFilter `json:"role,omitempty" mapstructure:"role"`
}

// CompletionMode says whether an action waits for its postcondition
type CompletionMode string

const (
	Verify      CompletionMode = "Verify"
	DoNotVerify CompletionMode = "DoNotVerify"
)

func (m CompletionMode) verify() bool { return m != DoNotVerify }

type QuorumLossMode string

const (
	// QuorumReplicas restarts a write quorum of replicas, primary included
	QuorumReplicas QuorumLossMode = "QuorumReplicas"
	// AllReplicas restarts every stable replica but one, primary included
	AllReplicas QuorumLossMode = "AllReplicas"
)

type DataLossMode string

const (
	PartialDataLoss DataLossMode = "PartialDataLoss"
	FullDataLoss    DataLossMode = "FullDataLoss"
)

type RestartPartitionMode string

const (
	AllReplicasOrInstances RestartPartitionMode = "AllReplicasOrInstances"
	OnlyActiveSecondaries  RestartPartitionMode = "OnlyActiveSecondaries"
)

// ResolvePartition turns a selector into a partition identity. Induction
// actions run it as their first step.
type ResolvePartition struct {
	Timeouts `mapstructure:",squash"`
	Selector PartitionSelector `json:"selector" mapstructure:"selector"`
}

func (*ResolvePartition) Kind() Kind { return KindResolvePartition }

// InduceQuorumLoss restarts replicas while their reopen is blocked, leaving
// the partition without a write quorum for QuorumLossDuration.
type InduceQuorumLoss struct {
	Timeouts           `mapstructure:",squash"`
	Partition          PartitionSelector `json:"partition" mapstructure:"partition"`
	Mode               QuorumLossMode    `json:"mode" mapstructure:"mode"`
	QuorumLossDuration time.Duration     `json:"quorum_loss_duration" mapstructure:"quorum_loss_duration"`
}

func (*InduceQuorumLoss) Kind() Kind { return KindInduceQuorumLoss }

// InduceDataLoss removes replicas while reconfiguration is blocked until
// the partition's data loss number moves.
type InduceDataLoss struct {
	Timeouts  `mapstructure:",squash"`
	Partition PartitionSelector `json:"partition" mapstructure:"partition"`
	Mode      DataLossMode      `json:"mode" mapstructure:"mode"`
}

func (*InduceDataLoss) Kind() Kind { return KindInduceDataLoss }

type RestartPartition struct {
	Timeouts  `mapstructure:",squash"`
	Partition PartitionSelector    `json:"partition" mapstructure:"partition"`
	Mode      RestartPartitionMode `json:"mode" mapstructure:"mode"`
}

func (*RestartPartition) Kind() Kind { return KindRestartPartition }

// MovePrimary moves the primary to NodeName, or to a random secondary's
// node when NodeName is empty.
type MovePrimary struct {
	Timeouts          `mapstructure:",squash"`
	Partition         PartitionSelector `json:"partition" mapstructure:"partition"`
	NodeName          string            `json:"node_name,omitempty" mapstructure:"node_name"`
	IgnoreConstraints bool              `json:"ignore_constraints,omitempty" mapstructure:"ignore_constraints"`
}

func (*MovePrimary) Kind() Kind { return KindMovePrimary }

// MoveSecondary moves a secondary from CurrentNode to NewNode. Empty nodes
// are chosen at random.
type MoveSecondary struct {
	Timeouts          `mapstructure:",squash"`
	Partition         PartitionSelector `json:"partition" mapstructure:"partition"`
	CurrentNode       string            `json:"current_node,omitempty" mapstructure:"current_node"`
	NewNode           string            `json:"new_node,omitempty" mapstructure:"new_node"`
	IgnoreConstraints bool              `json:"ignore_constraints,omitempty" mapstructure:"ignore_constraints"`
}

func (*MoveSecondary) Kind() Kind { return KindMoveSecondary }

// NodeTarget names a node directly or through a replica hosted on it.
// InstanceID zero means the node's current instance.
type NodeTarget struct {
	NodeName   string           `json:"node_name,omitempty" mapstructure:"node_name"`
	InstanceID int64            `json:"instance_id,omitempty" mapstructure:"instance_id"`
	Replica    *ReplicaSelector `json:"replica,omitempty" mapstructure:"replica"`
}

type RestartNode struct {
	Timeouts   `mapstructure:",squash"`
	NodeTarget `mapstructure:",squash"`
	CreateDump bool           `json:"create_dump,omitempty" mapstructure:"create_dump"`
	Completion CompletionMode `json:"completion,omitempty" mapstructure:"completion"`
}

func (*RestartNode) Kind() Kind { return KindRestartNode }

type StartNode struct {
	Timeouts   `mapstructure:",squash"`
	NodeName   string         `json:"node_name" mapstructure:"node_name"`
	InstanceID          int64            `json:"instance_id,omitempty" mapstructure:"instance_id"`
	Completion          CompletionMode   `json:"completion,omitempty" mapstructure:"completion"`
}

func (*StartNode) Kind() Kind { return KindStartNode }

type StopNode struct {
	Timeouts   `mapstructure:",squash"`
	NodeTarget `mapstructure:",squash"`
	Completion CompletionMode `json:"completion,omitempty" mapstructure:"completion"`
}

func (*StopNode) Kind() Kind { return KindStopNode }

type RestartReplica struct {
	Timeouts   `mapstructure:",squash"`
	Replica    ReplicaSelector `json:"replica" mapstructure:"replica"`
	Completion CompletionMode  `json:"completion,omitempty" mapstructure:"completion"`
}

func (*RestartReplica) Kind() Kind { return KindRestartReplica }

type RemoveReplica struct {
	Timeouts   `mapstructure:",squash"`
	Replica    ReplicaSelector `json:"replica" mapstructure:"replica"`
	Force      bool            `json:"force,omitempty" mapstructure:"force"`
	Completion CompletionMode  `json:"completion,omitempty" mapstructure:"completion"`
}

func (*RemoveReplica) Kind() Kind { return KindRemoveReplica }

// RestartDeployedCodePackage restarts a code package on NodeName, or on the
// node hosting Replica when NodeName is empty.
type RestartDeployedCodePackage struct {
	Timeouts            `mapstructure:",squash"`
	NodeName            string           `json:"node_name,omitempty" mapstructure:"node_name"`
	Replica             *ReplicaSelector `json:"replica,omitempty" mapstructure:"replica"`
	ApplicationName     string           `json:"application_name" mapstructure:"application_name"`
	ServiceManifestName string           `json:"service_manifest_name" mapstructure:"service_manifest_name"`
	CodePackageName     string           `json:"code_package_name" mapstructure:"code_package_name"`
	// InstanceID zero restarts whatever instance is running
	InstanceID          int64            `json:"instance_id,omitempty" mapstructure:"instance_id"`
	Completion          CompletionMode   `json:"completion,omitempty" mapstructure:"completion"`
}

func (*RestartDeployedCodePackage) Kind() Kind { return KindRestartDeployedCodePackage }

type ValidateService struct {
	Timeouts    `mapstructure:",squash"`
	ServiceName string           `json:"service_name" mapstructure:"service_name"`
	Checks      stability.Checks `json:"checks" mapstructure:"checks"`
}

func (*ValidateService) Kind() Kind { return KindValidateService }

type ValidateApplication struct {
	Timeouts        `mapstructure:",squash"`
	ApplicationName string           `json:"application_name" mapstructure:"application_name"`
	Checks          stability.Checks `json:"checks" mapstructure:"checks"`
}

func (*ValidateApplication) Kind() Kind { return KindValidateApplication }

type ValidateCluster struct {
	Timeouts `mapstructure:",squash"`
	Checks   stability.Checks `json:"checks" mapstructure:"checks"`
}

func (*ValidateCluster) Kind() Kind { return KindValidateCluster }
