package chaos

import (
	"cluster-chaos/internal/cluster"
	"cluster-chaos/internal/stability"
)

// SelectedPartition is the identity a selector resolved to
type SelectedPartition struct {
	PartitionID       string              `json:"partition_id"`
	ServiceName       string              `json:"service_name"`
	Kind              cluster.ServiceKind `json:"kind"`
	HasPersistedState bool                `json:"has_persisted_state"`
}

// Resolution is a selected partition together with the replica snapshot
// taken when it was resolved.
type Resolution struct {
	Partition SelectedPartition `json:"partition"`
	Replicas  []cluster.Replica `json:"replicas"`
}

// SelectedReplica is the replica a selector resolved to
type SelectedReplica struct {
	Partition  SelectedPartition   `json:"partition"`
	ReplicaID  int64               `json:"replica_id"`
	NodeName   string              `json:"node_name"`
	Role       cluster.ReplicaRole `json:"role"`
	InstanceID int64               `json:"instance_id"`
}

type QuorumLossResult struct {
	Partition SelectedPartition `json:"partition"`
	Restarted []cluster.Replica `json:"restarted"`
}

type DataLossResult struct {
	Partition SelectedPartition `json:"partition"`
	Removed   []cluster.Replica `json:"removed"`
	// DataLossNumber before and after the induction
	Before   int64 `json:"before"`
	After    int64 `json:"after"`
	Attempts int   `json:"attempts"`
}

type RestartPartitionResult struct {
	Partition SelectedPartition `json:"partition"`
	Affected  []cluster.Replica `json:"affected"`
}

type MoveResult struct {
	Partition   SelectedPartition `json:"partition"`
	CurrentNode string            `json:"current_node"`
	NewNode     string            `json:"new_node"`
}

type NodeResult struct {
	NodeName string `json:"node_name"`
	// InstanceID is the instance the call was issued against
	InstanceID int64 `json:"instance_id"`
	// NewInstanceID is known only when the postcondition was verified
	NewInstanceID int64              `json:"new_instance_id,omitempty"`
	Status        cluster.NodeStatus `json:"status,omitempty"`
}

type ReplicaResult struct {
	Replica SelectedReplica `json:"replica"`
}

type CodePackageResult struct {
	CodePackage   cluster.CodePackageID `json:"code_package"`
	InstanceID    int64                 `json:"instance_id"`
	NewInstanceID int64                 `json:"new_instance_id,omitempty"`
}

type ValidationResult struct {
	Report stability.Report `json:"report"`
}
