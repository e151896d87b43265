package cluster

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Kind is the broad category of a cluster error, independent of the
// specific code the cluster attached to it.
type Kind string

const (
	KindUnknown           Kind = "Unknown"
	KindTimeout           Kind = "Timeout"
	KindOperationCanceled Kind = "OperationCanceled"
	KindCommunication     Kind = "Communication"
	KindTransient         Kind = "Transient"
	KindObjectClosed      Kind = "ObjectClosed"
	KindNotPrimary        Kind = "NotPrimary"
	KindInvalidOperation  Kind = "InvalidOperation"
	KindNotFound          Kind = "NotFound"
	KindArgument          Kind = "Argument"
)

// Code is the specific error code returned by the cluster
type Code string

const (
	CodeUnknown Code = "Unknown"

	// Transient infrastructure.
	CodeTimeout            Code = "Timeout"
	CodeCommunication      Code = "CommunicationError"
	CodeGatewayUnreachable Code = "GatewayUnreachable"
	CodeServiceTooBusy     Code = "ServiceTooBusy"

	// Converging state.
	CodeNotReady               Code = "NotReady"
	CodeReconfigurationPending Code = "ReconfigurationPending"
	CodeNotPrimary             Code = "NotPrimary"
	CodeObjectClosed           Code = "ObjectClosed"
	CodeStaleReplicaState      Code = "StaleReplicaState"
	CodeServiceOffline         Code = "ServiceOffline"

	// Already in the desired state.
	CodeAlreadyPrimaryReplica   Code = "AlreadyPrimaryReplica"
	CodeAlreadySecondaryReplica Code = "AlreadySecondaryReplica"
	CodeVersionAlreadyExists    Code = "VersionAlreadyExists"
	CodeStopInProgress          Code = "StopInProgress"
	CodeRestartInProgress       Code = "RestartInProgress"
	CodeNodeIsUp                Code = "NodeIsUp"
	CodeFaultRuleNotFound       Code = "FaultRuleNotFound"

	// Structural violations.
	CodePartitionNotFound     Code = "PartitionNotFound"
	CodeNodeNotFound          Code = "NodeNotFound"
	CodeInvalidNode           Code = "InvalidNodeSupplied"
	CodeInstanceIDMismatch    Code = "InstanceIdMismatch"
	CodeCodePackageNotFound   Code = "CodePackageNotFound"
	CodeInvalidServiceKind    Code = "InvalidServiceKind"
	CodeServiceNotFound       Code = "ServiceNotFound"
	CodeApplicationNotFound   Code = "ApplicationNotFound"
	CodeReplicaNotFound       Code = "ReplicaDoesNotExist"
	CodeInvalidReplicaState   Code = "InvalidReplicaStateForReplicaOperation"
	CodeFaultRuleAlreadyExist Code = "FaultRuleAlreadyExists"
)

// Native status codes surfaced by the cluster runtime underneath a cluster
// error. Some of them mean the requested end state already holds.
const (
	NativeAlreadyPrimaryReplica   int64 = 0x80071C2E
	NativeAlreadySecondaryReplica int64 = 0x80071C2F
	NativeFaultRuleNotFound       int64 = 0x80071D41
	NativeNodeAlreadyStopped      int64 = 0x80071D5B
	NativeAccessDenied            int64 = 0x80070005
)

// Error is the structured error every Client operation raises
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Inner   error
}

// NewError builds a cluster error
func NewError(kind Kind, code Code, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Inner != nil {
		return fmt.Sprintf("%s (%s/%s): %v", e.Message, e.Kind, e.Code, e.Inner)
	}
	return fmt.Sprintf("%s (%s/%s)", e.Message, e.Kind, e.Code)
}

func (e *Error) Unwrap() error {
	return e.Inner
}

// WithInner attaches the runtime error that produced e
func (e *Error) WithInner(inner error) *Error {
	e.Inner = inner
	return e
}

// NativeError carries a raw runtime status code
type NativeError struct {
	Code int64
}

func (e *NativeError) Error() string {
	return fmt.Sprintf("native status 0x%08X", uint32(e.Code))
}

// CodeOf returns the code of the first cluster error in err's chain
func CodeOf(err error) Code {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeUnknown
}

// KindOf returns the kind of the first cluster error in err's chain
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// IsCode reports whether err carries the given code
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// Constructors for the errors the cluster raises most often.

func ErrNodeNotFound(node string) *Error {
	return NewError(KindNotFound, CodeNodeNotFound, "node %q not found", node)
}

func ErrPartitionNotFound(id string) *Error {
	return NewError(KindNotFound, CodePartitionNotFound, "partition %s not found", id)
}

func ErrServiceNotFound(name string) *Error {
	return NewError(KindNotFound, CodeServiceNotFound, "service %q not found", name)
}

func ErrReplicaNotFound(partitionID string, replicaID int64) *Error {
	return NewError(KindNotFound, CodeReplicaNotFound, "replica %d of partition %s does not exist", replicaID, partitionID)
}

func ErrFaultRuleNotFound(node, rule string) *Error {
	return NewError(KindInvalidOperation, CodeFaultRuleNotFound, "fault rule %q not found on node %s", rule, node).
		WithInner(&NativeError{Code: NativeFaultRuleNotFound})
}

func ErrNotReady(format string, args ...interface{}) *Error {
	return NewError(KindTransient, CodeNotReady, format, args...)
}
