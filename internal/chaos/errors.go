package chaos

import (
	"fmt"
	"strings"
)

// ErrorCode classifies action-level failures
type ErrorCode string

const (
	CodeAlreadyPrimaryReplica   ErrorCode = "AlreadyPrimaryReplica"
	CodeAlreadySecondaryReplica ErrorCode = "AlreadySecondaryReplica"
	CodeInvalidReplicaState     ErrorCode = "InvalidReplicaStateForReplicaOperation"
	CodeInvalidServiceKind      ErrorCode = "InvalidServiceKind"
	CodeNotPersisted            ErrorCode = "NotPersisted"
	CodePostconditionTimeout    ErrorCode = "PostconditionTimeout"
	CodeQuorumLossNotObserved   ErrorCode = "QuorumLossNotObserved"
	CodeActionInProgress        ErrorCode = "ActionInProgress"
	CodeUnknownAction           ErrorCode = "UnknownAction"
	CodeInvalidParameters       ErrorCode = "InvalidParameters"
	CodeValidationFailed        ErrorCode = "ValidationFailed"
)

// ActionError is an action that failed for a reason of its own rather than
// because a cluster call failed.
type ActionError struct {
	Code        ErrorCode
	PartitionID string
	NodeName    string
	ServiceName string
	Message     string
	Cause       error
}

func (e *ActionError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}

	var where []string
	if e.ServiceName != "" {
		where = append(where, "service "+e.ServiceName)
	}
	if e.PartitionID != "" {
		where = append(where, "partition "+e.PartitionID)
	}
	if e.NodeName != "" {
		where = append(where, "node "+e.NodeName)
	}
	if len(where) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(where, ", "))
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *ActionError) Unwrap() error { return e.Cause }

// Is matches any ActionError with the same code, so the sentinels below
// work with errors.Is.
func (e *ActionError) Is(target error) bool {
	t, ok := target.(*ActionError)
	return ok && t.Code == e.Code
}

var (
	ErrAlreadyPrimaryReplica   = &ActionError{Code: CodeAlreadyPrimaryReplica}
	ErrAlreadySecondaryReplica = &ActionError{Code: CodeAlreadySecondaryReplica}
	ErrInvalidReplicaState     = &ActionError{Code: CodeInvalidReplicaState}
	ErrInvalidServiceKind      = &ActionError{Code: CodeInvalidServiceKind}
	ErrNotPersisted            = &ActionError{Code: CodeNotPersisted}
	ErrPostconditionTimeout    = &ActionError{Code: CodePostconditionTimeout}
	ErrQuorumLossNotObserved   = &ActionError{Code: CodeQuorumLossNotObserved}
	ErrActionInProgress        = &ActionError{Code: CodeActionInProgress}
	ErrUnknownAction           = &ActionError{Code: CodeUnknownAction}
	ErrInvalidParameters       = &ActionError{Code: CodeInvalidParameters}
	ErrValidationFailed        = &ActionError{Code: CodeValidationFailed}
)

func newActionError(code ErrorCode, p SelectedPartition, format string, args ...interface{}) *ActionError {
	return &ActionError{
		Code:        code,
		PartitionID: p.PartitionID,
		ServiceName: p.ServiceName,
		Message:     fmt.Sprintf(format, args...),
	}
}

func nodeError(code ErrorCode, node string, format string, args ...interface{}) *ActionError {
	return &ActionError{Code: code, NodeName: node, Message: fmt.Sprintf(format, args...)}
}

func invalidParameters(format string, args ...interface{}) *ActionError {
	return &ActionError{Code: CodeInvalidParameters, Message: fmt.Sprintf(format, args...)}
}
