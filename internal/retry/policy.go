package retry

import (
	"context"

	"github.com/cockroachdb/errors"

	"cluster-chaos/internal/cluster"
)

// Outcome is the executor's decision about a failed attempt
type Outcome int

const (
	Fatal Outcome = iota
	Retryable
	// RetrySuccess means the remote side already reached the state the call
	// asked for, so the failure is reported to the caller as success.
	RetrySuccess
	// Succeeded is reported for attempts that returned no error
	Succeeded
)

func (o Outcome) String() string {
	switch o {
	case Retryable:
		return "retryable"
	case RetrySuccess:
		return "retry_success"
	case Succeeded:
		return "success"
	default:
		return "fatal"
	}
}

// maxClassifyDepth bounds how many kinded errors in a chain are inspected
const maxClassifyDepth = 5

// Policy classifies cluster errors. A Policy is immutable once built and can
// be shared by any number of concurrent calls.
type Policy struct {
	name            string
	retryableKinds  map[cluster.Kind]struct{}
	retryableCodes  map[cluster.Code]struct{}
	successKinds    map[cluster.Kind]struct{}
	successCodes    map[cluster.Code]struct{}
	internalSuccess map[int64]struct{}
}

// Option adds entries to a policy under construction
type Option func(*Policy)

func RetryableKinds(kinds ...cluster.Kind) Option {
	return func(p *Policy) { addAll(p.retryableKinds, kinds) }
}

func RetryableCodes(codes ...cluster.Code) Option {
	return func(p *Policy) { addAll(p.retryableCodes, codes) }
}

func SuccessKinds(kinds ...cluster.Kind) Option {
	return func(p *Policy) { addAll(p.successKinds, kinds) }
}

func SuccessCodes(codes ...cluster.Code) Option {
	return func(p *Policy) { addAll(p.successCodes, codes) }
}

// InternalSuccessCodes matches native status codes found anywhere in the
// error chain.
func InternalSuccessCodes(codes ...int64) Option {
	return func(p *Policy) { addAll(p.internalSuccess, codes) }
}

func addAll[K comparable](set map[K]struct{}, keys []K) {
	for _, k := range keys {
		set[k] = struct{}{}
	}
}

func has[K comparable](set map[K]struct{}, k K) bool {
	_, ok := set[k]
	return ok
}

// NewPolicy builds an empty policy and applies opts
func NewPolicy(name string, opts ...Option) *Policy {
	p := &Policy{
		name:            name,
		retryableKinds:  map[cluster.Kind]struct{}{},
		retryableCodes:  map[cluster.Code]struct{}{},
		successKinds:    map[cluster.Kind]struct{}{},
		successCodes:    map[cluster.Code]struct{}{},
		internalSuccess: map[int64]struct{}{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// With returns a copy of p overlaid with opts. p itself is not modified.
func (p *Policy) With(name string, opts ...Option) *Policy {
	c := NewPolicy(name)
	for k := range p.retryableKinds {
		c.retryableKinds[k] = struct{}{}
	}
	for k := range p.retryableCodes {
		c.retryableCodes[k] = struct{}{}
	}
	for k := range p.successKinds {
		c.successKinds[k] = struct{}{}
	}
	for k := range p.successCodes {
		c.successCodes[k] = struct{}{}
	}
	for k := range p.internalSuccess {
		c.internalSuccess[k] = struct{}{}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (p *Policy) Name() string { return p.name }

// Classify decides what the executor does with err. The result depends only
// on err and the policy.
func (p *Policy) Classify(err error) Outcome {
	if err == nil {
		return Succeeded
	}

	kinds, natives := inspect(err)
	for _, k := range kinds {
		if has(p.retryableKinds, k) {
			return Retryable
		}
	}

	code := cluster.CodeOf(err)
	if has(p.retryableCodes, code) {
		return Retryable
	}

	if has(p.successCodes, code) || has(p.successKinds, cluster.KindOf(err)) {
		return RetrySuccess
	}
	for _, n := range natives {
		if has(p.internalSuccess, n) {
			return RetrySuccess
		}
	}

	return Fatal
}

// inspect walks err's chain and returns the kinds of its first
// maxClassifyDepth kinded errors plus every native code found on the way.
// Decoration-only wrappers do not count towards the depth.
func inspect(err error) ([]cluster.Kind, []int64) {
	var kinds []cluster.Kind
	var natives []int64

	for cur := err; cur != nil; cur = errors.UnwrapOnce(cur) {
		switch e := cur.(type) {
		case *cluster.Error:
			if len(kinds) < maxClassifyDepth {
				kinds = append(kinds, e.Kind)
			}
		case *cluster.NativeError:
			natives = append(natives, e.Code)
		default:
			if cur == context.DeadlineExceeded && len(kinds) < maxClassifyDepth {
				kinds = append(kinds, cluster.KindTimeout)
			}
		}
	}
	return kinds, natives
}

// Default retries timeouts, cancellations reported by the cluster and
// transient communication or converging-state errors.
var Default = NewPolicy("default",
	RetryableKinds(
		cluster.KindTimeout,
		cluster.KindOperationCanceled,
		cluster.KindCommunication,
		cluster.KindTransient,
		cluster.KindObjectClosed,
		cluster.KindNotPrimary,
	),
	RetryableCodes(
		cluster.CodeTimeout,
		cluster.CodeCommunication,
		cluster.CodeGatewayUnreachable,
		cluster.CodeServiceTooBusy,
		cluster.CodeNotReady,
		cluster.CodeReconfigurationPending,
		cluster.CodeNotPrimary,
		cluster.CodeObjectClosed,
		cluster.CodeStaleReplicaState,
		cluster.CodeServiceOffline,
	),
)

// Per-operation policies. Each treats "already in the requested state" as
// success for its own call.
var (
	MovePrimary = Default.With("move_primary",
		SuccessCodes(cluster.CodeAlreadyPrimaryReplica),
		InternalSuccessCodes(cluster.NativeAlreadyPrimaryReplica),
	)
	MoveSecondary = Default.With("move_secondary",
		SuccessCodes(cluster.CodeAlreadySecondaryReplica),
		InternalSuccessCodes(cluster.NativeAlreadySecondaryReplica),
	)
	AddFaultRule = Default.With("add_fault_rule",
		SuccessCodes(cluster.CodeFaultRuleAlreadyExist),
	)
	RemoveFaultRule = Default.With("remove_fault_rule",
		SuccessCodes(cluster.CodeFaultRuleNotFound),
		InternalSuccessCodes(cluster.NativeFaultRuleNotFound),
	)
	StopNode = Default.With("stop_node",
		SuccessCodes(cluster.CodeStopInProgress),
		InternalSuccessCodes(cluster.NativeNodeAlreadyStopped),
	)
	StartNode = Default.With("start_node",
		SuccessCodes(cluster.CodeNodeIsUp),
	)
	RestartNode = Default.With("restart_node",
		SuccessCodes(cluster.CodeRestartInProgress),
	)
	RestartCodePackage = Default.With("restart_code_package",
		SuccessCodes(cluster.CodeRestartInProgress),
	)
)
