package chaos

import (
	"context"
	"fmt"
	"sort"
)

// Handler carries out one kind of action
type Handler interface {
	Handle(ctx context.Context, inv *Invocation, action Action) (interface{}, error)
}

type handlerFunc[A Action, R any] func(ctx context.Context, inv *Invocation, action A) (R, error)

func (f handlerFunc[A, R]) Handle(ctx context.Context, inv *Invocation, action Action) (interface{}, error) {
	a, ok := action.(A)
	if !ok {
		return nil, invalidParameters("%s handler cannot run %T", action.Kind(), action)
	}
	res, err := f(ctx, inv, a)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Registry maps each kind to its handler
type Registry struct {
	handlers map[Kind]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Kind]Handler)}
}

// Register binds kind to h. Binding a kind twice panics.
func (r *Registry) Register(kind Kind, h Handler) {
	if _, ok := r.handlers[kind]; ok {
		panic(fmt.Sprintf("chaos: handler for %s registered twice", kind))
	}
	r.handlers[kind] = h
}

func (r *Registry) Lookup(kind Kind) (Handler, bool) {
	h, ok := r.handlers[kind]
	return h, ok
}

// Kinds lists the registered kinds in name order
func (r *Registry) Kinds() []Kind {
	kinds := make([]Kind, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func register[A Action, R any](r *Registry, kind Kind, fn func(context.Context, *Invocation, A) (R, error)) {
	r.Register(kind, handlerFunc[A, R](fn))
}

// DefaultRegistry binds every built-in action
func DefaultRegistry() *Registry {
	r := NewRegistry()
	register(r, KindResolvePartition, resolvePartition)
	register(r, KindInduceQuorumLoss, induceQuorumLoss)
	register(r, KindInduceDataLoss, induceDataLoss)
	register(r, KindRestartPartition, restartPartition)
	register(r, KindMovePrimary, movePrimary)
	register(r, KindMoveSecondary, moveSecondary)
	register(r, KindRestartNode, restartNode)
	register(r, KindStartNode, startNode)
	register(r, KindStopNode, stopNode)
	register(r, KindRestartReplica, restartReplica)
	register(r, KindRemoveReplica, removeReplica)
	register(r, KindRestartDeployedCodePackage, restartDeployedCodePackage)
	register(r, KindValidateService, validateService)
	register(r, KindValidateApplication, validateApplication)
	register(r, KindValidateCluster, validateCluster)
	return r
}
