package faults

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"cluster-chaos/internal/cluster"
)

type installed struct {
	node string
	rule cluster.FaultRule
}

// Scope tracks the rules installed for one action. Callers defer
// ReleaseAll right after creating it.
type Scope struct {
	controller *Controller

	mu    sync.Mutex
	rules []installed
}

// Install adds rule to node and tracks it. The rule is tracked even when
// installation fails, since a timed-out add may still have landed.
func (s *Scope) Install(ctx context.Context, node string, rule cluster.FaultRule, timeout time.Duration) error {
	s.mu.Lock()
	s.rules = append(s.rules, installed{node: node, rule: rule})
	s.mu.Unlock()

	return s.controller.Install(ctx, node, rule, timeout)
}

// Release removes one tracked rule ahead of the end of the scope. The rule
// stays tracked if removal fails so ReleaseAll tries again.
func (s *Scope) Release(ctx context.Context, node, ruleName string, timeout time.Duration) error {
	if err := s.controller.Remove(ctx, node, ruleName, timeout); err != nil {
		return err
	}
	s.untrack(node, ruleName)
	return nil
}

func (s *Scope) untrack(node, ruleName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.rules {
		if r.node == node && r.rule.Name == ruleName {
			s.rules = append(s.rules[:i], s.rules[i+1:]...)
			return
		}
	}
}

// Len is the number of rules still tracked
func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rules)
}

// ReleaseAll removes every tracked rule, newest first. It ignores ctx
// cancellation and runs under the controller's release timeout. Failures
// are logged and returned combined; callers report the action's own error
// ahead of them.
func (s *Scope) ReleaseAll(ctx context.Context) error {
	s.mu.Lock()
	pending := s.rules
	s.rules = nil
	s.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	c := s.controller
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.releaseTimeout)
	defer cancel()

	var failed error
	var kept []installed
	for i := len(pending) - 1; i >= 0; i-- {
		r := pending[i]
		if err := c.Remove(ctx, r.node, r.rule.Name, c.releaseTimeout); err != nil {
			c.logger.WithError(err).WarnContext(ctx, "Failed to remove fault rule", "rule", r.rule.Name, "node", r.node)
			failed = errors.CombineErrors(failed, err)
			kept = append(kept, r)
		}
	}

	if len(kept) > 0 {
		s.mu.Lock()
		s.rules = append(s.rules, kept...)
		s.mu.Unlock()
	}
	return failed
}
