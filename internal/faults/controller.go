// Package faults installs and removes transport fault rules on cluster
// nodes. A Scope owns the rules installed on behalf of one action and
// removes them on every exit path.
package faults

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"cluster-chaos/internal/cluster"
	"cluster-chaos/internal/logging"
	"cluster-chaos/internal/retry"
)

// DefaultReleaseTimeout bounds the cleanup of a scope that outlived its
// action's context.
const DefaultReleaseTimeout = 2 * time.Minute

// Observer tracks how many rules are installed. It hears about a removal
// only for a rule it heard being installed.
type Observer interface {
	RuleInstalled()
	RuleRemoved()
}

type Controller struct {
	client         cluster.FaultClient
	retry          *retry.Executor
	journal        *Journal
	logger         *logging.Logger
	observer       Observer
	requestTimeout time.Duration
	releaseTimeout time.Duration

	mu     sync.Mutex
	active map[string]struct{}
}

type Option func(*Controller)

// WithJournal records installed rules so RecoverOrphans can find them
func WithJournal(j *Journal) Option {
	return func(c *Controller) { c.journal = j }
}

func WithLogger(l *logging.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observer = o }
}

// WithRequestTimeout sets the per-call timeout passed to the cluster
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Controller) { c.requestTimeout = d }
}

func WithReleaseTimeout(d time.Duration) Option {
	return func(c *Controller) { c.releaseTimeout = d }
}

func NewController(client cluster.FaultClient, exec *retry.Executor, opts ...Option) *Controller {
	c := &Controller{
		client:         client,
		retry:          exec,
		requestTimeout: 30 * time.Second,
		releaseTimeout: DefaultReleaseTimeout,
		active:         make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.NewNopLogger()
	}
	if c.retry == nil {
		c.retry = retry.NewExecutor(retry.WithLogger(c.logger))
	}
	c.logger = c.logger.WithComponent("faults")
	return c
}

// RuleName returns a unique rule name with the given prefix
func RuleName(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// BlockReopen builds a rule that keeps replicas of partitionID on the
// rule's node from reopening.
func BlockReopen(partitionID string) cluster.FaultRule {
	return cluster.FaultRule{
		Name:        RuleName("block-reopen"),
		SourceNode:  cluster.AnyNode,
		MessageType: cluster.MessageStatefulServiceReopen,
		PartitionID: partitionID,
	}
}

// BlockReconfiguration builds a rule that stops the failover manager from
// reconfiguring partitionID. It belongs on the failover manager's primary.
func BlockReconfiguration(partitionID string) cluster.FaultRule {
	return cluster.FaultRule{
		Name:        RuleName("block-reconfig"),
		SourceNode:  cluster.AnyNode,
		MessageType: cluster.MessageDoReconfiguration,
		PartitionID: partitionID,
	}
}

// Install journals rule and adds it to node. A rule that already exists
// counts as installed.
func (c *Controller) Install(ctx context.Context, node string, rule cluster.FaultRule, timeout time.Duration) error {
	if c.journal != nil {
		entry := Entry{
			Node:        node,
			Rule:        rule,
			ActionID:    logging.ExtractActionID(ctx),
			InstalledAt: time.Now().UTC(),
		}
		if err := c.journal.Record(entry); err != nil {
			return err
		}
	}

	err := c.retry.Do(ctx, "AddFaultRule", retry.AddFaultRule, timeout, func(ctx context.Context) error {
		return c.client.AddFaultRule(ctx, node, rule, c.requestTimeout)
	})
	if err != nil {
		return errors.Wrapf(err, "install fault rule %s on node %s", rule.Name, node)
	}

	if c.track(node, rule.Name, true) && c.observer != nil {
		c.observer.RuleInstalled()
	}
	c.logger.ClusterEvent(ctx, "fault_rule_installed", node, map[string]interface{}{
		"rule":         rule.Name,
		"message_type": rule.MessageType,
		"partition_id": rule.PartitionID,
	})
	return nil
}

// Remove deletes the rule from node. A rule that is already gone counts as
// removed. The journal entry is dropped once removal is confirmed.
func (c *Controller) Remove(ctx context.Context, node, ruleName string, timeout time.Duration) error {
	err := c.retry.Do(ctx, "RemoveFaultRule", retry.RemoveFaultRule, timeout, func(ctx context.Context) error {
		return c.client.RemoveFaultRule(ctx, node, ruleName, c.requestTimeout)
	})
	if err != nil {
		return errors.Wrapf(err, "remove fault rule %s from node %s", ruleName, node)
	}

	if c.track(node, ruleName, false) && c.observer != nil {
		c.observer.RuleRemoved()
	}
	if c.journal != nil {
		if err := c.journal.Forget(node, ruleName); err != nil {
			c.logger.WithError(err).WarnContext(ctx, "Fault rule removed but journal entry kept", "rule", ruleName, "node", node)
		}
	}
	c.logger.ClusterEvent(ctx, "fault_rule_removed", node, map[string]interface{}{"rule": ruleName})
	return nil
}

// track records that node carries ruleName, or no longer does. It reports
// whether that changed anything.
func (c *Controller) track(node, ruleName string, on bool) bool {
	key := node + "/" + ruleName
	c.mu.Lock()
	defer c.mu.Unlock()
	_, had := c.active[key]
	if on {
		c.active[key] = struct{}{}
	} else {
		delete(c.active, key)
	}
	return had != on
}

// RecoverOrphans removes every journaled rule. It is meant for startup,
// after an orchestrator died with rules still installed. It returns how
// many rules were removed.
func (c *Controller) RecoverOrphans(ctx context.Context, timeout time.Duration) (int, error) {
	if c.journal == nil {
		return 0, nil
	}
	entries, err := c.journal.Entries()
	if err != nil {
		return 0, err
	}

	var (
		removed int
		failed  error
	)
	for _, e := range entries {
		if err := c.Remove(ctx, e.Node, e.Rule.Name, timeout); err != nil {
			failed = errors.CombineErrors(failed, err)
			continue
		}
		removed++
		c.logger.InfoContext(ctx, "Removed orphaned fault rule",
			"rule", e.Rule.Name, "node", e.Node, "action_id", e.ActionID, "installed_at", e.InstalledAt)
	}
	return removed, failed
}

// NewScope starts an empty scope
func (c *Controller) NewScope() *Scope {
	return &Scope{controller: c}
}
