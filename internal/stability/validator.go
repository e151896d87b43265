// Package stability polls a cluster until a service, an application or the
// whole cluster reaches its target topology and reports healthy.
package stability

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"cluster-chaos/internal/cluster"
	"cluster-chaos/internal/logging"
	"cluster-chaos/internal/retry"
)

// DefaultPollInterval is the spacing between polls
const DefaultPollInterval = 5 * time.Second

// Report is the outcome of one validation. It is built once at the end of a
// validation pass. A passing report may still carry a Reason noting what
// was tolerated.
type Report struct {
	Failed bool   `json:"failed"`
	Reason string `json:"reason,omitempty"`
}

func passed() Report { return Report{} }

func failed(format string, args ...interface{}) Report {
	return Report{Failed: true, Reason: fmt.Sprintf(format, args...)}
}

// Checks selects which conditions fail a poll
type Checks struct {
	// InBuild fails partitions that still have replicas being built
	InBuild bool `json:"in_build" mapstructure:"in_build"`
	// QuorumLoss fails partitions in quorum loss. Without it they are
	// accepted and mentioned in the reason.
	QuorumLoss bool `json:"quorum_loss" mapstructure:"quorum_loss"`
	// Warning fails on aggregated Warning health
	Warning bool `json:"warning" mapstructure:"warning"`
	// Error fails on aggregated Error health
	Error bool `json:"error" mapstructure:"error"`
}

// DefaultChecks enables every check
func DefaultChecks() Checks {
	return Checks{InBuild: true, QuorumLoss: true, Warning: true, Error: true}
}

// PollObserver is told about every poll
type PollObserver interface {
	ValidationPoll(check string, ok bool)
}

type serviceInfo struct {
	stateful       bool
	partitionCount int
	target         int
}

type Validator struct {
	client         cluster.QueryClient
	retry          *retry.Executor
	logger         *logging.Logger
	observer       PollObserver
	pollInterval   time.Duration
	requestTimeout time.Duration

	mu       sync.Mutex
	services map[string]*serviceInfo
}

type Option func(*Validator)

func WithLogger(l *logging.Logger) Option {
	return func(v *Validator) { v.logger = l }
}

func WithObserver(o PollObserver) Option {
	return func(v *Validator) { v.observer = o }
}

func WithPollInterval(d time.Duration) Option {
	return func(v *Validator) { v.pollInterval = d }
}

func WithRequestTimeout(d time.Duration) Option {
	return func(v *Validator) { v.requestTimeout = d }
}

func NewValidator(client cluster.QueryClient, exec *retry.Executor, opts ...Option) *Validator {
	v := &Validator{
		client:         client,
		retry:          exec,
		pollInterval:   DefaultPollInterval,
		requestTimeout: 30 * time.Second,
		services:       make(map[string]*serviceInfo),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.logger == nil {
		v.logger = logging.NewNopLogger()
	}
	if v.retry == nil {
		v.retry = retry.NewExecutor(retry.WithLogger(v.logger))
	}
	v.logger = v.logger.WithComponent("stability")
	return v
}

// info loads the service description once. Later calls reuse it.
func (v *Validator) info(ctx context.Context, serviceName string, budget *retry.Budget) (*serviceInfo, error) {
	v.mu.Lock()
	info, ok := v.services[serviceName]
	v.mu.Unlock()
	if ok {
		return info, nil
	}

	svc, err := retry.Execute(ctx, v.retry, "GetService", retry.Default, budget.Remaining(), func(ctx context.Context) (cluster.Service, error) {
		return v.client.GetService(ctx, serviceName, v.requestTimeout)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "describe service %s", serviceName)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if info, ok := v.services[serviceName]; ok {
		return info, nil
	}
	info = &serviceInfo{
		stateful:       svc.Kind == cluster.Stateful,
		partitionCount: svc.PartitionCount,
		target:         svc.TargetCount(),
	}
	v.services[serviceName] = info
	return info, nil
}

// verdict is what one poll concluded
type verdict struct {
	// reason the poll failed, "" when it passed
	reason string
	// note is reported even when the poll passed
	note string
	// final marks a failure that later polls cannot clear
	final bool
}

// poll runs check until it passes or the budget runs out. A query error that
// the retry policy gives up on ends the poll loop with that error.
func (v *Validator) poll(ctx context.Context, name string, timeout time.Duration, check func(context.Context, *retry.Budget) (verdict, error)) (Report, error) {
	budget := retry.NewBudget(timeout)
	pollCtx, cancel := budget.Context(ctx)
	defer cancel()

	polls := 0
	var reason string

	for {
		if canceled(ctx) {
			return Report{}, errors.Wrapf(ctx.Err(), "%s canceled after %d polls", name, polls)
		}
		if ctx.Err() != nil && polls > 0 {
			break
		}
		polls++

		vd, err := check(pollCtx, budget)
		if err != nil {
			if !canceled(ctx) && (budget.Expired() || ctx.Err() != nil || errors.Is(err, retry.ErrBudgetExhausted)) {
				reason = err.Error()
				break
			}
			return Report{}, err
		}
		reason = vd.reason

		ok := reason == ""
		if v.observer != nil {
			v.observer.ValidationPoll(name, ok)
		}
		if ok {
			v.logger.DebugContext(ctx, "Validation passed", "check", name, "polls", polls)
			return Report{Reason: vd.note}, nil
		}
		if vd.final {
			v.logger.WarnContext(ctx, "Validation failed", "check", name, "poll", polls, "reason", reason)
			return failed("%s failed on poll %d: %s", name, polls, reason), nil
		}
		v.logger.DebugContext(ctx, "Validation poll failed", "check", name, "poll", polls, "reason", reason)

		if budget.Expired() {
			break
		}
		if _, err := budget.Sleep(ctx, v.pollInterval); err != nil {
			if !canceled(ctx) {
				break
			}
			return Report{}, errors.Wrapf(err, "%s canceled after %d polls", name, polls)
		}
		if budget.Expired() {
			break
		}
	}

	return failed("%s did not pass within %s after %d polls: %s", name, budget.Total(), polls, reason), nil
}

// canceled tells cancellation apart from a caller's deadline, which counts
// as running out of budget.
func canceled(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.Canceled)
}

// EnsureStability waits until every partition of serviceName is Ready with
// the expected number of Ready replicas or instances. The expected count is
// the service's target, capped at the number of up nodes. A partition count
// that differs from the service description on any poll fails the whole
// validation. Partitions in quorum loss that checks tolerate are named in
// the reason of a passing report.
func (v *Validator) EnsureStability(ctx context.Context, serviceName string, timeout time.Duration, checks Checks) (Report, error) {
	return v.poll(ctx, "stability of "+serviceName, timeout, func(ctx context.Context, budget *retry.Budget) (verdict, error) {
		info, err := v.info(ctx, serviceName, budget)
		if err != nil {
			return verdict{}, err
		}

		nodes, err := retry.Execute(ctx, v.retry, "GetNodeList", retry.Default, budget.Remaining(), func(ctx context.Context) ([]cluster.Node, error) {
			return v.client.GetNodeList(ctx, v.requestTimeout)
		})
		if err != nil {
			return verdict{}, err
		}
		up := 0
		for _, n := range nodes {
			if n.IsUp() {
				up++
			}
		}
		expected := ExpectedCount(up, info.target)

		partitions, err := retry.Execute(ctx, v.retry, "GetPartitionList", retry.Default, budget.Remaining(), func(ctx context.Context) ([]cluster.Partition, error) {
			return v.client.GetPartitionList(ctx, serviceName, v.requestTimeout)
		})
		if err != nil {
			return verdict{}, err
		}

		var problems []string
		mismatch := len(partitions) != info.partitionCount
		if mismatch {
			problems = append(problems, fmt.Sprintf("service %s has %d partitions, expected %d", serviceName, len(partitions), info.partitionCount))
		}

		for _, p := range partitions {
			replicas, err := retry.Execute(ctx, v.retry, "GetReplicaList", retry.Default, budget.Remaining(), func(ctx context.Context) ([]cluster.Replica, error) {
				return v.client.GetReplicaList(ctx, p.ID, v.requestTimeout)
			})
			if err != nil {
				return verdict{}, err
			}
			if problem := checkPartition(p, replicas, info.stateful, expected, checks); problem != "" {
				problems = append(problems, problem)
			}
		}

		var tolerated []string
		if !checks.QuorumLoss {
			for _, p := range partitions {
				if p.Status == cluster.PartitionInQuorumLoss {
					v.logger.InfoContext(ctx, "Tolerating partition in quorum loss", "service", serviceName, "partition_id", p.ID)
					tolerated = append(tolerated, p.ID)
				}
			}
		}

		vd := verdict{reason: strings.Join(problems, "; "), final: mismatch}
		if len(tolerated) > 0 {
			vd.note = fmt.Sprintf("service %s tolerated partitions in quorum loss: %s", serviceName, strings.Join(tolerated, ", "))
		}
		return vd, nil
	})
}

// ExpectedCount is the number of Ready replicas a partition must reach
// with up nodes available. cluster.AllNodes means one per up node.
func ExpectedCount(up, target int) int {
	if target == cluster.AllNodes || target > up {
		return up
	}
	return target
}

// checkPartition returns why p is not yet acceptable, or ""
func checkPartition(p cluster.Partition, replicas []cluster.Replica, stateful bool, expected int, checks Checks) string {
	if p.Status == cluster.PartitionInQuorumLoss {
		if checks.QuorumLoss {
			return fmt.Sprintf("partition %s is in quorum loss", p.ID)
		}
		return ""
	}
	if p.Status != cluster.PartitionReady {
		return fmt.Sprintf("partition %s is %s", p.ID, p.Status)
	}

	ready, inBuild := 0, 0
	for _, r := range replicas {
		if r.Status == cluster.ReplicaInBuild {
			inBuild++
		}
		if !r.IsStable() {
			continue
		}
		if stateful && r.Role != cluster.RolePrimary && r.Role != cluster.RoleActiveSecondary {
			continue
		}
		ready++
	}

	if ready < expected {
		return fmt.Sprintf("partition %s has %d ready replicas, expected %d", p.ID, ready, expected)
	}
	if checks.InBuild && inBuild > 0 {
		return fmt.Sprintf("partition %s has %d replicas in build", p.ID, inBuild)
	}
	return ""
}

// ValidateHealth waits until the aggregated health of serviceName is
// acceptable. Unknown and Invalid always fail a poll.
func (v *Validator) ValidateHealth(ctx context.Context, serviceName string, timeout time.Duration, checks Checks) (Report, error) {
	return v.poll(ctx, "health of "+serviceName, timeout, func(ctx context.Context, budget *retry.Budget) (verdict, error) {
		health, err := retry.Execute(ctx, v.retry, "GetServiceHealth", retry.Default, budget.Remaining(), func(ctx context.Context) (cluster.ServiceHealth, error) {
			return v.client.GetServiceHealth(ctx, serviceName, v.requestTimeout)
		})
		if err != nil {
			return verdict{}, err
		}
		return verdict{reason: checkHealth(health, checks)}, nil
	})
}

func unhealthy(state cluster.HealthState, checks Checks) bool {
	switch state {
	case cluster.HealthOK:
		return false
	case cluster.HealthWarning:
		return checks.Warning
	case cluster.HealthError:
		return checks.Error
	default:
		return true
	}
}

func checkHealth(h cluster.ServiceHealth, checks Checks) string {
	if !unhealthy(h.State, checks) {
		return ""
	}

	details := []string{fmt.Sprintf("service %s health is %s", h.ServiceName, h.State)}
	for _, ev := range h.Events {
		if unhealthy(ev.State, checks) {
			details = append(details, describeEvent("service "+h.ServiceName, ev))
		}
	}
	for _, p := range h.Partitions {
		for _, ev := range p.Events {
			if unhealthy(ev.State, checks) {
				details = append(details, describeEvent("partition "+p.PartitionID, ev))
			}
		}
		for _, r := range p.Replicas {
			for _, ev := range r.Events {
				if unhealthy(ev.State, checks) {
					details = append(details, describeEvent(fmt.Sprintf("replica %d of partition %s", r.ReplicaID, p.PartitionID), ev))
				}
			}
		}
	}
	return strings.Join(details, "; ")
}

func describeEvent(entity string, ev cluster.HealthEvent) string {
	return fmt.Sprintf("%s: %s %s/%s: %s", entity, ev.State, ev.SourceID, ev.Property, ev.Description)
}

// Merge combines reports; the result failed if any input failed. Reasons
// are sorted so the output does not depend on completion order.
func Merge(reports ...Report) Report {
	var reasons []string
	out := passed()
	for _, r := range reports {
		if r.Failed {
			out.Failed = true
		}
		if r.Reason != "" {
			reasons = append(reasons, r.Reason)
		}
	}
	sort.Strings(reasons)
	out.Reason = strings.Join(reasons, "\n")
	return out
}
