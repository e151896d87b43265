// Package sim is an in-memory cluster that implements cluster.Client. It
// models enough of failover to exercise the fault-injection engine end to
// end: replicas that cannot reopen while a reopen-blocking rule is active,
// data loss while reconfiguration is blocked on the failover manager, node
// and code package lifecycles, and health aggregation.
package sim

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"github.com/google/uuid"

	"cluster-chaos/internal/cluster"
)

// Interceptor runs before every client call. call is the 1-based count of
// calls made to op so far. A non-nil error fails the call without touching
// cluster state.
type Interceptor func(op string, call int) error

type service struct {
	cluster.Service
	partitions []string
}

type partition struct {
	cluster.Partition
	replicas []*cluster.Replica
	// configSize is the replica count of the last committed configuration
	configSize int
	// pendingRebuild is set when replicas were dropped while reconfiguration
	// was blocked
	pendingRebuild bool
}

type codePackage struct {
	cluster.DeployedCodePackage
	serviceName string
}

// Cluster is safe for concurrent use
type Cluster struct {
	mu  sync.Mutex
	rng *rand.Rand

	nodes     map[string]*cluster.Node
	nodeOrder []string

	apps     map[string]cluster.Application
	appOrder []string

	services     map[string]*service
	serviceOrder []string

	partitions map[string]*partition
	packages   []*codePackage

	rules     map[string]map[string]cluster.FaultRule
	reports   map[string][]cluster.HealthEvent
	fmPrimary string

	nextID      int64
	calls       map[string]int
	interceptor Interceptor
}

type Option func(*Cluster)

// WithSeed fixes the random source used for placement decisions
func WithSeed(seed int64) Option {
	return func(c *Cluster) { c.rng = rand.New(rand.NewSource(seed)) }
}

func New(opts ...Option) *Cluster {
	c := &Cluster{
		rng:        rand.New(rand.NewSource(1)),
		nodes:      map[string]*cluster.Node{},
		apps:       map[string]cluster.Application{},
		services:   map[string]*service{},
		partitions: map[string]*partition{},
		rules:      map[string]map[string]cluster.FaultRule{},
		reports:    map[string][]cluster.HealthEvent{},
		calls:      map[string]int{},
		nextID:     100,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewDemo builds a cluster of nodeCount nodes running one application with a
// persisted stateful service, a volatile stateful service and a stateless
// service.
func NewDemo(nodeCount int, seed int64) *Cluster {
	c := New(WithSeed(seed))
	for i := 0; i < nodeCount; i++ {
		c.AddNodes(fmt.Sprintf("node-%d", i))
	}
	target := 5
	if nodeCount < target {
		target = nodeCount
	}
	c.AddApplication("fabric:/demo", "DemoType")
	c.AddStatefulService("fabric:/demo", "fabric:/demo/store", 2, target, true)
	c.AddStatefulService("fabric:/demo", "fabric:/demo/cache", 1, target, false)
	c.AddStatelessService("fabric:/demo", "fabric:/demo/web", 1, cluster.AllNodes)
	return c
}

func (c *Cluster) newID() int64 {
	c.nextID++
	return c.nextID
}

// AddNodes adds up nodes. The first node ever added hosts the failover
// manager primary.
func (c *Cluster) AddNodes(names ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, name := range names {
		if _, ok := c.nodes[name]; ok {
			continue
		}
		c.nodes[name] = &cluster.Node{Name: name, InstanceID: c.newID(), Status: cluster.NodeUp}
		c.nodeOrder = append(c.nodeOrder, name)
		if c.fmPrimary == "" {
			c.fmPrimary = name
		}
	}
}

func (c *Cluster) AddApplication(name, typeName string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.apps[name]; ok {
		return
	}
	c.apps[name] = cluster.Application{Name: name, TypeName: typeName}
	c.appOrder = append(c.appOrder, name)
}

// AddStatefulService creates a service with partitionCount partitions of
// target replicas each, placed on distinct up nodes. It returns the new
// partition IDs.
func (c *Cluster) AddStatefulService(app, name string, partitionCount, target int, persisted bool) []string {
	return c.addService(cluster.Service{
		Name:                 name,
		ApplicationName:      app,
		Kind:                 cluster.Stateful,
		HasPersistedState:    persisted,
		PartitionCount:       partitionCount,
		TargetReplicaSetSize: target,
		MinReplicaSetSize:    cluster.WriteQuorumSize(target),
	})
}

// AddStatelessService creates a service with partitionCount partitions of
// instanceCount instances each; cluster.AllNodes places one per up node.
func (c *Cluster) AddStatelessService(app, name string, partitionCount, instanceCount int) []string {
	return c.addService(cluster.Service{
		Name:            name,
		ApplicationName: app,
		Kind:            cluster.Stateless,
		PartitionCount:  partitionCount,
		InstanceCount:   instanceCount,
	})
}

func (c *Cluster) addService(svc cluster.Service) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &service{Service: svc}
	c.services[svc.Name] = s
	c.serviceOrder = append(c.serviceOrder, svc.Name)

	for i := 0; i < svc.PartitionCount; i++ {
		p := &partition{Partition: cluster.Partition{
			ID:                  uuid.NewString(),
			ServiceName:         svc.Name,
			Kind:                svc.Kind,
			ConfigurationNumber: 1,
		}}
		c.place(p, s, i)
		c.partitions[p.ID] = p
		s.partitions = append(s.partitions, p.ID)
	}

	for _, node := range c.nodeOrder {
		c.packages = append(c.packages, &codePackage{
			DeployedCodePackage: cluster.DeployedCodePackage{
				NodeName:            node,
				ApplicationName:     svc.ApplicationName,
				ServiceManifestName: manifestName(svc.Name),
				Name:                "Code",
				EntryPoint:          cluster.EntryPoint{Status: cluster.EntryPointStarted, InstanceID: c.newID()},
			},
			serviceName: svc.Name,
		})
	}

	ids := make([]string, len(s.partitions))
	copy(ids, s.partitions)
	return ids
}

func manifestName(serviceName string) string {
	return serviceName + "Pkg"
}

// place creates the initial replica set, rotating the starting node by the
// partition's index so partitions do not all share a primary.
func (c *Cluster) place(p *partition, s *service, index int) {
	up := c.upNodes()
	want := s.TargetCount()
	if want == cluster.AllNodes || want > len(up) {
		want = len(up)
	}

	for i := 0; i < want; i++ {
		node := up[(index+i)%len(up)]
		role := cluster.RoleNone
		if s.Kind == cluster.Stateful {
			role = cluster.RoleActiveSecondary
			if i == 0 {
				role = cluster.RolePrimary
			}
		}
		p.replicas = append(p.replicas, &cluster.Replica{
			ID:         c.newID(),
			NodeName:   node,
			Role:       role,
			Status:     cluster.ReplicaReady,
			InstanceID: c.newID(),
		})
	}
	p.configSize = len(p.replicas)
	c.recompute(p)
}

func (c *Cluster) upNodes() []string {
	var up []string
	for _, name := range c.nodeOrder {
		if c.nodes[name].IsUp() {
			up = append(up, name)
		}
	}
	return up
}

// enter counts the call, runs the interceptor and checks ctx. It must be
// called without c.mu held.
func (c *Cluster) enter(ctx context.Context, op string) error {
	c.mu.Lock()
	c.calls[op]++
	n := c.calls[op]
	intercept := c.interceptor
	c.mu.Unlock()

	if intercept != nil {
		if err := intercept(op, n); err != nil {
			return err
		}
	}

	switch ctx.Err() {
	case nil:
		return nil
	case context.DeadlineExceeded:
		return cluster.NewError(cluster.KindTimeout, cluster.CodeTimeout, "%s timed out", op)
	default:
		return cluster.NewError(cluster.KindOperationCanceled, cluster.CodeUnknown, "%s canceled", op)
	}
}

// SetInterceptor installs fn in front of every client call; nil removes it
func (c *Cluster) SetInterceptor(fn Interceptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interceptor = fn
}

// FailNth makes the nth call to op fail with err
func (c *Cluster) FailNth(op string, nth int, err error) {
	c.SetInterceptor(func(name string, call int) error {
		if name == op && call == nth {
			return err
		}
		return nil
	})
}

// Calls returns how many times op was invoked
func (c *Cluster) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

// Rules returns the fault rules currently installed on node
func (c *Cluster) Rules(node string) []cluster.FaultRule {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []cluster.FaultRule
	for _, r := range c.rules[node] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RuleCount returns the number of fault rules installed anywhere
func (c *Cluster) RuleCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, rs := range c.rules {
		n += len(rs)
	}
	return n
}

// NodeNames returns every node in the order it was added
func (c *Cluster) NodeNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.nodeOrder...)
}

// SetFailoverManagerPrimary moves the failover manager primary to node
func (c *Cluster) SetFailoverManagerPrimary(node string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fmPrimary = node
}

// SetNodeStatus changes a node's status without running any lifecycle
// transition.
func (c *Cluster) SetNodeStatus(node string, status cluster.NodeStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.nodes[node]; ok {
		n.Status = status
	}
}

// SetReplicaStatus overrides a replica's status and recomputes the
// partition.
func (c *Cluster) SetReplicaStatus(partitionID string, replicaID int64, status cluster.ReplicaStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.partitions[partitionID]
	if !ok {
		return
	}
	for _, r := range p.replicas {
		if r.ID == replicaID {
			r.Status = status
		}
	}
	c.recompute(p)
}

// ReportHealth attaches an event to a service name or partition ID
func (c *Cluster) ReportHealth(entity string, ev cluster.HealthEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports[entity] = append(c.reports[entity], ev)
}

// ClearHealth drops every event reported for entity
func (c *Cluster) ClearHealth(entity string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.reports, entity)
}
