package transport

import (
	"context"
	"time"

	"google.golang.org/grpc"

	"cluster-chaos/internal/cluster"
)

// ServiceName is the fully qualified name of the cluster management service
const ServiceName = "chaos.cluster.v1.ClusterService"

// request carries the arguments of every cluster call; each method reads
// only the fields it needs.
type request struct {
	TimeoutMillis int64                  `json:"timeout_ms"`
	Node          string                 `json:"node,omitempty"`
	NewNode       string                 `json:"new_node,omitempty"`
	Application   string                 `json:"application,omitempty"`
	Service       string                 `json:"service,omitempty"`
	PartitionID   string                 `json:"partition_id,omitempty"`
	ReplicaID     int64                  `json:"replica_id,omitempty"`
	InstanceID    int64                  `json:"instance_id,omitempty"`
	Flag          bool                   `json:"flag,omitempty"`
	Rule          *cluster.FaultRule     `json:"rule,omitempty"`
	RuleName      string                 `json:"rule_name,omitempty"`
	CodePackage   *cluster.CodePackageID `json:"code_package,omitempty"`
}

func (r *request) timeout() time.Duration {
	return time.Duration(r.TimeoutMillis) * time.Millisecond
}

type response struct {
	Nodes        []cluster.Node                `json:"nodes,omitempty"`
	Applications []cluster.Application         `json:"applications,omitempty"`
	Services     []cluster.Service             `json:"services,omitempty"`
	Service      *cluster.Service              `json:"service,omitempty"`
	Partitions   []cluster.Partition           `json:"partitions,omitempty"`
	Partition    *cluster.Partition            `json:"partition,omitempty"`
	Replicas     []cluster.Replica             `json:"replicas,omitempty"`
	Health       *cluster.ServiceHealth        `json:"health,omitempty"`
	CodePackages []cluster.DeployedCodePackage `json:"code_packages,omitempty"`
	NodeName     string                        `json:"node_name,omitempty"`
}

// backendHolder is the handler type checked by grpc.Server.RegisterService
type backendHolder interface {
	backend() cluster.Client
}

type handlerFunc func(ctx context.Context, c cluster.Client, req *request) (*response, error)

func method(name string, h handlerFunc) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(request)
			if err := dec(in); err != nil {
				return nil, err
			}
			backend := srv.(backendHolder).backend()
			call := func(ctx context.Context, req interface{}) (interface{}, error) {
				resp, err := h(ctx, backend, req.(*request))
				return resp, toStatus(err)
			}
			if interceptor == nil {
				return call(ctx, in)
			}
			return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}, call)
		},
	}
}

func empty(err error) (*response, error) {
	if err != nil {
		return nil, err
	}
	return &response{}, nil
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*backendHolder)(nil),
	Metadata:    "cluster.proto",
	Methods: []grpc.MethodDesc{
		method("GetNodeList", func(ctx context.Context, c cluster.Client, r *request) (*response, error) {
			nodes, err := c.GetNodeList(ctx, r.timeout())
			return &response{Nodes: nodes}, err
		}),
		method("GetApplicationList", func(ctx context.Context, c cluster.Client, r *request) (*response, error) {
			apps, err := c.GetApplicationList(ctx, r.timeout())
			return &response{Applications: apps}, err
		}),
		method("GetServiceList", func(ctx context.Context, c cluster.Client, r *request) (*response, error) {
			svcs, err := c.GetServiceList(ctx, r.Application, r.timeout())
			return &response{Services: svcs}, err
		}),
		method("GetService", func(ctx context.Context, c cluster.Client, r *request) (*response, error) {
			svc, err := c.GetService(ctx, r.Service, r.timeout())
			return &response{Service: &svc}, err
		}),
		method("GetPartitionList", func(ctx context.Context, c cluster.Client, r *request) (*response, error) {
			ps, err := c.GetPartitionList(ctx, r.Service, r.timeout())
			return &response{Partitions: ps}, err
		}),
		method("GetPartition", func(ctx context.Context, c cluster.Client, r *request) (*response, error) {
			p, err := c.GetPartition(ctx, r.PartitionID, r.timeout())
			return &response{Partition: &p}, err
		}),
		method("GetReplicaList", func(ctx context.Context, c cluster.Client, r *request) (*response, error) {
			rs, err := c.GetReplicaList(ctx, r.PartitionID, r.timeout())
			return &response{Replicas: rs}, err
		}),
		method("GetServiceHealth", func(ctx context.Context, c cluster.Client, r *request) (*response, error) {
			h, err := c.GetServiceHealth(ctx, r.Service, r.timeout())
			return &response{Health: &h}, err
		}),
		method("GetDeployedCodePackageList", func(ctx context.Context, c cluster.Client, r *request) (*response, error) {
			pkgs, err := c.GetDeployedCodePackageList(ctx, r.Node, r.Application, r.timeout())
			return &response{CodePackages: pkgs}, err
		}),
		method("GetFailoverManagerPrimary", func(ctx context.Context, c cluster.Client, r *request) (*response, error) {
			node, err := c.GetFailoverManagerPrimary(ctx, r.timeout())
			return &response{NodeName: node}, err
		}),
		method("MovePrimary", func(ctx context.Context, c cluster.Client, r *request) (*response, error) {
			return empty(c.MovePrimary(ctx, r.Node, r.PartitionID, r.Flag, r.timeout()))
		}),
		method("MoveSecondary", func(ctx context.Context, c cluster.Client, r *request) (*response, error) {
			return empty(c.MoveSecondary(ctx, r.Node, r.NewNode, r.PartitionID, r.Flag, r.timeout()))
		}),
		method("RestartReplica", func(ctx context.Context, c cluster.Client, r *request) (*response, error) {
			return empty(c.RestartReplica(ctx, r.Node, r.PartitionID, r.ReplicaID, r.timeout()))
		}),
		method("RemoveReplica", func(ctx context.Context, c cluster.Client, r *request) (*response, error) {
			return empty(c.RemoveReplica(ctx, r.Node, r.PartitionID, r.ReplicaID, r.Flag, r.timeout()))
		}),
		method("RestartNode", func(ctx context.Context, c cluster.Client, r *request) (*response, error) {
			return empty(c.RestartNode(ctx, r.Node, r.InstanceID, r.Flag, r.timeout()))
		}),
		method("StartNode", func(ctx context.Context, c cluster.Client, r *request) (*response, error) {
			return empty(c.StartNode(ctx, r.Node, r.InstanceID, r.timeout()))
		}),
		method("StopNode", func(ctx context.Context, c cluster.Client, r *request) (*response, error) {
			return empty(c.StopNode(ctx, r.Node, r.InstanceID, r.timeout()))
		}),
		method("RestartDeployedCodePackage", func(ctx context.Context, c cluster.Client, r *request) (*response, error) {
			if r.CodePackage == nil {
				return nil, cluster.NewError(cluster.KindArgument, cluster.CodeCodePackageNotFound, "code package id is required")
			}
			return empty(c.RestartDeployedCodePackage(ctx, *r.CodePackage, r.InstanceID, r.timeout()))
		}),
		method("AddFaultRule", func(ctx context.Context, c cluster.Client, r *request) (*response, error) {
			if r.Rule == nil {
				return nil, cluster.NewError(cluster.KindArgument, cluster.CodeUnknown, "fault rule is required")
			}
			return empty(c.AddFaultRule(ctx, r.Node, *r.Rule, r.timeout()))
		}),
		method("RemoveFaultRule", func(ctx context.Context, c cluster.Client, r *request) (*response, error) {
			return empty(c.RemoveFaultRule(ctx, r.Node, r.RuleName, r.timeout()))
		}),
	},
}
