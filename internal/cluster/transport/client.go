package transport

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"cluster-chaos/internal/cluster"
)

// Client is a cluster.Client backed by a gRPC connection
type Client struct {
	conn *grpc.ClientConn
}

var _ cluster.Client = (*Client)(nil)

// Dial connects to a cluster endpoint without TLS
func Dial(endpoint string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}, opts...)

	conn, err := grpc.NewClient(endpoint, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "dial cluster %s", endpoint)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Ping asks the endpoint's health service whether the cluster service is up
func (c *Client) Ping(ctx context.Context) error {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return fromStatus(err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return cluster.NewError(cluster.KindCommunication, cluster.CodeServiceOffline, "cluster service is %s", resp.GetStatus())
	}
	return nil
}

// invoke runs one unary call bounded by timeout
func (c *Client) invoke(ctx context.Context, name string, timeout time.Duration, req *request) (*response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
		req.TimeoutMillis = timeout.Milliseconds()
	}

	resp := new(response)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+name, req, resp); err != nil {
		return nil, fromStatus(err)
	}
	return resp, nil
}

func (c *Client) GetNodeList(ctx context.Context, timeout time.Duration) ([]cluster.Node, error) {
	resp, err := c.invoke(ctx, "GetNodeList", timeout, &request{})
	if err != nil {
		return nil, err
	}
	return resp.Nodes, nil
}

func (c *Client) GetApplicationList(ctx context.Context, timeout time.Duration) ([]cluster.Application, error) {
	resp, err := c.invoke(ctx, "GetApplicationList", timeout, &request{})
	if err != nil {
		return nil, err
	}
	return resp.Applications, nil
}

func (c *Client) GetServiceList(ctx context.Context, applicationName string, timeout time.Duration) ([]cluster.Service, error) {
	resp, err := c.invoke(ctx, "GetServiceList", timeout, &request{Application: applicationName})
	if err != nil {
		return nil, err
	}
	return resp.Services, nil
}

func (c *Client) GetService(ctx context.Context, serviceName string, timeout time.Duration) (cluster.Service, error) {
	resp, err := c.invoke(ctx, "GetService", timeout, &request{Service: serviceName})
	if err != nil {
		return cluster.Service{}, err
	}
	if resp.Service == nil {
		return cluster.Service{}, cluster.ErrServiceNotFound(serviceName)
	}
	return *resp.Service, nil
}

func (c *Client) GetPartitionList(ctx context.Context, serviceName string, timeout time.Duration) ([]cluster.Partition, error) {
	resp, err := c.invoke(ctx, "GetPartitionList", timeout, &request{Service: serviceName})
	if err != nil {
		return nil, err
	}
	return resp.Partitions, nil
}

func (c *Client) GetPartition(ctx context.Context, partitionID string, timeout time.Duration) (cluster.Partition, error) {
	resp, err := c.invoke(ctx, "GetPartition", timeout, &request{PartitionID: partitionID})
	if err != nil {
		return cluster.Partition{}, err
	}
	if resp.Partition == nil {
		return cluster.Partition{}, cluster.ErrPartitionNotFound(partitionID)
	}
	return *resp.Partition, nil
}

func (c *Client) GetReplicaList(ctx context.Context, partitionID string, timeout time.Duration) ([]cluster.Replica, error) {
	resp, err := c.invoke(ctx, "GetReplicaList", timeout, &request{PartitionID: partitionID})
	if err != nil {
		return nil, err
	}
	return resp.Replicas, nil
}

func (c *Client) GetServiceHealth(ctx context.Context, serviceName string, timeout time.Duration) (cluster.ServiceHealth, error) {
	resp, err := c.invoke(ctx, "GetServiceHealth", timeout, &request{Service: serviceName})
	if err != nil {
		return cluster.ServiceHealth{}, err
	}
	if resp.Health == nil {
		return cluster.ServiceHealth{ServiceName: serviceName, State: cluster.HealthUnknown}, nil
	}
	return *resp.Health, nil
}

func (c *Client) GetDeployedCodePackageList(ctx context.Context, nodeName, applicationName string, timeout time.Duration) ([]cluster.DeployedCodePackage, error) {
	resp, err := c.invoke(ctx, "GetDeployedCodePackageList", timeout, &request{Node: nodeName, Application: applicationName})
	if err != nil {
		return nil, err
	}
	return resp.CodePackages, nil
}

func (c *Client) GetFailoverManagerPrimary(ctx context.Context, timeout time.Duration) (string, error) {
	resp, err := c.invoke(ctx, "GetFailoverManagerPrimary", timeout, &request{})
	if err != nil {
		return "", err
	}
	return resp.NodeName, nil
}

func (c *Client) MovePrimary(ctx context.Context, nodeName, partitionID string, ignoreConstraints bool, timeout time.Duration) error {
	_, err := c.invoke(ctx, "MovePrimary", timeout, &request{Node: nodeName, PartitionID: partitionID, Flag: ignoreConstraints})
	return err
}

func (c *Client) MoveSecondary(ctx context.Context, currentNode, newNode, partitionID string, ignoreConstraints bool, timeout time.Duration) error {
	_, err := c.invoke(ctx, "MoveSecondary", timeout, &request{Node: currentNode, NewNode: newNode, PartitionID: partitionID, Flag: ignoreConstraints})
	return err
}

func (c *Client) RestartReplica(ctx context.Context, nodeName, partitionID string, replicaID int64, timeout time.Duration) error {
	_, err := c.invoke(ctx, "RestartReplica", timeout, &request{Node: nodeName, PartitionID: partitionID, ReplicaID: replicaID})
	return err
}

func (c *Client) RemoveReplica(ctx context.Context, nodeName, partitionID string, replicaID int64, force bool, timeout time.Duration) error {
	_, err := c.invoke(ctx, "RemoveReplica", timeout, &request{Node: nodeName, PartitionID: partitionID, ReplicaID: replicaID, Flag: force})
	return err
}

func (c *Client) RestartNode(ctx context.Context, nodeName string, instanceID int64, createDump bool, timeout time.Duration) error {
	_, err := c.invoke(ctx, "RestartNode", timeout, &request{Node: nodeName, InstanceID: instanceID, Flag: createDump})
	return err
}

func (c *Client) StartNode(ctx context.Context, nodeName string, instanceID int64, timeout time.Duration) error {
	_, err := c.invoke(ctx, "StartNode", timeout, &request{Node: nodeName, InstanceID: instanceID})
	return err
}

func (c *Client) StopNode(ctx context.Context, nodeName string, instanceID int64, timeout time.Duration) error {
	_, err := c.invoke(ctx, "StopNode", timeout, &request{Node: nodeName, InstanceID: instanceID})
	return err
}

func (c *Client) RestartDeployedCodePackage(ctx context.Context, pkg cluster.CodePackageID, instanceID int64, timeout time.Duration) error {
	_, err := c.invoke(ctx, "RestartDeployedCodePackage", timeout, &request{CodePackage: &pkg, InstanceID: instanceID})
	return err
}

func (c *Client) AddFaultRule(ctx context.Context, nodeName string, rule cluster.FaultRule, timeout time.Duration) error {
	_, err := c.invoke(ctx, "AddFaultRule", timeout, &request{Node: nodeName, Rule: &rule})
	return err
}

func (c *Client) RemoveFaultRule(ctx context.Context, nodeName, ruleName string, timeout time.Duration) error {
	_, err := c.invoke(ctx, "RemoveFaultRule", timeout, &request{Node: nodeName, RuleName: ruleName})
	return err
}
