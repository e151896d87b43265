package transport

import (
	"context"
	"strconv"

	"github.com/cockroachdb/errors"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"cluster-chaos/internal/cluster"
)

const errorDomain = "cluster-chaos"

var kindToCode = map[cluster.Kind]codes.Code{
	cluster.KindTimeout:           codes.DeadlineExceeded,
	cluster.KindOperationCanceled: codes.Canceled,
	cluster.KindCommunication:     codes.Unavailable,
	cluster.KindTransient:         codes.Unavailable,
	cluster.KindObjectClosed:      codes.Unavailable,
	cluster.KindNotPrimary:        codes.FailedPrecondition,
	cluster.KindInvalidOperation:  codes.FailedPrecondition,
	cluster.KindNotFound:          codes.NotFound,
	cluster.KindArgument:          codes.InvalidArgument,
}

// toStatus encodes a cluster error as a gRPC status. Kind, code and native
// status survive the trip in an ErrorInfo detail.
func toStatus(err error) error {
	if err == nil {
		return nil
	}

	var ce *cluster.Error
	if !errors.As(err, &ce) {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return status.Error(codes.DeadlineExceeded, err.Error())
		case errors.Is(err, context.Canceled):
			return status.Error(codes.Canceled, err.Error())
		}
		return status.Error(codes.Internal, err.Error())
	}

	grpcCode, ok := kindToCode[ce.Kind]
	if !ok {
		grpcCode = codes.Unknown
	}

	info := &errdetails.ErrorInfo{
		Reason:   string(ce.Code),
		Domain:   errorDomain,
		Metadata: map[string]string{"kind": string(ce.Kind)},
	}
	var native *cluster.NativeError
	if errors.As(err, &native) {
		info.Metadata["native_code"] = strconv.FormatInt(native.Code, 10)
	}

	st, detailErr := status.New(grpcCode, ce.Message).WithDetails(info)
	if detailErr != nil {
		return status.Error(grpcCode, ce.Message)
	}
	return st.Err()
}

// fromStatus rebuilds the cluster error carried by a gRPC status. Transport
// failures without details become communication or timeout errors so the
// retry policies treat them as transient.
func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return cluster.NewError(cluster.KindCommunication, cluster.CodeCommunication, "transport failure").WithInner(err)
	}

	for _, d := range st.Details() {
		info, ok := d.(*errdetails.ErrorInfo)
		if !ok || info.Domain != errorDomain {
			continue
		}
		ce := cluster.NewError(cluster.Kind(info.Metadata["kind"]), cluster.Code(info.Reason), "%s", st.Message())
		if raw, ok := info.Metadata["native_code"]; ok {
			if n, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
				ce.WithInner(&cluster.NativeError{Code: n})
			}
		}
		return ce
	}

	switch st.Code() {
	case codes.DeadlineExceeded:
		return cluster.NewError(cluster.KindTimeout, cluster.CodeTimeout, "%s", st.Message())
	case codes.Canceled:
		return cluster.NewError(cluster.KindOperationCanceled, cluster.CodeUnknown, "%s", st.Message())
	case codes.Unavailable:
		return cluster.NewError(cluster.KindCommunication, cluster.CodeGatewayUnreachable, "%s", st.Message())
	case codes.ResourceExhausted:
		return cluster.NewError(cluster.KindTransient, cluster.CodeServiceTooBusy, "%s", st.Message())
	default:
		return cluster.NewError(cluster.KindUnknown, cluster.CodeUnknown, "%s", st.Message()).WithInner(err)
	}
}
