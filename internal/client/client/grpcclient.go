package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/chatkeeper/internal/client/session"
	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Service and method names of the generic conversation API. Both methods
// take a Struct {operation, variables} and answer the operation result as a
// Struct.
const (
	ServiceName  = "chatkeeper.v1.Conversations"
	QueryMethod  = "/" + ServiceName + "/Query"
	MutateMethod = "/" + ServiceName + "/Mutate"
)

// Executor runs named queries and mutations. Results are decoded into out,
// which may be nil.
type Executor interface {
	Query(ctx context.Context, op string, vars map[string]any, out any) error
	Mutate(ctx context.Context, op string, vars map[string]any, out any) error
}

type GRPCClient struct {
	endpointURL string
	sess        *session.Session
	conn        *grpc.ClientConn
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Set(common.AccessTokenHeaderName, token)

	return metadata.NewOutgoingContext(ctx, md)
}

// accessTokenInterceptor attaches the session token to every call. A missing
// token stops the call before it reaches the network.
func (c *GRPCClient) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply any,
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	token, err := c.sess.Token(ctx)
	if err != nil {
		return err
	}
	return invoker(withAccessToken(ctx, token), method, req, reply, cc, opts...)
}

// NewGRPCClient creates a client for endpointURL. Extra dial options are
// appended after the defaults, so tests can swap the dialer.
func NewGRPCClient(endpointURL string, sess *session.Session, opts ...grpc.DialOption) (*GRPCClient, error) {
	c := &GRPCClient{endpointURL: endpointURL, sess: sess}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(c.accessTokenInterceptor),
	}, opts...)

	conn, err := grpc.NewClient(endpointURL, dialOpts...)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return c, nil
}

func (c *GRPCClient) Query(ctx context.Context, op string, vars map[string]any, out any) error {
	return c.invoke(ctx, QueryMethod, op, vars, out)
}

func (c *GRPCClient) Mutate(ctx context.Context, op string, vars map[string]any, out any) error {
	return c.invoke(ctx, MutateMethod, op, vars, out)
}

func (c *GRPCClient) invoke(ctx context.Context, method, op string, vars map[string]any, out any) error {
	req, err := encodeRequest(op, vars)
	if err != nil {
		return fmt.Errorf("encode %s: %w", op, err)
	}

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, method, req, resp); err != nil {
		return mapError(op, err)
	}

	if out == nil {
		return nil
	}
	return decodeResult(resp, out)
}

func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

// encodeRequest builds {operation, variables}. Variables go through JSON so
// typed slices and structs are accepted.
func encodeRequest(op string, vars map[string]any) (*structpb.Struct, error) {
	if vars == nil {
		vars = map[string]any{}
	}
	raw, err := json.Marshal(map[string]any{"operation": op, "variables": vars})
	if err != nil {
		return nil, err
	}
	req := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, req); err != nil {
		return nil, err
	}
	return req, nil
}

// decodeResult maps the result Struct onto out. Struct numbers are doubles,
// so results carry timestamps as RFC 3339 strings.
func decodeResult(resp *structpb.Struct, out any) error {
	raw, err := protojson.Marshal(resp)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// mapError turns a gRPC failure into a *TransportError. Precondition
// failures raised before the call are passed through untouched.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, common.ErrPrecondition) {
		return err
	}

	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return &TransportError{Kind: KindUnauthorized, Op: op, Retryable: true, Err: err}
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return &TransportError{Kind: KindNetwork, Op: op, Retryable: true, Err: err}
	default:
		return &TransportError{Kind: KindRemote, Op: op, Err: fmt.Errorf("rpc error: %w", err)}
	}
}
