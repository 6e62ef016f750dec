package client

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"

	"github.com/dmitrijs2005/chatkeeper/internal/client/models"
	"github.com/dmitrijs2005/chatkeeper/internal/client/session"
	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

type handlerFunc func(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error)

func unary(method string, h handlerFunc) grpc.MethodHandler {
	return func(_ any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
		in := &structpb.Struct{}
		if err := dec(in); err != nil {
			return nil, err
		}
		return h(ctx, method, in)
	}
}

func startServer(t *testing.T, h handlerFunc) *bufconn.Listener {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "Query", Handler: unary("Query", h)},
			{MethodName: "Mutate", Handler: unary("Mutate", h)},
		},
	}, struct{}{})

	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis
}

func newTestClient(t *testing.T, lis *bufconn.Listener, tokens session.TokenSource) *GRPCClient {
	t.Helper()

	sess := session.New(models.Scope{AccountID: "acc"}, tokens)
	c, err := NewGRPCClient("passthrough:///bufnet", sess,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestQuery_SendsOperationTokenAndDecodesResult(t *testing.T) {
	lis := startServer(t, func(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		assert.Equal(t, []string{"tok"}, md.Get(common.AccessTokenHeaderName))
		assert.Equal(t, "Query", method)
		assert.Equal(t, "listConversationIds", in.Fields["operation"].GetStringValue())

		vars := in.Fields["variables"].GetStructValue().AsMap()
		assert.Equal(t, "ACTIVE", vars["status"])
		assert.Equal(t, []any{"a", "b"}, vars["ids"])

		return structpb.NewStruct(map[string]any{
			"items":     []any{"c1", "c2"},
			"nextToken": "page-2",
		})
	})
	c := newTestClient(t, lis, session.StaticTokenSource("tok"))

	var out struct {
		Items     []string `json:"items"`
		NextToken *string  `json:"nextToken"`
	}
	err := c.Query(context.Background(), "listConversationIds", map[string]any{
		"status": "ACTIVE",
		"ids":    []string{"a", "b"},
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, out.Items)
	require.NotNil(t, out.NextToken)
	assert.Equal(t, "page-2", *out.NextToken)
}

func TestMutate_NilOut(t *testing.T) {
	var calls atomic.Int32
	lis := startServer(t, func(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error) {
		calls.Add(1)
		assert.Equal(t, "Mutate", method)
		return &structpb.Struct{}, nil
	})
	c := newTestClient(t, lis, session.StaticTokenSource("tok"))

	require.NoError(t, c.Mutate(context.Background(), "registerPublicKey", nil, nil))
	assert.EqualValues(t, 1, calls.Load())
}

func TestQuery_MissingTokenIsPrecondition(t *testing.T) {
	var calls atomic.Int32
	lis := startServer(t, func(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error) {
		calls.Add(1)
		return &structpb.Struct{}, nil
	})
	c := newTestClient(t, lis, session.StaticTokenSource(""))

	err := c.Query(context.Background(), "x", nil, nil)
	require.ErrorIs(t, err, common.ErrPrecondition)

	var te *TransportError
	assert.False(t, errors.As(err, &te))
	assert.Zero(t, calls.Load())
}

func TestQuery_StatusCodesBecomeTransportErrors(t *testing.T) {
	cases := []struct {
		code      codes.Code
		kind      ErrorKind
		retryable bool
		sentinel  error
	}{
		{codes.Unauthenticated, KindUnauthorized, true, ErrUnauthorized},
		{codes.PermissionDenied, KindUnauthorized, true, ErrUnauthorized},
		{codes.Unavailable, KindNetwork, true, ErrUnavailable},
		{codes.Internal, KindRemote, false, nil},
	}
	for _, tc := range cases {
		t.Run(tc.code.String(), func(t *testing.T) {
			lis := startServer(t, func(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error) {
				return nil, status.Error(tc.code, "nope")
			})
			c := newTestClient(t, lis, session.StaticTokenSource("tok"))

			err := c.Query(context.Background(), "op", nil, nil)

			var te *TransportError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tc.kind, te.Kind)
			assert.Equal(t, tc.retryable, te.Retryable)
			assert.Equal(t, "op", te.Op)
			if tc.sentinel != nil {
				assert.ErrorIs(t, err, tc.sentinel)
			}
		})
	}
}

func TestMapError(t *testing.T) {
	require.NoError(t, mapError("op", nil))

	pre := errors.Join(common.ErrPrecondition)
	require.Same(t, pre, mapError("op", pre))

	err := mapError("op", errors.New("plain"))
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, KindRemote, te.Kind)
	assert.ErrorContains(t, err, "rpc error:")
}
