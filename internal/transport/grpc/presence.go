package grpcx

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// signal.v1.Presence собран вручную на well-known типах, без protoc.
const (
	presenceService      = "signal.v1.Presence"
	methodListRoom       = "/signal.v1.Presence/ListRoom"
	methodListConnection = "/signal.v1.Presence/ListConnection"
	methodEvict          = "/signal.v1.Presence/Evict"
	methodPing           = "/signal.v1.Presence/Ping"
)

type PresenceServer interface {
	ListRoom(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error)
	ListConnection(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error)
	Evict(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error)
	Ping(ctx context.Context, in *emptypb.Empty) (*emptypb.Empty, error)
}

var presenceServiceDesc = grpc.ServiceDesc{
	ServiceName: presenceService,
	HandlerType: (*PresenceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListRoom", Handler: stringHandler(methodListRoom, PresenceServer.ListRoom)},
		{MethodName: "ListConnection", Handler: stringHandler(methodListConnection, PresenceServer.ListConnection)},
		{MethodName: "Evict", Handler: stringHandler(methodEvict, PresenceServer.Evict)},
		{MethodName: "Ping", Handler: pingHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "signal/v1/presence.proto",
}

func RegisterPresenceServer(s grpc.ServiceRegistrar, srv PresenceServer) {
	s.RegisterService(&presenceServiceDesc, srv)
}

type stringMethod func(PresenceServer, context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)

func stringHandler(fullMethod string, call stringMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(wrapperspb.StringValue)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(PresenceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(PresenceServer), ctx, req.(*wrapperspb.StringValue))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func pingHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PresenceServer).Ping(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodPing}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PresenceServer).Ping(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// PresenceClient — клиент для админских утилит и тестов.
type PresenceClient struct {
	cc grpc.ClientConnInterface
}

func NewPresenceClient(cc grpc.ClientConnInterface) *PresenceClient {
	return &PresenceClient{cc: cc}
}

func (c *PresenceClient) ListRoom(ctx context.Context, roomID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodListRoom, wrapperspb.String(roomID), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *PresenceClient) ListConnection(ctx context.Context, connectionID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodListConnection, wrapperspb.String(connectionID), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *PresenceClient) Evict(ctx context.Context, connectionID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodEvict, wrapperspb.String(connectionID), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *PresenceClient) Ping(ctx context.Context, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, methodPing, &emptypb.Empty{}, new(emptypb.Empty), opts...)
}
