package roomkeyv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "roomkey.v1.RoomService"

const (
	RoomService_Send_FullMethodName       = "/" + ServiceName + "/Send"
	RoomService_SyncSubset_FullMethodName = "/" + ServiceName + "/SyncSubset"
	RoomService_SyncAll_FullMethodName    = "/" + ServiceName + "/SyncAll"
	RoomService_Status_FullMethodName     = "/" + ServiceName + "/Status"
)

type RoomServiceServer interface {
	Send(context.Context, *SendRequest) (*SendResponse, error)
	SyncSubset(context.Context, *SyncSubsetRequest) (*SyncSubsetResponse, error)
	SyncAll(context.Context, *SyncAllRequest) (*SyncAllResponse, error)
	Status(context.Context, *StatusRequest) (*StatusResponse, error)
}

// embed for forward compatibility
type UnimplementedRoomServiceServer struct{}

func (UnimplementedRoomServiceServer) Send(context.Context, *SendRequest) (*SendResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Send not implemented")
}

func (UnimplementedRoomServiceServer) SyncSubset(context.Context, *SyncSubsetRequest) (*SyncSubsetResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method SyncSubset not implemented")
}

func (UnimplementedRoomServiceServer) SyncAll(context.Context, *SyncAllRequest) (*SyncAllResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method SyncAll not implemented")
}

func (UnimplementedRoomServiceServer) Status(context.Context, *StatusRequest) (*StatusResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Status not implemented")
}

func RegisterRoomServiceServer(s grpc.ServiceRegistrar, srv RoomServiceServer) {
	s.RegisterService(&RoomService_ServiceDesc, srv)
}

// decodes the Struct request, calls the typed method and encodes its reply
func unaryHandler[Req, Resp any](fullMethod string, call func(RoomServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}

		handle := func(ctx context.Context, req any) (any, error) {
			r := new(Req)
			if err := Decode(req.(*structpb.Struct), r); err != nil {
				return nil, status.Error(codes.InvalidArgument, err.Error())
			}
			resp, err := call(srv.(RoomServiceServer), ctx, r)
			if err != nil {
				return nil, err
			}
			out, err := Encode(resp)
			if err != nil {
				return nil, status.Error(codes.Internal, err.Error())
			}
			return out, nil
		}

		if interceptor == nil {
			return handle(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, handle)
	}
}

var RoomService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RoomServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Send",
			Handler:    unaryHandler(RoomService_Send_FullMethodName, RoomServiceServer.Send),
		},
		{
			MethodName: "SyncSubset",
			Handler:    unaryHandler(RoomService_SyncSubset_FullMethodName, RoomServiceServer.SyncSubset),
		},
		{
			MethodName: "SyncAll",
			Handler:    unaryHandler(RoomService_SyncAll_FullMethodName, RoomServiceServer.SyncAll),
		},
		{
			MethodName: "Status",
			Handler:    unaryHandler(RoomService_Status_FullMethodName, RoomServiceServer.Status),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "roomkey/v1/rooms.proto",
}

type RoomServiceClient interface {
	Send(ctx context.Context, in *SendRequest, opts ...grpc.CallOption) (*SendResponse, error)
	SyncSubset(ctx context.Context, in *SyncSubsetRequest, opts ...grpc.CallOption) (*SyncSubsetResponse, error)
	SyncAll(ctx context.Context, in *SyncAllRequest, opts ...grpc.CallOption) (*SyncAllResponse, error)
	Status(ctx context.Context, in *StatusRequest, opts ...grpc.CallOption) (*StatusResponse, error)
}

type roomServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewRoomServiceClient(cc grpc.ClientConnInterface) RoomServiceClient {
	return &roomServiceClient{cc}
}

func invoke[Req, Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in *Req, opts ...grpc.CallOption) (*Resp, error) {
	req, err := Encode(in)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := cc.Invoke(ctx, method, req, out, opts...); err != nil {
		return nil, err
	}
	resp := new(Resp)
	if err := Decode(out, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *roomServiceClient) Send(ctx context.Context, in *SendRequest, opts ...grpc.CallOption) (*SendResponse, error) {
	return invoke[SendRequest, SendResponse](ctx, c.cc, RoomService_Send_FullMethodName, in, opts...)
}

func (c *roomServiceClient) SyncSubset(ctx context.Context, in *SyncSubsetRequest, opts ...grpc.CallOption) (*SyncSubsetResponse, error) {
	return invoke[SyncSubsetRequest, SyncSubsetResponse](ctx, c.cc, RoomService_SyncSubset_FullMethodName, in, opts...)
}

func (c *roomServiceClient) SyncAll(ctx context.Context, in *SyncAllRequest, opts ...grpc.CallOption) (*SyncAllResponse, error) {
	return invoke[SyncAllRequest, SyncAllResponse](ctx, c.cc, RoomService_SyncAll_FullMethodName, in, opts...)
}

func (c *roomServiceClient) Status(ctx context.Context, in *StatusRequest, opts ...grpc.CallOption) (*StatusResponse, error) {
	return invoke[StatusRequest, StatusResponse](ctx, c.cc, RoomService_Status_FullMethodName, in, opts...)
}
