// Package grpcstream serves measurements over gRPC. The service uses the
// well-known Empty and Struct messages, so no generated code is needed.
package grpcstream

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName      = "scalebridge.v1.Measurements"
	LatestFullMethod = "/" + ServiceName + "/Latest"
	LiveFullMethod   = "/" + ServiceName + "/Live"
)

// MeasurementsServer is the server API for the Measurements service.
type MeasurementsServer interface {
	// Latest returns the current measurement, or NotFound before the first.
	Latest(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// Live sends the current measurement and then every new one.
	Live(*emptypb.Empty, grpc.ServerStream) error
}

// RegisterMeasurementsServer registers srv with s.
func RegisterMeasurementsServer(s grpc.ServiceRegistrar, srv MeasurementsServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MeasurementsServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Latest",
			Handler:    latestHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Live",
			Handler:       liveHandler,
			ServerStreams: true,
		},
	},
	Metadata: "scalebridge/v1/measurements.proto",
}

func latestHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MeasurementsServer).Latest(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: LatestFullMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MeasurementsServer).Latest(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func liveHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(MeasurementsServer).Live(in, stream)
}
