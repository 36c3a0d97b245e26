package grpcstream

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls the Measurements service on an existing connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Latest fetches the current measurement.
func (c *Client) Latest(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, LatestFullMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// LiveStream receives pushed measurements.
type LiveStream struct {
	grpc.ClientStream
}

// Recv blocks for the next measurement.
func (s *LiveStream) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := s.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Live opens a server stream of measurements.
func (c *Client) Live(ctx context.Context, opts ...grpc.CallOption) (*LiveStream, error) {
	stream, err := c.cc.NewStream(ctx, &serviceDesc.Streams[0], LiveFullMethod, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &LiveStream{ClientStream: stream}, nil
}
