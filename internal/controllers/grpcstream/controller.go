package grpcstream

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/chrissnell/scalebridge/internal/hub"
	"github.com/chrissnell/scalebridge/internal/latest"
	"github.com/chrissnell/scalebridge/internal/types"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Controller represents the gRPC controller
type Controller struct {
	ctx    context.Context
	wg     *sync.WaitGroup
	Server *grpc.Server
	store  *latest.Store
	hub    *hub.Hub
	logger *zap.SugaredLogger
}

// NewController creates a new gRPC controller instance. TLS, when
// configured, is terminated by the shared listener.
func NewController(ctx context.Context, wg *sync.WaitGroup, store *latest.Store, h *hub.Hub, logger *zap.SugaredLogger, opts ...grpc.ServerOption) *Controller {
	ctrl := &Controller{
		ctx:    ctx,
		wg:     wg,
		Server: grpc.NewServer(opts...),
		store:  store,
		hub:    h,
		logger: logger,
	}

	RegisterMeasurementsServer(ctrl.Server, ctrl)
	reflection.Register(ctrl.Server)

	return ctrl
}

// Serve runs the gRPC server on l until the context is cancelled.
func (c *Controller) Serve(l net.Listener) {
	c.logger.Infof("gRPC controller listening on %s", l.Addr())
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()
		if err := c.Server.Serve(l); err != nil && err != grpc.ErrServerStopped {
			c.logger.Errorf("gRPC controller serve error: %v", err)
		}
	}()

	go func() {
		<-c.ctx.Done()
		c.logger.Info("Stopping gRPC controller...")
		c.Server.GracefulStop()
	}()
}

// Latest implements MeasurementsServer.
func (c *Controller) Latest(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	snap, ok := c.store.Read()
	if !ok {
		return nil, status.Error(codes.NotFound, "no measurement yet")
	}
	return toStruct(snap.Measurement)
}

// Live implements MeasurementsServer.
func (c *Controller) Live(_ *emptypb.Empty, stream grpc.ServerStream) error {
	remote := "unknown"
	if p, ok := peer.FromContext(stream.Context()); ok {
		remote = p.Addr.String()
	}

	sub, err := c.hub.Subscribe(remote)
	if err != nil {
		return status.Error(codes.Unavailable, err.Error())
	}
	defer c.hub.Unsubscribe(sub.ID())

	for {
		select {
		case <-stream.Context().Done():
			return nil
		case snap, ok := <-sub.C():
			if !ok {
				return status.Error(codes.Unavailable, "subscription closed")
			}
			msg, err := toStruct(snap.Measurement)
			if err != nil {
				c.logger.Errorf("error converting measurement #%d: %v", snap.Seq, err)
				continue
			}
			if err := stream.SendMsg(msg); err != nil {
				c.logger.Debugf("gRPC stream %s send error: %v", remote, err)
				return err
			}
		}
	}
}

func toStruct(m types.Measurement) (*structpb.Struct, error) {
	st, err := structpb.NewStruct(types.NewRecord(m).Map())
	if err != nil {
		return nil, fmt.Errorf("building struct: %w", err)
	}
	return st, nil
}
