package managers

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/chrissnell/scalebridge/internal/controllers/grpcstream"
	"github.com/chrissnell/scalebridge/internal/controllers/restserver"
	"github.com/chrissnell/scalebridge/pkg/config"
	"github.com/soheilhy/cmux"
	"go.uber.org/zap"
)

// ControllerManager owns the listener and the controllers that share it.
type ControllerManager struct {
	ctx    context.Context
	wg     *sync.WaitGroup
	config config.ServerData
	logger *zap.SugaredLogger

	REST *restserver.Controller
	GRPC *grpcstream.Controller

	listener net.Listener
}

// NewControllerManager creates the REST controller and, when enabled, the
// gRPC controller. Nothing listens until StartControllers.
func NewControllerManager(ctx context.Context, wg *sync.WaitGroup, sc config.ServerData, mm *MeasurementManager, status restserver.StatusProvider, logger *zap.SugaredLogger) (*ControllerManager, error) {
	cm := &ControllerManager{
		ctx:    ctx,
		wg:     wg,
		config: sc,
		logger: logger,
	}

	rest, err := restserver.NewController(ctx, wg, sc, mm.Store, mm.Hub, status, logger)
	if err != nil {
		return nil, fmt.Errorf("error creating REST controller: %w", err)
	}
	cm.REST = rest

	if sc.GRPCEnabled {
		cm.GRPC = grpcstream.NewController(ctx, wg, mm.Store, mm.Hub, logger)
	}

	return cm, nil
}

// Addr returns the bound address once StartControllers has succeeded.
func (c *ControllerManager) Addr() net.Addr {
	if c.listener == nil {
		return nil
	}
	return c.listener.Addr()
}

// StartControllers binds the listener and starts serving. When gRPC is
// enabled, cmux routes HTTP/2 requests with a gRPC content type to the gRPC
// server and everything else to the REST server.
func (c *ControllerManager) StartControllers() error {
	c.logger.Info("Starting controller manager...")

	addr := net.JoinHostPort(c.config.ListenAddr, strconv.Itoa(c.config.Port))
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("could not listen on %s: %w", addr, err)
	}

	if c.config.Cert != "" && c.config.Key != "" {
		cert, err := tls.LoadX509KeyPair(c.config.Cert, c.config.Key)
		if err != nil {
			l.Close()
			return fmt.Errorf("could not load TLS keypair: %w", err)
		}
		l = tls.NewListener(l, &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{"h2", "http/1.1"},
			MinVersion:   tls.VersionTLS12,
		})
		c.logger.Info("TLS enabled")
	}
	c.listener = l

	if c.GRPC == nil {
		c.REST.Serve(l)
		c.logger.Info("Started 1 controller successfully")
		return nil
	}

	m := cmux.New(l)
	grpcL := m.MatchWithWriters(cmux.HTTP2MatchHeaderFieldSendSettings("content-type", "application/grpc"))
	httpL := m.Match(cmux.Any())

	c.GRPC.Serve(grpcL)
	c.REST.Serve(httpL)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := m.Serve(); err != nil && !errors.Is(err, net.ErrClosed) && c.ctx.Err() == nil {
			c.logger.Errorf("connection multiplexer error: %v", err)
		}
	}()

	go func() {
		<-c.ctx.Done()
		l.Close()
	}()

	c.logger.Info("Started 2 controllers successfully")
	return nil
}
