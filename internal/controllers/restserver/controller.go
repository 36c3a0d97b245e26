// Package restserver serves the current measurement over HTTP and pushes
// live measurements over WebSocket.
package restserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/chrissnell/scalebridge/internal/hub"
	"github.com/chrissnell/scalebridge/internal/latest"
	"github.com/chrissnell/scalebridge/internal/log"
	"github.com/chrissnell/scalebridge/internal/metrics"
	"github.com/chrissnell/scalebridge/internal/scale"
	"github.com/chrissnell/scalebridge/pkg/config"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// StatusProvider reports the state of the scale connection.
type StatusProvider interface {
	Status() scale.Status
}

// Controller represents the REST server controller
type Controller struct {
	ctx      context.Context
	wg       *sync.WaitGroup
	config   config.ServerData
	Server   http.Server
	store    *latest.Store
	hub      *hub.Hub
	status   StatusProvider
	logger   *zap.SugaredLogger
	handlers *Handlers
	upgrader websocket.Upgrader
}

// NewController creates a new REST server controller
func NewController(ctx context.Context, wg *sync.WaitGroup, sc config.ServerData, store *latest.Store, h *hub.Hub, status StatusProvider, logger *zap.SugaredLogger) (*Controller, error) {
	ctrl := &Controller{
		ctx:    ctx,
		wg:     wg,
		config: sc,
		store:  store,
		hub:    h,
		status: status,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The display client is served from anywhere on the ward network.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	if sc.StaticDir != "" {
		fi, err := os.Stat(sc.StaticDir)
		if err != nil {
			return nil, err
		}
		if !fi.IsDir() {
			return nil, errors.New("server.static_dir is not a directory: " + sc.StaticDir)
		}
	}

	ctrl.handlers = NewHandlers(ctrl)
	ctrl.Server.Handler = ctrl.setupRouter()
	ctrl.Server.ReadHeaderTimeout = 10 * time.Second

	return ctrl, nil
}

// Handler returns the routed HTTP handler.
func (c *Controller) Handler() http.Handler {
	return c.Server.Handler
}

// Serve runs the HTTP server on l until the context is cancelled.
func (c *Controller) Serve(l net.Listener) {
	c.logger.Infof("REST server listening on %s", l.Addr())
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()
		if err := c.Server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Errorf("REST server error: %v", err)
		}
	}()

	go func() {
		<-c.ctx.Done()
		c.logger.Info("Shutting down the REST server...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.Server.Shutdown(ctx)
	}()
}

// setupRouter configures the HTTP router with all endpoints
func (c *Controller) setupRouter() *mux.Router {
	router := mux.NewRouter()
	router.Use(log.HTTPMiddleware(c.logger), log.RecoveryMiddleware(c.logger))

	router.HandleFunc("/api", c.handlers.GetLatest).Methods(http.MethodGet)
	router.HandleFunc("/latest", c.handlers.GetLatest).Methods(http.MethodGet)
	router.HandleFunc("/api/status", c.handlers.GetStatus).Methods(http.MethodGet)
	router.HandleFunc("/ws", c.handlers.ServeWebSocket)
	router.HandleFunc("/healthz", c.handlers.Healthz).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler())

	if c.config.StaticDir != "" {
		router.PathPrefix("/").Handler(http.FileServer(http.Dir(c.config.StaticDir)))
	}

	return router
}
