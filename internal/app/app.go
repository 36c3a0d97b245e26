package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/chrissnell/scalebridge/internal/hub"
	"github.com/chrissnell/scalebridge/internal/managers"
	"github.com/chrissnell/scalebridge/internal/scale"
	"github.com/chrissnell/scalebridge/pkg/config"
	"go.uber.org/zap"
)

// App represents the main application
type App struct {
	configProvider config.ConfigProvider
	logger         *zap.SugaredLogger
}

// New creates a new application instance
func New(configProvider config.ConfigProvider, logger *zap.SugaredLogger) *App {
	return &App{
		configProvider: configProvider,
		logger:         logger,
	}
}

// Run starts the application and blocks until shutdown. Only configuration
// and listener errors are returned; device faults are retried forever.
func (a *App) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg, err := a.configProvider.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}

	policy, err := hub.ParsePolicy(cfg.Hub.OverflowPolicy)
	if err != nil {
		return err
	}

	mm := managers.NewMeasurementManager(ctx, &wg, hub.Options{
		QueueSize: cfg.Hub.QueueSize,
		Policy:    policy,
		Logger:    a.logger,
	}, a.logger)

	station, err := scale.NewStation(ctx, &wg, cfg.Device, mm.Distributor, a.logger)
	if err != nil {
		return err
	}

	cm, err := managers.NewControllerManager(ctx, &wg, cfg.Server, mm, station, a.logger)
	if err != nil {
		return err
	}
	if err := cm.StartControllers(); err != nil {
		return err
	}

	if err := station.StartStation(); err != nil {
		return err
	}

	a.logger.Info("Application started successfully")

	// Set up signal handling
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	// Wait for shutdown signal
	select {
	case <-sigs:
		a.logger.Info("shutdown signal received, initiating graceful shutdown...")
	case <-ctx.Done():
		a.logger.Info("context cancelled, shutting down...")
	}

	// Cancel context to signal all goroutines to stop
	cancel()

	// Wait for all workers to terminate
	a.logger.Info("waiting for all workers to terminate...")
	wg.Wait()
	a.logger.Info("shutdown complete")

	return nil
}
