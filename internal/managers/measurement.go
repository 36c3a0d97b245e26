package managers

import (
	"context"
	"sync"
	"time"

	"github.com/chrissnell/scalebridge/internal/hub"
	"github.com/chrissnell/scalebridge/internal/latest"
	"github.com/chrissnell/scalebridge/internal/metrics"
	"github.com/chrissnell/scalebridge/internal/types"
	"go.uber.org/zap"
)

// MeasurementManager holds the current measurement and the live subscribers,
// and feeds both from a single distributor goroutine.
type MeasurementManager struct {
	Store       *latest.Store
	Hub         *hub.Hub
	Distributor chan types.Measurement

	logger *zap.SugaredLogger
	now    func() time.Time
}

// NewMeasurementManager creates the store and hub and starts the distributor.
func NewMeasurementManager(ctx context.Context, wg *sync.WaitGroup, opts hub.Options, logger *zap.SugaredLogger) *MeasurementManager {
	store := latest.New()
	if opts.Logger == nil {
		opts.Logger = logger
	}

	m := &MeasurementManager{
		Store:       store,
		Hub:         hub.New(store, opts),
		Distributor: make(chan types.Measurement, 20),
		logger:      logger,
		now:         time.Now,
	}

	wg.Add(1)
	go m.startDistributor(ctx, wg)

	return m
}

// startDistributor installs each measurement and then broadcasts it. Being
// the only writer keeps store order and broadcast order identical.
func (m *MeasurementManager) startDistributor(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case meas := <-m.Distributor:
			m.publish(meas)
		case <-ctx.Done():
			m.logger.Info("cancellation request received. Closing subscriber hub")
			m.Hub.Close()
			return
		}
	}
}

func (m *MeasurementManager) publish(meas types.Measurement) latest.Snapshot {
	snap := m.Store.Replace(meas, m.now())
	metrics.MeasurementsTotal.Inc()
	m.Hub.Broadcast(snap)
	m.logger.Debugf("installed measurement #%d (%d subscribers)", snap.Seq, m.Hub.Len())
	return snap
}
