// Package metrics holds the Prometheus collectors exported by scalebridge.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "scalebridge"

var (
	// Ingest path
	FramesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "frames_total",
		Help:      "Complete frames read from the scale.",
	})
	FrameErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "frame_errors_total",
		Help:      "Frames discarded before parsing, by reason.",
	}, []string{"reason"})
	ParseErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "parse_errors_total",
		Help:      "Frames rejected by the packet parser, by reason.",
	}, []string{"reason"})
	MeasurementsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "measurements_total",
		Help:      "Measurements accepted into the store.",
	})

	// Transport
	DeviceConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "device",
		Name:      "connected",
		Help:      "1 while the scale transport is open.",
	})
	ReconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "device",
		Name:      "reconnects_total",
		Help:      "Times the scale transport was reacquired after a fault.",
	})

	// Subscribers
	Subscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "hub",
		Name:      "subscribers",
		Help:      "Currently registered live subscribers.",
	})
	DroppedDeliveriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "hub",
		Name:      "dropped_deliveries_total",
		Help:      "Measurements dropped from a full subscriber queue.",
	})
	EvictedSubscribersTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "hub",
		Name:      "evicted_subscribers_total",
		Help:      "Subscribers disconnected for falling behind.",
	})

	registerOnce sync.Once
)

func init() {
	Register()
}

// Register adds every collector to the default registry. It is safe to call
// more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			FramesTotal,
			FrameErrorsTotal,
			ParseErrorsTotal,
			MeasurementsTotal,
			DeviceConnected,
			ReconnectsTotal,
			Subscribers,
			DroppedDeliveriesTotal,
			EvictedSubscribersTotal,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
