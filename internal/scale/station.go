// Package scale reads measurements from a serial-attached scale.
package scale

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chrissnell/scalebridge/internal/metrics"
	"github.com/chrissnell/scalebridge/internal/types"
	"github.com/chrissnell/scalebridge/pkg/config"
	serial "github.com/tarm/goserial"
	"go.uber.org/zap"
)

// Station owns the transport to one scale and drives the ingest path:
// bytes → frames → measurements → distributor channel.
type Station struct {
	ctx         context.Context
	wg          *sync.WaitGroup
	config      config.DeviceData
	parser      *Parser
	frameOpts   FrameOptions
	backoff     BackoffConfig
	distributor chan<- types.Measurement
	logger      *zap.SugaredLogger
	clock       *eventClock
	rng         *rand.Rand

	// dial opens the transport; replaced in tests.
	dial func() (io.ReadWriteCloser, string, error)

	connected      atomic.Bool
	lastByte       atomic.Int64
	frames         atomic.Uint64
	parseErrors    atomic.Uint64
	statusMu       sync.RWMutex
	transport      string
	connectedSince time.Time
	lastFrameAt    time.Time
}

// Status is a point-in-time view of the station for diagnostics.
type Status struct {
	Name           string    `json:"name"`
	Protocol       string    `json:"protocol"`
	Transport      string    `json:"transport,omitempty"`
	Connected      bool      `json:"connected"`
	ConnectedSince time.Time `json:"connected_since,omitempty"`
	LastFrameAt    time.Time `json:"last_frame_at,omitempty"`
	Frames         uint64    `json:"frames"`
	ParseErrors    uint64    `json:"parse_errors"`
}

// NewStation creates a station for the configured device. Measurements are
// sent to distributor in the order they were read.
func NewStation(ctx context.Context, wg *sync.WaitGroup, cfg config.DeviceData, distributor chan<- types.Measurement, logger *zap.SugaredLogger) (*Station, error) {
	if cfg.SerialDevice == "" && (cfg.Hostname == "" || cfg.Port == "") {
		return nil, fmt.Errorf("station [%s] must define either a serial device or hostname+port", cfg.Name)
	}

	variant, err := LookupVariant(cfg.Protocol)
	if err != nil {
		return nil, fmt.Errorf("station [%s]: %w", cfg.Name, err)
	}

	frameOpts := DefaultFrameOptions()
	if cfg.FrameStart != "" {
		frameOpts.Start = []byte(cfg.FrameStart)
	}
	if cfg.FrameEnd != "" {
		frameOpts.End = []byte(cfg.FrameEnd)
	}
	if cfg.MaxFrameBytes > 0 {
		frameOpts.MaxFrameBytes = cfg.MaxFrameBytes
	}

	backoff := DefaultBackoff()
	if cfg.Backoff.Initial.Duration > 0 {
		backoff.InitialDelay = cfg.Backoff.Initial.Duration
	}
	if cfg.Backoff.Max.Duration > 0 {
		backoff.MaxDelay = cfg.Backoff.Max.Duration
	}
	if cfg.Backoff.Multiplier > 0 {
		backoff.Multiplier = cfg.Backoff.Multiplier
	}
	backoff.Jitter = !cfg.Backoff.DisableJitter

	if cfg.Baud == 0 {
		cfg.Baud = 9600
	}

	s := &Station{
		ctx:         ctx,
		wg:          wg,
		config:      cfg,
		parser:      NewParser(variant),
		frameOpts:   frameOpts,
		backoff:     backoff,
		distributor: distributor,
		logger:      logger,
		clock:       newEventClock(nil),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	s.dial = s.open
	return s, nil
}

// StationName returns the configured device name.
func (s *Station) StationName() string {
	return s.config.Name
}

// StartStation launches the ingest goroutine. It returns immediately; a
// missing device is retried in the background.
func (s *Station) StartStation() error {
	s.logger.Infof("Starting scale [%s] (protocol %s)...", s.config.Name, s.parser.Variant().Name)

	if s.config.SerialDevice != "" {
		s.logSerialPorts()
	}

	s.wg.Add(1)
	go s.run()
	return nil
}

// Status returns the station's current diagnostics.
func (s *Station) Status() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return Status{
		Name:           s.config.Name,
		Protocol:       s.parser.Variant().Name,
		Transport:      s.transport,
		Connected:      s.connected.Load(),
		ConnectedSince: s.connectedSince,
		LastFrameAt:    s.lastFrameAt,
		Frames:         s.frames.Load(),
		ParseErrors:    s.parseErrors.Load(),
	}
}

// run keeps a transport open until the context is cancelled, reconnecting
// with backoff after every fault.
func (s *Station) run() {
	defer s.wg.Done()

	attempt := 0
	sessions := 0
	for {
		if s.ctx.Err() != nil {
			s.logger.Info("cancellation request received. Stopping scale ingest")
			return
		}

		rwc, desc, err := s.dial()
		if err != nil {
			attempt++
			delay := NextBackoffDelay(s.backoff, attempt, s.rng)
			s.logger.Errorf("failed to open scale transport: %v; retrying in %v", err, delay.Round(time.Millisecond))
			if !s.sleep(delay) {
				return
			}
			continue
		}

		sessions++
		if sessions > 1 {
			metrics.ReconnectsTotal.Inc()
		}
		started := time.Now()
		s.setConnected(true, desc)
		s.logger.Infof("listening on %s at %d baud...", desc, s.config.Baud)

		err = s.consume(rwc)
		s.setConnected(false, desc)

		if s.ctx.Err() != nil {
			s.logger.Info("cancellation request received. Stopping scale ingest")
			return
		}

		if time.Since(started) > s.backoff.MaxDelay {
			attempt = 0
		}
		attempt++
		delay := NextBackoffDelay(s.backoff, attempt, s.rng)
		s.logger.Errorf("lost scale transport %s: %v; reconnecting in %v", desc, err, delay.Round(time.Millisecond))
		if !s.sleep(delay) {
			return
		}
	}
}

var errStalled = errors.New("no data received within idle timeout")

// consume reads frames from rwc until the stream fails. It always closes
// rwc before returning.
func (s *Station) consume(rwc io.ReadWriteCloser) error {
	conn := &watchedConn{rwc: rwc, station: s}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go conn.watch(s.ctx, s.config.IdleTimeout.Duration, done)

	fr := NewFrameReader(conn, s.frameOpts)
	for {
		frame, err := fr.Next()
		if err != nil {
			if errors.Is(err, ErrFrameTooLarge) {
				metrics.FrameErrorsTotal.WithLabelValues(Reason(err)).Inc()
				s.logger.Warnf("discarded oversized frame (> %d bytes); resynchronizing", s.frameOpts.MaxFrameBytes)
				continue
			}
			if conn.stalled.Load() {
				return errStalled
			}
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("stream closed by device")
			}
			return fmt.Errorf("read error: %w", err)
		}

		if err := s.handleFrame(frame); err != nil {
			return err
		}
	}
}

// handleFrame parses one frame and forwards the measurement. Parse failures
// are reported and dropped; only cancellation is returned as an error.
func (s *Station) handleFrame(frame []byte) error {
	now := s.clock.Now()

	metrics.FramesTotal.Inc()
	s.frames.Add(1)
	s.statusMu.Lock()
	s.lastFrameAt = now
	s.statusMu.Unlock()

	m, err := s.parser.Parse(frame, now)
	if err != nil {
		metrics.ParseErrorsTotal.WithLabelValues(Reason(err)).Inc()
		s.parseErrors.Add(1)
		s.logger.Warnf("dropping frame %q: %v", frame, err)
		return nil
	}

	s.logger.Debugf("scale [%s] sending measurement to distributor: weight=%.1f %s", s.config.Name, m.Weight, m.Units)

	select {
	case s.distributor <- m:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

func (s *Station) setConnected(up bool, desc string) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.connected.Store(up)
	if up {
		s.transport = desc
		s.connectedSince = time.Now()
		metrics.DeviceConnected.Set(1)
	} else {
		s.connectedSince = time.Time{}
		metrics.DeviceConnected.Set(0)
	}
}

// sleep waits for d, returning false if the context ended first.
func (s *Station) sleep(d time.Duration) bool {
	select {
	case <-s.ctx.Done():
		s.logger.Info("cancellation request received during retry wait")
		return false
	case <-time.After(d):
		return true
	}
}

// open connects to the scale over TCP or serial.
func (s *Station) open() (io.ReadWriteCloser, string, error) {
	if s.config.Hostname != "" && s.config.Port != "" {
		addr := net.JoinHostPort(s.config.Hostname, s.config.Port)
		s.logger.Debugf("connecting to %s", addr)
		conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
		if err != nil {
			return nil, addr, fmt.Errorf("could not connect to %s: %w", addr, err)
		}
		return conn, addr, nil
	}

	device := s.config.SerialDevice
	if device == AutoDevice {
		port, ok := FindSerialPort(s.config.DiscoverMatch)
		if !ok {
			return nil, "", fmt.Errorf("no serial port matching %q", s.config.DiscoverMatch)
		}
		s.logger.Infof("found scale - %s (%s)", port.Path, port.Description)
		device = port.Path
	}

	s.logger.Debugf("attempting to open serial port %s at %d baud", device, s.config.Baud)
	rwc, err := serial.OpenPort(&serial.Config{Name: device, Baud: s.config.Baud})
	if err != nil {
		return nil, device, fmt.Errorf("failed to open serial port %s: %w", device, err)
	}
	return rwc, device, nil
}

func (s *Station) logSerialPorts() {
	ports, err := ListSerialPorts()
	if err != nil {
		s.logger.Warnf("could not list serial ports: %v", err)
		return
	}
	if len(ports) == 0 {
		s.logger.Info("no USB serial ports found")
		return
	}
	s.logger.Info("available serial ports:")
	for _, p := range ports {
		s.logger.Infof("- %s (%s)", p.Path, p.Description)
	}
}

// watchedConn records read activity and lets a watchdog close the stream,
// which is the only portable way to unblock a pending serial Read.
type watchedConn struct {
	rwc       io.ReadWriteCloser
	station   *Station
	closeOnce sync.Once
	stalled   atomic.Bool
}

func (c *watchedConn) Read(p []byte) (int, error) {
	n, err := c.rwc.Read(p)
	if n > 0 {
		c.station.lastByte.Store(time.Now().UnixNano())
	}
	return n, err
}

func (c *watchedConn) Close() error {
	var err error
	c.closeOnce.Do(func() { err = c.rwc.Close() })
	return err
}

// watch closes the connection when ctx ends or, if idle > 0, when no byte
// has arrived for idle.
func (c *watchedConn) watch(ctx context.Context, idle time.Duration, done <-chan struct{}) {
	c.station.lastByte.Store(time.Now().UnixNano())

	var tick <-chan time.Time
	if idle > 0 {
		interval := idle / 4
		if interval < 10*time.Millisecond {
			interval = 10 * time.Millisecond
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			c.Close()
			return
		case <-tick:
			last := time.Unix(0, c.station.lastByte.Load())
			if time.Since(last) > idle {
				c.station.logger.Warnf("no data from scale for %v; reacquiring transport", time.Since(last).Round(time.Second))
				c.stalled.Store(true)
				c.Close()
				return
			}
		}
	}
}
