package scale

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chrissnell/scalebridge/internal/types"
	"github.com/chrissnell/scalebridge/pkg/config"
	"go.uber.org/zap/zaptest"
)

// nopWriter turns a reader into the ReadWriteCloser a transport provides.
type nopWriter struct {
	io.Reader
	closed atomic.Bool
}

func (n *nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func (n *nopWriter) Close() error {
	n.closed.Store(true)
	if c, ok := n.Reader.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func newTestStation(t *testing.T, ctx context.Context, wg *sync.WaitGroup, protocol string, dist chan types.Measurement) *Station {
	t.Helper()
	s, err := NewStation(ctx, wg, config.DeviceData{
		Name:     "bench",
		Protocol: protocol,
		Hostname: "scale.test",
		Port:     "4001",
		Backoff: config.BackoffData{
			Initial:       config.Duration{Duration: 5 * time.Millisecond},
			Max:           config.Duration{Duration: 20 * time.Millisecond},
			DisableJitter: true,
		},
	}, dist, zaptest.NewLogger(t).Sugar())
	if err != nil {
		t.Fatalf("NewStation: %v", err)
	}
	return s
}

func TestNewStationRequiresTransport(t *testing.T) {
	var wg sync.WaitGroup
	_, err := NewStation(context.Background(), &wg, config.DeviceData{Name: "x"}, nil, zaptest.NewLogger(t).Sugar())
	if err == nil {
		t.Fatal("NewStation without transport succeeded")
	}
}

func TestConsumeDropsBadChecksumFrame(t *testing.T) {
	var wg sync.WaitGroup
	dist := make(chan types.Measurement, 4)
	s := newTestStation(t, context.Background(), &wg, "tagged", dist)

	stream := "\x02WEIGHT:185.4 UNIT:[lb_av]\x03" +
		"\x02WEIGHT:190.0 UNIT:[lb_av] CS:00\x03"
	conn := &nopWriter{Reader: strings.NewReader(stream)}

	if err := s.consume(conn); err == nil {
		t.Fatal("consume returned nil at end of stream")
	}
	if !conn.closed.Load() {
		t.Error("transport not closed after consume")
	}

	if len(dist) != 1 {
		t.Fatalf("distributor holds %d measurements, want 1", len(dist))
	}
	m := <-dist
	if m.Weight != 185.4 || m.Units != "[lb_av]" || m.Height.Valid || m.BMI.Valid || m.PatientID.Valid {
		t.Errorf("unexpected measurement %+v", m)
	}

	st := s.Status()
	if st.Frames != 2 || st.ParseErrors != 1 {
		t.Errorf("Status frames=%d parse_errors=%d, want 2 and 1", st.Frames, st.ParseErrors)
	}
}

func TestConsumeSurvivesOversizedFrame(t *testing.T) {
	var wg sync.WaitGroup
	dist := make(chan types.Measurement, 4)
	s := newTestStation(t, context.Background(), &wg, "healthometer", dist)

	stream := "\x02W" + strings.Repeat("1", 2*DefaultMaxFrameBytes) + "\x03" +
		"\x02W150.5\x1bNc\x03"
	s.consume(&nopWriter{Reader: strings.NewReader(stream)})

	if len(dist) != 1 {
		t.Fatalf("distributor holds %d measurements, want 1", len(dist))
	}
	if m := <-dist; m.Weight != 150.5 {
		t.Errorf("weight = %v, want 150.5", m.Weight)
	}
}

func TestEventTimesNeverDecrease(t *testing.T) {
	var wg sync.WaitGroup
	dist := make(chan types.Measurement, 8)
	s := newTestStation(t, context.Background(), &wg, "tagged", dist)

	// A wall clock that steps backwards between the second and third frame.
	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	ticks := []time.Time{base, base.Add(2 * time.Second), base.Add(-time.Minute)}
	var i int
	s.clock = newEventClock(func() time.Time {
		now := ticks[i]
		i++
		return now
	})

	stream := strings.Repeat("\x02WEIGHT:70 UNIT:kg\x03", 3)
	s.consume(&nopWriter{Reader: strings.NewReader(stream)})

	var last time.Time
	for n := 0; n < 3; n++ {
		m := <-dist
		if m.EventTime.Before(last) {
			t.Fatalf("measurement %d time %v before %v", n, m.EventTime, last)
		}
		last = m.EventTime
	}
}

func TestIdleWatchdogClosesStalledTransport(t *testing.T) {
	var wg sync.WaitGroup
	s := newTestStation(t, context.Background(), &wg, "tagged", make(chan types.Measurement, 1))
	s.config.IdleTimeout = config.Duration{Duration: 40 * time.Millisecond}

	pr, pw := io.Pipe()
	defer pw.Close()

	done := make(chan error, 1)
	go func() { done <- s.consume(&nopWriter{Reader: pr}) }()

	select {
	case err := <-done:
		if !errors.Is(err, errStalled) {
			t.Errorf("consume error = %v, want errStalled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watchdog did not close the stalled transport")
	}
}

func TestRunReconnectsAndStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	dist := make(chan types.Measurement, 4)
	s := newTestStation(t, ctx, &wg, "tagged", dist)

	pr, pw := io.Pipe()
	var dials atomic.Int32
	s.dial = func() (io.ReadWriteCloser, string, error) {
		switch dials.Add(1) {
		case 1:
			return nil, "", errors.New("no such device")
		case 2:
			// Drops right after one frame.
			return &nopWriter{Reader: strings.NewReader("\x02WEIGHT:1 UNIT:kg\x03")}, "first", nil
		default:
			return &nopWriter{Reader: pr}, "second", nil
		}
	}

	wg.Add(1)
	go s.run()

	if m := <-dist; m.Weight != 1 {
		t.Fatalf("first weight = %v", m.Weight)
	}

	go pw.Write([]byte("\x02WEIGHT:2 UNIT:kg\x03"))
	select {
	case m := <-dist:
		if m.Weight != 2 {
			t.Fatalf("second weight = %v", m.Weight)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no measurement after reconnect")
	}

	if st := s.Status(); !st.Connected || st.Transport != "second" {
		t.Errorf("Status = %+v, want connected via second", st)
	}

	cancel()
	waitDone := make(chan struct{})
	go func() { wg.Wait(); close(waitDone) }()
	select {
	case <-waitDone:
	case <-time.After(2 * time.Second):
		t.Fatal("station did not stop after cancel")
	}

	if s.Status().Connected {
		t.Error("station still reports connected after stop")
	}
	if dials.Load() != 3 {
		t.Errorf("dial called %d times, want 3", dials.Load())
	}
}

func TestNextBackoffDelay(t *testing.T) {
	cfg := BackoffConfig{InitialDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 2}
	expected := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, want := range expected {
		if got := NextBackoffDelay(cfg, i+1, nil); got != want {
			t.Errorf("attempt %d delay = %v, want %v", i+1, got, want)
		}
	}

	cfg.Jitter = true
	if got := NextBackoffDelay(cfg, 1, nil); got != 500*time.Millisecond {
		t.Errorf("jittered delay without rng = %v, want 500ms", got)
	}
}
