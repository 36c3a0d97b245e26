// Command scale-emulator produces framed scale packets for bench testing,
// either to TCP clients (point scalebridge's hostname/port at it) or to a
// serial port looped back to the bridge.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/chrissnell/scalebridge/internal/scale"
	"github.com/chrissnell/scalebridge/internal/types"
	"github.com/panjf2000/gnet/v2"
	serial "github.com/tarm/goserial"
)

type options struct {
	protocol  string
	interval  time.Duration
	corrupt   float64
	metric    bool
	patientID string
}

// emulator is a gnet event handler that pushes a packet to every connected
// client on each tick.
type emulator struct {
	gnet.BuiltinEventEngine

	gen *generator

	mu    sync.Mutex
	conns map[gnet.Conn]struct{}
}

func (e *emulator) OnBoot(eng gnet.Engine) gnet.Action {
	log.Printf("Scale emulator ready (protocol %s, interval %v)", e.gen.variant.Name, e.gen.opts.interval)
	return gnet.None
}

func (e *emulator) OnOpen(c gnet.Conn) ([]byte, gnet.Action) {
	e.mu.Lock()
	e.conns[c] = struct{}{}
	e.mu.Unlock()
	log.Printf("Client connected from %s", c.RemoteAddr())
	return nil, gnet.None
}

func (e *emulator) OnClose(c gnet.Conn, err error) gnet.Action {
	e.mu.Lock()
	delete(e.conns, c)
	e.mu.Unlock()
	log.Printf("Client %s disconnected", c.RemoteAddr())
	return gnet.None
}

// OnTraffic discards anything the bridge sends; the scale link is one way.
func (e *emulator) OnTraffic(c gnet.Conn) gnet.Action {
	c.Discard(-1)
	return gnet.None
}

func (e *emulator) OnTick() (time.Duration, gnet.Action) {
	packet := e.gen.next()

	e.mu.Lock()
	defer e.mu.Unlock()
	for c := range e.conns {
		if err := c.AsyncWrite(packet, nil); err != nil {
			log.Printf("Failed to send packet to %s: %v", c.RemoteAddr(), err)
		}
	}
	return e.gen.opts.interval, gnet.None
}

// generator produces plausible measurements, occasionally damaged.
type generator struct {
	opts    options
	variant *scale.Variant
	frame   scale.FrameOptions
	rng     *rand.Rand
}

func (g *generator) next() []byte {
	m := g.measurement()
	packet := g.frame.Wrap(g.variant.Encode(m))

	if g.opts.corrupt > 0 && g.rng.Float64() < g.opts.corrupt {
		switch g.rng.Intn(3) {
		case 0:
			// Truncated: the next start marker must resynchronize the reader.
			packet = packet[:len(packet)/2]
		case 1:
			// Line noise ahead of the frame.
			noise := []byte{0x00, 0xFF, 'x', 0x1B}
			packet = append(noise, packet...)
		default:
			// Flipped digit.
			packet = append([]byte(nil), packet...)
			for i, b := range packet {
				if b >= '0' && b <= '8' {
					packet[i] = b + 1
					break
				}
			}
		}
		log.Printf("Sending damaged packet %q", packet)
		return packet
	}

	log.Printf("Sent: weight=%.1f %s", m.Weight, m.UnitsLabel)
	return packet
}

func (g *generator) measurement() types.Measurement {
	kg := 55 + g.rng.Float64()*60
	heightCM := 150 + g.rng.Float64()*45
	bmi := kg / math.Pow(heightCM/100, 2)

	m := types.Measurement{
		BMI: types.Some(math.Round(bmi*10) / 10),
	}
	if g.opts.patientID != "" {
		m.PatientID = types.Some(g.opts.patientID)
	}

	switch g.variant.Name {
	case scale.HealthOMeter.Name:
		if g.opts.metric {
			m.Units, m.Weight, m.Height = "m", kg, types.Some(heightCM)
		} else {
			m.Units, m.Weight, m.Height = "c", kg*2.20462, types.Some(heightCM/2.54)
		}
	default:
		if g.opts.metric {
			m.Units, m.Weight, m.Height = "kg", kg, types.Some(heightCM)
		} else {
			m.Units, m.Weight, m.Height = "[lb_av]", kg*2.20462, types.Some(heightCM/2.54)
		}
	}
	m.UnitsLabel = g.variant.Units[m.Units]
	return m
}

// runSerial writes packets to w until a write fails.
func runSerial(w io.Writer, g *generator) error {
	ticker := time.NewTicker(g.opts.interval)
	defer ticker.Stop()

	for range ticker.C {
		if _, err := w.Write(g.next()); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	var (
		listen    = flag.String("listen", "127.0.0.1:8123", "TCP address to serve packets on")
		device    = flag.String("serial", "", "Write packets to this serial device instead of serving TCP")
		baud      = flag.Int("baud", 9600, "Serial baud rate")
		protocol  = flag.String("protocol", scale.DefaultVariant, fmt.Sprintf("Scale protocol %v", scale.VariantNames()))
		interval  = flag.Duration("interval", 2*time.Second, "Interval between packets")
		corrupt   = flag.Float64("corrupt", 0, "Fraction of packets to damage (0..1)")
		metric    = flag.Bool("metric", false, "Report in kilograms and centimetres")
		patientID = flag.String("patient-id", "", "Patient id to include in packets")
	)
	flag.Parse()

	variant, err := scale.LookupVariant(*protocol)
	if err != nil {
		log.Fatal(err)
	}

	gen := &generator{
		opts: options{
			protocol:  *protocol,
			interval:  *interval,
			corrupt:   *corrupt,
			metric:    *metric,
			patientID: *patientID,
		},
		variant: variant,
		frame:   scale.DefaultFrameOptions(),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	if *device != "" {
		log.Printf("Writing %s packets to %s at %d baud every %v", variant.Name, *device, *baud, *interval)
		port, err := serial.OpenPort(&serial.Config{Name: *device, Baud: *baud})
		if err != nil {
			log.Fatalf("Failed to open serial port: %v", err)
		}
		defer port.Close()
		if err := runSerial(port, gen); err != nil {
			log.Fatalf("Serial write failed: %v", err)
		}
		return
	}

	e := &emulator{gen: gen, conns: make(map[gnet.Conn]struct{})}
	log.Printf("Listening on %s", *listen)
	if err := gnet.Run(e, "tcp://"+*listen, gnet.WithMulticore(true), gnet.WithTicker(true)); err != nil {
		log.Fatalf("Emulator stopped: %v", err)
	}
}
