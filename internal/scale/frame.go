package scale

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

const (
	// STX and ETX are the default frame delimiters used by the scale.
	STX = 0x02
	ETX = 0x03

	// DefaultMaxFrameBytes bounds the size of a single buffered frame.
	DefaultMaxFrameBytes = 256
)

// ErrFrameTooLarge is returned by FrameReader.Next when a frame grew past
// the configured limit. The partial frame has been discarded and the reader
// has resynchronized, so callers may keep reading.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// FrameOptions configures the framing rule.
type FrameOptions struct {
	Start         []byte
	End           []byte
	MaxFrameBytes int
}

// DefaultFrameOptions returns STX/ETX framing with the default size limit.
func DefaultFrameOptions() FrameOptions {
	return FrameOptions{
		Start:         []byte{STX},
		End:           []byte{ETX},
		MaxFrameBytes: DefaultMaxFrameBytes,
	}
}

// Wrap surrounds payload with the start and end markers.
func (o FrameOptions) Wrap(payload []byte) []byte {
	out := make([]byte, 0, len(o.Start)+len(payload)+len(o.End))
	out = append(out, o.Start...)
	out = append(out, payload...)
	return append(out, o.End...)
}

// FrameReader splits a byte stream into delimited frames.
type FrameReader struct {
	r       *bufio.Reader
	opts    FrameOptions
	buf     []byte
	inFrame bool

	// Discarded counts bytes thrown away while hunting for a start marker
	// or dropped with an abandoned partial frame.
	Discarded uint64
}

// NewFrameReader wraps r. Empty markers in opts fall back to STX/ETX and a
// non-positive MaxFrameBytes falls back to DefaultMaxFrameBytes.
func NewFrameReader(r io.Reader, opts FrameOptions) *FrameReader {
	if len(opts.Start) == 0 {
		opts.Start = []byte{STX}
	}
	if len(opts.End) == 0 {
		opts.End = []byte{ETX}
	}
	if opts.MaxFrameBytes <= 0 {
		opts.MaxFrameBytes = DefaultMaxFrameBytes
	}
	return &FrameReader{
		r:    bufio.NewReader(r),
		opts: opts,
		buf:  make([]byte, 0, opts.MaxFrameBytes+len(opts.End)),
	}
}

// Next returns the payload of the next complete frame, without its markers.
// The returned slice is only valid until the next call.
//
// ErrFrameTooLarge is recoverable. Any other error comes from the
// underlying stream and ends the sequence.
func (f *FrameReader) Next() ([]byte, error) {
	for {
		b, err := f.r.ReadByte()
		if err != nil {
			if f.inFrame {
				f.Discarded += uint64(len(f.buf))
			}
			f.reset()
			return nil, err
		}

		if !f.inFrame {
			// Hunt for the start marker, keeping only as many bytes as the
			// marker is long.
			f.buf = append(f.buf, b)
			if bytes.HasSuffix(f.buf, f.opts.Start) {
				f.Discarded += uint64(len(f.buf) - len(f.opts.Start))
				f.buf = f.buf[:0]
				f.inFrame = true
				continue
			}
			if len(f.buf) >= len(f.opts.Start) {
				f.Discarded++
				copy(f.buf, f.buf[1:])
				f.buf = f.buf[:len(f.buf)-1]
			}
			continue
		}

		f.buf = append(f.buf, b)

		if bytes.HasSuffix(f.buf, f.opts.End) {
			frame := f.buf[:len(f.buf)-len(f.opts.End)]
			f.inFrame = false
			f.buf = f.buf[:0]
			return frame, nil
		}

		// A fresh start marker inside a frame means the previous packet was
		// cut short. Drop what we have and start over.
		if bytes.HasSuffix(f.buf, f.opts.Start) {
			f.Discarded += uint64(len(f.buf) - len(f.opts.Start))
			f.buf = f.buf[:0]
			continue
		}

		if len(f.buf) >= f.opts.MaxFrameBytes+len(f.opts.End) {
			f.Discarded += uint64(len(f.buf))
			f.reset()
			return nil, ErrFrameTooLarge
		}
	}
}

func (f *FrameReader) reset() {
	f.inFrame = false
	f.buf = f.buf[:0]
}
