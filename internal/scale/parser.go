package scale

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/chrissnell/scalebridge/internal/types"
)

// MaxPatientIDLen is the longest patient identifier accepted from a scale.
const MaxPatientIDLen = 20

// Parse error classes. Every error returned by Parser.Parse wraps exactly one
// of these.
var (
	ErrEmptyFrame       = errors.New("empty frame")
	ErrMissingField     = errors.New("missing field")
	ErrInvalidField     = errors.New("invalid field")
	ErrUnknownUnit      = errors.New("unknown unit")
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// ParseError describes why a frame was rejected.
type ParseError struct {
	Kind   error
	Field  Field
	Value  string
	Detail string
}

func (e *ParseError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Field != "" {
		fmt.Fprintf(&b, " %s", e.Field)
	}
	if e.Value != "" {
		fmt.Fprintf(&b, " %q", e.Value)
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, ": %s", e.Detail)
	}
	return b.String()
}

func (e *ParseError) Unwrap() error {
	return e.Kind
}

// Reason returns a short, stable label for err suitable for metrics.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrEmptyFrame):
		return "empty_frame"
	case errors.Is(err, ErrMissingField):
		return "missing_field"
	case errors.Is(err, ErrInvalidField):
		return "invalid_field"
	case errors.Is(err, ErrUnknownUnit):
		return "unknown_unit"
	case errors.Is(err, ErrChecksumMismatch):
		return "checksum_mismatch"
	case errors.Is(err, ErrFrameTooLarge):
		return "frame_too_large"
	default:
		return "other"
	}
}

// Parser decodes frames of a single protocol variant. It holds no mutable
// state and is safe for concurrent use.
type Parser struct {
	variant *Variant
}

// NewParser returns a parser for v.
func NewParser(v *Variant) *Parser {
	return &Parser{variant: v}
}

// Variant returns the protocol variant this parser decodes.
func (p *Parser) Variant() *Variant {
	return p.variant
}

// Parse decodes a frame payload into a Measurement stamped with at. It
// either returns a complete Measurement or a *ParseError; nothing outside the
// return values is touched.
func (p *Parser) Parse(frame []byte, at time.Time) (types.Measurement, error) {
	v := p.variant

	payload := bytes.TrimFunc(frame, func(r rune) bool { return r < 0x80 && isSpace(byte(r)) })
	if len(payload) == 0 {
		return types.Measurement{}, &ParseError{Kind: ErrEmptyFrame}
	}

	fields := v.split(payload)

	if err := p.verifyChecksum(payload, fields); err != nil {
		return types.Measurement{}, err
	}

	m := types.Measurement{EventTime: at}

	raw, _, ok := v.value(fields, FieldWeight)
	if !ok {
		return types.Measurement{}, &ParseError{Kind: ErrMissingField, Field: FieldWeight}
	}
	w, err := parseSignedDecimal(FieldWeight, raw)
	if err != nil {
		return types.Measurement{}, err
	}
	m.Weight = w

	unit, _, ok := v.value(fields, FieldUnits)
	if !ok {
		if v.DefaultUnit == "" {
			return types.Measurement{}, &ParseError{Kind: ErrMissingField, Field: FieldUnits}
		}
		unit = v.DefaultUnit
	}
	if v.UnitWidth > 0 && len(unit) > v.UnitWidth {
		unit = unit[:v.UnitWidth]
	}
	label, known := v.Units[unit]
	if !known {
		return types.Measurement{}, &ParseError{Kind: ErrUnknownUnit, Field: FieldUnits, Value: unit}
	}
	m.Units = unit
	m.UnitsLabel = label

	if m.Height, err = p.optionalDecimal(fields, FieldHeight); err != nil {
		return types.Measurement{}, err
	}
	if m.BMI, err = p.optionalDecimal(fields, FieldBMI); err != nil {
		return types.Measurement{}, err
	}
	if m.PatientID, err = p.patientID(fields); err != nil {
		return types.Measurement{}, err
	}

	return m, nil
}

func (p *Parser) verifyChecksum(payload []byte, fields []field) error {
	v := p.variant
	if v.Checksum == ChecksumNone {
		return nil
	}

	raw, idx, ok := v.value(fields, FieldChecksum)
	if !ok {
		if v.Checksum == ChecksumRequired {
			return &ParseError{Kind: ErrChecksumMismatch, Field: FieldChecksum, Detail: "checksum field missing"}
		}
		return nil
	}
	if idx != len(fields)-1 {
		return &ParseError{Kind: ErrChecksumMismatch, Field: FieldChecksum, Detail: "checksum is not the last field"}
	}

	want, err := strconv.ParseUint(raw, 16, 8)
	if err != nil || len(raw) != 2 {
		return &ParseError{Kind: ErrChecksumMismatch, Field: FieldChecksum, Value: raw, Detail: "not a two digit hex value"}
	}
	got := checksum(payload[:fields[idx].offset])
	if byte(want) != got {
		return &ParseError{
			Kind:   ErrChecksumMismatch,
			Field:  FieldChecksum,
			Value:  raw,
			Detail: fmt.Sprintf("calculated %02X", got),
		}
	}
	return nil
}

func (p *Parser) optionalDecimal(fields []field, f Field) (types.Optional[float64], error) {
	raw, _, ok := p.variant.value(fields, f)
	if !ok {
		return types.Optional[float64]{}, nil
	}
	val, err := parseDecimal(f, raw)
	if err != nil {
		return types.Optional[float64]{}, err
	}
	if val == 0 && p.variant.ZeroMeansAbsent {
		return types.Optional[float64]{}, nil
	}
	return types.Some(val), nil
}

func (p *Parser) patientID(fields []field) (types.Optional[string], error) {
	raw, _, ok := p.variant.value(fields, FieldPatientID)
	if !ok {
		return types.Optional[string]{}, nil
	}
	id := strings.TrimSpace(raw)
	if id == "" {
		return types.Optional[string]{}, nil
	}
	if p.variant.ZeroMeansAbsent && strings.Trim(id, "0") == "" {
		return types.Optional[string]{}, nil
	}
	if len(id) > MaxPatientIDLen {
		return types.Optional[string]{}, &ParseError{Kind: ErrInvalidField, Field: FieldPatientID, Value: id, Detail: "too long"}
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x20 || id[i] > 0x7E {
			return types.Optional[string]{}, &ParseError{Kind: ErrInvalidField, Field: FieldPatientID, Value: id, Detail: "non-printable character"}
		}
	}
	return types.Some(id), nil
}

// parseDecimal accepts an optional plus sign, digits and at most one decimal
// point. Exponents, hex floats, NaN and Inf are rejected even though strconv
// would take them, and so is a minus sign: height and BMI cannot be negative.
func parseDecimal(f Field, raw string) (float64, error) {
	return decimal(f, raw, false)
}

// parseSignedDecimal also accepts a leading minus sign. A tared scale shows
// negative weight when the load is lifted.
func parseSignedDecimal(f Field, raw string) (float64, error) {
	return decimal(f, raw, true)
}

func decimal(f Field, raw string, signed bool) (float64, error) {
	s := strings.TrimSpace(raw)
	invalid := &ParseError{Kind: ErrInvalidField, Field: f, Value: raw}

	body := strings.TrimPrefix(s, "+")
	neg := false
	if signed && body == s && strings.HasPrefix(s, "-") {
		body, neg = s[1:], true
	}
	if body == "" {
		return 0, invalid
	}
	digits, points := 0, 0
	for i := 0; i < len(body); i++ {
		switch c := body[i]; {
		case c >= '0' && c <= '9':
			digits++
		case c == '.':
			points++
		default:
			return 0, invalid
		}
	}
	if digits == 0 || points > 1 {
		return 0, invalid
	}

	val, err := strconv.ParseFloat(body, 64)
	if err != nil || math.IsInf(val, 0) || math.IsNaN(val) {
		return 0, invalid
	}
	if neg {
		val = -val
	}
	return val, nil
}
