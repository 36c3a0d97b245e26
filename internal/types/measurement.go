package types

import (
	"time"
)

// Optional holds a value that a scale may or may not report. The zero
// value is an absent field.
type Optional[T any] struct {
	Value T
	Valid bool
}

// Some returns a present Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Value: v, Valid: true}
}

// Ptr returns a pointer to a copy of the value, or nil when absent.
func (o Optional[T]) Ptr() *T {
	if !o.Valid {
		return nil
	}
	v := o.Value
	return &v
}

// Measurement is a single decoded scale reading. Measurements are values:
// they are built once by the packet parser and copied, never mutated, as they
// move through the store and out to subscribers.
type Measurement struct {
	EventTime time.Time
	PatientID Optional[string]
	Weight    float64
	Height    Optional[float64]
	BMI       Optional[float64]
	// Units is the unit code exactly as the device transmitted it.
	Units string
	// UnitsLabel is a human friendly label for Units. It is a display
	// convenience; Units remains authoritative.
	UnitsLabel string
}

// Record is the flat wire representation shared by the REST, WebSocket and
// gRPC interfaces. Field names match what the display client reads.
type Record struct {
	EventTime  string   `json:"event_time" msgpack:"event_time"`
	PatientID  *string  `json:"patient_id" msgpack:"patient_id"`
	Weight     float64  `json:"weight" msgpack:"weight"`
	Height     *float64 `json:"height" msgpack:"height"`
	BMI        *float64 `json:"bmi" msgpack:"bmi"`
	Units      string   `json:"units" msgpack:"units"`
	UnitsLabel string   `json:"units_label,omitempty" msgpack:"units_label,omitempty"`
}

// NewRecord converts a Measurement into its wire form.
func NewRecord(m Measurement) Record {
	return Record{
		EventTime:  m.EventTime.UTC().Format(time.RFC3339Nano),
		PatientID:  m.PatientID.Ptr(),
		Weight:     m.Weight,
		Height:     m.Height.Ptr(),
		BMI:        m.BMI.Ptr(),
		Units:      m.Units,
		UnitsLabel: m.UnitsLabel,
	}
}

// Map returns the record as a generic map, used where a schemaless message
// (protobuf Struct) carries the record.
func (r Record) Map() map[string]any {
	out := map[string]any{
		"event_time": r.EventTime,
		"weight":     r.Weight,
		"units":      r.Units,
		"patient_id": nil,
		"height":     nil,
		"bmi":        nil,
	}
	if r.UnitsLabel != "" {
		out["units_label"] = r.UnitsLabel
	}
	if r.PatientID != nil {
		out["patient_id"] = *r.PatientID
	}
	if r.Height != nil {
		out["height"] = *r.Height
	}
	if r.BMI != nil {
		out["bmi"] = *r.BMI
	}
	return out
}
