package scale

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/chrissnell/scalebridge/internal/types"
)

// Field names a value carried in a scale packet.
type Field string

const (
	FieldWeight    Field = "weight"
	FieldUnits     Field = "units"
	FieldHeight    Field = "height"
	FieldBMI       Field = "bmi"
	FieldPatientID Field = "patient_id"
	FieldChecksum  Field = "checksum"
)

// ChecksumMode says whether a variant carries a checksum field.
type ChecksumMode int

const (
	ChecksumNone ChecksumMode = iota
	ChecksumOptional
	ChecksumRequired
)

// Variant describes the field layout of one family of compatible scales.
// Supporting a new model means adding a table entry, not a new parser.
type Variant struct {
	Name string
	// Separator splits a payload into fields. Nil splits on ASCII whitespace.
	Separator []byte
	// TagDelimiter sits between a tag and its value ("WEIGHT:185.4"). When
	// empty the tag is a bare prefix of the field ("W185.4").
	TagDelimiter string
	Tags         map[Field]string
	// Units maps every unit code the device may send to a display label.
	Units map[string]string
	// DefaultUnit is assumed when the unit field is missing. Empty makes the
	// unit field mandatory.
	DefaultUnit string
	// UnitWidth, when positive, keeps only that many leading characters of
	// the unit field. Anything after it is a record trailer.
	UnitWidth int
	// ZeroMeansAbsent treats zero height/BMI and an all-zero patient id as
	// "not entered at the scale".
	ZeroMeansAbsent bool
	Checksum        ChecksumMode
}

// HealthOMeter is the Health o meter Professional protocol: ESC separated
// fields with single letter tags, e.g.
// "6R<ESC>I0000000000<ESC>W123.4<ESC>H0.0<ESC>B0.0<ESC>T0.0<ESC>NcE". The
// "6R" header and T (tare) field are ignored; the E trailer may follow the
// unit code directly.
var HealthOMeter = Variant{
	Name:      "healthometer",
	Separator: []byte{0x1B},
	Tags: map[Field]string{
		FieldPatientID: "I",
		FieldWeight:    "W",
		FieldHeight:    "H",
		FieldBMI:       "B",
		FieldUnits:     "N",
	},
	Units: map[string]string{
		"m": "kg",
		"c": "lbs",
	},
	DefaultUnit:     "c",
	UnitWidth:       1,
	ZeroMeansAbsent: true,
	Checksum:        ChecksumNone,
}

// Tagged is the self-describing TAG:VALUE format with UCUM unit codes and an
// optional trailing checksum, e.g. "WEIGHT:185.4 UNIT:[lb_av] CS:7A".
var Tagged = Variant{
	Name:         "tagged",
	TagDelimiter: ":",
	Tags: map[Field]string{
		FieldWeight:    "WEIGHT",
		FieldUnits:     "UNIT",
		FieldHeight:    "HEIGHT",
		FieldBMI:       "BMI",
		FieldPatientID: "PID",
		FieldChecksum:  "CS",
	},
	Units: map[string]string{
		"[lb_av]": "lbs",
		"kg":      "kg",
		"g":       "g",
	},
	Checksum: ChecksumOptional,
}

var variants = map[string]*Variant{
	HealthOMeter.Name: &HealthOMeter,
	Tagged.Name:       &Tagged,
}

// DefaultVariant is used when no protocol is configured.
const DefaultVariant = "healthometer"

// LookupVariant returns the variant registered under name.
func LookupVariant(name string) (*Variant, error) {
	if name == "" {
		name = DefaultVariant
	}
	v, ok := variants[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown scale protocol %q (supported: %s)", name, strings.Join(VariantNames(), ", "))
	}
	return v, nil
}

// VariantNames lists the registered protocol names.
func VariantNames() []string {
	names := make([]string, 0, len(variants))
	for n := range variants {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

type field struct {
	text   []byte
	offset int
}

// split breaks a payload into fields, remembering where each one starts so
// the checksum can be computed over the bytes that precede it.
func (v *Variant) split(payload []byte) []field {
	var fields []field
	if v.Separator == nil {
		start := -1
		for i, b := range payload {
			if isSpace(b) {
				if start >= 0 {
					fields = append(fields, field{text: payload[start:i], offset: start})
					start = -1
				}
				continue
			}
			if start < 0 {
				start = i
			}
		}
		if start >= 0 {
			fields = append(fields, field{text: payload[start:], offset: start})
		}
		return fields
	}

	offset := 0
	for _, part := range bytes.Split(payload, v.Separator) {
		if len(part) > 0 {
			fields = append(fields, field{text: part, offset: offset})
		}
		offset += len(part) + len(v.Separator)
	}
	return fields
}

// value returns the first field carrying tag f and its index in fields.
func (v *Variant) value(fields []field, f Field) (string, int, bool) {
	tag, ok := v.Tags[f]
	if !ok {
		return "", -1, false
	}
	prefix := tag + v.TagDelimiter
	for i, fl := range fields {
		if bytes.HasPrefix(fl.text, []byte(prefix)) {
			return string(fl.text[len(prefix):]), i, true
		}
	}
	return "", -1, false
}

// checksum is the low byte of the sum of b.
func checksum(b []byte) byte {
	var sum byte
	for _, c := range b {
		sum += c
	}
	return sum
}

// Encode renders m as a frame payload in this variant's layout. Absent
// optional fields are left out.
func (v *Variant) Encode(m types.Measurement) []byte {
	var parts []string
	add := func(f Field, val string) {
		if tag, ok := v.Tags[f]; ok {
			parts = append(parts, tag+v.TagDelimiter+val)
		}
	}

	if m.PatientID.Valid {
		add(FieldPatientID, m.PatientID.Value)
	}
	add(FieldWeight, strconv.FormatFloat(m.Weight, 'f', 1, 64))
	if m.Height.Valid {
		add(FieldHeight, strconv.FormatFloat(m.Height.Value, 'f', 1, 64))
	}
	if m.BMI.Valid {
		add(FieldBMI, strconv.FormatFloat(m.BMI.Value, 'f', 1, 64))
	}
	add(FieldUnits, m.Units)

	sep := v.Separator
	if sep == nil {
		sep = []byte(" ")
	}
	payload := bytes.Join(stringsToBytes(parts), sep)

	if tag, ok := v.Tags[FieldChecksum]; ok && v.Checksum != ChecksumNone {
		payload = append(payload, sep...)
		payload = append(payload, fmt.Sprintf("%s%s%02X", tag, v.TagDelimiter, checksum(payload))...)
	}
	return payload
}

func stringsToBytes(ss []string) [][]byte {
	out := make([][]byte, len(ss))
	for i, s := range ss {
		out[i] = []byte(s)
	}
	return out
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n'
}
