package responseformat

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/vmihailenco/msgpack/v5"
)

// Format selects the encoding of a response or pushed message.
type Format int

const (
	// JSON is the default format.
	JSON Format = iota
	// MsgPack is selected with format=msgpack.
	MsgPack
)

// FromRequest returns MsgPack when the request carries format=msgpack and
// JSON otherwise.
func FromRequest(req *http.Request) Format {
	if req.URL.Query().Get("format") == "msgpack" {
		return MsgPack
	}
	return JSON
}

// ContentType is the HTTP content type for f.
func (f Format) ContentType() string {
	if f == MsgPack {
		return "application/x-msgpack"
	}
	return "application/json"
}

// Formatter handles encoding and writing responses in JSON or MessagePack format
type Formatter struct{}

// NewFormatter creates a new response formatter
func NewFormatter() *Formatter {
	return &Formatter{}
}

// WriteResponse writes the response in the format requested by the query
// string. Headers are applied before the body is written.
func (f *Formatter) WriteResponse(w http.ResponseWriter, req *http.Request, data any, headers map[string]string) error {
	for k, v := range headers {
		w.Header().Set(k, v)
	}

	// Always set CORS header
	w.Header().Set("Access-Control-Allow-Origin", "*")

	format := FromRequest(req)
	body, err := f.Marshal(format, data)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", format.ContentType())
	_, err = w.Write(body)
	return err
}

// Marshal encodes data in format. MessagePack uses the json struct tags so
// both encodings carry identical field names.
func (f *Formatter) Marshal(format Format, data any) ([]byte, error) {
	if format == MsgPack {
		var buf bytes.Buffer
		encoder := msgpack.NewEncoder(&buf)
		encoder.SetCustomStructTag("json")
		if err := encoder.Encode(data); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return json.Marshal(data)
}
