package restserver

import (
	"net/http"
	"time"

	"github.com/chrissnell/scalebridge/internal/scale"
	"github.com/chrissnell/scalebridge/internal/types"
	"github.com/chrissnell/scalebridge/pkg/responseformat"
)

// StateHeader tells clients whether the body carries a measurement.
const (
	StateHeader = "X-Scalebridge-State"
	StateNoData = "no-data"
)

// Handlers contains all HTTP handlers for the REST server
type Handlers struct {
	controller *Controller
	formatter  *responseformat.Formatter
}

// NewHandlers creates a new handlers instance
func NewHandlers(ctrl *Controller) *Handlers {
	return &Handlers{
		controller: ctrl,
		formatter:  responseformat.NewFormatter(),
	}
}

// StatusResponse is the body of /api/status.
type StatusResponse struct {
	Device            scale.Status `json:"device"`
	Subscribers       int          `json:"subscribers"`
	Sequence          uint64       `json:"sequence"`
	LastMeasurementAt *string      `json:"last_measurement_at"`
}

// GetLatest returns the current measurement, or null before the first one.
func (h *Handlers) GetLatest(w http.ResponseWriter, req *http.Request) {
	snap, ok := h.controller.store.Read()
	if !ok {
		h.write(w, req, nil, map[string]string{StateHeader: StateNoData})
		return
	}
	h.write(w, req, types.NewRecord(snap.Measurement), nil)
}

// GetStatus reports the device connection and hub state.
func (h *Handlers) GetStatus(w http.ResponseWriter, req *http.Request) {
	resp := StatusResponse{
		Subscribers: h.controller.hub.Len(),
	}
	if h.controller.status != nil {
		resp.Device = h.controller.status.Status()
	}
	if snap, ok := h.controller.store.Read(); ok {
		t := snap.Measurement.EventTime.UTC().Format(time.RFC3339Nano)
		resp.LastMeasurementAt = &t
		resp.Sequence = snap.Seq
	}
	h.write(w, req, resp, nil)
}

// Healthz reports that the process is serving.
func (h *Handlers) Healthz(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok\n"))
}

func (h *Handlers) write(w http.ResponseWriter, req *http.Request, data any, headers map[string]string) {
	if err := h.formatter.WriteResponse(w, req, data, headers); err != nil {
		h.controller.logger.Errorf("error encoding response: %v", err)
		http.Error(w, "error encoding response", http.StatusInternalServerError)
	}
}
