package log

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitWithFileWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scalebridge.log")

	if err := InitWithFile(false, FileOptions{Path: path, MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1}); err != nil {
		t.Fatal(err)
	}
	Infof("frame accepted from %s", "bench")
	Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"msg":"frame accepted from bench"`) {
		t.Errorf("log file contents = %q", data)
	}
}

func TestHTTPMiddleware(t *testing.T) {
	tests := []struct {
		name      string
		handler   http.HandlerFunc
		wantCode  int
		wantLevel zapcore.Level
		wantSize  int64
	}{
		{
			name:      "success logs at debug",
			handler:   func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("185.4")) },
			wantCode:  http.StatusOK,
			wantLevel: zapcore.DebugLevel,
			wantSize:  5,
		},
		{
			name: "server error logs at error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			},
			wantCode:  http.StatusServiceUnavailable,
			wantLevel: zapcore.ErrorLevel,
		},
		{
			name:      "panic becomes a logged 500",
			handler:   func(w http.ResponseWriter, r *http.Request) { panic("boom") },
			wantCode:  http.StatusInternalServerError,
			wantLevel: zapcore.ErrorLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			logger := zap.New(core).Sugar()

			h := HTTPMiddleware(logger)(RecoveryMiddleware(logger)(tt.handler))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			entries := logs.FilterMessage("http request").All()
			if len(entries) != 1 {
				t.Fatalf("got %d request log entries, want 1", len(entries))
			}
			e := entries[0]
			if e.Level != tt.wantLevel {
				t.Errorf("level = %v, want %v", e.Level, tt.wantLevel)
			}
			fields := e.ContextMap()
			if fields["status"] != int64(tt.wantCode) {
				t.Errorf("logged status = %v, want %d", fields["status"], tt.wantCode)
			}
			if fields["size"] != tt.wantSize {
				t.Errorf("logged size = %v, want %d", fields["size"], tt.wantSize)
			}
		})
	}
}

func TestHTTPMiddlewareKeepsHijacker(t *testing.T) {
	hijackable := make(chan bool, 1)
	h := HTTPMiddleware(zap.NewNop().Sugar())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := w.(http.Hijacker)
		hijackable <- ok
	}))
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ws")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if !<-hijackable {
		t.Error("wrapped ResponseWriter lost http.Hijacker")
	}
}
