package log

import (
	"fmt"
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/handlers"
	"go.uber.org/zap"
)

// HTTPMiddleware logs one line per request. Server errors log at error
// level, everything else at debug so that polling clients do not flood the
// log.
func HTTPMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			m := httpsnoop.CaptureMetrics(next, w, req)

			fields := []interface{}{
				"method", req.Method,
				"path", req.URL.Path,
				"status", m.Code,
				"duration_ms", m.Duration.Milliseconds(),
				"size", m.Written,
				"remote_addr", req.RemoteAddr,
				"user_agent", req.UserAgent(),
			}
			if m.Code >= 500 {
				logger.Errorw("http request", fields...)
			} else {
				logger.Debugw("http request", fields...)
			}
		})
	}
}

type recoveryLogger struct {
	logger *zap.SugaredLogger
}

func (r recoveryLogger) Println(args ...interface{}) {
	r.logger.Errorw("http handler panic", "panic", fmt.Sprint(args...))
}

// RecoveryMiddleware turns a handler panic into a 500 response and logs it.
func RecoveryMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{logger: logger}),
		handlers.PrintRecoveryStack(false),
	)
}
