package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/leadline-labs/leadline/internal/platform/requestid"
)

// Wrap assigns the request id, logs one line per request and turns panics
// into a 500 envelope.
func Wrap(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := requestid.Sanitize(r.Header.Get(requestid.Header))
		if id == "" {
			id = requestid.New()
		}
		r.Header.Set(requestid.Header, id)
		w.Header().Set(requestid.Header, id)

		rw := &responseRecorder{ResponseWriter: w}
		start := time.Now()
		defer func() {
			if v := recover(); v != nil {
				logger.Error("panic recovered", "request_id", id, "method", r.Method, "path", r.URL.Path, "panic", v)
				if !rw.wroteHeader {
					WriteError(rw, r, http.StatusInternalServerError, "internal_error")
				}
			}
			logRequest(logger, r, rw, id, time.Since(start))
		}()
		next.ServeHTTP(rw, r)
	})
}

func logRequest(logger *slog.Logger, r *http.Request, rw *responseRecorder, id string, elapsed time.Duration) {
	level := slog.LevelInfo
	if rw.code() >= 500 {
		level = slog.LevelError
	}
	logger.LogAttrs(r.Context(), level, "http request",
		slog.String("request_id", id),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", rw.code()),
		slog.Int64("bytes", rw.bytes),
		slog.Int64("duration_ms", elapsed.Milliseconds()),
	)
}

// responseRecorder remembers the status and body size. Unwrap lets
// http.ResponseController reach the underlying writer.
type responseRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int64
	wroteHeader bool
}

func (w *responseRecorder) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.status, w.wroteHeader = status, true
	w.ResponseWriter.WriteHeader(status)
}

func (w *responseRecorder) Write(p []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += int64(n)
	return n, err
}

func (w *responseRecorder) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *responseRecorder) code() int {
	if !w.wroteHeader {
		return http.StatusOK
	}
	return w.status
}
