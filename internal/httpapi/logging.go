package httpapi

import (
	"expvar"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
)

var (
	requestsTotal     = expvar.NewInt("requests_total")
	requestsErrors    = expvar.NewInt("requests_errors_total")
	requestsConflicts = expvar.NewInt("requests_conflicts_total")
)

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}

// LoggingMiddleware logs one line per request and keeps expvar counters.
// Conflicts are counted separately: a burst of 409s on check-in or claim
// means contention, not client error.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		writer := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(writer, r)

		requestsTotal.Add(1)
		switch {
		case writer.status == http.StatusConflict:
			requestsConflicts.Add(1)
		case writer.status >= http.StatusBadRequest:
			requestsErrors.Add(1)
		}
		log.Printf("request method=%s path=%s status=%d bytes=%d duration_ms=%d request_id=%s",
			r.Method, r.URL.Path, writer.status, writer.bytes, time.Since(start).Milliseconds(), requestID)
	})
}
