package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

type responseMeta struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *responseMeta) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseMeta) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// Logger emits one structured line per request. Slow requests (price
// comparisons fanning out to providers) get flagged so they stand out in
// the logs.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &responseMeta{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"bytes", rec.bytes,
			"duration_ms", elapsed.Milliseconds(),
			"remote_addr", r.RemoteAddr,
		}
		if elapsed > 5*time.Second {
			attrs = append(attrs, "slow", true)
		}
		slog.Info("request", attrs...)
	})
}
