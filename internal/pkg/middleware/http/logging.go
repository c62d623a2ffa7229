package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/autopeer-io/ridergate/pkg/log"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Logging logs every request at debug level and recovers handler panics as 500s.
func Logging(logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isUpgrade(r) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			defer func() {
				if p := recover(); p != nil {
					logger.Error(fmt.Errorf("panic: %v", p), "API handler panicked",
						"method", r.Method, "path", r.URL.Path, "requestID", RequestIDFrom(r.Context()))
					http.Error(rec, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				logger.Debug("API request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", rec.status,
					"duration", time.Since(start).String(),
					"requestID", RequestIDFrom(r.Context()),
				)
			}()
			next.ServeHTTP(rec, r)
		})
	}
}
