package middleware

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/oxygenesis/enrollment/pkg/id"
)

const RequestIDHeader = "X-Request-ID"

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// AccessLog tags every request with an ID and logs its outcome.
func AccessLog(logger *logrus.Entry, ids id.Generator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get(RequestIDHeader)
			if reqID == "" {
				reqID = ids.New()
			}
			w.Header().Set(RequestIDHeader, reqID)

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			logger.WithField("req-id", reqID).Debugf("%s %s %d (%s)", r.Method, r.URL.Path, rec.status, time.Since(start))
		})
	}
}
