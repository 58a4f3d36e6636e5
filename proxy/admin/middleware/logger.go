package middleware

import (
	"net/http"
	"time"

	"github.com/julienstroheker/mavrelay/internal/logging"
)

// responseWriter captures the status code written by the handler
type responseWriter struct {
	http.ResponseWriter

	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Logger logs each admin request at debug level and each response at
// info level. The request-scoped logger is stored in the context for
// handlers.
func Logger(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			fields := []logging.Field{
				logging.String("method", r.Method),
				logging.String("path", r.URL.Path),
			}
			if id := GetRequestID(r.Context()); id != "" {
				fields = append(fields, logging.String("request_id", id))
			}
			if id := GetClientRequestID(r.Context()); id != "" {
				fields = append(fields, logging.String("client_request_id", id))
			}

			reqLogger := logger.With(fields...)
			r = r.WithContext(logging.WithContext(r.Context(), reqLogger))

			reqLogger.Debug("Request received", logging.String("remote_addr", r.RemoteAddr))

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			reqLogger.Info("Response sent",
				logging.Int("status", rw.statusCode),
				logging.Duration("duration", time.Since(start)))
		})
	}
}
