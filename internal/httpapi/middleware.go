package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type requestIDKey struct{}

// requestID extracts the correlation id loggingMiddleware stamped onto the
// request context, so handlers can fold it into an apperr chain as the
// "captured span trace" spec.md §9 asks for.
func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// loggingMiddleware stamps every request with a correlation id and logs
// method, path and id when the request arrives and again, with the elapsed
// duration, once it has been handled; the response status is not logged.
// It mirrors the teacher's walletserver middleware.Logger generalized with a
// request id.
func loggingMiddleware(log *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			id := uuid.NewString()
			r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id))
			log.WithFields(logrus.Fields{"request_id": id, "method": r.Method, "path": r.URL.Path}).Info("request received")
			next.ServeHTTP(w, r)
			log.WithFields(logrus.Fields{
				"request_id": id,
				"method":     r.Method,
				"path":       r.URL.Path,
				"duration":   time.Since(start).String(),
			}).Info("request handled")
		})
	}
}

// recoveryMiddleware converts a panic in a handler into the 500
// UNHANDLED_REJECTION response spec.md §7 requires, instead of crashing the
// server — the Go equivalent of the teacher Rust server's catch-all
// rejection handler for unmatched error cases.
func recoveryMiddleware(log *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.WithField("panic", rec).Error("unhandled rejection")
					http.Error(w, "UNHANDLED_REJECTION", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
