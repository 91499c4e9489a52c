package middleware

import (
	"net/http"
	"strconv"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/mmeshcher/bookstore-coins/internal/metrics"
)

type responseData struct {
	status int
	size   int
}

type loggingResponseWriter struct {
	http.ResponseWriter
	data *responseData
}

func (w *loggingResponseWriter) Write(b []byte) (int, error) {
	if w.data.status == 0 {
		w.data.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.data.size += n
	return n, err
}

func (w *loggingResponseWriter) WriteHeader(status int) {
	if w.data.status == 0 {
		w.data.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

// Logger журналирует каждый запрос и учитывает его длительность в метриках.
func Logger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			data := &responseData{}

			next.ServeHTTP(&loggingResponseWriter{ResponseWriter: w, data: data}, r)

			if data.status == 0 {
				data.status = http.StatusOK
			}
			duration := time.Since(start)
			metrics.HTTPRequestDuration.
				WithLabelValues(r.Method, strconv.Itoa(data.status)).
				Observe(duration.Seconds())

			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("uri", r.RequestURI),
				zap.Int("status", data.status),
				zap.Int("size", data.size),
				zap.Duration("duration", duration),
				zap.String("request_id", chimiddleware.GetReqID(r.Context())),
			)
		})
	}
}
