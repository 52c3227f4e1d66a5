package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/treesync/treesync/internal/core/observability/log"
)

// requestLogger reports every request through the structured logger,
// tagged with the chi request id.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.log.Debug("request served",
			log.String("id", middleware.GetReqID(r.Context())),
			log.String("method", r.Method),
			log.String("path", r.URL.Path),
			log.Int("status", ww.Status()),
			log.Int("bytes", ww.BytesWritten()),
			log.Duration("took", time.Since(start)))
	})
}
