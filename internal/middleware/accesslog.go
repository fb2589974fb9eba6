// internal/middleware/accesslog.go
//
// One structured log line per request.
//
// The line carries the tenant database when resolution succeeded, so a
// request can be traced to its hospital without joining against the
// catalog.  The tenant context is read after the handler returns, which
// works because the tenant middleware runs inside this wrapper and stores
// its Context on a shared holder.

package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/caresuite/hospital/internal/requestinfo"
	"github.com/caresuite/hospital/internal/tenant"
)

// AccessLog writes an info line per request (warn for 5xx) to log.
func AccessLog(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			r, slot := tenant.WithSlot(r)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("host", r.Host),
			}
			if ri := requestinfo.FromContext(r.Context()); ri != nil {
				fields = append(fields, zap.String("request_id", ri.ID))
			}
			if tc := slot.Load(); tc != nil {
				fields = append(fields, zap.String("database", tc.DatabaseName()))
			}
			if status >= http.StatusInternalServerError {
				log.Warn("request", fields...)
				return
			}
			log.Info("request", fields...)
		})
	}
}
