package httpapi

import (
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	logx "imagetasks/pkg/logx"
)

// requestLogger logs one line per request. 5xx responses are logged at Warn.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []logx.Field{
				logx.String("req_id", middleware.GetReqID(r.Context())),
				logx.String("method", r.Method),
				logx.String("path", r.URL.Path),
				logx.Int("status", status),
				logx.String("bytes", humanize.Bytes(uint64(ww.BytesWritten()))),
				logx.Duration("dur", time.Since(start)),
			}
			if r.ContentLength > 0 {
				fields = append(fields, logx.String("in", humanize.Bytes(uint64(r.ContentLength))))
			}
			if status >= http.StatusInternalServerError {
				s.log.Warn("http request", fields...)
				return
			}
			s.log.Debug("http request", fields...)
		}()
		next.ServeHTTP(ww, r)
	})
}

// rateLimit applies a shared token bucket. rps <= 0 disables it.
func rateLimit(rps float64, burst int, log logx.Logger) func(http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst <= 0 {
		burst = max(1, int(rps))
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				log.Debug("rate limited", logx.String("path", r.URL.Path), logx.String("remote", r.RemoteAddr))
				w.Header().Set("Retry-After", "1")
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
