package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(rateLimit(s.cfg.RatePerSec, s.cfg.Burst, s.log))

		r.Post("/upload", s.handleUpload)
		r.Get("/tasks/{id}", s.handleGetTask)
		r.Delete("/tasks/{id}", s.handleDeleteTask)
		r.Post("/tasks/{id}/cancel", s.handleCancelTask)
		r.Get("/stats", s.handleStats)
		r.Get("/audit", s.handleAudit)
	})

	if s.cfg.Pprof.Enabled {
		mountPprof(r, s.cfg.Pprof)
	}
	return r
}
