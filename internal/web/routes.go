package web

import (
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

func (s *Server) setupRoutes() {
	// Health check
	s.router.Get("/healthz", healthCheck)

	// MJPEG display sink
	s.router.Get("/stream", s.stream)

	s.router.Route("/api/v1", func(r chi.Router) {
		// SSE is long-lived, keep it out of the timeout group.
		r.Get("/events", s.events)

		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.Timeout(30 * time.Second))

			r.Get("/status", s.status)
			r.Post("/session/start", s.startSession)
			r.Post("/session/stop", s.stopSession)

			r.Get("/attendance", s.listAttendance)
			r.Delete("/attendance", s.resetAttendance)
			r.Get("/summary", s.summary)
		})
	})
}
