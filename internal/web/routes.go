package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/roll-call/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	sessionsHandler := handlers.NewSessionsHandler(s.attendance)
	framesHandler := handlers.NewFramesHandler(s.engine, s.attendance)
	enrollHandler := handlers.NewEnrollHandler(s.engine, s.signatures, s.identities, s.model)
	galleryHandler := handlers.NewGalleryHandler(s.engine.Gallery())

	// Health check
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		// Sessions
		r.Post("/sessions", sessionsHandler.Create)
		r.Get("/sessions/{id}", sessionsHandler.Get)
		r.Get("/sessions/{id}/summary", sessionsHandler.Summary)
		r.Post("/sessions/{id}/end", sessionsHandler.End)
		r.Post("/sessions/{id}/cancel", sessionsHandler.Cancel)

		// Frames
		r.Post("/sessions/{id}/frames", framesHandler.Process)

		// Enrollment
		r.Post("/identities/{id}/signatures", enrollHandler.Enroll)

		// Gallery
		r.Post("/gallery/refresh", galleryHandler.Refresh)
		r.Get("/gallery/stats", galleryHandler.Stats)
	})
}
