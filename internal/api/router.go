package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/stats", s.handleStats)

		r.Route("/entities", func(r chi.Router) {
			r.Get("/", s.handleListEntities)
			r.Get("/{id}", s.handleGetEntity)
			r.Get("/{id}/history", s.handleEntityHistory)
		})

		r.Get("/scheduler/tasks", s.handleListTasks)
		r.Get("/calls", s.handleListCalls)
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}
