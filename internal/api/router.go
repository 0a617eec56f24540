package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsHandler().Handler)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/state", s.handleGetState)
		r.Get("/ws", s.handleWebSocket)

		r.Get("/actuators/{id}/history", s.handleActuatorHistory)

		r.Route("/{category}", func(r chi.Router) {
			r.Get("/", s.handleListCategory)
			r.Get("/{id}", s.handleGetEntity)

			r.Group(func(r chi.Router) {
				r.Use(s.authMiddleware)
				r.Patch("/{id}", s.handlePatchEntity)
			})
		})
	})

	return r
}

// corsHandler builds the CORS middleware from config. An empty origin
// list allows every origin.
func (s *Server) corsHandler() *cors.Cors {
	methods := s.cfg.CORS.AllowedMethods
	if len(methods) == 0 {
		methods = []string{http.MethodGet, http.MethodPatch, http.MethodOptions}
	}
	headers := s.cfg.CORS.AllowedHeaders
	if len(headers) == 0 {
		headers = []string{"Authorization", "Content-Type", "X-Request-ID"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: s.cfg.CORS.AllowedOrigins,
		AllowedMethods: methods,
		AllowedHeaders: headers,
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         86400,
	})
}
