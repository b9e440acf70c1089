package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dtravers/tokenward/internal/metrics"
	"github.com/dtravers/tokenward/internal/response"
	"github.com/dtravers/tokenward/internal/server/middleware"
)

// Router builds the HTTP route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)
	r.Use(middleware.CORS(s.cfg.Server.AllowedOrigins))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/users", s.handleRegisterUser)
		r.Get("/events", s.handleEvents)

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Use(s.requireUser)

			r.Delete("/", s.handleEraseUser)
			r.Post("/credentials", s.handlePutCredentials)
			r.Delete("/credentials/{provider}", s.handleDeleteCredential)
			r.Get("/status", s.handleStatus)
			r.Post("/refresh/{provider}", s.handleTriggerRefresh)
			r.Get("/notifications", s.handleFetchNotifications)
			r.Post("/notifications", s.handleEnqueueNotification)
			r.Post("/notifications/ack", s.handleAckNotifications)
		})
	})

	return r
}

// requireUser rejects requests for user ids that were never registered, so
// a mistyped or erased id cannot silently create state.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		if userID == "" {
			response.WriteValidationError(w, "Missing user id")
			return
		}

		ok, err := s.registry.Exists(r.Context(), userID)
		if err != nil {
			response.WriteInternalError(w, "Failed to look up user")
			return
		}
		if !ok {
			response.WriteUnregistered(w)
			return
		}

		next.ServeHTTP(w, r)
	})
}
