package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes builds the HTTP router: the WebSocket endpoint, health and
// stats, Prometheus metrics, presence lookups when a store is configured and
// the debug console.
func (s *Server) SetupRoutes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/", s.HealthHandler)
	r.Get("/health", s.StatusHandler)
	r.Get("/stats", s.StatsHandler)
	r.Get("/console", s.ConsolePageHandler)
	r.HandleFunc("/ws", s.WebSocketHandler)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	if s.presence != nil {
		r.Route("/presence", func(r chi.Router) {
			r.Get("/", s.OnlineUsersHandler)
			r.Get("/{userID}", s.UserPresenceHandler)
		})
	}
	return r
}
