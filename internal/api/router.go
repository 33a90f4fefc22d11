package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/revdeluxe/HDE/internal/api/middleware"
	"github.com/revdeluxe/HDE/internal/handlers"
)

// maxBodySize bounds request bodies; a message never exceeds one frame.
const maxBodySize = 4 * 1024

// NewRouter creates and configures the HTTP router.
func NewRouter(logger *slog.Logger, h *handlers.Handler) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestSize(maxBodySize))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/send", h.Send)
		r.Get("/messages", h.ListMessages)
		r.Get("/messages/crc", h.Checksum)
		r.Post("/messages/refresh", h.Refresh)
		r.Get("/messages/{id}/status", h.MessageStatus)
		r.Post("/handshake", h.Handshake)
		r.Post("/sync/{peer}", h.Sync)
		r.Post("/crc-request", h.RequestChecksum)
		r.Get("/peers", h.Peers)
		r.Get("/link", h.Link)
	})

	return r
}

// NewServer wraps the router in an http.Server listening on addr. The write timeout outlasts a sync running
// every round to its timeout.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
}
