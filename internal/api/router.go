package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/iconidentify/tokgrab/internal/api/handler"
	mw "github.com/iconidentify/tokgrab/internal/api/middleware"
	"github.com/iconidentify/tokgrab/internal/config"
)

// NewRouter creates the HTTP router with all routes configured.
// metrics may be nil to leave /metrics unmounted.
func NewRouter(
	downloadHandler *handler.DownloadHandler,
	healthHandler *handler.HealthHandler,
	eventHandler *handler.EventHandler,
	metrics http.Handler,
	limits config.RateLimitConfig,
	logger *slog.Logger,
) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CleanPath) // Normalize paths (e.g., //ready -> /ready)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.Logger(logger))
	r.Use(mw.Recovery(logger))
	r.Use(middleware.Timeout(2 * time.Minute))
	r.Use(mw.CORS)

	r.Get("/health", healthHandler.Live)
	r.Get("/ready", healthHandler.Ready)
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}

	// Extraction-triggering endpoints share one token bucket
	r.Group(func(r chi.Router) {
		r.Use(mw.RateLimit(limits.RequestsPerSecond, limits.Burst))

		r.Post("/video-info", downloadHandler.VideoInfo)
		r.Post("/downloads", downloadHandler.Create)
	})

	r.Get("/downloads", downloadHandler.List)
	r.Get("/downloads/{id}", downloadHandler.Get)
	r.Get("/download/{id}/{format}", downloadHandler.Serve)

	if eventHandler != nil {
		r.Get("/events", eventHandler.Recent)
		r.Get("/events/stream", eventHandler.Stream)
	}

	return r
}
