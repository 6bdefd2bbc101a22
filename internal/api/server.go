// Package api provides the REST API server for the community hub.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/breachymba/hub/internal/auth"
)

// ServerOption configures the hub API server
type ServerOption func(*serverConfig)

// serverConfig holds the server configuration
type serverConfig struct {
	middlewares []func(http.Handler) http.Handler
}

// WithMiddlewares adds middleware to the server
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// NewServer creates and configures the HTTP router with the given routes and options
func NewServer(routes *Routes, opts ...ServerOption) *chi.Mux {
	cfg := &serverConfig{
		middlewares: []func(http.Handler) http.Handler{},
	}

	for _, opt := range opts {
		opt(cfg)
	}

	r := chi.NewRouter()

	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	// System endpoints at root
	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler)

	r.Route("/api", func(r chi.Router) {
		// Public read surface
		r.Get("/feed", routes.getFeed)
		r.Get("/news/{id}", routes.getNewsPost)
		r.Get("/workshop", routes.listWorkshopItems)
		r.Get("/workshop/{id}", routes.getWorkshopItem)
		r.Get("/workshop/{id}/updates", routes.listWorkshopItemUpdates)
		r.Get("/collections", routes.listCollections)
		r.Get("/collections/{id}", routes.getCollection)
		r.Get("/collections/{id}/updates", routes.listCollectionUpdates)
		r.Get("/servers", routes.listServerStatus)
		r.Get("/servers/{id}", routes.getServer)
		r.Get("/servers/{id}/history", routes.listServerHistory)

		// Session endpoints
		r.Post("/auth/telegram", routes.telegramLogin)
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(routes.sessions))
			r.Get("/me", routes.getMe)
		})

		// Admin write surface
		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.Middleware(routes.sessions))
			r.Use(auth.RequireAdmin)

			r.Get("/news", routes.listNewsPosts)
			r.Post("/news", routes.createNewsPost)
			r.Put("/news/{id}", routes.updateNewsPost)
			r.Delete("/news/{id}", routes.deleteNewsPost)

			r.Post("/workshop", routes.createWorkshopItem)
			r.Put("/workshop/{id}", routes.updateWorkshopItem)
			r.Delete("/workshop/{id}", routes.deleteWorkshopItem)

			r.Post("/collections", routes.createCollection)
			r.Put("/collections/{id}", routes.updateCollection)
			r.Delete("/collections/{id}", routes.deleteCollection)

			r.Post("/servers", routes.createServer)
			r.Put("/servers/{id}", routes.updateServer)
			r.Delete("/servers/{id}", routes.deleteServer)

			r.Post("/patch-notes", routes.createPatchNote)
			r.Get("/patch-notes/{id}", routes.getPatchNote)
			r.Put("/patch-notes/{id}", routes.updatePatchNote)
			r.Delete("/patch-notes/{id}", routes.deletePatchNote)
		})
	})

	return r
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
