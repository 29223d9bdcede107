package router

import (
	"net/http"

	"marketstore/internal/handler"
	"marketstore/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// Config holds the configuration for creating a router.
type Config struct {
	Handler        *handler.Handler
	ListingHandler *handler.ListingHandler
	PlayerHandler  *handler.PlayerHandler
	AdminHandler   *handler.AdminHandler
	AuthMiddleware func(http.Handler) http.Handler
	Log            *zap.Logger
}

// New creates and configures the HTTP router.
func New(cfg Config) *chi.Mux {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	r := chi.NewRouter()

	// Global middleware stack (applies to ALL routes)
	r.Use(middleware.Recovery(cfg.Log))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(cfg.Log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-API-Key"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// PUBLIC routes (no auth required)
	if cfg.Handler != nil {
		r.Get("/api/status", cfg.Handler.Status)
	}

	// AUTHENTICATED routes; health and ready are let through by the middleware
	r.Group(func(r chi.Router) {
		if cfg.AuthMiddleware != nil {
			r.Use(cfg.AuthMiddleware)
		}

		r.Route("/api/v1", func(r chi.Router) {
			if cfg.Handler != nil {
				r.Get("/health", cfg.Handler.Health)
				r.Get("/ready", cfg.Handler.Ready)
			}

			if cfg.ListingHandler != nil {
				r.Route("/listings", func(r chi.Router) {
					r.Get("/", cfg.ListingHandler.List)
					r.Post("/", cfg.ListingHandler.Create)
					r.Get("/{id}", cfg.ListingHandler.Get)
					r.Post("/{id}/purchase", cfg.ListingHandler.Purchase)
					r.Post("/{id}/cancel", cfg.ListingHandler.Cancel)
				})
			}

			if cfg.PlayerHandler != nil {
				r.Route("/players/{id}", func(r chi.Router) {
					r.Get("/collection-box", cfg.PlayerHandler.CollectionBox)
					r.Get("/expired-items", cfg.PlayerHandler.ExpiredItems)
					r.Post("/{container}/{item}/claim", cfg.PlayerHandler.Claim)
					r.Put("/presence", cfg.PlayerHandler.Join)
					r.Delete("/presence", cfg.PlayerHandler.Leave)
					r.Get("/notifications", cfg.PlayerHandler.Notifications)
					r.Get("/history", cfg.PlayerHandler.History)
					r.Get("/balance", cfg.PlayerHandler.Balance)
					r.Put("/balance", cfg.PlayerHandler.SetBalance)
				})
			}

			if cfg.AdminHandler != nil {
				r.Route("/admin", func(r chi.Router) {
					r.Get("/stats", cfg.AdminHandler.GetStats)
					r.Post("/cull", cfg.AdminHandler.Cull)
				})
			}
		})
	})

	return r
}
