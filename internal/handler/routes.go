package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/set-night/chatbroker/internal/config"
	"github.com/set-night/chatbroker/internal/middleware"
)

// Router builds the HTTP surface. API routes live under /api; /healthz is public.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logging)
	r.Use(middleware.Recover)
	r.Use(chimw.StripSlashes)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{h.cfg.FrontendURL},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.healthz)

	limiter := middleware.NewRateLimiter(config.RateLimitPerMinute)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(h.cfg.AuthSecret))

		r.Get("/history", h.history)
		r.Get("/sessions", h.listSessions)
		r.Post("/create-session", h.createSession)
		r.Post("/sessions/new", h.createSession)

		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Delete("/", h.deleteSession)
			r.Put("/", h.renameSession)
			r.Delete("/delete", h.deleteSession)
			r.Put("/rename", h.renameSession)
		})

		// Turns that reach an upstream provider.
		r.Group(func(r chi.Router) {
			r.Use(limiter.Handler)
			r.Post("/chat", h.chat)
			r.Post("/ocr", h.ocr)
			r.Post("/ocr-qa", h.ocrQA)
			r.Post("/gemini-with-images", h.geminiWithImages)
		})
	})

	return r
}
