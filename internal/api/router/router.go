package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/boyeodream/dream-pipeline/internal/dream"
	httpmiddleware "github.com/boyeodream/dream-pipeline/internal/http/middleware"
	"github.com/boyeodream/dream-pipeline/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger             *logging.Logger
	DreamHandler       *dream.Handler
	AdminAuthSecret    string
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// SubmitRate limits dream submissions per IP (requests/sec). Zero
	// disables the limiter.
	SubmitRate  float64
	SubmitBurst int
}

// New creates a chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints.
	r.Group(func(public chi.Router) {
		public.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Pipeline endpoints. The submission routes fan out into paid model
	// calls, so they get a dedicated rate limit.
	r.Group(func(api chi.Router) {
		if cfg.SubmitRate > 0 {
			api.Use(httpmiddleware.RateLimit(cfg.SubmitRate, cfg.SubmitBurst))
		}
		api.Post("/transcriptions", cfg.DreamHandler.Transcribe)
		api.Post("/dreams", cfg.DreamHandler.Submit)
		api.Post("/dreams/{sessionID}/resume", cfg.DreamHandler.Resume)
		api.Post("/dreams/{sessionID}/images/{variant}", cfg.DreamHandler.RenderImage)
	})
	r.Get("/dreams/{sessionID}", cfg.DreamHandler.GetSession)

	// Knowledge administration, JWT-protected.
	if cfg.AdminAuthSecret != "" {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			admin.Post("/knowledge", cfg.DreamHandler.AddKnowledge)
		})
	}

	return r
}
