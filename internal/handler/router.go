package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"inkroom/internal/pkg/logx"
)

// Router builds the HTTP routing table.
func Router(deps *AppDeps) http.Handler {
	r := chi.NewRouter()

	corsOrigins := deps.Config.AllowedOrigins
	if deps.Config.IsDevelopment() {
		corsOrigins = []string{"*"}
	}

	c := cors.New(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	})

	r.Use(c.Handler)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.RequestLogger())
	r.Use(middleware.Recoverer)

	r.Get("/health", HandleHealth)
	r.Get("/api/stats", HandleStats(deps))

	r.With(deps.UpgradeLimiter.Middleware).
		Get("/ws", HandleWebSocket(deps, NewUpgrader(deps.Config)))

	return r
}
