package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"dashboard/internal/http/handlers"
	"dashboard/internal/infra"
	"dashboard/internal/middleware"
)

// Options carries the cross-cutting settings the router needs.
type Options struct {
	Logger          zerolog.Logger
	Metrics         *infra.Metrics
	AllowedOrigins  []string
	RateLimitPerMin int
	// TrustProxy rewrites RemoteAddr from X-Real-IP/X-Forwarded-For. Enable it
	// only behind a proxy that overwrites those headers.
	TrustProxy bool
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if opts.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.AllowedOrigins),
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)
	r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())

	limiter := middleware.NewRateLimiter(opts.RateLimitPerMin, opts.Logger)

	r.Route("/api", func(r chi.Router) {
		r.Get("/generate/stream", app.Stream)

		r.Group(func(r chi.Router) {
			r.Use(limiter.Handler)
			r.Post("/generate", app.Generate)
			r.Post("/reve/text-to-image", app.ReveTextToImage)
			r.Post("/reve/edit", app.ReveEdit)
			r.Post("/reve/remix", app.ReveRemix)
		})
	})

	return r
}
