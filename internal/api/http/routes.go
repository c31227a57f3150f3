package http

import (
	"whalewatch/internal/api/http/handlers"
	"whalewatch/internal/api/http/mw"
	"whalewatch/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Health and metrics stay open, everything under /api goes through rate
// limiting and, when enabled, JWT auth. Nil middlewares are simply skipped.
func BuildRouter(
	h *handlers.Handler,
	logMW *mw.LoggingMiddleware,
	gzipMW *mw.GzipMiddleware,
	rateLimitMW *mw.RateLimitMiddleware,
	jwtMW *mw.JWTMiddleware,
	identityMW *mw.HeaderIdentityMiddleware,
	corsMW *mw.CORSMiddleware,
) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	if logMW != nil {
		r.Use(logMW.Handler)
	}
	if gzipMW != nil {
		r.Use(gzipMW.Handler)
	}
	if corsMW != nil {
		r.Use(corsMW.Handler())
	}

	// tech endpoints, no auth
	r.Get("/healthz", h.Healthz)
	r.Get("/readiness", h.Readiness)
	r.Mount("/metrics", metrics.Handler())

	r.Route("/api", func(api chi.Router) {
		if rateLimitMW != nil {
			api.Use(rateLimitMW.Handler)
		}
		if jwtMW != nil {
			api.Use(jwtMW.Handler)
		} else if identityMW != nil {
			// trusted-header identity is only honored while JWT is off
			api.Use(identityMW.Handler)
		}

		api.Route("/whales", func(ww chi.Router) {
			ww.Get("/recent", h.RecentWhales)
			ww.Get("/{txHash}/impact", h.WhaleImpact)
		})

		api.Route("/pools", func(pp chi.Router) {
			pp.Get("/{address}", h.Pool)
		})

		api.Route("/alerts", func(aa chi.Router) {
			aa.Post("/", h.CreateAlert)
			aa.Get("/", h.ListAlerts)
			aa.Get("/{id}", h.GetAlert)
			aa.Patch("/{id}/enabled", h.SetAlertEnabled)
			aa.Delete("/{id}", h.DeleteAlert)
		})

		api.Route("/detector", func(dd chi.Router) {
			dd.Get("/threshold", h.Threshold)
			dd.Put("/threshold", h.SetThreshold)
		})
	})

	return r
}
