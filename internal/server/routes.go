package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/ThiagoRGoveia/ev-turnout/internal/metrics"
)

func SetupRoutes(svc *TurnoutService, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(m.Middleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		render.Render(w, r, errNotFound)
	})

	r.Get("/health", svc.Health)
	r.Method(http.MethodGet, "/metrics", m.Handler())

	r.Route("/districts", func(r chi.Router) {
		for path := range districtDimensions {
			r.Get("/"+path, svc.Districts(path))
		}
	})

	r.Route("/{year}/primary/earlyvote", func(r chi.Router) {
		r.Get("/", svc.EarlyVote)
		r.Get("/party/{party}", svc.EarlyVote)
		r.Get("/districts/county/{county}", svc.EarlyVote)
		r.Get("/districts/federal/{cd}", svc.EarlyVote)
		r.Get("/districts/state/house/{hd}", svc.EarlyVote)
		r.Get("/districts/state/senate/{sd}", svc.EarlyVote)
	})

	r.Route("/crosstabs/{party}", func(r chi.Router) {
		r.Get("/", svc.Crosstabs)
		r.Get("/export.xlsx", svc.ExportCrosstabs)
	})

	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With("component", "http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
