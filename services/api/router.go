package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes constructs the chi router containing all API endpoints.
func (a *API) Routes() (http.Handler, error) {
	if a == nil {
		return nil, errors.New("nil api")
	}

	allowed := a.config.AllowedOrigins
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowed,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"Retry-After"},
		MaxAge:         int((10 * time.Minute).Seconds()),
	}))

	r.Get("/health", a.handleHealth)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", a.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(a.config.RateLimit, time.Minute))

		r.Route("/v1", func(r chi.Router) {
			r.Post("/scan", a.handleSubmitScan)
			r.Get("/scan/{id}", a.handleGetScan)
			r.Get("/scans", a.handleListScans)
			r.Get("/scans/{id}/report", a.handleScanReport)
			r.Get("/ledger/{target}", a.handleLedgerRecord)
		})

		r.Post("/scan", a.handleSubmitScan)
		r.Get("/scan/{id}", a.handleGetScan)
	})

	return r, nil
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	gate := a.scans.Gate()
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"inFlight":       gate.InFlight(r.Context()),
		"maxConcurrency": gate.Max(),
		"modelVersion":   a.config.ModelVersion,
	})
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := a.withTimeout(r.Context())
	defer cancel()

	names := make([]string, 0, len(a.config.Checks))
	for name := range a.config.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	failed := map[string]string{}
	for _, name := range names {
		if err := runCheck(ctx, a.config.Checks[name]); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failed": failed})
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func runCheck(ctx context.Context, check Check) error {
	if check == nil {
		return nil
	}
	return check(ctx)
}
