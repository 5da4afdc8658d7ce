package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/csw-project/csw/internal/monitor"
)

// StatusSource is satisfied by *monitor.Monitor; the interface keeps this
// package from depending on monitor's full surface.
type StatusSource interface {
	Snapshot() []monitor.ServerStatus
}

// RouterConfig holds the dependencies needed to build the HTTP router.
type RouterConfig struct {
	Logger   *zap.Logger
	Status   StatusSource
	Registry *prometheus.Registry
}

// NewRouter builds the chi router exposing /health, /status, /metrics —
// the three unauthenticated operator endpoints named in spec §6.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", healthHandler)
	r.Get("/status", statusHandler(cfg.Status))
	r.Handle("/metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))

	return r
}
