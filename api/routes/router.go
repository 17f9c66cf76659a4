package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opentillhq/tillsync/api/controllers"
	"github.com/opentillhq/tillsync/api/middleware"
	"github.com/opentillhq/tillsync/internal/ingest"
	"github.com/opentillhq/tillsync/pkg/config"
	"github.com/opentillhq/tillsync/pkg/logger"
	"github.com/opentillhq/tillsync/pkg/metrics"
)

// NewRouter assembles the server-side ingestion API.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	db controllers.Pinger,
	redis controllers.Pinger,
	ingestService *ingest.Service,
	syncMetrics *metrics.SyncMetrics,
	registry *prometheus.Registry,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, db, redis))
	})

	if registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/pos", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Post("/sync/push", controllers.SyncPush(ingestService, syncMetrics, logg))
	})

	return r
}
