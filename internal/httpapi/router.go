// Package httpapi realizes the operation/event list of spec.md §6 as a
// chi-routed HTTP surface: position ingest, shipment query, reroute
// commands, and an SSE subscription stream.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"shiptrack/pkg/config"
	"shiptrack/pkg/metrics"
	"shiptrack/pkg/ratelimit"
	"shiptrack/pkg/telemetry"
)

// NewRouter builds the full HTTP handler: middleware chain, then
// routes. limiter may be nil (rate limiting disabled); m may be nil
// (metrics disabled).
func NewRouter(api *API, corsCfg config.CORSConfig, limiter ratelimit.Limiter, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()

	r.Use(loggingMiddleware)
	r.Use(metricsMiddleware(m))
	r.Use(telemetry.HTTPMiddleware)
	r.Use(rateLimitMiddleware(limiter))

	if corsCfg.Enabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   corsCfg.AllowedOrigins,
			AllowedMethods:   corsCfg.AllowedMethods,
			AllowedHeaders:   corsCfg.AllowedHeaders,
			AllowCredentials: corsCfg.AllowCredentials,
			MaxAge:           corsCfg.MaxAge,
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if m != nil {
		r.Handle("/metrics", metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/positions", api.IngestPosition)
		r.Get("/shipments/{reference}", api.GetShipment)
		r.Post("/shipments/{id}/reroutes", api.ProposeReroute)
		r.Post("/reroutes/{id}/accept", api.AcceptReroute)
		r.Post("/reroutes/{id}/reject", api.RejectReroute)
		r.Get("/shipments/{id}/stream", api.StreamShipment)
	})

	return r
}
