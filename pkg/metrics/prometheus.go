package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the global metrics container for the tracking service.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Ingestion and actor metrics
	PositionsIngestedTotal *prometheus.CounterVec
	PositionsRejectedTotal *prometheus.CounterVec
	ActorQueueDepth        *prometheus.GaugeVec
	ActorQueueDroppedTotal *prometheus.CounterVec

	// ETA and advisory metrics
	ETARecomputeDuration *prometheus.HistogramVec
	ETADeviationMinutes  *prometheus.HistogramVec
	AdvisoryChangesTotal *prometheus.CounterVec

	// Reroute metrics
	RerouteProposalsTotal *prometheus.CounterVec
	RerouteSavingMinutes  *prometheus.HistogramVec

	// Subscription hub metrics
	SubscribersActive     prometheus.Gauge
	SubscriberLaggedTotal *prometheus.CounterVec

	// Routing client metrics
	RoutingRequestsTotal   *prometheus.CounterVec
	RoutingRequestDuration *prometheus.HistogramVec
	RoutingCircuitState    *prometheus.GaugeVec

	// System metrics
	MemoryUsage *prometheus.GaugeVec
	Goroutines  prometheus.Gauge

	// Service info
	ServiceInfo *prometheus.GaugeVec
}

var defaultMetrics *Metrics

// InitMetrics creates and registers the metrics container.
func InitMetrics(namespace, subsystem string) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),

		PositionsIngestedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "positions_ingested_total",
				Help:      "Total number of position reports accepted by the ingestion gateway",
			},
			[]string{"vehicle_id"},
		),

		PositionsRejectedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "positions_rejected_total",
				Help:      "Total number of position reports rejected by the ingestion gateway",
			},
			[]string{"reason"},
		),

		ActorQueueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "actor_queue_depth",
				Help:      "Current depth of a shipment actor's inbound queue",
			},
			[]string{"shipment_id"},
		),

		ActorQueueDroppedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "actor_queue_dropped_total",
				Help:      "Total number of position reports dropped because a shipment actor queue was full",
			},
			[]string{"shipment_id"},
		),

		ETARecomputeDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "eta_recompute_duration_seconds",
				Help:      "Duration of ETA recomputation",
				Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5},
			},
			[]string{"stop_id"},
		),

		ETADeviationMinutes: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "eta_deviation_minutes",
				Help:      "Absolute deviation between consecutive ETA estimates",
				Buckets:   []float64{0, 1, 2, 5, 10, 15, 30, 60},
			},
			[]string{"confidence"},
		),

		AdvisoryChangesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "advisory_changes_total",
				Help:      "Total number of delay advisory changes emitted",
			},
			[]string{"cause"},
		),

		RerouteProposalsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "reroute_proposals_total",
				Help:      "Total number of reroute proposals generated",
			},
			[]string{"outcome"},
		),

		RerouteSavingMinutes: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "reroute_saving_minutes",
				Help:      "Estimated time saving of generated reroute proposals",
				Buckets:   []float64{0, 5, 10, 15, 20, 30, 45, 60, 120},
			},
			[]string{},
		),

		SubscribersActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "subscribers_active",
				Help:      "Current number of active subscription hub sessions",
			},
		),

		SubscriberLaggedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "subscriber_lagged_total",
				Help:      "Total number of subscriber buffer overflows that produced a lagged marker",
			},
			[]string{"reason"},
		),

		RoutingRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "routing_requests_total",
				Help:      "Total number of routing provider requests",
			},
			[]string{"provider", "status"},
		),

		RoutingRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "routing_request_duration_seconds",
				Help:      "Duration of routing provider requests",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"provider"},
		),

		RoutingCircuitState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "routing_circuit_state",
				Help:      "Circuit breaker state of a routing provider (0=closed, 1=half-open, 2=open)",
			},
			[]string{"provider"},
		),

		MemoryUsage: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "memory_usage_bytes",
				Help:      "Current memory usage",
			},
			[]string{"type"},
		),

		Goroutines: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "goroutines",
				Help:      "Current number of goroutines",
			},
		),

		ServiceInfo: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "service_info",
				Help:      "Service information",
			},
			[]string{"version", "environment"},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the global metrics container, initializing it with defaults
// if it has not been set up yet.
func Get() *Metrics {
	if defaultMetrics == nil {
		return InitMetrics("shiptrack", "")
	}
	return defaultMetrics
}

// RecordHTTPRequest records metrics for a completed HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordPositionIngested records an accepted position report.
func (m *Metrics) RecordPositionIngested(vehicleID string) {
	m.PositionsIngestedTotal.WithLabelValues(vehicleID).Inc()
}

// RecordPositionRejected records a rejected position report.
func (m *Metrics) RecordPositionRejected(reason string) {
	m.PositionsRejectedTotal.WithLabelValues(reason).Inc()
}

// SetActorQueueDepth sets the current queue depth for a shipment actor.
func (m *Metrics) SetActorQueueDepth(shipmentID string, depth int) {
	m.ActorQueueDepth.WithLabelValues(shipmentID).Set(float64(depth))
}

// RecordActorQueueDropped records a position dropped due to a full actor queue.
func (m *Metrics) RecordActorQueueDropped(shipmentID string) {
	m.ActorQueueDroppedTotal.WithLabelValues(shipmentID).Inc()
}

// RecordETARecompute records the duration and deviation of an ETA recomputation.
func (m *Metrics) RecordETARecompute(stopID string, duration time.Duration, confidence string, deviationMin float64) {
	m.ETARecomputeDuration.WithLabelValues(stopID).Observe(duration.Seconds())
	m.ETADeviationMinutes.WithLabelValues(confidence).Observe(deviationMin)
}

// RecordAdvisoryChange records a delay advisory transition.
func (m *Metrics) RecordAdvisoryChange(cause string) {
	m.AdvisoryChangesTotal.WithLabelValues(cause).Inc()
}

// RecordRerouteProposal records the outcome of a reroute evaluation.
func (m *Metrics) RecordRerouteProposal(outcome string, savingMin float64) {
	m.RerouteProposalsTotal.WithLabelValues(outcome).Inc()
	if outcome == "proposed" {
		m.RerouteSavingMinutes.WithLabelValues().Observe(savingMin)
	}
}

// SetSubscribersActive sets the current number of active subscription sessions.
func (m *Metrics) SetSubscribersActive(count int) {
	m.SubscribersActive.Set(float64(count))
}

// RecordSubscriberLagged records a subscriber buffer overflow that produced a lagged marker.
func (m *Metrics) RecordSubscriberLagged(reason string) {
	m.SubscriberLaggedTotal.WithLabelValues(reason).Inc()
}

// RecordRoutingRequest records a routing provider call outcome.
func (m *Metrics) RecordRoutingRequest(provider, status string, duration time.Duration) {
	m.RoutingRequestsTotal.WithLabelValues(provider, status).Inc()
	m.RoutingRequestDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// SetRoutingCircuitState sets the circuit breaker state gauge for a provider.
func (m *Metrics) SetRoutingCircuitState(provider string, state float64) {
	m.RoutingCircuitState.WithLabelValues(provider).Set(state)
}

// SetServiceInfo sets the service info gauge.
func (m *Metrics) SetServiceInfo(version, environment string) {
	m.ServiceInfo.WithLabelValues(version, environment).Set(1)
}

// Handler returns the HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartMetricsServer starts the HTTP server serving /metrics and /health.
func StartMetricsServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK")) //nolint:errcheck // health endpoint, write error isn't actionable
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return server.ListenAndServe()
}
