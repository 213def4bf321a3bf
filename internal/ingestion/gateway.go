// Package ingestion implements the Ingestion Gateway (C10): the
// admission boundary between inbound position reports and the
// per-shipment actors that process them.
package ingestion

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"

	"shiptrack/internal/domain"
	"shiptrack/internal/repository"
	"shiptrack/internal/shipment"
	"shiptrack/pkg/apperror"
	"shiptrack/pkg/config"
	"shiptrack/pkg/metrics"
)

// PositionPayload is the wire shape of an inbound position report,
// validated with struct tags before any domain logic runs.
type PositionPayload struct {
	VehicleID  string    `json:"vehicle_id" validate:"required"`
	Timestamp  time.Time `json:"timestamp" validate:"required"`
	Lat        float64   `json:"lat" validate:"gte=-90,lte=90"`
	Lon        float64   `json:"lon" validate:"gte=-180,lte=180"`
	SpeedKPH   float64   `json:"speed_kph" validate:"gte=0"`
	AccuracyM  float64   `json:"accuracy_m" validate:"required,gt=0"`
	Provenance string    `json:"provenance" validate:"required"`
}

// Config bundles the tunables the gateway enforces ahead of a
// shipment's actor.
type Config struct {
	MaxAccuracyM     float64
	MaxAge           time.Duration
	MaxFutureSkew    time.Duration
	AdmissionTimeout time.Duration
}

// ConfigFromApp derives a gateway Config from the application config.
func ConfigFromApp(c config.Config) Config {
	return Config{
		MaxAccuracyM: c.Position.MaxAccuracyM,
		MaxAge:       c.Position.MaxAgeDuration,
	}
}

// Gateway validates inbound position reports, resolves the active
// shipment for the reporting vehicle, and forwards accepted positions
// into that shipment's actor through a bounded per-shipment queue.
type Gateway struct {
	repo     repository.Repository
	pool     *shipment.Pool
	validate *validator.Validate
	cfg      Config
	metrics  *metrics.Metrics
}

// New builds a Gateway. cfg's zero fields are filled with defaults.
func New(repo repository.Repository, pool *shipment.Pool, cfg Config, m *metrics.Metrics) *Gateway {
	if cfg.MaxAccuracyM <= 0 {
		cfg.MaxAccuracyM = 50
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 24 * time.Hour
	}
	if cfg.MaxFutureSkew <= 0 {
		cfg.MaxFutureSkew = 5 * time.Minute
	}
	if cfg.AdmissionTimeout <= 0 {
		cfg.AdmissionTimeout = 2 * time.Second
	}
	return &Gateway{
		repo:     repo,
		pool:     pool,
		validate: validator.New(),
		cfg:      cfg,
		metrics:  m,
	}
}

// Ingest runs the admission procedure: validate payload, resolve the
// vehicle's active shipment, then forward to that shipment's bounded
// queue. The gateway never blocks past cfg.AdmissionTimeout.
func (g *Gateway) Ingest(ctx context.Context, payload PositionPayload) error {
	if err := g.validate.Struct(&payload); err != nil {
		g.reject("invalid_payload")
		return apperror.New(apperror.CodeInvalidPosition, "position payload failed validation").WithCause(err)
	}

	now := time.Now()
	if payload.Timestamp.Before(now.Add(-g.cfg.MaxAge)) || payload.Timestamp.After(now.Add(g.cfg.MaxFutureSkew)) {
		g.reject("timestamp_out_of_window")
		return apperror.NewWithField(apperror.CodeInvalidPosition, "position timestamp is outside the accepted window", "timestamp")
	}
	if payload.AccuracyM > g.cfg.MaxAccuracyM {
		g.reject("accuracy_too_coarse")
		return apperror.NewWithField(apperror.CodeInvalidPosition, "position accuracy exceeds the configured threshold", "accuracy_m")
	}

	sh, err := g.repo.GetActiveShipmentByVehicle(ctx, payload.VehicleID)
	if err != nil {
		g.reject("vehicle_unknown")
		return apperror.New(apperror.CodeVehicleUnknown, "no active shipment is assigned to this vehicle").
			WithCause(err).WithField("vehicle_id")
	}

	admitCtx, cancel := context.WithTimeout(ctx, g.cfg.AdmissionTimeout)
	defer cancel()

	pos := domain.Position{
		VehicleID:  payload.VehicleID,
		Timestamp:  payload.Timestamp,
		Coordinate: domain.Coordinate{Lat: payload.Lat, Lon: payload.Lon},
		SpeedKPH:   payload.SpeedKPH,
		AccuracyM:  payload.AccuracyM,
		Provenance: payload.Provenance,
	}

	if err := g.pool.Submit(admitCtx, sh.ID, pos); err != nil {
		g.reject("admission_timeout")
		return apperror.New(apperror.CodeOverload, "position admission timed out").WithCause(err)
	}
	return nil
}

func (g *Gateway) reject(reason string) {
	if g.metrics != nil {
		g.metrics.RecordPositionRejected(reason)
	}
}
