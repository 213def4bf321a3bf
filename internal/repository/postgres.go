package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"shiptrack/internal/domain"
	"shiptrack/pkg/apperror"
	"shiptrack/pkg/database"
)

// Postgres is the production Repository backed by a pgx connection pool.
// It talks to the database.DB interface rather than *pgxpool.Pool
// directly so it can be exercised against pgxmock in tests.
type Postgres struct {
	db database.DB
}

// NewPostgres wraps an already-connected database.DB as a Repository.
func NewPostgres(db database.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) GetShipmentByID(ctx context.Context, id uuid.UUID) (*domain.Shipment, error) {
	row := p.db.QueryRow(ctx, `
		SELECT id, reference, vehicle_id, promised_at, status, active_route_id, created_at, updated_at
		FROM shipments WHERE id = $1`, id)

	s, err := scanShipment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.ErrShipmentNotFound
		}
		return nil, apperror.New(apperror.CodeTransient, "failed to load shipment").WithCause(err)
	}

	stops, err := p.GetStops(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	s.Stops = stops
	return s, nil
}

func (p *Postgres) GetShipmentByReference(ctx context.Context, reference string) (*domain.Shipment, error) {
	row := p.db.QueryRow(ctx, `
		SELECT id, reference, vehicle_id, promised_at, status, active_route_id, created_at, updated_at
		FROM shipments WHERE reference = $1`, reference)

	s, err := scanShipment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.ErrShipmentNotFound
		}
		return nil, apperror.New(apperror.CodeTransient, "failed to load shipment").WithCause(err)
	}

	stops, err := p.GetStops(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	s.Stops = stops
	return s, nil
}

func (p *Postgres) GetActiveShipmentByVehicle(ctx context.Context, vehicleID string) (*domain.Shipment, error) {
	row := p.db.QueryRow(ctx, `
		SELECT id, reference, vehicle_id, promised_at, status, active_route_id, created_at, updated_at
		FROM shipments WHERE vehicle_id = $1 AND status IN ('pending', 'in_transit')
		ORDER BY created_at DESC LIMIT 1`, vehicleID)

	s, err := scanShipment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.ErrShipmentNotFound
		}
		return nil, apperror.New(apperror.CodeTransient, "failed to load shipment by vehicle").WithCause(err)
	}

	stops, err := p.GetStops(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	s.Stops = stops
	return s, nil
}

func (p *Postgres) ListActiveShipments(ctx context.Context) ([]*domain.Shipment, error) {
	rows, err := p.db.Query(ctx, `
		SELECT id, reference, vehicle_id, promised_at, status, active_route_id, created_at, updated_at
		FROM shipments WHERE status IN ('pending', 'in_transit')
		ORDER BY id`)
	if err != nil {
		return nil, apperror.New(apperror.CodeTransient, "failed to list shipments").WithCause(err)
	}
	defer rows.Close()

	var out []*domain.Shipment
	for rows.Next() {
		s, err := scanShipment(rows)
		if err != nil {
			return nil, apperror.New(apperror.CodeTransient, "failed to scan shipment").WithCause(err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.New(apperror.CodeTransient, "failed to list shipments").WithCause(err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanShipment(row rowScanner) (*domain.Shipment, error) {
	var s domain.Shipment
	var activeRouteID *uuid.UUID
	err := row.Scan(&s.ID, &s.Reference, &s.VehicleID, &s.PromisedAt, &s.Status, &activeRouteID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if activeRouteID != nil {
		s.ActiveRouteID = *activeRouteID
	}
	return &s, nil
}

func (p *Postgres) AppendPositions(ctx context.Context, vehicleID string, points []domain.SnappedPoint) (int, error) {
	count := 0
	for _, pt := range points {
		tag, err := p.db.Exec(ctx, `
			INSERT INTO positions (vehicle_id, ts, lat, lon, speed_kph, accuracy_m, provenance, route_id, progress, cross_track_m, edge_speed_kph)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (vehicle_id, ts) DO NOTHING`,
			vehicleID, pt.Position.Timestamp, pt.Position.Coordinate.Lat, pt.Position.Coordinate.Lon,
			pt.Position.SpeedKPH, pt.Position.AccuracyM, pt.Position.Provenance,
			pt.RouteID, pt.Progress, pt.CrossTrackM, pt.EdgeSpeedKPH)
		if err != nil {
			return count, apperror.New(apperror.CodeTransient, "failed to append position").WithCause(err)
		}
		count += int(tag.RowsAffected())
	}
	return count, nil
}

func (p *Postgres) GetStops(ctx context.Context, shipmentID uuid.UUID) ([]domain.Stop, error) {
	rows, err := p.db.Query(ctx, `
		SELECT id, shipment_id, sequence, name, lat, lon, planned_arrival, planned_departure,
		       service_minutes, actual_arrival, actual_departure, completed
		FROM stops WHERE shipment_id = $1 ORDER BY sequence`, shipmentID)
	if err != nil {
		return nil, apperror.New(apperror.CodeTransient, "failed to load stops").WithCause(err)
	}
	defer rows.Close()

	var out []domain.Stop
	for rows.Next() {
		var st domain.Stop
		if err := rows.Scan(&st.ID, &st.ShipmentID, &st.Sequence, &st.Name, &st.Lat, &st.Lon,
			&st.PlannedArrival, &st.PlannedDeparture, &st.ServiceMinutes,
			&st.ActualArrival, &st.ActualDeparture, &st.Completed); err != nil {
			return nil, apperror.New(apperror.CodeTransient, "failed to scan stop").WithCause(err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateStopActual(ctx context.Context, stopID uuid.UUID, arrival, departure *time.Time, completed bool) error {
	tag, err := p.db.Exec(ctx, `
		UPDATE stops SET actual_arrival = COALESCE($2, actual_arrival),
		                 actual_departure = COALESCE($3, actual_departure),
		                 completed = $4
		WHERE id = $1`, stopID, arrival, departure, completed)
	if err != nil {
		return apperror.New(apperror.CodeTransient, "failed to update stop").WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.New(apperror.CodeNotFound, "stop not found").WithField("stop_id")
	}
	return nil
}

func (p *Postgres) GetActiveRoute(ctx context.Context, shipmentID uuid.UUID) (*domain.Route, error) {
	row := p.db.QueryRow(ctx, `
		SELECT r.id, r.polyline, r.distance_m, r.duration_s, r.segments, r.profile, r.source, r.created_at
		FROM routes r JOIN shipments s ON s.active_route_id = r.id
		WHERE s.id = $1`, shipmentID)
	return scanRoute(row)
}

func scanRoute(row rowScanner) (*domain.Route, error) {
	var r domain.Route
	var polylineJSON, segmentsJSON, profileJSON []byte
	if err := row.Scan(&r.ID, &polylineJSON, &r.DistanceM, &r.DurationS, &segmentsJSON, &profileJSON, &r.Source, &r.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.New(apperror.CodeNotFound, "no active route for shipment")
		}
		return nil, apperror.New(apperror.CodeTransient, "failed to load route").WithCause(err)
	}
	if err := json.Unmarshal(polylineJSON, &r.Polyline); err != nil {
		return nil, apperror.New(apperror.CodeInternal, "malformed route polyline").WithCause(err)
	}
	if err := json.Unmarshal(segmentsJSON, &r.Segments); err != nil {
		return nil, apperror.New(apperror.CodeInternal, "malformed route segments").WithCause(err)
	}
	if err := json.Unmarshal(profileJSON, &r.Profile); err != nil {
		return nil, apperror.New(apperror.CodeInternal, "malformed route profile").WithCause(err)
	}
	return &r, nil
}

func (p *Postgres) InsertRoute(ctx context.Context, route *domain.Route) error {
	polylineJSON, err := json.Marshal(route.Polyline)
	if err != nil {
		return apperror.New(apperror.CodeInvalidInput, "failed to marshal route polyline").WithCause(err)
	}
	segmentsJSON, err := json.Marshal(route.Segments)
	if err != nil {
		return apperror.New(apperror.CodeInvalidInput, "failed to marshal route segments").WithCause(err)
	}
	profileJSON, err := json.Marshal(route.Profile)
	if err != nil {
		return apperror.New(apperror.CodeInvalidInput, "failed to marshal route profile").WithCause(err)
	}
	_, err = p.db.Exec(ctx, `
		INSERT INTO routes (id, polyline, distance_m, duration_s, segments, profile, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		route.ID, polylineJSON, route.DistanceM, route.DurationS, segmentsJSON, profileJSON, route.Source, route.CreatedAt)
	if err != nil {
		return apperror.New(apperror.CodeTransient, "failed to insert route").WithCause(err)
	}
	return nil
}

func (p *Postgres) ReplaceActiveRouteWithReroute(ctx context.Context, shipmentID, rerouteID uuid.UUID) error {
	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return apperror.New(apperror.CodeTransient, "failed to begin transaction").WithCause(err)
	}
	defer tx.Rollback(ctx)

	var newRouteID uuid.UUID
	var status domain.RerouteStatus
	var rerouteShipmentID uuid.UUID
	err = tx.QueryRow(ctx, `SELECT shipment_id, new_route_id, status FROM reroutes WHERE id = $1 FOR UPDATE`, rerouteID).
		Scan(&rerouteShipmentID, &newRouteID, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperror.ErrRerouteNotFound
		}
		return apperror.New(apperror.CodeTransient, "failed to load reroute").WithCause(err)
	}
	if rerouteShipmentID != shipmentID {
		return apperror.New(apperror.CodeStateConflict, "reroute does not belong to shipment")
	}
	if status != domain.RerouteProposed {
		return apperror.New(apperror.CodeStateConflict, "reroute is not in proposed state")
	}

	if _, err := tx.Exec(ctx, `UPDATE shipments SET active_route_id = $2, updated_at = now() WHERE id = $1`, shipmentID, newRouteID); err != nil {
		return apperror.New(apperror.CodeTransient, "failed to update shipment route").WithCause(err)
	}
	if _, err := tx.Exec(ctx, `UPDATE reroutes SET status = 'accepted' WHERE id = $1`, rerouteID); err != nil {
		return apperror.New(apperror.CodeTransient, "failed to accept reroute").WithCause(err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE reroutes SET status = 'expired'
		WHERE shipment_id = $1 AND id != $2 AND status = 'proposed'`, shipmentID, rerouteID); err != nil {
		return apperror.New(apperror.CodeTransient, "failed to expire superseded reroutes").WithCause(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return apperror.New(apperror.CodeTransient, "failed to commit transaction").WithCause(err)
	}
	return nil
}

func (p *Postgres) InsertReroute(ctx context.Context, reroute *domain.Reroute) error {
	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return apperror.New(apperror.CodeTransient, "failed to begin transaction").WithCause(err)
	}
	defer tx.Rollback(ctx)

	if reroute.Status == domain.RerouteProposed {
		if _, err := tx.Exec(ctx, `
			UPDATE reroutes SET status = 'expired'
			WHERE shipment_id = $1 AND status = 'proposed'`, reroute.ShipmentID); err != nil {
			return apperror.New(apperror.CodeTransient, "failed to expire superseded reroutes").WithCause(err)
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO reroutes (id, shipment_id, created_at, old_route_id, new_route_id, time_saved_min, reason, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		reroute.ID, reroute.ShipmentID, reroute.CreatedAt, reroute.OldRouteID, reroute.NewRouteID,
		reroute.TimeSavedMin, reroute.Reason, reroute.Status)
	if err != nil {
		return apperror.New(apperror.CodeTransient, "failed to insert reroute").WithCause(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return apperror.New(apperror.CodeTransient, "failed to commit transaction").WithCause(err)
	}
	return nil
}

func (p *Postgres) UpdateRerouteStatus(ctx context.Context, id uuid.UUID, status domain.RerouteStatus) error {
	tag, err := p.db.Exec(ctx, `UPDATE reroutes SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return apperror.New(apperror.CodeTransient, "failed to update reroute status").WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.ErrRerouteNotFound
	}
	return nil
}

func (p *Postgres) GetReroute(ctx context.Context, id uuid.UUID) (*domain.Reroute, error) {
	row := p.db.QueryRow(ctx, `
		SELECT id, shipment_id, created_at, old_route_id, new_route_id, time_saved_min, reason, status
		FROM reroutes WHERE id = $1`, id)
	return scanReroute(row)
}

func (p *Postgres) GetProposedReroute(ctx context.Context, shipmentID uuid.UUID) (*domain.Reroute, error) {
	row := p.db.QueryRow(ctx, `
		SELECT id, shipment_id, created_at, old_route_id, new_route_id, time_saved_min, reason, status
		FROM reroutes WHERE shipment_id = $1 AND status = 'proposed'`, shipmentID)
	rr, err := scanReroute(row)
	if err != nil {
		if apperror.Is(err, apperror.CodeRerouteNotFound) {
			return nil, apperror.New(apperror.CodeNotFound, "no proposed reroute for shipment")
		}
		return nil, err
	}
	return rr, nil
}

func scanReroute(row rowScanner) (*domain.Reroute, error) {
	var rr domain.Reroute
	if err := row.Scan(&rr.ID, &rr.ShipmentID, &rr.CreatedAt, &rr.OldRouteID, &rr.NewRouteID,
		&rr.TimeSavedMin, &rr.Reason, &rr.Status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.ErrRerouteNotFound
		}
		return nil, apperror.New(apperror.CodeTransient, "failed to load reroute").WithCause(err)
	}
	return &rr, nil
}

func (p *Postgres) UpsertAdvisory(ctx context.Context, advisory *domain.Advisory) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO advisories (id, shipment_id, observed_at, reason, confidence, explanation, severity)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (shipment_id) DO UPDATE SET
			id = EXCLUDED.id, observed_at = EXCLUDED.observed_at, reason = EXCLUDED.reason,
			confidence = EXCLUDED.confidence, explanation = EXCLUDED.explanation, severity = EXCLUDED.severity`,
		advisory.ID, advisory.ShipmentID, advisory.ObservedAt, advisory.Reason,
		advisory.Confidence, advisory.Explanation, advisory.Severity)
	if err != nil {
		return apperror.New(apperror.CodeTransient, "failed to upsert advisory").WithCause(err)
	}
	return nil
}

func (p *Postgres) GetActiveAdvisory(ctx context.Context, shipmentID uuid.UUID) (*domain.Advisory, error) {
	row := p.db.QueryRow(ctx, `
		SELECT id, shipment_id, observed_at, reason, confidence, explanation, severity
		FROM advisories WHERE shipment_id = $1`, shipmentID)

	var a domain.Advisory
	if err := row.Scan(&a.ID, &a.ShipmentID, &a.ObservedAt, &a.Reason, &a.Confidence, &a.Explanation, &a.Severity); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.New(apperror.CodeNotFound, "no active advisory for shipment")
		}
		return nil, apperror.New(apperror.CodeTransient, "failed to load advisory").WithCause(err)
	}
	return &a, nil
}

func (p *Postgres) InsertEvent(ctx context.Context, shipmentID uuid.UUID, eventType EventType, payload any, ts time.Time) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return apperror.New(apperror.CodeInternal, "failed to encode event payload").WithCause(err)
	}
	_, err = p.db.Exec(ctx, `
		INSERT INTO events (shipment_id, type, payload, ts) VALUES ($1, $2, $3, $4)`,
		shipmentID, string(eventType), body, ts)
	if err != nil {
		return apperror.New(apperror.CodeTransient, "failed to insert event").WithCause(err)
	}
	return nil
}
