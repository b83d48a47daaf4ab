package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jacobbs10/responder-dispatch/internal/models"
	"github.com/jacobbs10/responder-dispatch/internal/service"
)

const unitColumns = `
	id,
	name,
	status,
	ST_Y(location::geometry) as latitude,
	ST_X(location::geometry) as longitude,
	assigned_incident_id,
	route,
	route_start_time,
	route_duration_seconds,
	created_at,
	updated_at`

// UnitRepository persists responder units in PostGIS. The route geometry is
// kept as JSONB next to the live location column.
type UnitRepository struct {
	db *pgxpool.Pool
}

// NewUnitRepository creates a new UnitRepository.
func NewUnitRepository(db *pgxpool.Pool) service.UnitRepository {
	return &UnitRepository{db: db}
}

func scanUnit(row pgx.Row) (*models.ResponderUnit, error) {
	unit := &models.ResponderUnit{}
	var routeJSON []byte
	err := row.Scan(
		&unit.ID,
		&unit.Name,
		&unit.Status,
		&unit.Latitude,
		&unit.Longitude,
		&unit.AssignedIncidentID,
		&routeJSON,
		&unit.RouteStartTime,
		&unit.RouteDurationSeconds,
		&unit.CreatedAt,
		&unit.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(routeJSON) > 0 {
		if err := json.Unmarshal(routeJSON, &unit.Route); err != nil {
			return nil, fmt.Errorf("failed to unmarshal unit route: %w", err)
		}
	}
	return unit, nil
}

// Create inserts a new responder unit.
func (r *UnitRepository) Create(ctx context.Context, unit *models.ResponderUnit) error {
	query := `
		INSERT INTO responder_units (name, status, location)
		VALUES ($1, $2, ST_SetSRID(ST_MakePoint($3, $4), 4326))
		RETURNING id, created_at, updated_at;
	`
	err := r.db.QueryRow(ctx, query,
		unit.Name,
		unit.Status,
		unit.Longitude,
		unit.Latitude,
	).Scan(&unit.ID, &unit.CreatedAt, &unit.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create responder unit: %w", err)
	}
	return nil
}

// GetByID returns a unit by its UUID.
func (r *UnitRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ResponderUnit, error) {
	query := fmt.Sprintf(`SELECT %s FROM responder_units WHERE id = $1;`, unitColumns)
	unit, err := scanUnit(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", service.ErrUnitNotFound, id)
		}
		return nil, fmt.Errorf("failed to get unit by id: %w", err)
	}
	return unit, nil
}

// ListUnits returns units ordered by name, paginated.
func (r *UnitRepository) ListUnits(ctx context.Context, page, pageSize int) ([]*models.ResponderUnit, error) {
	offset := (page - 1) * pageSize

	query := fmt.Sprintf(`
		SELECT %s FROM responder_units
		ORDER BY name
		LIMIT $1 OFFSET $2;`, unitColumns)
	rows, err := r.db.Query(ctx, query, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}
	defer rows.Close()

	units := make([]*models.ResponderUnit, 0)
	for rows.Next() {
		unit, err := scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan unit row: %w", err)
		}
		units = append(units, unit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating unit rows: %w", err)
	}
	return units, nil
}

// FindNearestAvailable returns the available unit closest to the target
// point within radiusMeters. Nearest-first ordering comes from ST_Distance
// over the geography type, so no closer available unit inside the radius can
// be skipped.
func (r *UnitRepository) FindNearestAvailable(ctx context.Context, lat, lon float64, radiusMeters int) (*models.ResponderUnit, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM responder_units
		WHERE
			status = $1
			AND ST_DWithin(
				location,
				ST_SetSRID(ST_MakePoint($2, $3), 4326)::geography,
				$4
			)
		ORDER BY ST_Distance(location, ST_SetSRID(ST_MakePoint($2, $3), 4326)::geography)
		LIMIT 1;`, unitColumns)
	unit, err := scanUnit(r.db.QueryRow(ctx, query, models.UnitStatusAvailable, lon, lat, radiusMeters))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.ErrNoUnitAvailable
		}
		return nil, fmt.Errorf("failed to find nearest available unit: %w", err)
	}
	return unit, nil
}

// MarkDispatched moves an available unit to enroute with the route triple
// set. The WHERE clause guards against dispatching a unit grabbed by a
// concurrent request.
func (r *UnitRepository) MarkDispatched(ctx context.Context, unitID, incidentID uuid.UUID, route models.Path, durationSecs int, startTime time.Time) (bool, error) {
	routeJSON, err := json.Marshal(route)
	if err != nil {
		return false, fmt.Errorf("failed to marshal route: %w", err)
	}

	query := `
		UPDATE responder_units SET
			status = $1,
			assigned_incident_id = $2,
			route = $3,
			route_start_time = $4,
			route_duration_seconds = $5,
			updated_at = NOW()
		WHERE id = $6 AND status = $7;
	`
	cmdTag, err := r.db.Exec(ctx, query,
		models.UnitStatusEnroute,
		incidentID,
		routeJSON,
		startTime,
		durationSecs,
		unitID,
		models.UnitStatusAvailable,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark unit dispatched: %w", err)
	}
	return cmdTag.RowsAffected() > 0, nil
}

// CancelDispatch reverts an enroute unit back to available with the route
// triple and assignment cleared.
func (r *UnitRepository) CancelDispatch(ctx context.Context, unitID uuid.UUID) error {
	query := `
		UPDATE responder_units SET
			status = $1,
			assigned_incident_id = NULL,
			route = NULL,
			route_start_time = NULL,
			route_duration_seconds = NULL,
			updated_at = NOW()
		WHERE id = $2 AND status = $3;
	`
	if _, err := r.db.Exec(ctx, query, models.UnitStatusAvailable, unitID, models.UnitStatusEnroute); err != nil {
		return fmt.Errorf("failed to cancel unit dispatch: %w", err)
	}
	return nil
}

// UpdatePosition overwrites the unit's tracked location with the interpolated
// point. The status guard makes the write a no-op if anything moved the unit
// out of enroute since the last tick.
func (r *UnitRepository) UpdatePosition(ctx context.Context, unitID uuid.UUID, location models.Point) (bool, error) {
	query := `
		UPDATE responder_units SET
			location = ST_SetSRID(ST_MakePoint($1, $2), 4326),
			updated_at = NOW()
		WHERE id = $3 AND status = $4;
	`
	cmdTag, err := r.db.Exec(ctx, query,
		location.Longitude,
		location.Latitude,
		unitID,
		models.UnitStatusEnroute,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update unit position: %w", err)
	}
	return cmdTag.RowsAffected() > 0, nil
}

// CompleteArrival moves an enroute unit to on_scene at the final location and
// clears the route triple. The incident assignment stays until release.
func (r *UnitRepository) CompleteArrival(ctx context.Context, unitID uuid.UUID, location models.Point) (bool, error) {
	query := `
		UPDATE responder_units SET
			status = $1,
			location = ST_SetSRID(ST_MakePoint($2, $3), 4326),
			route = NULL,
			route_start_time = NULL,
			route_duration_seconds = NULL,
			updated_at = NOW()
		WHERE id = $4 AND status = $5;
	`
	cmdTag, err := r.db.Exec(ctx, query,
		models.UnitStatusOnScene,
		location.Longitude,
		location.Latitude,
		unitID,
		models.UnitStatusEnroute,
	)
	if err != nil {
		return false, fmt.Errorf("failed to complete unit arrival: %w", err)
	}
	return cmdTag.RowsAffected() > 0, nil
}

// Release returns an on_scene unit to available and clears its assignment.
func (r *UnitRepository) Release(ctx context.Context, unitID uuid.UUID) (bool, error) {
	query := `
		UPDATE responder_units SET
			status = $1,
			assigned_incident_id = NULL,
			updated_at = NOW()
		WHERE id = $2 AND status = $3;
	`
	cmdTag, err := r.db.Exec(ctx, query,
		models.UnitStatusAvailable,
		unitID,
		models.UnitStatusOnScene,
	)
	if err != nil {
		return false, fmt.Errorf("failed to release unit: %w", err)
	}
	return cmdTag.RowsAffected() > 0, nil
}
