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
	"github.com/redis/go-redis/v9"
)

const incidentColumns = `
	id,
	address,
	ST_Y(location::geometry) as latitude,
	ST_X(location::geometry) as longitude,
	status,
	assigned_unit_id,
	dispatch_time,
	arrival_time,
	created_at,
	updated_at`

// IncidentRepository persists incidents in PostGIS with a Redis read cache.
type IncidentRepository struct {
	db          *pgxpool.Pool
	redisClient *redis.Client
}

// NewIncidentRepository creates a new IncidentRepository.
func NewIncidentRepository(db *pgxpool.Pool, redisClient *redis.Client) service.IncidentRepository {
	return &IncidentRepository{
		db:          db,
		redisClient: redisClient,
	}
}

func scanIncident(row pgx.Row) (*models.Incident, error) {
	incident := &models.Incident{}
	err := row.Scan(
		&incident.ID,
		&incident.Address,
		&incident.Latitude,
		&incident.Longitude,
		&incident.Status,
		&incident.AssignedUnitID,
		&incident.DispatchTime,
		&incident.ArrivalTime,
		&incident.CreatedAt,
		&incident.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return incident, nil
}

// Create inserts a new incident record.
func (r *IncidentRepository) Create(ctx context.Context, incident *models.Incident) error {
	query := `
		INSERT INTO incidents (address, location, status)
		VALUES ($1, ST_SetSRID(ST_MakePoint($2, $3), 4326), $4)
		RETURNING id, created_at, updated_at;
	`
	err := r.db.QueryRow(ctx, query,
		incident.Address,
		incident.Longitude,
		incident.Latitude,
		incident.Status,
	).Scan(&incident.ID, &incident.CreatedAt, &incident.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create incident: %w", err)
	}
	return nil
}

// GetByID returns an incident by its UUID.
func (r *IncidentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Incident, error) {
	query := fmt.Sprintf(`SELECT %s FROM incidents WHERE id = $1;`, incidentColumns)
	incident, err := scanIncident(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", service.ErrIncidentNotFound, id)
		}
		return nil, fmt.Errorf("failed to get incident by id: %w", err)
	}
	return incident, nil
}

// ListIncidents returns incidents ordered newest first, paginated.
func (r *IncidentRepository) ListIncidents(ctx context.Context, page, pageSize int) ([]*models.Incident, error) {
	offset := (page - 1) * pageSize

	query := fmt.Sprintf(`
		SELECT %s FROM incidents
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2;`, incidentColumns)
	rows, err := r.db.Query(ctx, query, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}
	defer rows.Close()

	incidents := make([]*models.Incident, 0)
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan incident row: %w", err)
		}
		incidents = append(incidents, incident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating incident rows: %w", err)
	}
	return incidents, nil
}

// MarkAssigned records the unit assignment and dispatch time. The WHERE
// clause keeps the transition conditional: it applies only while the
// incident is still 'new'.
func (r *IncidentRepository) MarkAssigned(ctx context.Context, incidentID, unitID uuid.UUID, dispatchTime time.Time) (bool, error) {
	query := `
		UPDATE incidents SET
			status = $1,
			assigned_unit_id = $2,
			dispatch_time = $3,
			updated_at = NOW()
		WHERE id = $4 AND status = $5;
	`
	cmdTag, err := r.db.Exec(ctx, query,
		models.IncidentStatusAssigned,
		unitID,
		dispatchTime,
		incidentID,
		models.IncidentStatusNew,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark incident assigned: %w", err)
	}
	return cmdTag.RowsAffected() > 0, nil
}

// MarkArrived records the arrival time, applied only while the incident is
// 'assigned' so the arrival timestamp is written exactly once.
func (r *IncidentRepository) MarkArrived(ctx context.Context, incidentID uuid.UUID, arrivalTime time.Time) (bool, error) {
	query := `
		UPDATE incidents SET
			status = $1,
			arrival_time = $2,
			updated_at = NOW()
		WHERE id = $3 AND status = $4;
	`
	cmdTag, err := r.db.Exec(ctx, query,
		models.IncidentStatusOnScene,
		arrivalTime,
		incidentID,
		models.IncidentStatusAssigned,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark incident arrived: %w", err)
	}
	return cmdTag.RowsAffected() > 0, nil
}

// GetIncidentFromCache tries to read an incident from Redis.
func (r *IncidentRepository) GetIncidentFromCache(ctx context.Context, id uuid.UUID) (*models.Incident, error) {
	key := fmt.Sprintf("incident:%s", id.String())
	val, err := r.redisClient.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get incident from cache: %w", err)
	}

	incident := &models.Incident{}
	if err := json.Unmarshal(val, incident); err != nil {
		return nil, fmt.Errorf("failed to unmarshal incident from cache: %w", err)
	}
	return incident, nil
}

// SetIncidentCache stores an incident in Redis.
func (r *IncidentRepository) SetIncidentCache(ctx context.Context, incident *models.Incident) error {
	key := fmt.Sprintf("incident:%s", incident.ID.String())
	val, err := json.Marshal(incident)
	if err != nil {
		return fmt.Errorf("failed to marshal incident for cache: %w", err)
	}
	if err := r.redisClient.Set(ctx, key, val, 5*time.Minute).Err(); err != nil {
		return fmt.Errorf("failed to set incident in cache: %w", err)
	}
	return nil
}

// InvalidateIncidentCache drops an incident from the Redis cache.
func (r *IncidentRepository) InvalidateIncidentCache(ctx context.Context, id uuid.UUID) error {
	key := fmt.Sprintf("incident:%s", id.String())
	if err := r.redisClient.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to invalidate incident cache: %w", err)
	}
	return nil
}
