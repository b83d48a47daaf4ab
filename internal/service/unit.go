package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jacobbs10/responder-dispatch/internal/models"
	"github.com/sirupsen/logrus"
)

var (
	// ErrUnitNotFound is returned when a unit id does not exist.
	ErrUnitNotFound = errors.New("responder unit not found")
	// ErrUnitNotReleasable is returned when a release is attempted on a unit
	// that is not on scene.
	ErrUnitNotReleasable = errors.New("responder unit is not on scene")
)

// UnitRepository defines the persistence contract for responder units.
// The conditional mutations return whether they were applied: every write is
// guarded by the expected current status, so a status changed elsewhere is
// detected instead of overwritten.
type UnitRepository interface {
	Create(ctx context.Context, unit *models.ResponderUnit) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.ResponderUnit, error)
	ListUnits(ctx context.Context, page, pageSize int) ([]*models.ResponderUnit, error)
	// FindNearestAvailable returns the nearest available unit within
	// radiusMeters of the target point, or ErrNoUnitAvailable if no unit
	// qualifies. Query failures are returned as plain errors.
	FindNearestAvailable(ctx context.Context, lat, lon float64, radiusMeters int) (*models.ResponderUnit, error)
	// MarkDispatched moves an available unit to enroute with the full route
	// triple set. Applies only while the unit is still 'available'.
	MarkDispatched(ctx context.Context, unitID, incidentID uuid.UUID, route models.Path, durationSecs int, startTime time.Time) (bool, error)
	// CancelDispatch reverts an enroute unit back to available, clearing the
	// route triple and assignment. Compensation path for a failed incident
	// update.
	CancelDispatch(ctx context.Context, unitID uuid.UUID) error
	// UpdatePosition overwrites the unit's current location. Applies only
	// while the unit is still 'enroute'.
	UpdatePosition(ctx context.Context, unitID uuid.UUID, location models.Point) (bool, error)
	// CompleteArrival moves an enroute unit to on_scene at the given final
	// location and clears the route triple. The incident assignment is
	// retained until an explicit release.
	CompleteArrival(ctx context.Context, unitID uuid.UUID, location models.Point) (bool, error)
	// Release returns an on_scene unit to available and clears its incident
	// assignment. Applies only while the unit is 'on_scene'.
	Release(ctx context.Context, unitID uuid.UUID) (bool, error)
}

// UnitService defines the administrative operations on responder units.
type UnitService interface {
	CreateUnit(ctx context.Context, unit *models.ResponderUnit) error
	GetUnit(ctx context.Context, id uuid.UUID) (*models.ResponderUnit, error)
	ListUnits(ctx context.Context, page, pageSize int) ([]*models.ResponderUnit, error)
	ReleaseUnit(ctx context.Context, id uuid.UUID) error
}

type unitService struct {
	repo   UnitRepository
	logger *logrus.Logger
}

// NewUnitService creates the unit admin service.
func NewUnitService(repo UnitRepository, logger *logrus.Logger) UnitService {
	return &unitService{
		repo:   repo,
		logger: logger,
	}
}

// CreateUnit registers a new responder unit as available.
func (s *unitService) CreateUnit(ctx context.Context, unit *models.ResponderUnit) error {
	log := s.logger.WithFields(logrus.Fields{
		"service": "unit",
		"method":  "CreateUnit",
		"name":    unit.Name,
	})

	unit.Status = models.UnitStatusAvailable
	if err := s.repo.Create(ctx, unit); err != nil {
		log.WithError(err).Error("Failed to create unit in repository")
		return fmt.Errorf("service: could not create unit: %w", err)
	}

	log.WithField("unit_id", unit.ID).Info("Responder unit created")
	return nil
}

// GetUnit fetches a unit by ID.
func (s *unitService) GetUnit(ctx context.Context, id uuid.UUID) (*models.ResponderUnit, error) {
	unit, err := s.repo.GetByID(ctx, id)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"service": "unit",
			"method":  "GetUnit",
			"unit_id": id,
		}).WithError(err).Warn("Failed to get unit from repository")
		return nil, fmt.Errorf("service: could not get unit: %w", err)
	}
	return unit, nil
}

// ListUnits returns a paginated unit list.
func (s *unitService) ListUnits(ctx context.Context, page, pageSize int) ([]*models.ResponderUnit, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	units, err := s.repo.ListUnits(ctx, page, pageSize)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"service": "unit",
			"method":  "ListUnits",
		}).WithError(err).Error("Failed to list units from repository")
		return nil, fmt.Errorf("service: could not list units: %w", err)
	}
	return units, nil
}

// ReleaseUnit returns an on_scene unit to the available pool. Triggered by an
// explicit admin action; there is no automatic release after arrival.
func (s *unitService) ReleaseUnit(ctx context.Context, id uuid.UUID) error {
	log := s.logger.WithFields(logrus.Fields{
		"service": "unit",
		"method":  "ReleaseUnit",
		"unit_id": id,
	})

	applied, err := s.repo.Release(ctx, id)
	if err != nil {
		log.WithError(err).Error("Failed to release unit in repository")
		return fmt.Errorf("service: could not release unit: %w", err)
	}
	if !applied {
		log.Warn("Release skipped: unit is not on scene")
		return ErrUnitNotReleasable
	}

	log.Info("Responder unit released")
	return nil
}
