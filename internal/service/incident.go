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

// ErrIncidentNotFound is returned when an incident id does not exist.
var ErrIncidentNotFound = errors.New("incident not found")

// IncidentRepository defines the persistence contract for incidents.
type IncidentRepository interface {
	Create(ctx context.Context, incident *models.Incident) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Incident, error)
	ListIncidents(ctx context.Context, page, pageSize int) ([]*models.Incident, error)
	// MarkAssigned records the unit assignment and dispatch time. The update
	// applies only while the incident is still 'new'; the returned bool
	// reports whether it was applied.
	MarkAssigned(ctx context.Context, incidentID, unitID uuid.UUID, dispatchTime time.Time) (bool, error)
	// MarkArrived records arrival. The update applies only while the incident
	// is 'assigned'; the returned bool reports whether it was applied.
	MarkArrived(ctx context.Context, incidentID uuid.UUID, arrivalTime time.Time) (bool, error)
	GetIncidentFromCache(ctx context.Context, id uuid.UUID) (*models.Incident, error)
	SetIncidentCache(ctx context.Context, incident *models.Incident) error
	InvalidateIncidentCache(ctx context.Context, id uuid.UUID) error
}

// IncidentService defines the read-side business logic for incidents.
// Incidents are only ever created through the dispatch flow.
type IncidentService interface {
	GetIncident(ctx context.Context, id uuid.UUID) (*models.Incident, error)
	ListIncidents(ctx context.Context, page, pageSize int) ([]*models.Incident, error)
}

type incidentService struct {
	repo   IncidentRepository
	logger *logrus.Logger
}

// NewIncidentService creates the incident read service.
func NewIncidentService(repo IncidentRepository, logger *logrus.Logger) IncidentService {
	return &incidentService{
		repo:   repo,
		logger: logger,
	}
}

// GetIncident fetches an incident by ID, cache first.
func (s *incidentService) GetIncident(ctx context.Context, id uuid.UUID) (*models.Incident, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service":     "incident",
		"method":      "GetIncident",
		"incident_id": id,
	})

	cached, err := s.repo.GetIncidentFromCache(ctx, id)
	if err != nil {
		log.WithError(err).Warn("Failed to read incident cache")
	}
	if cached != nil {
		return cached, nil
	}

	incident, err := s.repo.GetByID(ctx, id)
	if err != nil {
		log.WithError(err).Error("Failed to get incident from repository")
		return nil, fmt.Errorf("service: could not get incident: %w", err)
	}

	if err := s.repo.SetIncidentCache(ctx, incident); err != nil {
		log.WithError(err).Warn("Failed to cache incident")
	}
	return incident, nil
}

// ListIncidents returns a paginated incident list.
func (s *incidentService) ListIncidents(ctx context.Context, page, pageSize int) ([]*models.Incident, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	log := s.logger.WithFields(logrus.Fields{
		"service":   "incident",
		"method":    "ListIncidents",
		"page":      page,
		"page_size": pageSize,
	})

	incidents, err := s.repo.ListIncidents(ctx, page, pageSize)
	if err != nil {
		log.WithError(err).Error("Failed to list incidents from repository")
		return nil, fmt.Errorf("service: could not list incidents: %w", err)
	}

	log.WithField("count", len(incidents)).Debug("Incidents listed")
	return incidents, nil
}
