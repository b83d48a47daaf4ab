package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jacobbs10/responder-dispatch/internal/events"
	"github.com/jacobbs10/responder-dispatch/internal/metrics"
	"github.com/jacobbs10/responder-dispatch/internal/models"
	"github.com/jacobbs10/responder-dispatch/internal/routing"
	"github.com/sirupsen/logrus"
)

var (
	// ErrGeocodeFailed is returned when the reported address cannot be
	// resolved to coordinates. It fails the whole report call: an incident
	// without a location is unusable.
	ErrGeocodeFailed = errors.New("failed to geocode address")
	// ErrNoUnitAvailable signals that no available unit was found within the
	// search radius. Not an error for the caller, only for the dispatch step.
	ErrNoUnitAvailable = errors.New("no available unit within search radius")
)

// Geocoder resolves a free-text address into coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (models.Point, error)
}

// Router computes a path between two points and its estimated traversal
// duration in seconds.
type Router interface {
	Route(ctx context.Context, from, to models.Point) (models.Path, int, error)
}

// SimulationStarter launches the travel simulation for a dispatched unit.
type SimulationStarter interface {
	Start(unit *models.ResponderUnit, incidentID uuid.UUID) error
}

// DispatchService orchestrates incident intake and responder dispatch.
type DispatchService interface {
	// ReportIncident records a new incident for the given address and, when
	// possible, dispatches the nearest available unit to it. The incident
	// record always comes back on success, whether or not a unit was
	// dispatched: intake must never fail because routing or unit matching
	// failed.
	ReportIncident(ctx context.Context, address string) (*models.Incident, error)
}

type dispatchService struct {
	incidents    IncidentRepository
	units        UnitRepository
	geocoder     Geocoder
	router       Router
	sims         SimulationStarter
	publisher    events.Publisher
	metrics      metrics.Sink
	logger       *logrus.Logger
	searchRadius int
}

// NewDispatchService creates the dispatch coordinator. searchRadiusMeters
// bounds the nearest-unit query (default 50km when non-positive).
func NewDispatchService(
	incidents IncidentRepository,
	units UnitRepository,
	geocoder Geocoder,
	router Router,
	sims SimulationStarter,
	publisher events.Publisher,
	sink metrics.Sink,
	logger *logrus.Logger,
	searchRadiusMeters int,
) DispatchService {
	if searchRadiusMeters <= 0 {
		searchRadiusMeters = 50000
	}
	return &dispatchService{
		incidents:    incidents,
		units:        units,
		geocoder:     geocoder,
		router:       router,
		sims:         sims,
		publisher:    publisher,
		metrics:      sink,
		logger:       logger,
		searchRadius: searchRadiusMeters,
	}
}

// ReportIncident resolves the address, persists the incident, and attempts to
// dispatch the nearest available unit. Failures past incident creation are
// absorbed: they decide whether dispatch happens, never whether the incident
// is recorded.
func (s *dispatchService) ReportIncident(ctx context.Context, address string) (*models.Incident, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service": "dispatch",
		"method":  "ReportIncident",
		"address": address,
	})

	location, err := s.geocoder.Geocode(ctx, address)
	if err != nil {
		log.WithError(err).Warn("Failed to geocode incident address")
		return nil, fmt.Errorf("%w: %s", ErrGeocodeFailed, address)
	}

	incident := &models.Incident{
		Address:   address,
		Latitude:  location.Latitude,
		Longitude: location.Longitude,
		Status:    models.IncidentStatusNew,
	}
	if err := s.incidents.Create(ctx, incident); err != nil {
		log.WithError(err).Error("Failed to create incident in repository")
		return nil, fmt.Errorf("service: could not create incident: %w", err)
	}
	s.metrics.IncIncidentsCreated()
	log = log.WithField("incident_id", incident.ID)
	log.Info("Incident recorded")

	if err := s.publisher.Publish(ctx, events.NewIncidentCreated(incident)); err != nil {
		log.WithError(err).Warn("Failed to publish incident_created event")
	}

	s.dispatch(ctx, incident, log)
	return incident, nil
}

// dispatch runs steps 4-8 of the report flow. All failures are absorbed and
// leave the incident in status 'new' and the unit (if any) available.
func (s *dispatchService) dispatch(ctx context.Context, incident *models.Incident, log *logrus.Entry) {
	unit, err := s.units.FindNearestAvailable(ctx, incident.Latitude, incident.Longitude, s.searchRadius)
	if err != nil {
		if errors.Is(err, ErrNoUnitAvailable) {
			log.Info("No available unit within search radius, incident stays unassigned")
			s.metrics.RecordDispatch(metrics.OutcomeNoUnit)
		} else {
			log.WithError(err).Error("Nearest-unit query failed")
			s.metrics.RecordDispatch(metrics.OutcomeStoreFailed)
		}
		return
	}
	log = log.WithField("unit_id", unit.ID)

	route, durationSecs, err := s.router.Route(ctx, unit.Location(), incident.Location())
	if err != nil {
		if errors.Is(err, routing.ErrNoRoute) {
			log.Warn("No route from unit to incident, incident stays unassigned")
		} else {
			log.WithError(err).Warn("Routing provider failed, incident stays unassigned")
		}
		s.metrics.RecordDispatch(metrics.OutcomeNoRoute)
		return
	}

	now := time.Now().UTC()
	applied, err := s.units.MarkDispatched(ctx, unit.ID, incident.ID, route, durationSecs, now)
	if err != nil {
		log.WithError(err).Error("Failed to mark unit dispatched")
		s.metrics.RecordDispatch(metrics.OutcomeStoreFailed)
		return
	}
	if !applied {
		// the unit was grabbed or taken offline between query and update
		log.Info("Unit no longer available, incident stays unassigned")
		s.metrics.RecordDispatch(metrics.OutcomeNoUnit)
		return
	}

	applied, err = s.incidents.MarkAssigned(ctx, incident.ID, unit.ID, now)
	if err != nil || !applied {
		// undo the unit transition so both records stay consistent
		if err != nil {
			log.WithError(err).Error("Failed to mark incident assigned, cancelling dispatch")
		} else {
			log.Warn("Incident no longer new, cancelling dispatch")
		}
		if cancelErr := s.units.CancelDispatch(ctx, unit.ID); cancelErr != nil {
			log.WithError(cancelErr).Error("Failed to cancel unit dispatch")
		}
		s.metrics.RecordDispatch(metrics.OutcomeStoreFailed)
		return
	}

	unit.Status = models.UnitStatusEnroute
	incidentID := incident.ID
	unit.AssignedIncidentID = &incidentID
	unit.Route = route
	unit.RouteStartTime = &now
	unit.RouteDurationSeconds = &durationSecs
	unitID := unit.ID
	incident.Status = models.IncidentStatusAssigned
	incident.AssignedUnitID = &unitID
	incident.DispatchTime = &now

	if err := s.incidents.InvalidateIncidentCache(ctx, incident.ID); err != nil {
		log.WithError(err).Warn("Failed to invalidate incident cache")
	}
	if err := s.publisher.Publish(ctx, events.NewResponderDispatched(unit, incident.ID, route, durationSecs)); err != nil {
		log.WithError(err).Warn("Failed to publish responder_dispatched event")
	}

	if err := s.sims.Start(unit, incident.ID); err != nil {
		log.WithError(err).Error("Failed to start travel simulation")
	}
	s.metrics.RecordDispatch(metrics.OutcomeDispatched)
	log.WithField("duration_seconds", durationSecs).Info("Responder dispatched")
}
