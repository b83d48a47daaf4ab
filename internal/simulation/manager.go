package simulation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jacobbs10/responder-dispatch/internal/events"
	"github.com/jacobbs10/responder-dispatch/internal/geo"
	"github.com/jacobbs10/responder-dispatch/internal/metrics"
	"github.com/jacobbs10/responder-dispatch/internal/models"
	"github.com/jacobbs10/responder-dispatch/internal/service"
	"github.com/sirupsen/logrus"
)

// ErrMissingRoute is returned when a simulation is started for a unit whose
// route triple is absent or unusable.
var ErrMissingRoute = errors.New("simulation: unit has no usable route")

type run struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns every active unit simulation. At most one simulation runs per
// unit id; starting a new one replaces the old. The persisted unit record is
// the source of truth: each tick re-reads it and exits when the unit is no
// longer enroute, and every write is conditional on the enroute status so an
// external status change is never overwritten.
type Manager struct {
	units     service.UnitRepository
	incidents service.IncidentRepository
	publisher events.Publisher
	metrics   metrics.Sink
	logger    *logrus.Logger
	tick      time.Duration

	mu     sync.Mutex
	active map[uuid.UUID]*run
}

// NewManager creates a simulation manager with an empty registry.
func NewManager(
	units service.UnitRepository,
	incidents service.IncidentRepository,
	publisher events.Publisher,
	sink metrics.Sink,
	logger *logrus.Logger,
	tick time.Duration,
) *Manager {
	if tick <= 0 {
		tick = time.Second
	}
	return &Manager{
		units:     units,
		incidents: incidents,
		publisher: publisher,
		metrics:   sink,
		logger:    logger,
		tick:      tick,
	}
}

// Start launches the travel simulation for a dispatched unit. The unit must
// carry the full route triple. If a simulation for the same unit is already
// running it is stopped first; replace, not stack.
func (m *Manager) Start(unit *models.ResponderUnit, incidentID uuid.UUID) error {
	if !unit.HasRoute() {
		return ErrMissingRoute
	}

	m.mu.Lock()
	if m.active == nil {
		m.active = make(map[uuid.UUID]*run)
	}
	// re-check after every wait: a concurrent Start may have installed its
	// own run while the lock was released, so keep evicting until the slot
	// is empty under the lock
	for {
		old, ok := m.active[unit.ID]
		if !ok {
			break
		}
		old.cancel()
		m.mu.Unlock()
		<-old.done
		m.mu.Lock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{cancel: cancel, done: make(chan struct{})}
	m.active[unit.ID] = r
	m.mu.Unlock()

	m.metrics.AddActiveSimulations(1)
	go m.loop(ctx, r, unit.ID, incidentID)
	return nil
}

// Stop cancels the simulation for the given unit, if any, and waits for it to
// finish. No further writes or events are produced afterwards.
func (m *Manager) Stop(unitID uuid.UUID) {
	m.mu.Lock()
	r, ok := m.active[unitID]
	m.mu.Unlock()
	if !ok {
		return
	}
	r.cancel()
	<-r.done
}

// Shutdown cancels all running simulations and waits for them to finish.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	runs := make([]*run, 0, len(m.active))
	for _, r := range m.active {
		runs = append(runs, r)
	}
	m.mu.Unlock()

	for _, r := range runs {
		r.cancel()
	}
	for _, r := range runs {
		<-r.done
	}
}

// ActiveCount reports the number of running simulations.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

func (m *Manager) remove(unitID uuid.UUID, r *run) {
	m.mu.Lock()
	if m.active[unitID] == r {
		delete(m.active, unitID)
	}
	m.mu.Unlock()
}

// loop drives one unit's ticks. A single goroutine consumes the ticker, so
// ticks for the same unit never overlap; missed ticks are dropped by the
// ticker rather than queued.
func (m *Manager) loop(ctx context.Context, r *run, unitID, incidentID uuid.UUID) {
	log := m.logger.WithFields(logrus.Fields{
		"component":   "simulation",
		"unit_id":     unitID,
		"incident_id": incidentID,
	})
	defer close(r.done)
	defer m.remove(unitID, r)
	defer m.metrics.AddActiveSimulations(-1)

	log.Info("Simulation started")
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Simulation cancelled")
			return
		case <-ticker.C:
			if stopped := m.step(ctx, unitID, incidentID, log); stopped {
				return
			}
		}
	}
}

// step performs one tick. It returns true when the simulation is finished,
// either by arrival or by an external status change.
func (m *Manager) step(ctx context.Context, unitID, incidentID uuid.UUID, log *logrus.Entry) bool {
	unit, err := m.units.GetByID(ctx, unitID)
	if err != nil {
		// transient store failure: keep the simulation alive, retry next tick
		log.WithError(err).Warn("Failed to re-read unit state")
		return false
	}

	if unit.Status != models.UnitStatusEnroute || !unit.HasRoute() {
		// something else changed the unit; honor it and exit cleanly
		log.WithField("status", unit.Status).Info("Unit no longer enroute, stopping simulation")
		return true
	}

	elapsed := time.Since(*unit.RouteStartTime).Seconds()
	fraction := elapsed / float64(*unit.RouteDurationSeconds)
	if fraction < 0 {
		fraction = 0
	}

	if fraction >= 1 {
		return m.arrive(ctx, unit, incidentID, log)
	}

	position := geo.PointAlong(unit.Route, fraction)
	applied, err := m.units.UpdatePosition(ctx, unitID, position)
	if err != nil {
		log.WithError(err).Warn("Failed to persist position update")
		return false
	}
	if !applied {
		log.Info("Unit status changed during tick, stopping simulation")
		return true
	}
	m.metrics.IncPositionUpdates()

	if err := m.publisher.Publish(ctx, events.NewResponderUpdate(unitID, position)); err != nil {
		log.WithError(err).Warn("Failed to publish responder_update event")
	}
	return false
}

// arrive finishes the trip: the unit lands exactly on the incident location,
// the route triple is cleared, and both records move to on_scene. Returns
// false (retry next tick) when the transition could not be persisted.
//
// The incident is written first. If either write fails the unit is still
// enroute, so the next tick re-enters this transition; a MarkArrived that
// already applied then reports not-applied and the retry carries on with the
// unit side. Events are emitted only once CompleteArrival consumes the
// enroute guard, which keeps responder_arrived exactly-once per trip.
func (m *Manager) arrive(ctx context.Context, unit *models.ResponderUnit, incidentID uuid.UUID, log *logrus.Entry) bool {
	incident, err := m.incidents.GetByID(ctx, incidentID)
	if err != nil {
		log.WithError(err).Warn("Failed to fetch incident for arrival")
		return false
	}
	final := incident.Location()

	now := time.Now().UTC()
	if _, err := m.incidents.MarkArrived(ctx, incidentID, now); err != nil {
		log.WithError(err).Warn("Failed to mark incident arrived")
		return false
	}

	applied, err := m.units.CompleteArrival(ctx, unit.ID, final)
	if err != nil {
		log.WithError(err).Warn("Failed to persist unit arrival")
		return false
	}
	if !applied {
		log.Info("Unit status changed before arrival, stopping simulation")
		return true
	}

	if err := m.incidents.InvalidateIncidentCache(ctx, incidentID); err != nil {
		log.WithError(err).Warn("Failed to invalidate incident cache")
	}
	m.metrics.IncArrivals()

	if err := m.publisher.Publish(ctx, events.NewResponderArrived(unit.ID, incidentID, final)); err != nil {
		log.WithError(err).Warn("Failed to publish responder_arrived event")
	}
	if err := m.publisher.Publish(ctx, events.NewResponderUpdate(unit.ID, final)); err != nil {
		log.WithError(err).Warn("Failed to publish final responder_update event")
	}

	log.Info("Responder arrived on scene")
	return true
}
