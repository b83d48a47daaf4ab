package simulation

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jacobbs10/responder-dispatch/internal/events"
	event_mocks "github.com/jacobbs10/responder-dispatch/internal/events/mocks"
	"github.com/jacobbs10/responder-dispatch/internal/metrics"
	"github.com/jacobbs10/responder-dispatch/internal/models"
	"github.com/jacobbs10/responder-dispatch/internal/service/mocks"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const testTick = 10 * time.Millisecond

func newTestManager(t *testing.T) (*Manager, *mocks.MockUnitRepository, *mocks.MockIncidentRepository, *event_mocks.MockPublisher) {
	ctrl := gomock.NewController(t)
	unitsMock := mocks.NewMockUnitRepository(ctrl)
	incidentsMock := mocks.NewMockIncidentRepository(ctrl)
	publisherMock := event_mocks.NewMockPublisher(ctrl)

	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{}) // silence logs in tests

	m := NewManager(unitsMock, incidentsMock, publisherMock, metrics.NopSink{}, logger, testTick)
	return m, unitsMock, incidentsMock, publisherMock
}

// enrouteUnit builds a unit mid-trip. startOffset shifts the route start time
// relative to now, so a negative offset larger than the duration forces
// arrival on the first tick.
func enrouteUnit(startOffset time.Duration, durationSecs int) *models.ResponderUnit {
	start := time.Now().UTC().Add(startOffset)
	return &models.ResponderUnit{
		ID:        uuid.New(),
		Name:      "Medic 7",
		Status:    models.UnitStatusEnroute,
		Latitude:  40.0,
		Longitude: -75.0,
		Route: models.Path{
			{Latitude: 40.0, Longitude: -75.0},
			{Latitude: 40.1, Longitude: -75.1},
		},
		RouteStartTime:       &start,
		RouteDurationSeconds: &durationSecs,
	}
}

func TestStart_RejectsUnitWithoutRoute(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	unit := &models.ResponderUnit{
		ID:     uuid.New(),
		Status: models.UnitStatusEnroute,
	}

	err := m.Start(unit, uuid.New())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingRoute)
	assert.Equal(t, 0, m.ActiveCount())
}

func TestSimulation_ArrivesWhenRouteDurationElapsed(t *testing.T) {
	m, unitsMock, incidentsMock, publisherMock := newTestManager(t)
	// the trip started long ago, the first tick lands past the end
	unit := enrouteUnit(-time.Minute, 5)
	incidentID := uuid.New()
	incident := &models.Incident{
		ID:        incidentID,
		Status:    models.IncidentStatusAssigned,
		Latitude:  40.1,
		Longitude: -75.1,
	}

	unitsMock.EXPECT().GetByID(gomock.Any(), unit.ID).Return(unit, nil).AnyTimes()
	incidentsMock.EXPECT().GetByID(gomock.Any(), incidentID).Return(incident, nil).Times(1)
	unitsMock.EXPECT().
		CompleteArrival(gomock.Any(), unit.ID, incident.Location()).
		Return(true, nil).
		Times(1)
	incidentsMock.EXPECT().MarkArrived(gomock.Any(), incidentID, gomock.Any()).Return(true, nil).Times(1)
	incidentsMock.EXPECT().InvalidateIncidentCache(gomock.Any(), incidentID).Return(nil).Times(1)

	var arrived, finalUpdate atomic.Bool
	publisherMock.EXPECT().
		Publish(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, event events.Event) error {
			switch event.Type {
			case events.TypeResponderArrived:
				arrived.Store(true)
				assert.Equal(t, incident.Location(), *event.Location)
			case events.TypeResponderUpdate:
				finalUpdate.Store(true)
			}
			return nil
		}).AnyTimes()

	require.NoError(t, m.Start(unit, incidentID))

	require.Eventually(t, func() bool {
		return m.ActiveCount() == 0
	}, 2*time.Second, testTick, "simulation should terminate on arrival")
	assert.True(t, arrived.Load(), "responder_arrived should be published")
	assert.True(t, finalUpdate.Load(), "a final position update should be published")
}

func TestSimulation_PublishesPositionUpdatesWhileEnroute(t *testing.T) {
	m, unitsMock, _, publisherMock := newTestManager(t)
	// a very long trip, the simulation keeps ticking until stopped
	unit := enrouteUnit(0, 3600)
	incidentID := uuid.New()

	unitsMock.EXPECT().GetByID(gomock.Any(), unit.ID).Return(unit, nil).AnyTimes()

	var updates atomic.Int32
	unitsMock.EXPECT().
		UpdatePosition(gomock.Any(), unit.ID, gomock.Any()).
		DoAndReturn(func(ctx context.Context, id uuid.UUID, location models.Point) (bool, error) {
			updates.Add(1)
			return true, nil
		}).AnyTimes()
	publisherMock.EXPECT().
		Publish(gomock.Any(), gomock.Any()).
		Do(func(ctx context.Context, event events.Event) {
			assert.Equal(t, events.TypeResponderUpdate, event.Type)
		}).Return(nil).AnyTimes()

	require.NoError(t, m.Start(unit, incidentID))

	require.Eventually(t, func() bool {
		return updates.Load() >= 3
	}, 2*time.Second, testTick, "position updates should be persisted every tick")

	m.Stop(unit.ID)
	assert.Equal(t, 0, m.ActiveCount())
}

func TestSimulation_StopsWhenUnitNoLongerEnroute(t *testing.T) {
	m, unitsMock, _, _ := newTestManager(t)
	unit := enrouteUnit(0, 3600)
	incidentID := uuid.New()

	// the re-read shows an externally changed status
	released := *unit
	released.Status = models.UnitStatusAvailable
	released.Route = nil
	released.RouteStartTime = nil
	released.RouteDurationSeconds = nil

	unitsMock.EXPECT().GetByID(gomock.Any(), unit.ID).Return(&released, nil).AnyTimes()
	unitsMock.EXPECT().UpdatePosition(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	require.NoError(t, m.Start(unit, incidentID))

	require.Eventually(t, func() bool {
		return m.ActiveCount() == 0
	}, 2*time.Second, testTick, "simulation should exit without writing")
}

func TestSimulation_StopsWhenConditionalUpdateDoesNotApply(t *testing.T) {
	m, unitsMock, _, _ := newTestManager(t)
	unit := enrouteUnit(0, 3600)
	incidentID := uuid.New()

	unitsMock.EXPECT().GetByID(gomock.Any(), unit.ID).Return(unit, nil).AnyTimes()
	// the guarded write loses against a concurrent status change
	unitsMock.EXPECT().
		UpdatePosition(gomock.Any(), unit.ID, gomock.Any()).
		Return(false, nil).
		Times(1)

	require.NoError(t, m.Start(unit, incidentID))

	require.Eventually(t, func() bool {
		return m.ActiveCount() == 0
	}, 2*time.Second, testTick)
}

func TestStart_ReplacesRunningSimulation(t *testing.T) {
	m, unitsMock, _, publisherMock := newTestManager(t)
	unit := enrouteUnit(0, 3600)
	incidentID := uuid.New()

	unitsMock.EXPECT().GetByID(gomock.Any(), unit.ID).Return(unit, nil).AnyTimes()
	unitsMock.EXPECT().UpdatePosition(gomock.Any(), unit.ID, gomock.Any()).Return(true, nil).AnyTimes()
	publisherMock.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	require.NoError(t, m.Start(unit, incidentID))
	require.NoError(t, m.Start(unit, incidentID))

	// replace, not stack
	assert.Equal(t, 1, m.ActiveCount())

	m.Shutdown()
	assert.Equal(t, 0, m.ActiveCount())
}

func TestStart_ConcurrentRestartsKeepSingleSimulation(t *testing.T) {
	m, unitsMock, _, publisherMock := newTestManager(t)
	unit := enrouteUnit(0, 3600)
	incidentID := uuid.New()

	unitsMock.EXPECT().GetByID(gomock.Any(), unit.ID).Return(unit, nil).AnyTimes()

	var updates atomic.Int32
	unitsMock.EXPECT().
		UpdatePosition(gomock.Any(), unit.ID, gomock.Any()).
		DoAndReturn(func(ctx context.Context, id uuid.UUID, location models.Point) (bool, error) {
			updates.Add(1)
			return true, nil
		}).AnyTimes()
	publisherMock.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	// hammer Start from many goroutines; every racer must evict whatever run
	// it finds before installing its own
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Start(unit, incidentID))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, m.ActiveCount(), "racing restarts must leave exactly one run")

	m.Stop(unit.ID)
	m.Shutdown()
	assert.Equal(t, 0, m.ActiveCount())

	// no orphan goroutine may keep writing after teardown
	frozen := updates.Load()
	time.Sleep(10 * testTick)
	assert.Equal(t, frozen, updates.Load(), "no position updates after Stop and Shutdown")
}

func TestSimulation_RetriesArrivalWhenIncidentWriteFails(t *testing.T) {
	m, unitsMock, incidentsMock, publisherMock := newTestManager(t)
	unit := enrouteUnit(-time.Minute, 5)
	incidentID := uuid.New()
	incident := &models.Incident{
		ID:        incidentID,
		Status:    models.IncidentStatusAssigned,
		Latitude:  40.1,
		Longitude: -75.1,
	}

	unitsMock.EXPECT().GetByID(gomock.Any(), unit.ID).Return(unit, nil).AnyTimes()
	incidentsMock.EXPECT().GetByID(gomock.Any(), incidentID).Return(incident, nil).AnyTimes()

	// first incident write fails transiently; the simulation must stay alive
	// and retry, not strand the incident as assigned
	var markAttempts atomic.Int32
	incidentsMock.EXPECT().
		MarkArrived(gomock.Any(), incidentID, gomock.Any()).
		DoAndReturn(func(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
			if markAttempts.Add(1) == 1 {
				return false, errors.New("connection reset")
			}
			return true, nil
		}).Times(2)
	unitsMock.EXPECT().
		CompleteArrival(gomock.Any(), unit.ID, incident.Location()).
		Return(true, nil).
		Times(1)
	incidentsMock.EXPECT().InvalidateIncidentCache(gomock.Any(), incidentID).Return(nil).Times(1)

	var arrivedEvents atomic.Int32
	publisherMock.EXPECT().
		Publish(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, event events.Event) error {
			if event.Type == events.TypeResponderArrived {
				arrivedEvents.Add(1)
			}
			return nil
		}).AnyTimes()

	require.NoError(t, m.Start(unit, incidentID))

	require.Eventually(t, func() bool {
		return m.ActiveCount() == 0
	}, 2*time.Second, testTick, "simulation should finish after the retry succeeds")
	assert.Equal(t, int32(2), markAttempts.Load(), "arrival should be retried on the next tick")
	assert.Equal(t, int32(1), arrivedEvents.Load(), "responder_arrived must be published exactly once")
}

func TestSimulation_ResumesUnitArrivalWhenIncidentAlreadyMarked(t *testing.T) {
	m, unitsMock, incidentsMock, publisherMock := newTestManager(t)
	unit := enrouteUnit(-time.Minute, 5)
	incidentID := uuid.New()
	incident := &models.Incident{
		ID:        incidentID,
		Status:    models.IncidentStatusAssigned,
		Latitude:  40.1,
		Longitude: -75.1,
	}

	unitsMock.EXPECT().GetByID(gomock.Any(), unit.ID).Return(unit, nil).AnyTimes()
	incidentsMock.EXPECT().GetByID(gomock.Any(), incidentID).Return(incident, nil).AnyTimes()

	// the incident write lands but the unit write fails once; the retried
	// MarkArrived then reports not-applied and the unit side still completes
	incidentsMock.EXPECT().
		MarkArrived(gomock.Any(), incidentID, gomock.Any()).
		Return(true, nil).
		Times(1)
	incidentsMock.EXPECT().
		MarkArrived(gomock.Any(), incidentID, gomock.Any()).
		Return(false, nil).
		AnyTimes()

	var completeAttempts atomic.Int32
	unitsMock.EXPECT().
		CompleteArrival(gomock.Any(), unit.ID, incident.Location()).
		DoAndReturn(func(ctx context.Context, id uuid.UUID, location models.Point) (bool, error) {
			if completeAttempts.Add(1) == 1 {
				return false, errors.New("connection reset")
			}
			return true, nil
		}).Times(2)
	incidentsMock.EXPECT().InvalidateIncidentCache(gomock.Any(), incidentID).Return(nil).Times(1)

	var arrivedEvents atomic.Int32
	publisherMock.EXPECT().
		Publish(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, event events.Event) error {
			if event.Type == events.TypeResponderArrived {
				arrivedEvents.Add(1)
			}
			return nil
		}).AnyTimes()

	require.NoError(t, m.Start(unit, incidentID))

	require.Eventually(t, func() bool {
		return m.ActiveCount() == 0
	}, 2*time.Second, testTick)
	assert.Equal(t, int32(2), completeAttempts.Load())
	assert.Equal(t, int32(1), arrivedEvents.Load(), "responder_arrived must be published exactly once")
}

func TestShutdown_StopsAllSimulations(t *testing.T) {
	m, unitsMock, _, publisherMock := newTestManager(t)
	unitA := enrouteUnit(0, 3600)
	unitB := enrouteUnit(0, 3600)

	unitsMock.EXPECT().GetByID(gomock.Any(), unitA.ID).Return(unitA, nil).AnyTimes()
	unitsMock.EXPECT().GetByID(gomock.Any(), unitB.ID).Return(unitB, nil).AnyTimes()
	unitsMock.EXPECT().UpdatePosition(gomock.Any(), gomock.Any(), gomock.Any()).Return(true, nil).AnyTimes()
	publisherMock.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	require.NoError(t, m.Start(unitA, uuid.New()))
	require.NoError(t, m.Start(unitB, uuid.New()))
	assert.Equal(t, 2, m.ActiveCount())

	m.Shutdown()
	assert.Equal(t, 0, m.ActiveCount())
}
