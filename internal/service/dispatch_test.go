package service

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/jacobbs10/responder-dispatch/internal/events"
	event_mocks "github.com/jacobbs10/responder-dispatch/internal/events/mocks"
	"github.com/jacobbs10/responder-dispatch/internal/metrics"
	"github.com/jacobbs10/responder-dispatch/internal/models"
	"github.com/jacobbs10/responder-dispatch/internal/routing"
	"github.com/jacobbs10/responder-dispatch/internal/service/mocks"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type dispatchMocks struct {
	incidents *mocks.MockIncidentRepository
	units     *mocks.MockUnitRepository
	geocoder  *mocks.MockGeocoder
	router    *mocks.MockRouter
	sims      *mocks.MockSimulationStarter
	publisher *event_mocks.MockPublisher
}

// newTestDispatchService builds the coordinator with every collaborator mocked.
func newTestDispatchService(t *testing.T) (DispatchService, dispatchMocks) {
	ctrl := gomock.NewController(t)
	m := dispatchMocks{
		incidents: mocks.NewMockIncidentRepository(ctrl),
		units:     mocks.NewMockUnitRepository(ctrl),
		geocoder:  mocks.NewMockGeocoder(ctrl),
		router:    mocks.NewMockRouter(ctrl),
		sims:      mocks.NewMockSimulationStarter(ctrl),
		publisher: event_mocks.NewMockPublisher(ctrl),
	}

	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{}) // silence logs in tests

	service := NewDispatchService(m.incidents, m.units, m.geocoder, m.router, m.sims, m.publisher, metrics.NopSink{}, logger, 50000)
	return service, m
}

func TestReportIncident_FullDispatch(t *testing.T) {
	service, m := newTestDispatchService(t)
	ctx := context.Background()
	address := "1 Main Street, Springfield"
	incidentLoc := models.Point{Latitude: 40.0, Longitude: -75.0}
	unitID := uuid.New()
	unit := &models.ResponderUnit{
		ID:        unitID,
		Name:      "Medic 7",
		Status:    models.UnitStatusAvailable,
		Latitude:  40.01,
		Longitude: -75.02,
	}
	route := models.Path{
		{Latitude: 40.01, Longitude: -75.02},
		{Latitude: 40.0, Longitude: -75.0},
	}
	durationSecs := 180

	m.geocoder.EXPECT().
		Geocode(ctx, address).
		Return(incidentLoc, nil).
		Times(1)

	m.incidents.EXPECT().
		Create(ctx, gomock.Any()).
		DoAndReturn(func(ctx context.Context, inc *models.Incident) error {
			inc.ID = uuid.New()
			return nil
		}).Times(1)

	m.publisher.EXPECT().
		Publish(ctx, gomock.Any()).
		Do(func(ctx context.Context, event events.Event) {
			assert.Equal(t, events.TypeIncidentCreated, event.Type)
			require.NotNil(t, event.Incident)
			assert.Equal(t, address, event.Incident.Address)
		}).Return(nil).Times(1)

	m.units.EXPECT().
		FindNearestAvailable(ctx, incidentLoc.Latitude, incidentLoc.Longitude, 50000).
		Return(unit, nil).
		Times(1)

	m.router.EXPECT().
		Route(ctx, unit.Location(), incidentLoc).
		Return(route, durationSecs, nil).
		Times(1)

	m.units.EXPECT().
		MarkDispatched(ctx, unitID, gomock.Any(), route, durationSecs, gomock.Any()).
		Return(true, nil).
		Times(1)

	m.incidents.EXPECT().
		MarkAssigned(ctx, gomock.Any(), unitID, gomock.Any()).
		Return(true, nil).
		Times(1)

	m.incidents.EXPECT().
		InvalidateIncidentCache(ctx, gomock.Any()).
		Return(nil).
		Times(1)

	m.publisher.EXPECT().
		Publish(ctx, gomock.Any()).
		Do(func(ctx context.Context, event events.Event) {
			assert.Equal(t, events.TypeResponderDispatched, event.Type)
			require.NotNil(t, event.UnitID)
			assert.Equal(t, unitID, *event.UnitID)
			assert.Equal(t, durationSecs, event.EstimatedDurationSeconds)
		}).Return(nil).Times(1)

	m.sims.EXPECT().
		Start(unit, gomock.Any()).
		Return(nil).
		Times(1)

	incident, err := service.ReportIncident(ctx, address)

	require.NoError(t, err)
	require.NotNil(t, incident)
	assert.Equal(t, models.IncidentStatusAssigned, incident.Status)
	require.NotNil(t, incident.AssignedUnitID)
	assert.Equal(t, unitID, *incident.AssignedUnitID)
	assert.NotNil(t, incident.DispatchTime)
	assert.Equal(t, models.UnitStatusEnroute, unit.Status)
	assert.True(t, unit.HasRoute())
}

func TestReportIncident_GeocodeFailed(t *testing.T) {
	service, m := newTestDispatchService(t)
	ctx := context.Background()
	address := "nowhere at all"

	m.geocoder.EXPECT().
		Geocode(ctx, address).
		Return(models.Point{}, fmt.Errorf("no result")).
		Times(1)

	// nothing is persisted and no dispatch is attempted
	m.incidents.EXPECT().Create(gomock.Any(), gomock.Any()).Times(0)
	m.units.EXPECT().FindNearestAvailable(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	incident, err := service.ReportIncident(ctx, address)

	require.Error(t, err)
	assert.Nil(t, incident)
	assert.ErrorIs(t, err, ErrGeocodeFailed)
}

func TestReportIncident_NoUnitAvailable(t *testing.T) {
	service, m := newTestDispatchService(t)
	ctx := context.Background()
	address := "2 Harbor Road"
	incidentLoc := models.Point{Latitude: 51.5, Longitude: -0.1}

	m.geocoder.EXPECT().Geocode(ctx, address).Return(incidentLoc, nil).Times(1)
	m.incidents.EXPECT().
		Create(ctx, gomock.Any()).
		DoAndReturn(func(ctx context.Context, inc *models.Incident) error {
			inc.ID = uuid.New()
			return nil
		}).Times(1)
	m.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil).Times(1)

	m.units.EXPECT().
		FindNearestAvailable(ctx, incidentLoc.Latitude, incidentLoc.Longitude, 50000).
		Return(nil, ErrNoUnitAvailable).
		Times(1)

	// no routing, no state changes past intake
	m.router.EXPECT().Route(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
	m.units.EXPECT().MarkDispatched(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	incident, err := service.ReportIncident(ctx, address)

	require.NoError(t, err)
	require.NotNil(t, incident)
	assert.Equal(t, models.IncidentStatusNew, incident.Status)
	assert.Nil(t, incident.AssignedUnitID)
}

func TestReportIncident_RoutingFailed(t *testing.T) {
	service, m := newTestDispatchService(t)
	ctx := context.Background()
	address := "3 Island Lane"
	incidentLoc := models.Point{Latitude: 60.0, Longitude: 25.0}
	unit := &models.ResponderUnit{
		ID:        uuid.New(),
		Name:      "Engine 2",
		Status:    models.UnitStatusAvailable,
		Latitude:  60.1,
		Longitude: 25.1,
	}

	m.geocoder.EXPECT().Geocode(ctx, address).Return(incidentLoc, nil).Times(1)
	m.incidents.EXPECT().
		Create(ctx, gomock.Any()).
		DoAndReturn(func(ctx context.Context, inc *models.Incident) error {
			inc.ID = uuid.New()
			return nil
		}).Times(1)
	m.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil).Times(1)

	m.units.EXPECT().
		FindNearestAvailable(ctx, incidentLoc.Latitude, incidentLoc.Longitude, 50000).
		Return(unit, nil).
		Times(1)
	m.router.EXPECT().
		Route(ctx, unit.Location(), incidentLoc).
		Return(nil, 0, routing.ErrNoRoute).
		Times(1)

	// the unit is left untouched
	m.units.EXPECT().MarkDispatched(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	incident, err := service.ReportIncident(ctx, address)

	require.NoError(t, err)
	require.NotNil(t, incident)
	assert.Equal(t, models.IncidentStatusNew, incident.Status)
	assert.Equal(t, models.UnitStatusAvailable, unit.Status)
}

func TestReportIncident_UnitTakenBetweenQueryAndUpdate(t *testing.T) {
	service, m := newTestDispatchService(t)
	ctx := context.Background()
	address := "4 Mill Street"
	incidentLoc := models.Point{Latitude: 48.8, Longitude: 2.3}
	unit := &models.ResponderUnit{
		ID:        uuid.New(),
		Name:      "Rescue 1",
		Status:    models.UnitStatusAvailable,
		Latitude:  48.81,
		Longitude: 2.31,
	}
	route := models.Path{unit.Location(), incidentLoc}

	m.geocoder.EXPECT().Geocode(ctx, address).Return(incidentLoc, nil).Times(1)
	m.incidents.EXPECT().
		Create(ctx, gomock.Any()).
		DoAndReturn(func(ctx context.Context, inc *models.Incident) error {
			inc.ID = uuid.New()
			return nil
		}).Times(1)
	m.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil).Times(1)

	m.units.EXPECT().
		FindNearestAvailable(ctx, incidentLoc.Latitude, incidentLoc.Longitude, 50000).
		Return(unit, nil).
		Times(1)
	m.router.EXPECT().
		Route(ctx, unit.Location(), incidentLoc).
		Return(route, 90, nil).
		Times(1)

	// another dispatch won the race, the conditional update does not apply
	m.units.EXPECT().
		MarkDispatched(ctx, unit.ID, gomock.Any(), route, 90, gomock.Any()).
		Return(false, nil).
		Times(1)
	m.incidents.EXPECT().MarkAssigned(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	incident, err := service.ReportIncident(ctx, address)

	require.NoError(t, err)
	require.NotNil(t, incident)
	assert.Equal(t, models.IncidentStatusNew, incident.Status)
}

func TestReportIncident_IncidentUpdateFailed_CancelsDispatch(t *testing.T) {
	service, m := newTestDispatchService(t)
	ctx := context.Background()
	address := "5 River Walk"
	incidentLoc := models.Point{Latitude: 52.5, Longitude: 13.4}
	unit := &models.ResponderUnit{
		ID:        uuid.New(),
		Name:      "Medic 12",
		Status:    models.UnitStatusAvailable,
		Latitude:  52.51,
		Longitude: 13.41,
	}
	route := models.Path{unit.Location(), incidentLoc}

	m.geocoder.EXPECT().Geocode(ctx, address).Return(incidentLoc, nil).Times(1)
	m.incidents.EXPECT().
		Create(ctx, gomock.Any()).
		DoAndReturn(func(ctx context.Context, inc *models.Incident) error {
			inc.ID = uuid.New()
			return nil
		}).Times(1)
	m.publisher.EXPECT().Publish(ctx, gomock.Any()).Return(nil).Times(1)

	m.units.EXPECT().
		FindNearestAvailable(ctx, incidentLoc.Latitude, incidentLoc.Longitude, 50000).
		Return(unit, nil).
		Times(1)
	m.router.EXPECT().
		Route(ctx, unit.Location(), incidentLoc).
		Return(route, 240, nil).
		Times(1)
	m.units.EXPECT().
		MarkDispatched(ctx, unit.ID, gomock.Any(), route, 240, gomock.Any()).
		Return(true, nil).
		Times(1)

	m.incidents.EXPECT().
		MarkAssigned(ctx, gomock.Any(), unit.ID, gomock.Any()).
		Return(false, fmt.Errorf("connection reset")).
		Times(1)

	// the unit transition is rolled back and no simulation starts
	m.units.EXPECT().
		CancelDispatch(ctx, unit.ID).
		Return(nil).
		Times(1)
	m.sims.EXPECT().Start(gomock.Any(), gomock.Any()).Times(0)

	incident, err := service.ReportIncident(ctx, address)

	require.NoError(t, err)
	require.NotNil(t, incident)
	assert.Equal(t, models.IncidentStatusNew, incident.Status)
	assert.Nil(t, incident.AssignedUnitID)
}

func TestReportIncident_EventPublishFailureDoesNotFailIntake(t *testing.T) {
	service, m := newTestDispatchService(t)
	ctx := context.Background()
	address := "6 Quiet Close"
	incidentLoc := models.Point{Latitude: 34.0, Longitude: -118.2}

	m.geocoder.EXPECT().Geocode(ctx, address).Return(incidentLoc, nil).Times(1)
	m.incidents.EXPECT().
		Create(ctx, gomock.Any()).
		DoAndReturn(func(ctx context.Context, inc *models.Incident) error {
			inc.ID = uuid.New()
			return nil
		}).Times(1)

	m.publisher.EXPECT().
		Publish(ctx, gomock.Any()).
		Return(fmt.Errorf("redis down")).
		Times(1)

	m.units.EXPECT().
		FindNearestAvailable(ctx, incidentLoc.Latitude, incidentLoc.Longitude, 50000).
		Return(nil, ErrNoUnitAvailable).
		Times(1)

	incident, err := service.ReportIncident(ctx, address)

	require.NoError(t, err)
	require.NotNil(t, incident)
	assert.Equal(t, models.IncidentStatusNew, incident.Status)
}
