package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/jacobbs10/responder-dispatch/internal/models"
)

// Type identifies a dispatch lifecycle event.
type Type string

const (
	TypeIncidentCreated     Type = "incident_created"
	TypeResponderDispatched Type = "responder_dispatched"
	TypeResponderUpdate     Type = "responder_update"
	TypeResponderArrived    Type = "responder_arrived"
)

// Event is the wire format broadcast to connected clients and queued for
// webhook delivery. Only the fields relevant to the event type are set.
type Event struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	Incident *models.Incident `json:"incident,omitempty"`

	UnitID                   *uuid.UUID    `json:"unit_id,omitempty"`
	UnitName                 string        `json:"unit_name,omitempty"`
	IncidentID               *uuid.UUID    `json:"incident_id,omitempty"`
	Route                    models.Path   `json:"route,omitempty"`
	EstimatedDurationSeconds int           `json:"estimated_duration_seconds,omitempty"`
	Location                 *models.Point `json:"location,omitempty"`
}

// NewIncidentCreated builds the event emitted when an incident is recorded.
func NewIncidentCreated(incident *models.Incident) Event {
	return Event{
		Type:      TypeIncidentCreated,
		Timestamp: time.Now().UTC(),
		Incident:  incident,
	}
}

// NewResponderDispatched builds the event emitted when a unit is assigned and
// routed to an incident.
func NewResponderDispatched(unit *models.ResponderUnit, incidentID uuid.UUID, route models.Path, durationSecs int) Event {
	unitID := unit.ID
	incID := incidentID
	return Event{
		Type:                     TypeResponderDispatched,
		Timestamp:                time.Now().UTC(),
		UnitID:                   &unitID,
		UnitName:                 unit.Name,
		IncidentID:               &incID,
		Route:                    route,
		EstimatedDurationSeconds: durationSecs,
	}
}

// NewResponderUpdate builds the event emitted on every simulated position
// change of an enroute unit.
func NewResponderUpdate(unitID uuid.UUID, location models.Point) Event {
	id := unitID
	loc := location
	return Event{
		Type:      TypeResponderUpdate,
		Timestamp: time.Now().UTC(),
		UnitID:    &id,
		Location:  &loc,
	}
}

// NewResponderArrived builds the event emitted exactly once when a unit
// reaches its incident.
func NewResponderArrived(unitID, incidentID uuid.UUID, location models.Point) Event {
	uID := unitID
	iID := incidentID
	loc := location
	return Event{
		Type:       TypeResponderArrived,
		Timestamp:  time.Now().UTC(),
		UnitID:     &uID,
		IncidentID: &iID,
		Location:   &loc,
	}
}
