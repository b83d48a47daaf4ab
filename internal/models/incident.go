package models

import (
	"time"

	"github.com/google/uuid"
)

// IncidentStatus is the lifecycle state of a reported incident.
type IncidentStatus string

const (
	// IncidentStatusNew is the initial state. An incident may stay here
	// indefinitely when no unit is available or routing failed.
	IncidentStatusNew IncidentStatus = "new"
	// IncidentStatusAssigned means a unit has been matched and routed.
	IncidentStatusAssigned IncidentStatus = "assigned"
	// IncidentStatusOnScene means the assigned unit has arrived.
	IncidentStatusOnScene IncidentStatus = "on_scene"
)

// Incident is a reported emergency event.
// AssignedUnitID and DispatchTime are set exactly when a unit is assigned,
// ArrivalTime exactly once when the unit reaches the scene.
type Incident struct {
	ID             uuid.UUID      `json:"id"`
	Address        string         `json:"address"`
	Latitude       float64        `json:"latitude"`
	Longitude      float64        `json:"longitude"`
	Status         IncidentStatus `json:"status"`
	AssignedUnitID *uuid.UUID     `json:"assigned_unit_id,omitempty"`
	DispatchTime   *time.Time     `json:"dispatch_time,omitempty"`
	ArrivalTime    *time.Time     `json:"arrival_time,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Location returns the incident coordinates as a Point.
func (i *Incident) Location() Point {
	return Point{Latitude: i.Latitude, Longitude: i.Longitude}
}
