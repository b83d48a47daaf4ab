package models

import (
	"time"

	"github.com/google/uuid"
)

// UnitStatus is the availability state of a responder unit.
type UnitStatus string

const (
	UnitStatusAvailable   UnitStatus = "available"
	UnitStatusEnroute     UnitStatus = "enroute"
	UnitStatusOnScene     UnitStatus = "on_scene"
	UnitStatusReturning   UnitStatus = "returning" // reserved for the trip back
	UnitStatusUnavailable UnitStatus = "unavailable"
)

// ResponderUnit is a dispatchable resource with a tracked position.
// Route, RouteStartTime and RouteDurationSeconds are either all set or all
// nil; they are set exactly while the unit is enroute. While enroute the
// simulation engine continuously overwrites Latitude/Longitude with the
// interpolated position along Route.
type ResponderUnit struct {
	ID                   uuid.UUID  `json:"id"`
	Name                 string     `json:"name"`
	Status               UnitStatus `json:"status"`
	Latitude             float64    `json:"latitude"`
	Longitude            float64    `json:"longitude"`
	AssignedIncidentID   *uuid.UUID `json:"assigned_incident_id,omitempty"`
	Route                Path       `json:"route,omitempty"`
	RouteStartTime       *time.Time `json:"route_start_time,omitempty"`
	RouteDurationSeconds *int       `json:"route_duration_seconds,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// Location returns the unit's current coordinates as a Point.
func (u *ResponderUnit) Location() Point {
	return Point{Latitude: u.Latitude, Longitude: u.Longitude}
}

// HasRoute reports whether the full route triple is present and usable for
// simulation: at least two vertices, a positive duration and a start time.
func (u *ResponderUnit) HasRoute() bool {
	return len(u.Route) >= 2 &&
		u.RouteDurationSeconds != nil && *u.RouteDurationSeconds > 0 &&
		u.RouteStartTime != nil
}
