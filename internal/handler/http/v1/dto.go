package v1

import (
	"time"

	"github.com/google/uuid"
	"github.com/jacobbs10/responder-dispatch/internal/models"
)

// ReportIncidentRequest DTO for reporting an incident by address
// @Description DTO for reporting an incident by address
type ReportIncidentRequest struct {
	Address string `json:"address" validate:"required,min=3,max=512"`
}

// IncidentResponse DTO with full incident state
// @Description DTO with full incident state
type IncidentResponse struct {
	ID             uuid.UUID             `json:"id"`
	Address        string                `json:"address"`
	Latitude       float64               `json:"latitude"`
	Longitude      float64               `json:"longitude"`
	Status         models.IncidentStatus `json:"status"`
	AssignedUnitID *uuid.UUID            `json:"assigned_unit_id,omitempty"`
	DispatchTime   *time.Time            `json:"dispatch_time,omitempty"`
	ArrivalTime    *time.Time            `json:"arrival_time,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// CreateUnitRequest DTO for registering a responder unit
// @Description DTO for registering a responder unit
type CreateUnitRequest struct {
	Name      string  `json:"name" validate:"required,min=2,max=255"`
	Latitude  float64 `json:"latitude" validate:"required,latitude"`
	Longitude float64 `json:"longitude" validate:"required,longitude"`
}

// UnitResponse DTO with full responder unit state
// @Description DTO with full responder unit state
type UnitResponse struct {
	ID                   uuid.UUID         `json:"id"`
	Name                 string            `json:"name"`
	Status               models.UnitStatus `json:"status"`
	Latitude             float64           `json:"latitude"`
	Longitude            float64           `json:"longitude"`
	AssignedIncidentID   *uuid.UUID        `json:"assigned_incident_id,omitempty"`
	Route                models.Path       `json:"route,omitempty"`
	RouteStartTime       *time.Time        `json:"route_start_time,omitempty"`
	RouteDurationSeconds *int              `json:"route_duration_seconds,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}
