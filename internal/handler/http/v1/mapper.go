package v1

import "github.com/jacobbs10/responder-dispatch/internal/models"

// ModelToIncidentResponse converts the domain model into a response DTO.
func ModelToIncidentResponse(model *models.Incident) *IncidentResponse {
	return &IncidentResponse{
		ID:             model.ID,
		Address:        model.Address,
		Latitude:       model.Latitude,
		Longitude:      model.Longitude,
		Status:         model.Status,
		AssignedUnitID: model.AssignedUnitID,
		DispatchTime:   model.DispatchTime,
		ArrivalTime:    model.ArrivalTime,
		CreatedAt:      model.CreatedAt,
		UpdatedAt:      model.UpdatedAt,
	}
}

// ModelsToIncidentResponses converts a model slice into a DTO slice.
func ModelsToIncidentResponses(models []*models.Incident) []*IncidentResponse {
	responses := make([]*IncidentResponse, len(models))
	for i, model := range models {
		responses[i] = ModelToIncidentResponse(model)
	}
	return responses
}

// ModelToUnitResponse converts the domain model into a response DTO.
func ModelToUnitResponse(model *models.ResponderUnit) *UnitResponse {
	return &UnitResponse{
		ID:                   model.ID,
		Name:                 model.Name,
		Status:               model.Status,
		Latitude:             model.Latitude,
		Longitude:            model.Longitude,
		AssignedIncidentID:   model.AssignedIncidentID,
		Route:                model.Route,
		RouteStartTime:       model.RouteStartTime,
		RouteDurationSeconds: model.RouteDurationSeconds,
		CreatedAt:            model.CreatedAt,
		UpdatedAt:            model.UpdatedAt,
	}
}

// ModelsToUnitResponses converts a model slice into a DTO slice.
func ModelsToUnitResponses(models []*models.ResponderUnit) []*UnitResponse {
	responses := make([]*UnitResponse, len(models))
	for i, model := range models {
		responses[i] = ModelToUnitResponse(model)
	}
	return responses
}
