package v1

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all API v1 routes.
func (h *Handler) RegisterRoutes(api *gin.RouterGroup) {
	auth := APIKeyAuthMiddleware(h.cfg, h.logger)

	incidents := api.Group("/incidents", auth)
	{
		incidents.POST("", h.reportIncident)
		incidents.GET("", h.listIncidents)
		incidents.GET("/:id", h.getIncident)
	}

	units := api.Group("/units", auth)
	{
		units.POST("", h.createUnit)
		units.GET("", h.listUnits)
		units.GET("/:id", h.getUnit)
		units.POST("/:id/release", h.releaseUnit)
	}

	// health check stays open
	api.GET("/system/health", h.healthCheck)
}
