package v1

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jacobbs10/responder-dispatch/internal/config"
	"github.com/jacobbs10/responder-dispatch/internal/models"
	"github.com/jacobbs10/responder-dispatch/internal/service"
	"github.com/sirupsen/logrus"
)

type Handler struct {
	dispatchService service.DispatchService
	incidentService service.IncidentService
	unitService     service.UnitService
	logger          *logrus.Logger
	validate        *validator.Validate
	cfg             *config.Config
}

func NewHandler(
	dispatchService service.DispatchService,
	incidentService service.IncidentService,
	unitService service.UnitService,
	logger *logrus.Logger,
	cfg *config.Config,
) *Handler {
	return &Handler{
		dispatchService: dispatchService,
		incidentService: incidentService,
		unitService:     unitService,
		logger:          logger,
		validate:        validator.New(),
		cfg:             cfg,
	}
}

// @Summary Report a new incident
// @Description Report an incident at a free-text address. The address is geocoded, the incident is recorded and, when an available unit is in range, dispatch starts in the same call. Requires API key.
// @Tags Incidents
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param incident body ReportIncidentRequest true "Incident report request"
// @Success 201 {object} IncidentResponse
// @Failure 400 {object} map[string]string "Invalid request body or validation error"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 502 {object} map[string]string "Address could not be geocoded"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /incidents [post]
func (h *Handler) reportIncident(c *gin.Context) {
	var input ReportIncidentRequest
	log := h.logger.WithField("method", "reportIncident")

	if err := c.ShouldBindJSON(&input); err != nil {
		log.WithError(err).Warn("Failed to bind JSON")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := h.validate.Struct(input); err != nil {
		log.WithError(err).Warn("Validation failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	incident, err := h.dispatchService.ReportIncident(c.Request.Context(), input.Address)
	if err != nil {
		if errors.Is(err, service.ErrGeocodeFailed) {
			log.WithError(err).Warn("Geocoding failed for reported address")
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to geocode address"})
			return
		}
		log.WithError(err).Error("Failed to report incident in service")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusCreated, ModelToIncidentResponse(incident))
}

// @Summary Get a list of incidents
// @Description Get a paginated list of all incidents. Requires API key.
// @Tags Incidents
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param page query int false "Page number" default(1)
// @Param pageSize query int false "Number of items per page" default(10)
// @Success 200 {array} IncidentResponse
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /incidents [get]
func (h *Handler) listIncidents(c *gin.Context) {
	log := h.logger.WithField("method", "listIncidents")
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "10"))

	incidents, err := h.incidentService.ListIncidents(c.Request.Context(), page, pageSize)
	if err != nil {
		log.WithError(err).Error("Failed to list incidents from service")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.JSON(http.StatusOK, ModelsToIncidentResponses(incidents))
}

// @Summary Get incident by ID
// @Description Get a single incident by its ID. Requires API key.
// @Tags Incidents
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Incident ID"
// @Success 200 {object} IncidentResponse
// @Failure 400 {object} map[string]string "Invalid incident ID"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} map[string]string "Incident not found"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /incidents/{id} [get]
func (h *Handler) getIncident(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid incident ID"})
		return
	}
	log := h.logger.WithField("method", "getIncident").WithField("id", id)

	incident, err := h.incidentService.GetIncident(c.Request.Context(), id)
	if err != nil {
		log.WithError(err).Warn("Failed to get incident from service")
		if errors.Is(err, service.ErrIncidentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, ModelToIncidentResponse(incident))
}

// @Summary Register a responder unit
// @Description Register a new responder unit at a location. The unit starts as available. Requires API key.
// @Tags Units
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param unit body CreateUnitRequest true "Unit creation request"
// @Success 201 {object} UnitResponse
// @Failure 400 {object} map[string]string "Invalid request body or validation error"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /units [post]
func (h *Handler) createUnit(c *gin.Context) {
	var input CreateUnitRequest
	log := h.logger.WithField("method", "createUnit")

	if err := c.ShouldBindJSON(&input); err != nil {
		log.WithError(err).Warn("Failed to bind JSON")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := h.validate.Struct(input); err != nil {
		log.WithError(err).Warn("Validation failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	unit := &models.ResponderUnit{
		Name:      input.Name,
		Latitude:  input.Latitude,
		Longitude: input.Longitude,
	}
	if err := h.unitService.CreateUnit(c.Request.Context(), unit); err != nil {
		log.WithError(err).Error("Failed to create unit in service")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusCreated, ModelToUnitResponse(unit))
}

// @Summary Get a list of responder units
// @Description Get a paginated list of all responder units. Requires API key.
// @Tags Units
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param page query int false "Page number" default(1)
// @Param pageSize query int false "Number of items per page" default(10)
// @Success 200 {array} UnitResponse
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /units [get]
func (h *Handler) listUnits(c *gin.Context) {
	log := h.logger.WithField("method", "listUnits")
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "10"))

	units, err := h.unitService.ListUnits(c.Request.Context(), page, pageSize)
	if err != nil {
		log.WithError(err).Error("Failed to list units from service")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.JSON(http.StatusOK, ModelsToUnitResponses(units))
}

// @Summary Get responder unit by ID
// @Description Get a single responder unit by its ID. Requires API key.
// @Tags Units
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Unit ID"
// @Success 200 {object} UnitResponse
// @Failure 400 {object} map[string]string "Invalid unit ID"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} map[string]string "Unit not found"
// @Router /units/{id} [get]
func (h *Handler) getUnit(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid unit ID"})
		return
	}
	log := h.logger.WithField("method", "getUnit").WithField("id", id)

	unit, err := h.unitService.GetUnit(c.Request.Context(), id)
	if err != nil {
		log.WithError(err).Warn("Failed to get unit from service")
		c.JSON(http.StatusNotFound, gin.H{"error": "unit not found"})
		return
	}
	c.JSON(http.StatusOK, ModelToUnitResponse(unit))
}

// @Summary Release a responder unit
// @Description Return an on-scene unit to the available pool and clear its incident assignment. Requires API key.
// @Tags Units
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Unit ID"
// @Success 200 "OK"
// @Failure 400 {object} map[string]string "Invalid unit ID"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 409 {object} map[string]string "Unit is not on scene"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /units/{id}/release [post]
func (h *Handler) releaseUnit(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid unit ID"})
		return
	}
	log := h.logger.WithField("method", "releaseUnit").WithField("id", id)

	if err := h.unitService.ReleaseUnit(c.Request.Context(), id); err != nil {
		if errors.Is(err, service.ErrUnitNotReleasable) {
			c.JSON(http.StatusConflict, gin.H{"error": "unit is not on scene"})
			return
		}
		log.WithError(err).Error("Failed to release unit in service")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to release unit"})
		return
	}

	c.Status(http.StatusOK)
}

// @Summary Get application health status
// @Description Get health status of the application
// @Tags System
// @Accept json
// @Produce json
// @Success 200 {object} map[string]string "Status OK"
// @Router /system/health [get]
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
