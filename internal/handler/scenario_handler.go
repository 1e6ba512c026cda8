package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dueb-project/dueb-api/internal/service"
	appErrors "github.com/dueb-project/dueb-api/pkg/errors"
	"github.com/dueb-project/dueb-api/pkg/response"
)

// ScenarioHandler handles scenario endpoints.
type ScenarioHandler struct {
	service *service.ScenarioService
}

// NewScenarioHandler constructs a scenario handler.
func NewScenarioHandler(svc *service.ScenarioService) *ScenarioHandler {
	return &ScenarioHandler{service: svc}
}

// List godoc
// @Summary List scenarios
// @Tags Scenarios
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /scenarios [get]
func (h *ScenarioHandler) List(c *gin.Context) {
	scenarios, err := h.service.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, scenarios, nil)
}

// Get godoc
// @Summary Get scenario by id
// @Tags Scenarios
// @Produce json
// @Param id path string true "Scenario ID"
// @Success 200 {object} response.Envelope
// @Router /scenarios/{id} [get]
func (h *ScenarioHandler) Get(c *gin.Context) {
	scenario, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, scenario, nil)
}

// Create godoc
// @Summary Create scenario
// @Tags Scenarios
// @Accept json
// @Produce json
// @Param payload body service.CreateScenarioRequest true "Scenario payload"
// @Success 201 {object} response.Envelope
// @Router /scenarios [post]
func (h *ScenarioHandler) Create(c *gin.Context) {
	var req service.CreateScenarioRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	scenario, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, scenario)
}

// Update godoc
// @Summary Update scenario
// @Tags Scenarios
// @Accept json
// @Produce json
// @Param id path string true "Scenario ID"
// @Param payload body service.UpdateScenarioRequest true "Scenario payload"
// @Success 200 {object} response.Envelope
// @Router /scenarios/{id} [put]
func (h *ScenarioHandler) Update(c *gin.Context) {
	var req service.UpdateScenarioRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	scenario, err := h.service.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, scenario, nil)
}

// Delete godoc
// @Summary Delete scenario and all of its assignments
// @Tags Scenarios
// @Produce json
// @Param id path string true "Scenario ID"
// @Success 204
// @Router /scenarios/{id} [delete]
func (h *ScenarioHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// UnassignedProfiles godoc
// @Summary List profiles not yet part of the scenario
// @Tags Scenarios
// @Produce json
// @Param id path string true "Scenario ID"
// @Success 200 {object} response.Envelope
// @Router /scenarios/{id}/unassigned-profiles [get]
func (h *ScenarioHandler) UnassignedProfiles(c *gin.Context) {
	profiles, err := h.service.UnassignedProfiles(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, profiles, nil)
}

// Stats godoc
// @Summary Category distribution of assigned profiles
// @Tags Scenarios
// @Produce json
// @Param id path string true "Scenario ID"
// @Success 200 {object} response.Envelope
// @Router /scenarios/{id}/stats [get]
func (h *ScenarioHandler) Stats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}
