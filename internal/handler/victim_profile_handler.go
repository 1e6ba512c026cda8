package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dueb-project/dueb-api/internal/models"
	"github.com/dueb-project/dueb-api/internal/service"
	appErrors "github.com/dueb-project/dueb-api/pkg/errors"
	"github.com/dueb-project/dueb-api/pkg/response"
)

// VictimProfileHandler handles victim-profile catalog endpoints.
type VictimProfileHandler struct {
	service *service.VictimProfileService
}

// NewVictimProfileHandler constructs a victim-profile handler.
func NewVictimProfileHandler(svc *service.VictimProfileService) *VictimProfileHandler {
	return &VictimProfileHandler{service: svc}
}

// List godoc
// @Summary List victim profiles
// @Tags VictimProfiles
// @Produce json
// @Param search query string false "Search keyword"
// @Param category query string false "Filter by category"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /victim-profiles [get]
func (h *VictimProfileHandler) List(c *gin.Context) {
	var filter models.VictimProfileFilter
	filter.Search = strings.TrimSpace(c.Query("search"))
	filter.Category = c.Query("category")
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if limit, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = limit
	}

	profiles, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, profiles, pagination)
}

// Get godoc
// @Summary Get victim profile by id
// @Tags VictimProfiles
// @Produce json
// @Param id path string true "Profile ID"
// @Success 200 {object} response.Envelope
// @Router /victim-profiles/{id} [get]
func (h *VictimProfileHandler) Get(c *gin.Context) {
	profile, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, profile, nil)
}

// Create godoc
// @Summary Create victim profile
// @Tags VictimProfiles
// @Accept json
// @Produce json
// @Param payload body service.UpsertVictimProfileRequest true "Profile payload"
// @Success 201 {object} response.Envelope
// @Router /victim-profiles [post]
func (h *VictimProfileHandler) Create(c *gin.Context) {
	var req service.UpsertVictimProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	profile, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, profile)
}

// Update godoc
// @Summary Update victim profile
// @Tags VictimProfiles
// @Accept json
// @Produce json
// @Param id path string true "Profile ID"
// @Param payload body service.UpsertVictimProfileRequest true "Profile payload"
// @Success 200 {object} response.Envelope
// @Router /victim-profiles/{id} [put]
func (h *VictimProfileHandler) Update(c *gin.Context) {
	var req service.UpsertVictimProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	profile, err := h.service.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, profile, nil)
}

// Delete godoc
// @Summary Delete victim profile
// @Tags VictimProfiles
// @Produce json
// @Param id path string true "Profile ID"
// @Success 204
// @Router /victim-profiles/{id} [delete]
func (h *VictimProfileHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
