package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dueb-project/dueb-api/internal/models"
	"github.com/dueb-project/dueb-api/internal/service"
	appErrors "github.com/dueb-project/dueb-api/pkg/errors"
	"github.com/dueb-project/dueb-api/pkg/response"
)

// AssignmentHandler handles roster and allocation endpoints.
type AssignmentHandler struct {
	allocator *service.AllocatorService
}

// NewAssignmentHandler constructs an assignment handler.
func NewAssignmentHandler(allocator *service.AllocatorService) *AssignmentHandler {
	return &AssignmentHandler{allocator: allocator}
}

type promoteRequest struct {
	OrganizationID string `json:"organization_id"`
}

// List godoc
// @Summary List scenario assignments
// @Tags Assignments
// @Produce json
// @Param id path string true "Scenario ID"
// @Param organization_id query string false "Filter by organization"
// @Param search query string false "Match button or profile number"
// @Success 200 {object} response.Envelope
// @Router /scenarios/{id}/assignments [get]
func (h *AssignmentHandler) List(c *gin.Context) {
	filter := models.AssignmentFilter{
		OrganizationID: c.Query("organization_id"),
		Search:         strings.TrimSpace(c.Query("search")),
	}
	roster, err := h.allocator.List(c.Request.Context(), c.Param("id"), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, roster, nil)
}

// AllocateOne godoc
// @Summary Assign one profile to an organization
// @Tags Assignments
// @Accept json
// @Produce json
// @Param payload body service.AllocateOneRequest true "Allocation payload"
// @Success 201 {object} response.Envelope
// @Router /assignments [post]
func (h *AssignmentHandler) AllocateOne(c *gin.Context) {
	var req service.AllocateOneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	assignment, err := h.allocator.AllocateOne(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, assignment)
}

// AllocateBatch godoc
// @Summary Assign a batch of profiles to one organization
// @Tags Assignments
// @Accept json
// @Produce json
// @Param payload body service.AllocateBatchRequest true "Batch payload"
// @Success 201 {object} response.Envelope
// @Router /assignments/batch [post]
func (h *AssignmentHandler) AllocateBatch(c *gin.Context) {
	var req service.AllocateBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	assignments, err := h.allocator.AllocateBatch(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, assignments)
}

// Queue godoc
// @Summary Attach profiles to the scenario without an organization
// @Tags Assignments
// @Accept json
// @Produce json
// @Param payload body service.QueueRequest true "Queue payload"
// @Success 201 {object} response.Envelope
// @Router /assignments/queue [post]
func (h *AssignmentHandler) Queue(c *gin.Context) {
	var req service.QueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	queued, err := h.allocator.Queue(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, queued)
}

// Promote godoc
// @Summary Promote a queued assignment to an organization
// @Tags Assignments
// @Accept json
// @Produce json
// @Param id path string true "Assignment ID"
// @Param payload body promoteRequest true "Target organization"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id}/promote [post]
func (h *AssignmentHandler) Promote(c *gin.Context) {
	var req promoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	assignment, err := h.allocator.PromoteToOrganization(c.Request.Context(), c.Param("id"), req.OrganizationID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignment, nil)
}

// Delete godoc
// @Summary Remove an assignment (its number is never reissued)
// @Tags Assignments
// @Produce json
// @Param id path string true "Assignment ID"
// @Success 204
// @Router /assignments/{id} [delete]
func (h *AssignmentHandler) Delete(c *gin.Context) {
	if err := h.allocator.Remove(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
