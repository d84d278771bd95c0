package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/topic-registry-api/internal/dto"
	"github.com/noah-isme/topic-registry-api/internal/models"
	appErrors "github.com/noah-isme/topic-registry-api/pkg/errors"
	"github.com/noah-isme/topic-registry-api/pkg/response"
)

type resultService interface {
	Get(ctx context.Context, groupID string, actor *models.JWTClaims) (*dto.TopicResultItem, error)
	SubmitReport(ctx context.Context, groupID string, req dto.SubmitReportRequest, actor *models.JWTClaims) (*dto.TopicResultItem, error)
	Grade(ctx context.Context, groupID string, req dto.GradeRequest, actor *models.JWTClaims) (*dto.TopicResultItem, error)
}

// ResultHandler exposes report submission and grading endpoints.
type ResultHandler struct {
	service resultService
}

// NewResultHandler builds a new handler.
func NewResultHandler(service resultService) *ResultHandler {
	return &ResultHandler{service: service}
}

// Get godoc
// @Summary Get the result of a group
// @Tags Results
// @Produce json
// @Param id path string true "Group ID"
// @Success 200 {object} response.Envelope
// @Router /groups/{id}/result [get]
func (h *ResultHandler) Get(c *gin.Context) {
	item, err := h.service.Get(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	if item == nil {
		response.Empty(c)
		return
	}
	response.JSON(c, http.StatusOK, item)
}

// SubmitReport godoc
// @Summary Submit the report link of a group
// @Tags Results
// @Accept json
// @Produce json
// @Param id path string true "Group ID"
// @Param payload body dto.SubmitReportRequest true "Report payload"
// @Success 200 {object} response.Envelope
// @Router /groups/{id}/result/report [put]
func (h *ResultHandler) SubmitReport(c *gin.Context) {
	var req dto.SubmitReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid report payload"))
		return
	}
	item, err := h.service.SubmitReport(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item)
}

// Grade godoc
// @Summary Grade a group
// @Tags Results
// @Accept json
// @Produce json
// @Param id path string true "Group ID"
// @Param payload body dto.GradeRequest true "Grade payload"
// @Success 200 {object} response.Envelope
// @Router /groups/{id}/result/grade [put]
func (h *ResultHandler) Grade(c *gin.Context) {
	var req dto.GradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid grade payload"))
		return
	}
	item, err := h.service.Grade(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item)
}
