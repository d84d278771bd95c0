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

type swapService interface {
	RequestSwap(ctx context.Context, req dto.CreateSwapRequest, actor *models.JWTClaims) (*dto.SwapRequestItem, error)
	ApproveSwap(ctx context.Context, id string, actor *models.JWTClaims) (*dto.SwapRequestItem, error)
	RejectSwap(ctx context.Context, id string, actor *models.JWTClaims) (*dto.SwapRequestItem, error)
	CancelSwap(ctx context.Context, id string, actor *models.JWTClaims) error
	ListSwapRequests(ctx context.Context, groupID string, actor *models.JWTClaims) ([]dto.SwapRequestItem, error)
	MarkRead(ctx context.Context, id string, actor *models.JWTClaims) error
}

// SwapHandler exposes topic swap endpoints.
type SwapHandler struct {
	service swapService
}

// NewSwapHandler builds a new handler.
func NewSwapHandler(service swapService) *SwapHandler {
	return &SwapHandler{service: service}
}

// Create godoc
// @Summary Request a topic swap with another group
// @Tags Swaps
// @Accept json
// @Produce json
// @Param payload body dto.CreateSwapRequest true "Swap payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /swap-requests [post]
func (h *SwapHandler) Create(c *gin.Context) {
	var req dto.CreateSwapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid swap payload"))
		return
	}
	item, err := h.service.RequestSwap(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, item)
}

// List godoc
// @Summary List swap requests involving a group
// @Tags Swaps
// @Produce json
// @Param id path string true "Group ID"
// @Success 200 {object} response.Envelope
// @Router /groups/{id}/swap-requests [get]
func (h *SwapHandler) List(c *gin.Context) {
	items, err := h.service.ListSwapRequests(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items)
}

// Approve godoc
// @Summary Approve a swap request and exchange topics
// @Tags Swaps
// @Produce json
// @Param id path string true "Swap request ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /swap-requests/{id}/approve [post]
func (h *SwapHandler) Approve(c *gin.Context) {
	item, err := h.service.ApproveSwap(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item)
}

// Reject godoc
// @Summary Reject a swap request
// @Tags Swaps
// @Produce json
// @Param id path string true "Swap request ID"
// @Success 200 {object} response.Envelope
// @Router /swap-requests/{id}/reject [post]
func (h *SwapHandler) Reject(c *gin.Context) {
	item, err := h.service.RejectSwap(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item)
}

// Cancel godoc
// @Summary Withdraw a pending swap request
// @Tags Swaps
// @Param id path string true "Swap request ID"
// @Success 204
// @Failure 409 {object} response.Envelope
// @Router /swap-requests/{id} [delete]
func (h *SwapHandler) Cancel(c *gin.Context) {
	if err := h.service.CancelSwap(c.Request.Context(), c.Param("id"), claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// MarkRead godoc
// @Summary Mark an incoming swap request as read
// @Tags Swaps
// @Param id path string true "Swap request ID"
// @Success 204
// @Router /swap-requests/{id}/read [patch]
func (h *SwapHandler) MarkRead(c *gin.Context) {
	if err := h.service.MarkRead(c.Request.Context(), c.Param("id"), claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
