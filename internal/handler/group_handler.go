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

type groupService interface {
	CreateGroup(ctx context.Context, req dto.CreateGroupRequest, actor *models.JWTClaims) (*dto.GroupWithMembers, error)
	JoinGroup(ctx context.Context, groupID, userID string, actor *models.JWTClaims) (*dto.GroupWithMembers, error)
	LeaveGroup(ctx context.Context, groupID, userID string, actor *models.JWTClaims) (*dto.LeaveGroupResponse, error)
	GetGroupForUser(ctx context.Context, userID, classID string, actor *models.JWTClaims) (*dto.GroupWithMembers, error)
	GetGroup(ctx context.Context, id string, actor *models.JWTClaims) (*dto.GroupWithMembers, error)
}

// GroupHandler exposes group membership endpoints.
type GroupHandler struct {
	service groupService
}

// NewGroupHandler builds a new handler.
func NewGroupHandler(service groupService) *GroupHandler {
	return &GroupHandler{service: service}
}

// Create godoc
// @Summary Create a group in a class
// @Tags Groups
// @Accept json
// @Produce json
// @Param classId path string true "Class ID"
// @Param payload body dto.CreateGroupRequest true "Group payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /classes/{classId}/groups [post]
func (h *GroupHandler) Create(c *gin.Context) {
	var req dto.CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid group payload"))
		return
	}
	req.ClassID = c.Param("classId")
	group, err := h.service.CreateGroup(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, group)
}

// Mine godoc
// @Summary Get the caller's group in a class
// @Description Returns null data when the user has no group in the class.
// @Tags Groups
// @Produce json
// @Param classId path string true "Class ID"
// @Param userId query string false "User ID (lecturers and admins only)"
// @Success 200 {object} response.Envelope
// @Router /classes/{classId}/my-group [get]
func (h *GroupHandler) Mine(c *gin.Context) {
	group, err := h.service.GetGroupForUser(c.Request.Context(), c.Query("userId"), c.Param("classId"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	if group == nil {
		response.Empty(c)
		return
	}
	response.JSON(c, http.StatusOK, group)
}

// Get godoc
// @Summary Get a group with its members
// @Tags Groups
// @Produce json
// @Param id path string true "Group ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /groups/{id} [get]
func (h *GroupHandler) Get(c *gin.Context) {
	group, err := h.service.GetGroup(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, group)
}

// Join godoc
// @Summary Join a group
// @Description Students join themselves; lecturers and admins may add a student by userId.
// @Tags Groups
// @Accept json
// @Produce json
// @Param id path string true "Group ID"
// @Param payload body dto.JoinGroupRequest false "Member to add"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /groups/{id}/members [post]
func (h *GroupHandler) Join(c *gin.Context) {
	var req dto.JoinGroupRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid member payload"))
			return
		}
	}
	group, err := h.service.JoinGroup(c.Request.Context(), c.Param("id"), req.UserID, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, group)
}

// Leave godoc
// @Summary Leave a group
// @Description The last member leaving disbands the group and releases its topic.
// @Tags Groups
// @Produce json
// @Param id path string true "Group ID"
// @Param userId path string true "User ID"
// @Success 200 {object} response.Envelope
// @Router /groups/{id}/members/{userId} [delete]
func (h *GroupHandler) Leave(c *gin.Context) {
	result, err := h.service.LeaveGroup(c.Request.Context(), c.Param("id"), c.Param("userId"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}
