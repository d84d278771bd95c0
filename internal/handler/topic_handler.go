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

type topicService interface {
	ListTopics(ctx context.Context, classID string, viewer *models.JWTClaims) ([]dto.TopicWithRegistration, error)
	GetTopic(ctx context.Context, id string, viewer *models.JWTClaims) (*dto.TopicWithRegistration, error)
	CreateTopic(ctx context.Context, req dto.CreateTopicRequest, actor *models.JWTClaims) (*dto.TopicWithRegistration, error)
	UpdateTopic(ctx context.Context, id string, req dto.UpdateTopicRequest, actor *models.JWTClaims) (*dto.TopicWithRegistration, error)
	DeleteTopic(ctx context.Context, id string, actor *models.JWTClaims) error
	SetApproval(ctx context.Context, id string, status models.ApprovalStatus, actor *models.JWTClaims) (*dto.TopicWithRegistration, error)
	RegisterTopic(ctx context.Context, topicID string, actor *models.JWTClaims) (*dto.RegistrationResult, error)
	CancelRegistration(ctx context.Context, groupID string, actor *models.JWTClaims) error
}

// TopicHandler exposes topic catalogue and registration endpoints.
type TopicHandler struct {
	service topicService
}

// NewTopicHandler builds a new handler.
func NewTopicHandler(service topicService) *TopicHandler {
	return &TopicHandler{service: service}
}

// List godoc
// @Summary List topics of a class with their registration state
// @Tags Topics
// @Produce json
// @Param classId path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{classId}/topics [get]
func (h *TopicHandler) List(c *gin.Context) {
	items, err := h.service.ListTopics(c.Request.Context(), c.Param("classId"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, map[string]interface{}{"count": len(items)})
}

// Create godoc
// @Summary Publish a topic in a class
// @Tags Topics
// @Accept json
// @Produce json
// @Param classId path string true "Class ID"
// @Param payload body dto.CreateTopicRequest true "Topic payload"
// @Success 201 {object} response.Envelope
// @Router /classes/{classId}/topics [post]
func (h *TopicHandler) Create(c *gin.Context) {
	var req dto.CreateTopicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid topic payload"))
		return
	}
	req.ClassID = c.Param("classId")
	topic, err := h.service.CreateTopic(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, topic)
}

// Get godoc
// @Summary Get a topic
// @Tags Topics
// @Produce json
// @Param id path string true "Topic ID"
// @Success 200 {object} response.Envelope
// @Router /topics/{id} [get]
func (h *TopicHandler) Get(c *gin.Context) {
	topic, err := h.service.GetTopic(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, topic)
}

// Update godoc
// @Summary Update a topic
// @Tags Topics
// @Accept json
// @Produce json
// @Param id path string true "Topic ID"
// @Param payload body dto.UpdateTopicRequest true "Topic payload"
// @Success 200 {object} response.Envelope
// @Router /topics/{id} [put]
func (h *TopicHandler) Update(c *gin.Context) {
	var req dto.UpdateTopicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid topic payload"))
		return
	}
	topic, err := h.service.UpdateTopic(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, topic)
}

// Delete godoc
// @Summary Delete a topic
// @Description Refused with TOPIC_REGISTERED while a group holds the topic.
// @Tags Topics
// @Param id path string true "Topic ID"
// @Success 204
// @Failure 409 {object} response.Envelope
// @Router /topics/{id} [delete]
func (h *TopicHandler) Delete(c *gin.Context) {
	if err := h.service.DeleteTopic(c.Request.Context(), c.Param("id"), claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// SetApproval godoc
// @Summary Approve or reject a topic
// @Tags Topics
// @Accept json
// @Produce json
// @Param id path string true "Topic ID"
// @Param payload body dto.SetApprovalRequest true "Approval payload"
// @Success 200 {object} response.Envelope
// @Router /topics/{id}/approval [patch]
func (h *TopicHandler) SetApproval(c *gin.Context) {
	var req dto.SetApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid approval payload"))
		return
	}
	topic, err := h.service.SetApproval(c.Request.Context(), c.Param("id"), req.Status, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, topic)
}

// Register godoc
// @Summary Register the caller's group for a topic
// @Description Creates a single-member group when the caller has none in the topic's class.
// @Tags Registrations
// @Produce json
// @Param id path string true "Topic ID"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /topics/{id}/registrations [post]
func (h *TopicHandler) Register(c *gin.Context) {
	result, err := h.service.RegisterTopic(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// CancelRegistration godoc
// @Summary Release the topic held by a group
// @Tags Registrations
// @Param id path string true "Group ID"
// @Success 204
// @Router /groups/{id}/registration [delete]
func (h *TopicHandler) CancelRegistration(c *gin.Context) {
	if err := h.service.CancelRegistration(c.Request.Context(), c.Param("id"), claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
