package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/topic-registry-api/internal/dto"
	"github.com/noah-isme/topic-registry-api/internal/middleware"
	"github.com/noah-isme/topic-registry-api/internal/models"
	appErrors "github.com/noah-isme/topic-registry-api/pkg/errors"
)

func newTestContext(method, target, body string, claims *models.JWTClaims, params ...gin.Param) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	var req *http.Request
	if body == "" {
		req, _ = http.NewRequest(method, target, nil)
	} else {
		req, _ = http.NewRequest(method, target, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	c.Request = req
	c.Params = params
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	return c, w
}

func decodeErrorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	return payload.Error.Code
}

type groupServiceMock struct {
	createReq    dto.CreateGroupRequest
	joinUserID   string
	leaveUserID  string
	mineResp     *dto.GroupWithMembers
	err          error
	createCalled bool
	joinCalled   bool
}

func (m *groupServiceMock) CreateGroup(ctx context.Context, req dto.CreateGroupRequest, actor *models.JWTClaims) (*dto.GroupWithMembers, error) {
	m.createCalled = true
	m.createReq = req
	if m.err != nil {
		return nil, m.err
	}
	return &dto.GroupWithMembers{ID: "g1", ClassID: req.ClassID}, nil
}

func (m *groupServiceMock) JoinGroup(ctx context.Context, groupID, userID string, actor *models.JWTClaims) (*dto.GroupWithMembers, error) {
	m.joinCalled = true
	m.joinUserID = userID
	if m.err != nil {
		return nil, m.err
	}
	return &dto.GroupWithMembers{ID: groupID}, nil
}

func (m *groupServiceMock) LeaveGroup(ctx context.Context, groupID, userID string, actor *models.JWTClaims) (*dto.LeaveGroupResponse, error) {
	m.leaveUserID = userID
	return &dto.LeaveGroupResponse{Disbanded: true}, m.err
}

func (m *groupServiceMock) GetGroupForUser(ctx context.Context, userID, classID string, actor *models.JWTClaims) (*dto.GroupWithMembers, error) {
	return m.mineResp, m.err
}

func (m *groupServiceMock) GetGroup(ctx context.Context, id string, actor *models.JWTClaims) (*dto.GroupWithMembers, error) {
	return nil, m.err
}

func TestGroupHandlerCreateUsesClassFromPath(t *testing.T) {
	svc := &groupServiceMock{}
	handler := NewGroupHandler(svc)
	c, w := newTestContext(http.MethodPost, "/classes/c1/groups", `{"memberIds":["s1","s2"]}`,
		&models.JWTClaims{UserID: "s1", Role: models.RoleStudent}, gin.Param{Key: "classId", Value: "c1"})

	handler.Create(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "c1", svc.createReq.ClassID)
	assert.Equal(t, []string{"s1", "s2"}, svc.createReq.MemberIDs)
}

func TestGroupHandlerCreateInvalidBody(t *testing.T) {
	svc := &groupServiceMock{}
	handler := NewGroupHandler(svc)
	c, w := newTestContext(http.MethodPost, "/classes/c1/groups", `{"memberIds":`, &models.JWTClaims{UserID: "s1", Role: models.RoleStudent})

	handler.Create(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, svc.createCalled)
	assert.Equal(t, appErrors.ErrValidation.Code, decodeErrorCode(t, w))
}

func TestGroupHandlerJoinWithoutBodyJoinsCaller(t *testing.T) {
	svc := &groupServiceMock{}
	handler := NewGroupHandler(svc)
	c, w := newTestContext(http.MethodPost, "/groups/g1/members", "", &models.JWTClaims{UserID: "s3", Role: models.RoleStudent}, gin.Param{Key: "id", Value: "g1"})

	handler.Join(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, svc.joinCalled)
	assert.Empty(t, svc.joinUserID)
}

func TestGroupHandlerJoinFull(t *testing.T) {
	handler := NewGroupHandler(&groupServiceMock{err: appErrors.ErrGroupFull})
	c, w := newTestContext(http.MethodPost, "/groups/g1/members", `{"userId":"s3"}`, &models.JWTClaims{UserID: "lec1", Role: models.RoleLecturer}, gin.Param{Key: "id", Value: "g1"})

	handler.Join(c)

	assert.Equal(t, appErrors.ErrGroupFull.Status, w.Code)
	assert.Equal(t, appErrors.ErrGroupFull.Code, decodeErrorCode(t, w))
}

func TestGroupHandlerMineReturnsNullWithoutGroup(t *testing.T) {
	handler := NewGroupHandler(&groupServiceMock{})
	c, w := newTestContext(http.MethodGet, "/classes/c1/my-group", "", &models.JWTClaims{UserID: "s1", Role: models.RoleStudent}, gin.Param{Key: "classId", Value: "c1"})

	handler.Mine(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":null}`, w.Body.String())
}

func TestGroupHandlerLeaveUsesPathUser(t *testing.T) {
	svc := &groupServiceMock{}
	handler := NewGroupHandler(svc)
	c, w := newTestContext(http.MethodDelete, "/groups/g1/members/s2", "", &models.JWTClaims{UserID: "s2", Role: models.RoleStudent},
		gin.Param{Key: "id", Value: "g1"}, gin.Param{Key: "userId", Value: "s2"})

	handler.Leave(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "s2", svc.leaveUserID)
	assert.Contains(t, w.Body.String(), `"disbanded":true`)
}

type topicServiceMock struct {
	createReq      dto.CreateTopicRequest
	approvalStatus models.ApprovalStatus
	registeredID   string
	cancelledGroup string
	err            error
	createCalled   bool
}

func (m *topicServiceMock) ListTopics(ctx context.Context, classID string, viewer *models.JWTClaims) ([]dto.TopicWithRegistration, error) {
	return []dto.TopicWithRegistration{{}, {}}, m.err
}

func (m *topicServiceMock) GetTopic(ctx context.Context, id string, viewer *models.JWTClaims) (*dto.TopicWithRegistration, error) {
	return &dto.TopicWithRegistration{}, m.err
}

func (m *topicServiceMock) CreateTopic(ctx context.Context, req dto.CreateTopicRequest, actor *models.JWTClaims) (*dto.TopicWithRegistration, error) {
	m.createCalled = true
	m.createReq = req
	return &dto.TopicWithRegistration{}, m.err
}

func (m *topicServiceMock) UpdateTopic(ctx context.Context, id string, req dto.UpdateTopicRequest, actor *models.JWTClaims) (*dto.TopicWithRegistration, error) {
	return &dto.TopicWithRegistration{}, m.err
}

func (m *topicServiceMock) DeleteTopic(ctx context.Context, id string, actor *models.JWTClaims) error {
	return m.err
}

func (m *topicServiceMock) SetApproval(ctx context.Context, id string, status models.ApprovalStatus, actor *models.JWTClaims) (*dto.TopicWithRegistration, error) {
	m.approvalStatus = status
	return &dto.TopicWithRegistration{}, m.err
}

func (m *topicServiceMock) RegisterTopic(ctx context.Context, topicID string, actor *models.JWTClaims) (*dto.RegistrationResult, error) {
	m.registeredID = topicID
	if m.err != nil {
		return nil, m.err
	}
	return &dto.RegistrationResult{GroupID: "g-new", GroupCreated: true}, nil
}

func (m *topicServiceMock) CancelRegistration(ctx context.Context, groupID string, actor *models.JWTClaims) error {
	m.cancelledGroup = groupID
	return m.err
}

func TestTopicHandlerListIncludesCount(t *testing.T) {
	handler := NewTopicHandler(&topicServiceMock{})
	c, w := newTestContext(http.MethodGet, "/classes/c1/topics", "", &models.JWTClaims{UserID: "s1", Role: models.RoleStudent}, gin.Param{Key: "classId", Value: "c1"})

	handler.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":2`)
}

func TestTopicHandlerCreate(t *testing.T) {
	svc := &topicServiceMock{}
	handler := NewTopicHandler(svc)
	c, w := newTestContext(http.MethodPost, "/classes/c1/topics", `{"name":"Compilers","maxMembers":3}`,
		&models.JWTClaims{UserID: "lec1", Role: models.RoleLecturer}, gin.Param{Key: "classId", Value: "c1"})

	handler.Create(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "c1", svc.createReq.ClassID)
	assert.Equal(t, 3, svc.createReq.MaxMembers)
}

func TestTopicHandlerDeleteHeldTopic(t *testing.T) {
	handler := NewTopicHandler(&topicServiceMock{err: appErrors.ErrTopicRegistered})
	c, w := newTestContext(http.MethodDelete, "/topics/t1", "", &models.JWTClaims{UserID: "lec1", Role: models.RoleLecturer}, gin.Param{Key: "id", Value: "t1"})

	handler.Delete(c)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, appErrors.ErrTopicRegistered.Code, decodeErrorCode(t, w))
}

func TestTopicHandlerSetApproval(t *testing.T) {
	svc := &topicServiceMock{}
	handler := NewTopicHandler(svc)
	c, w := newTestContext(http.MethodPatch, "/topics/t1/approval", `{"status":"APPROVED"}`,
		&models.JWTClaims{UserID: "lec1", Role: models.RoleLecturer}, gin.Param{Key: "id", Value: "t1"})

	handler.SetApproval(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.ApprovalApproved, svc.approvalStatus)
}

func TestTopicHandlerRegister(t *testing.T) {
	svc := &topicServiceMock{}
	handler := NewTopicHandler(svc)
	c, w := newTestContext(http.MethodPost, "/topics/t1/registrations", "", &models.JWTClaims{UserID: "s1", Role: models.RoleStudent}, gin.Param{Key: "id", Value: "t1"})

	handler.Register(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "t1", svc.registeredID)
	assert.Contains(t, w.Body.String(), `"groupCreated":true`)
}

func TestTopicHandlerRegisterTaken(t *testing.T) {
	handler := NewTopicHandler(&topicServiceMock{err: appErrors.ErrAlreadyTaken})
	c, w := newTestContext(http.MethodPost, "/topics/t1/registrations", "", &models.JWTClaims{UserID: "s1", Role: models.RoleStudent}, gin.Param{Key: "id", Value: "t1"})

	handler.Register(c)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, appErrors.ErrAlreadyTaken.Code, decodeErrorCode(t, w))
}

func TestTopicHandlerCancelRegistration(t *testing.T) {
	svc := &topicServiceMock{}
	handler := NewTopicHandler(svc)
	c, w := newTestContext(http.MethodDelete, "/groups/g1/registration", "", &models.JWTClaims{UserID: "s1", Role: models.RoleStudent}, gin.Param{Key: "id", Value: "g1"})

	handler.CancelRegistration(c)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "g1", svc.cancelledGroup)
}

type swapServiceMock struct {
	req           dto.CreateSwapRequest
	approvedID    string
	err           error
	requestCalled bool
}

func (m *swapServiceMock) RequestSwap(ctx context.Context, req dto.CreateSwapRequest, actor *models.JWTClaims) (*dto.SwapRequestItem, error) {
	m.requestCalled = true
	m.req = req
	if m.err != nil {
		return nil, m.err
	}
	return &dto.SwapRequestItem{ID: "sw1", Status: models.SwapPending}, nil
}

func (m *swapServiceMock) ApproveSwap(ctx context.Context, id string, actor *models.JWTClaims) (*dto.SwapRequestItem, error) {
	m.approvedID = id
	if m.err != nil {
		return nil, m.err
	}
	return &dto.SwapRequestItem{ID: id, Status: models.SwapApproved}, nil
}

func (m *swapServiceMock) RejectSwap(ctx context.Context, id string, actor *models.JWTClaims) (*dto.SwapRequestItem, error) {
	return &dto.SwapRequestItem{ID: id, Status: models.SwapRejected}, m.err
}

func (m *swapServiceMock) CancelSwap(ctx context.Context, id string, actor *models.JWTClaims) error {
	return m.err
}

func (m *swapServiceMock) ListSwapRequests(ctx context.Context, groupID string, actor *models.JWTClaims) ([]dto.SwapRequestItem, error) {
	return []dto.SwapRequestItem{{ID: "sw1", Direction: dto.SwapIncoming}}, m.err
}

func (m *swapServiceMock) MarkRead(ctx context.Context, id string, actor *models.JWTClaims) error {
	return m.err
}

func TestSwapHandlerCreate(t *testing.T) {
	svc := &swapServiceMock{}
	handler := NewSwapHandler(svc)
	c, w := newTestContext(http.MethodPost, "/swap-requests", `{"requestingGroupId":"g1","requestedGroupId":"g2"}`, &models.JWTClaims{UserID: "s1", Role: models.RoleStudent})

	handler.Create(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "g1", svc.req.RequestingGroupID)
	assert.Equal(t, "g2", svc.req.RequestedGroupID)
}

func TestSwapHandlerCreateDuplicate(t *testing.T) {
	handler := NewSwapHandler(&swapServiceMock{err: appErrors.ErrDuplicateSwapRequest})
	c, w := newTestContext(http.MethodPost, "/swap-requests", `{"requestingGroupId":"g1","requestedGroupId":"g2"}`, &models.JWTClaims{UserID: "s1", Role: models.RoleStudent})

	handler.Create(c)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, appErrors.ErrDuplicateSwapRequest.Code, decodeErrorCode(t, w))
}

func TestSwapHandlerApproveStale(t *testing.T) {
	svc := &swapServiceMock{err: appErrors.ErrSwapStale}
	handler := NewSwapHandler(svc)
	c, w := newTestContext(http.MethodPost, "/swap-requests/sw1/approve", "", &models.JWTClaims{UserID: "s3", Role: models.RoleStudent}, gin.Param{Key: "id", Value: "sw1"})

	handler.Approve(c)

	assert.Equal(t, "sw1", svc.approvedID)
	assert.Equal(t, appErrors.ErrSwapStale.Status, w.Code)
	assert.Equal(t, appErrors.ErrSwapStale.Code, decodeErrorCode(t, w))
}

func TestSwapHandlerCancelNotPending(t *testing.T) {
	handler := NewSwapHandler(&swapServiceMock{err: appErrors.ErrNotPending})
	c, w := newTestContext(http.MethodDelete, "/swap-requests/sw1", "", &models.JWTClaims{UserID: "s1", Role: models.RoleStudent}, gin.Param{Key: "id", Value: "sw1"})

	handler.Cancel(c)

	assert.Equal(t, appErrors.ErrNotPending.Status, w.Code)
}

func TestSwapHandlerList(t *testing.T) {
	handler := NewSwapHandler(&swapServiceMock{})
	c, w := newTestContext(http.MethodGet, "/groups/g2/swap-requests", "", &models.JWTClaims{UserID: "s3", Role: models.RoleStudent}, gin.Param{Key: "id", Value: "g2"})

	handler.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"direction":"INCOMING"`)
}
