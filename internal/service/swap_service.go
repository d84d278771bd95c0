package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/topic-registry-api/internal/dto"
	"github.com/noah-isme/topic-registry-api/internal/models"
	"github.com/noah-isme/topic-registry-api/internal/repository"
	appErrors "github.com/noah-isme/topic-registry-api/pkg/errors"
	"github.com/noah-isme/topic-registry-api/pkg/realtime"
)

type swapStore interface {
	Create(ctx context.Context, req *models.SwapRequest) error
	FindByID(ctx context.Context, id string) (*models.SwapRequest, error)
	FindDetailByID(ctx context.Context, id string) (*models.SwapRequestDetail, error)
	ListByGroup(ctx context.Context, groupID string) ([]models.SwapRequestDetail, error)
	Approve(ctx context.Context, id string) (repository.ApproveResult, error)
	Reject(ctx context.Context, id string) (*models.SwapRequest, error)
	DeletePending(ctx context.Context, id string) error
	MarkRead(ctx context.Context, id string) error
}

// SwapService drives topic swap requests between two groups of the same class.
type SwapService struct {
	workflowBase
	swaps     swapStore
	groups    groupReader
	classes   classReader
	validator *validator.Validate
}

// NewSwapService wires the swap workflow.
func NewSwapService(
	swaps swapStore,
	groups groupReader,
	classes classReader,
	notifications notifier,
	publisher changePublisher,
	metrics workflowRecorder,
	validate *validator.Validate,
	logger *zap.Logger,
) *SwapService {
	if validate == nil {
		validate = validator.New()
	}
	return &SwapService{
		workflowBase: newWorkflowBase(notifications, publisher, metrics, logger),
		swaps:        swaps,
		groups:       groups,
		classes:      classes,
		validator:    validate,
	}
}

// RequestSwap asks the requested group to trade its topic for the requesting group's.
func (s *SwapService) RequestSwap(ctx context.Context, req dto.CreateSwapRequest, actor *models.JWTClaims) (result *dto.SwapRequestItem, err error) {
	defer func() { s.record(opSwapRequest, err) }()

	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid swap request payload")
	}

	requesting, err := loadGroup(ctx, s.groups, req.RequestingGroupID)
	if err != nil {
		return nil, err
	}
	if err := requireMember(ctx, s.groups, requesting.ID, actor); err != nil {
		return nil, err
	}
	requested, err := loadGroup(ctx, s.groups, req.RequestedGroupID)
	if err != nil {
		return nil, err
	}

	if requesting.ClassID != requested.ClassID {
		return nil, appErrors.ErrClassMismatch
	}
	if !requesting.HasTopic() {
		return nil, appErrors.Clone(appErrors.ErrNoTopicHeld, "your group has not registered a topic")
	}
	if !requested.HasTopic() {
		return nil, appErrors.Clone(appErrors.ErrNoTopicHeld, "the requested group has not registered a topic")
	}
	if *requesting.TopicID == *requested.TopicID {
		return nil, appErrors.ErrSameTopic
	}

	swap := &models.SwapRequest{
		TopicID:           *requested.TopicID,
		RequestingGroupID: requesting.ID,
		RequestedGroupID:  requested.ID,
	}
	if err := s.swaps.Create(ctx, swap); err != nil {
		return nil, mapStoreError(err, "group not found", "create swap request")
	}

	item, err := s.detail(ctx, swap.ID, requesting.ID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("swap requested",
		zap.String("swap_id", swap.ID),
		zap.String("requesting_group_id", requesting.ID),
		zap.String("requested_group_id", requested.ID),
	)
	s.notifyGroup(ctx, requested.ID, models.NotificationSwapRequested,
		fmt.Sprintf("%s asked to swap %s for topic %q", groupLabel(requesting), topicLabel(item.RequestingTopicName), item.TopicName))
	s.publish(ctx, realtime.TableSwapRequests, realtime.OpInsert, swap.ID, swapKeys(*swap), item)
	return item, nil
}

// ApproveSwap exchanges the two groups' topics. A request whose pairing changed since
// it was raised is rejected and SWAP_STALE returned.
func (s *SwapService) ApproveSwap(ctx context.Context, id string, actor *models.JWTClaims) (result *dto.SwapRequestItem, err error) {
	defer func() { s.record(opSwapApprove, err) }()

	swap, err := s.resolvableSwap(ctx, id, actor)
	if err != nil {
		return nil, err
	}

	approved, err := s.swaps.Approve(ctx, swap.ID)
	if err != nil {
		if errors.Is(err, repository.ErrSwapStale) {
			s.logger.Info("stale swap rejected on approval", zap.String("swap_id", swap.ID))
			s.publish(ctx, realtime.TableSwapRequests, realtime.OpUpdate, swap.ID, swapKeys(*swap), approved.Request)
			s.notifyGroup(ctx, swap.RequestingGroupID, models.NotificationSwapRejected,
				"Your topic swap request was withdrawn because the topics changed")
		}
		return nil, mapStoreError(err, "swap request not found", "approve swap request")
	}

	item, err := s.detail(ctx, swap.ID, swap.RequestedGroupID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("swap approved",
		zap.String("swap_id", swap.ID),
		zap.Int("invalidated_swaps", len(approved.Invalidated)),
	)
	message := fmt.Sprintf("Topic swap approved: %s now holds %q", groupLabel(&approved.Requesting), item.TopicName)
	s.notifyGroup(ctx, approved.Requesting.ID, models.NotificationSwapApproved, message)
	s.notifyGroup(ctx, approved.Requested.ID, models.NotificationSwapApproved, message)

	s.publish(ctx, realtime.TableSwapRequests, realtime.OpUpdate, swap.ID, swapKeys(*swap), item)
	classKeys := map[string]string{"class_id": approved.Requesting.ClassID}
	s.publish(ctx, realtime.TableGroups, realtime.OpUpdate, approved.Requesting.ID, classKeys, approved.Requesting)
	s.publish(ctx, realtime.TableGroups, realtime.OpUpdate, approved.Requested.ID, classKeys, approved.Requested)
	s.notifyInvalidatedSwaps(ctx, s.groups, approved.Invalidated, "")
	return item, nil
}

// RejectSwap resolves a pending request without touching registrations.
func (s *SwapService) RejectSwap(ctx context.Context, id string, actor *models.JWTClaims) (result *dto.SwapRequestItem, err error) {
	defer func() { s.record(opSwapReject, err) }()

	swap, err := s.resolvableSwap(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	rejected, err := s.swaps.Reject(ctx, swap.ID)
	if err != nil {
		return nil, mapStoreError(err, "swap request not found", "reject swap request")
	}

	item, err := s.detail(ctx, rejected.ID, rejected.RequestedGroupID)
	if err != nil {
		return nil, err
	}
	message := fmt.Sprintf("Topic swap request for %q was rejected", item.TopicName)
	s.notifyGroup(ctx, rejected.RequestingGroupID, models.NotificationSwapRejected, message)
	s.notifyGroup(ctx, rejected.RequestedGroupID, models.NotificationSwapRejected, message)
	s.publish(ctx, realtime.TableSwapRequests, realtime.OpUpdate, rejected.ID, swapKeys(*rejected), item)
	return item, nil
}

// CancelSwap withdraws a pending request raised by the actor's group.
func (s *SwapService) CancelSwap(ctx context.Context, id string, actor *models.JWTClaims) (err error) {
	defer func() { s.record(opSwapCancel, err) }()

	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	swap, err := s.swaps.FindByID(ctx, id)
	if err != nil {
		return mapStoreError(err, "swap request not found", "load swap request")
	}
	if !actor.IsAdmin() {
		if err := requireMember(ctx, s.groups, swap.RequestingGroupID, actor); err != nil {
			return err
		}
	}
	if !swap.IsPending() {
		return appErrors.ErrNotPending
	}

	if err := s.swaps.DeletePending(ctx, swap.ID); err != nil {
		return mapStoreError(err, "swap request not found", "cancel swap request")
	}
	s.publish(ctx, realtime.TableSwapRequests, realtime.OpDelete, swap.ID, swapKeys(*swap), nil)
	return nil
}

// ListSwapRequests returns every request where the group is either party.
func (s *SwapService) ListSwapRequests(ctx context.Context, groupID string, actor *models.JWTClaims) ([]dto.SwapRequestItem, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	group, err := loadGroup(ctx, s.groups, groupID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeGroupView(ctx, group, actor); err != nil {
		return nil, err
	}

	details, err := s.swaps.ListByGroup(ctx, group.ID)
	if err != nil {
		return nil, mapStoreError(err, "group not found", "list swap requests")
	}
	items := make([]dto.SwapRequestItem, 0, len(details))
	for _, d := range details {
		items = append(items, dto.NewSwapRequestItem(d, group.ID))
	}
	return items, nil
}

// MarkRead flags a request as seen. Only the requested group reads incoming requests.
func (s *SwapService) MarkRead(ctx context.Context, id string, actor *models.JWTClaims) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	swap, err := s.swaps.FindByID(ctx, id)
	if err != nil {
		return mapStoreError(err, "swap request not found", "load swap request")
	}
	if !actor.IsAdmin() {
		if err := requireMember(ctx, s.groups, swap.RequestedGroupID, actor); err != nil {
			return err
		}
	}
	if err := s.swaps.MarkRead(ctx, swap.ID); err != nil {
		return mapStoreError(err, "swap request not found", "mark swap request read")
	}
	return nil
}

// resolvableSwap loads a request the actor may approve or reject: a member of the
// requested group, the class lecturer, or an admin.
func (s *SwapService) resolvableSwap(ctx context.Context, id string, actor *models.JWTClaims) (*models.SwapRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	swap, err := s.swaps.FindByID(ctx, id)
	if err != nil {
		return nil, mapStoreError(err, "swap request not found", "load swap request")
	}
	if !swap.IsPending() {
		return nil, appErrors.ErrNotPending
	}

	if actor.IsStudent() {
		if err := requireMember(ctx, s.groups, swap.RequestedGroupID, actor); err != nil {
			return nil, err
		}
		return swap, nil
	}
	group, err := loadGroup(ctx, s.groups, swap.RequestedGroupID)
	if err != nil {
		return nil, err
	}
	class, err := loadClass(ctx, s.classes, group.ClassID)
	if err != nil {
		return nil, err
	}
	if !ownsClass(actor, class) {
		return nil, appErrors.ErrForbidden
	}
	return swap, nil
}

func (s *SwapService) authorizeGroupView(ctx context.Context, group *models.Group, actor *models.JWTClaims) error {
	if actor.IsStudent() {
		return requireMember(ctx, s.groups, group.ID, actor)
	}
	class, err := loadClass(ctx, s.classes, group.ClassID)
	if err != nil {
		return err
	}
	if !ownsClass(actor, class) {
		return appErrors.ErrForbidden
	}
	return nil
}

func (s *SwapService) detail(ctx context.Context, id, viewerGroupID string) (*dto.SwapRequestItem, error) {
	detail, err := s.swaps.FindDetailByID(ctx, id)
	if err != nil {
		return nil, mapStoreError(err, "swap request not found", "load swap request")
	}
	item := dto.NewSwapRequestItem(*detail, viewerGroupID)
	return &item, nil
}

func (s *SwapService) notifyGroup(ctx context.Context, groupID string, kind models.NotificationKind, message string) {
	members, err := s.groups.ListMembers(ctx, groupID)
	if err != nil {
		s.logger.Warn("failed to load members for notification", zap.String("group_id", groupID), zap.Error(err))
		return
	}
	s.notify(ctx, memberIDs(members), kind, message)
}

func topicLabel(name *string) string {
	if name == nil || *name == "" {
		return "their topic"
	}
	return fmt.Sprintf("%q", *name)
}
