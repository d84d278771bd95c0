package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/topic-registry-api/internal/dto"
	"github.com/noah-isme/topic-registry-api/internal/models"
	"github.com/noah-isme/topic-registry-api/internal/repository"
	appErrors "github.com/noah-isme/topic-registry-api/pkg/errors"
	"github.com/noah-isme/topic-registry-api/pkg/realtime"
)

type groupStore interface {
	groupReader
	FindByUserAndClass(ctx context.Context, userID, classID string) (*models.Group, error)
	Create(ctx context.Context, group *models.Group, memberIDs []string) error
	AddMember(ctx context.Context, groupID, userID string) error
	RemoveMember(ctx context.Context, groupID, userID string) (repository.LeaveResult, error)
}

type userLookup interface {
	FindByIDs(ctx context.Context, ids []string) ([]models.User, error)
}

// GroupService owns creation, membership and disbandment of student groups.
type GroupService struct {
	workflowBase
	groups    groupStore
	classes   classReader
	users     userLookup
	validator *validator.Validate
}

// NewGroupService wires the group workflow.
func NewGroupService(
	groups groupStore,
	classes classReader,
	users userLookup,
	notifications notifier,
	publisher changePublisher,
	metrics workflowRecorder,
	validate *validator.Validate,
	logger *zap.Logger,
) *GroupService {
	if validate == nil {
		validate = validator.New()
	}
	return &GroupService{
		workflowBase: newWorkflowBase(notifications, publisher, metrics, logger),
		groups:       groups,
		classes:      classes,
		users:        users,
		validator:    validate,
	}
}

// CreateGroup forms a group with its initial members in one transaction.
func (s *GroupService) CreateGroup(ctx context.Context, req dto.CreateGroupRequest, actor *models.JWTClaims) (result *dto.GroupWithMembers, err error) {
	defer func() { s.record(opGroupCreate, err) }()

	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid group payload")
	}
	members := uniqueIDs(req.MemberIDs)
	if len(members) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "memberIds must contain at least one user")
	}
	if req.Name != nil {
		trimmed := strings.TrimSpace(*req.Name)
		if trimmed == "" {
			req.Name = nil
		} else {
			req.Name = &trimmed
		}
	}

	class, err := loadClass(ctx, s.classes, req.ClassID)
	if err != nil {
		return nil, err
	}
	switch {
	case actor.IsStudent():
		if !containsID(members, actor.UserID) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "students may only create groups they belong to")
		}
	case !ownsClass(actor, class):
		return nil, appErrors.ErrForbidden
	}

	if err := s.ensureStudents(ctx, members); err != nil {
		return nil, err
	}

	group := &models.Group{ClassID: class.ID, Name: req.Name}
	if err := s.groups.Create(ctx, group, members); err != nil {
		return nil, mapStoreError(err, "class not found", "create group")
	}

	view, err := s.view(ctx, group)
	if err != nil {
		return nil, err
	}

	s.logger.Info("group created", zap.String("group_id", group.ID), zap.String("class_id", class.ID), zap.Int("members", len(members)))
	s.notify(ctx, without(members, actor.UserID), models.NotificationGroupJoined, fmt.Sprintf("You were added to %s in %s", groupLabel(group), class.Name))
	s.publish(ctx, realtime.TableGroups, realtime.OpInsert, group.ID, map[string]string{"class_id": group.ClassID}, view)
	return view, nil
}

// JoinGroup adds userID to the group. Joining a group already at its topic's capacity
// fails with GROUP_FULL and leaves membership unchanged.
func (s *GroupService) JoinGroup(ctx context.Context, groupID, userID string, actor *models.JWTClaims) (result *dto.GroupWithMembers, err error) {
	defer func() { s.record(opGroupJoin, err) }()

	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if userID == "" {
		userID = actor.UserID
	}

	group, err := loadGroup(ctx, s.groups, groupID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeMembershipChange(ctx, group, userID, actor); err != nil {
		return nil, err
	}
	if err := s.ensureStudents(ctx, []string{userID}); err != nil {
		return nil, err
	}

	existing, err := s.groups.ListMembers(ctx, group.ID)
	if err != nil {
		return nil, mapStoreError(err, "group not found", "load group members")
	}

	if err := s.groups.AddMember(ctx, group.ID, userID); err != nil {
		return nil, mapStoreError(err, "group not found", "join group")
	}

	view, err := s.view(ctx, group)
	if err != nil {
		return nil, err
	}

	joinedName := userID
	for _, m := range view.Members {
		if m.UserID == userID {
			joinedName = m.FullName
		}
	}
	s.notify(ctx, without(memberIDs(existing), userID), models.NotificationGroupJoined, fmt.Sprintf("%s joined %s", joinedName, groupLabel(group)))
	s.publish(ctx, realtime.TableGroups, realtime.OpUpdate, group.ID, map[string]string{"class_id": group.ClassID}, view)
	return view, nil
}

// LeaveGroup removes userID from the group. The last member leaving disbands the
// group together with its registration.
func (s *GroupService) LeaveGroup(ctx context.Context, groupID, userID string, actor *models.JWTClaims) (result *dto.LeaveGroupResponse, err error) {
	defer func() { s.record(opGroupLeave, err) }()

	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if userID == "" {
		userID = actor.UserID
	}

	group, err := loadGroup(ctx, s.groups, groupID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeMembershipChange(ctx, group, userID, actor); err != nil {
		return nil, err
	}

	outcome, err := s.groups.RemoveMember(ctx, group.ID, userID)
	if err != nil {
		return nil, mapStoreError(err, "group not found", "leave group")
	}

	keys := map[string]string{"class_id": group.ClassID}
	if outcome.Disbanded {
		s.logger.Info("group disbanded", zap.String("group_id", group.ID), zap.Int("invalidated_swaps", len(outcome.Invalidated)))
		s.publish(ctx, realtime.TableGroups, realtime.OpDelete, group.ID, keys, nil)
		s.notifyInvalidatedSwaps(ctx, s.groups, outcome.Invalidated, group.ID)
		return &dto.LeaveGroupResponse{Disbanded: true}, nil
	}

	remaining, err := s.groups.ListMembers(ctx, group.ID)
	if err != nil {
		s.logger.Warn("failed to load remaining members", zap.String("group_id", group.ID), zap.Error(err))
	} else {
		s.notify(ctx, memberIDs(remaining), models.NotificationGroupLeft, fmt.Sprintf("A member left %s", groupLabel(group)))
	}
	s.publish(ctx, realtime.TableGroups, realtime.OpUpdate, group.ID, keys, nil)
	return &dto.LeaveGroupResponse{Disbanded: false}, nil
}

// GetGroupForUser returns the user's group in a class, or nil when there is none.
func (s *GroupService) GetGroupForUser(ctx context.Context, userID, classID string, actor *models.JWTClaims) (*dto.GroupWithMembers, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if userID == "" {
		userID = actor.UserID
	}
	if actor.IsStudent() && userID != actor.UserID {
		return nil, appErrors.ErrForbidden
	}
	if classID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "classId is required")
	}

	group, err := s.groups.FindByUserAndClass(ctx, userID, classID)
	if err != nil {
		return nil, mapStoreError(err, "group not found", "load group")
	}
	if group == nil {
		return nil, nil
	}
	return s.view(ctx, group)
}

// GetGroup returns a group with its members.
func (s *GroupService) GetGroup(ctx context.Context, id string, actor *models.JWTClaims) (*dto.GroupWithMembers, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	group, err := loadGroup(ctx, s.groups, id)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, group)
}

func (s *GroupService) view(ctx context.Context, group *models.Group) (*dto.GroupWithMembers, error) {
	members, err := s.groups.ListMembers(ctx, group.ID)
	if err != nil {
		return nil, mapStoreError(err, "group not found", "load group members")
	}
	view := dto.NewGroupWithMembers(*group, members)
	return &view, nil
}

// authorizeMembershipChange lets students act only on themselves; lecturers act on
// groups of their own classes; admins act anywhere.
func (s *GroupService) authorizeMembershipChange(ctx context.Context, group *models.Group, userID string, actor *models.JWTClaims) error {
	if actor.IsStudent() {
		if userID != actor.UserID {
			return appErrors.Clone(appErrors.ErrForbidden, "students may only change their own membership")
		}
		return nil
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

func (s *GroupService) ensureStudents(ctx context.Context, ids []string) error {
	if s.users == nil {
		return nil
	}
	users, err := s.users.FindByIDs(ctx, ids)
	if err != nil {
		return mapStoreError(err, "user not found", "load users")
	}
	if len(users) != len(ids) {
		return appErrors.Clone(appErrors.ErrNotFound, "one or more members do not exist")
	}
	for _, u := range users {
		if u.Role != models.RoleStudent {
			return appErrors.Clone(appErrors.ErrValidation, "only students can be group members")
		}
	}
	return nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func containsID(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
