package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/topic-registry-api/internal/dto"
	"github.com/noah-isme/topic-registry-api/internal/models"
	"github.com/noah-isme/topic-registry-api/internal/repository"
	appErrors "github.com/noah-isme/topic-registry-api/pkg/errors"
	"github.com/noah-isme/topic-registry-api/pkg/realtime"
)

type topicStore interface {
	FindByID(ctx context.Context, id string) (*models.Topic, error)
	ListByClass(ctx context.Context, classID string) ([]models.TopicRegistrationRow, error)
	FindRegistrationByID(ctx context.Context, id string) (*models.TopicRegistrationRow, error)
	Create(ctx context.Context, topic *models.Topic) error
	Update(ctx context.Context, topic *models.Topic) error
	Delete(ctx context.Context, id string) error
	SetApproval(ctx context.Context, id string, status models.ApprovalStatus) (*models.Topic, error)
}

type registrationStore interface {
	groupReader
	FindByUserAndClass(ctx context.Context, userID, classID string) (*models.Group, error)
	ListMembersByGroupIDs(ctx context.Context, groupIDs []string) ([]models.GroupMember, error)
	RegisterTopic(ctx context.Context, params repository.RegisterParams) (repository.RegisterResult, error)
	ClearTopic(ctx context.Context, groupID string, now time.Time) (repository.CancelResult, error)
}

// TopicConfig carries the registration rules.
type TopicConfig struct {
	AdminTopicsAutoApproved bool
	RequireApprovedTopics   bool
}

// TopicService owns topic lifecycle and the group to topic registration mapping.
type TopicService struct {
	workflowBase
	topics    topicStore
	groups    registrationStore
	classes   classReader
	validator *validator.Validate
	config    TopicConfig
}

// NewTopicService wires the topic registry.
func NewTopicService(
	topics topicStore,
	groups registrationStore,
	classes classReader,
	notifications notifier,
	publisher changePublisher,
	metrics workflowRecorder,
	validate *validator.Validate,
	logger *zap.Logger,
	config TopicConfig,
) *TopicService {
	if validate == nil {
		validate = validator.New()
	}
	return &TopicService{
		workflowBase: newWorkflowBase(notifications, publisher, metrics, logger),
		topics:       topics,
		groups:       groups,
		classes:      classes,
		validator:    validate,
		config:       config,
	}
}

// ListTopics returns the topics of a class annotated with their holder relative to the viewer.
func (s *TopicService) ListTopics(ctx context.Context, classID string, viewer *models.JWTClaims) ([]dto.TopicWithRegistration, error) {
	if viewer == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if _, err := loadClass(ctx, s.classes, classID); err != nil {
		return nil, err
	}

	rows, err := s.topics.ListByClass(ctx, classID)
	if err != nil {
		return nil, mapStoreError(err, "class not found", "list topics")
	}

	groupIDs := make([]string, 0, len(rows))
	for _, row := range rows {
		if row.GroupID != nil {
			groupIDs = append(groupIDs, *row.GroupID)
		}
	}
	members, err := s.groups.ListMembersByGroupIDs(ctx, groupIDs)
	if err != nil {
		return nil, mapStoreError(err, "group not found", "load registered groups")
	}
	byGroup := make(map[string][]models.GroupMember, len(groupIDs))
	for _, m := range members {
		byGroup[m.GroupID] = append(byGroup[m.GroupID], m)
	}

	now := s.now()
	items := make([]dto.TopicWithRegistration, 0, len(rows))
	for _, row := range rows {
		var holders []models.GroupMember
		if row.GroupID != nil {
			holders = byGroup[*row.GroupID]
		}
		items = append(items, dto.NewTopicWithRegistration(row, holders, viewer.UserID, now))
	}
	return items, nil
}

// GetTopic returns one topic annotated for the viewer.
func (s *TopicService) GetTopic(ctx context.Context, id string, viewer *models.JWTClaims) (*dto.TopicWithRegistration, error) {
	if viewer == nil {
		return nil, appErrors.ErrUnauthorized
	}
	return s.registrationView(ctx, id, viewer.UserID)
}

// CreateTopic publishes a topic in a class.
func (s *TopicService) CreateTopic(ctx context.Context, req dto.CreateTopicRequest, actor *models.JWTClaims) (result *dto.TopicWithRegistration, err error) {
	defer func() { s.record(opTopicCreate, err) }()

	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.IsStudent() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only lecturers and admins can create topics")
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid topic payload")
	}
	if err := validateDeadlines(req.RegistrationDeadline, req.SubmissionDeadline, req.ApprovalDeadline); err != nil {
		return nil, err
	}

	class, err := loadClass(ctx, s.classes, req.ClassID)
	if err != nil {
		return nil, err
	}

	topic := &models.Topic{
		ClassID:              class.ID,
		Name:                 req.Name,
		Description:          strings.TrimSpace(req.Description),
		MaxMembers:           req.MaxMembers,
		RegistrationDeadline: req.RegistrationDeadline,
		SubmissionDeadline:   req.SubmissionDeadline,
		ApprovalDeadline:     req.ApprovalDeadline,
		ApprovalStatus:       models.ApprovalPending,
	}

	switch {
	case actor.IsAdmin():
		if !class.IsFinalProject {
			return nil, appErrors.ErrFinalProjectOnly
		}
		topic.LecturerID = class.LecturerID
		if req.LecturerID != nil && *req.LecturerID != "" {
			topic.LecturerID = *req.LecturerID
		}
		if s.config.AdminTopicsAutoApproved {
			topic.ApprovalStatus = models.ApprovalApproved
		}
	case actor.IsLecturer():
		if class.LecturerID != actor.UserID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "lecturers may only create topics in their own classes")
		}
		if req.LecturerID != nil && *req.LecturerID != "" && *req.LecturerID != actor.UserID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "lecturers cannot assign topics to other lecturers")
		}
		topic.LecturerID = actor.UserID
	default:
		return nil, appErrors.ErrForbidden
	}

	if err := s.topics.Create(ctx, topic); err != nil {
		return nil, mapStoreError(err, "class not found", "create topic")
	}

	view := dto.NewTopicWithRegistration(models.TopicRegistrationRow{Topic: *topic}, nil, actor.UserID, s.now())
	s.logger.Info("topic created", zap.String("topic_id", topic.ID), zap.String("class_id", topic.ClassID), zap.String("approval_status", string(topic.ApprovalStatus)))
	s.publish(ctx, realtime.TableTopics, realtime.OpInsert, topic.ID, map[string]string{"class_id": topic.ClassID}, view)
	return &view, nil
}

// UpdateTopic rewrites a topic's editable fields.
func (s *TopicService) UpdateTopic(ctx context.Context, id string, req dto.UpdateTopicRequest, actor *models.JWTClaims) (result *dto.TopicWithRegistration, err error) {
	defer func() { s.record(opTopicUpdate, err) }()

	req.Name = strings.TrimSpace(req.Name)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid topic payload")
	}
	if err := validateDeadlines(req.RegistrationDeadline, req.SubmissionDeadline, req.ApprovalDeadline); err != nil {
		return nil, err
	}

	topic, err := s.manageableTopic(ctx, id, actor)
	if err != nil {
		return nil, err
	}

	topic.Name = req.Name
	topic.Description = strings.TrimSpace(req.Description)
	topic.MaxMembers = req.MaxMembers
	topic.RegistrationDeadline = req.RegistrationDeadline
	topic.SubmissionDeadline = req.SubmissionDeadline
	topic.ApprovalDeadline = req.ApprovalDeadline

	if err := s.topics.Update(ctx, topic); err != nil {
		return nil, mapStoreError(err, "topic not found", "update topic")
	}

	view, err := s.registrationView(ctx, topic.ID, actor.UserID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, realtime.TableTopics, realtime.OpUpdate, topic.ID, map[string]string{"class_id": topic.ClassID}, view)
	return view, nil
}

// DeleteTopic removes a topic. Deletion is refused while a group holds it.
func (s *TopicService) DeleteTopic(ctx context.Context, id string, actor *models.JWTClaims) (err error) {
	defer func() { s.record(opTopicDelete, err) }()

	topic, err := s.manageableTopic(ctx, id, actor)
	if err != nil {
		return err
	}
	if err := s.topics.Delete(ctx, topic.ID); err != nil {
		return mapStoreError(err, "topic not found", "delete topic")
	}
	s.publish(ctx, realtime.TableTopics, realtime.OpDelete, topic.ID, map[string]string{"class_id": topic.ClassID}, nil)
	return nil
}

// SetApproval moves a topic to APPROVED or REJECTED.
func (s *TopicService) SetApproval(ctx context.Context, id string, status models.ApprovalStatus, actor *models.JWTClaims) (result *dto.TopicWithRegistration, err error) {
	defer func() { s.record(opTopicApproval, err) }()

	if status != models.ApprovalApproved && status != models.ApprovalRejected {
		return nil, appErrors.ErrInvalidApprovalMove
	}
	topic, err := s.manageableTopic(ctx, id, actor)
	if err != nil {
		return nil, err
	}

	if _, err := s.topics.SetApproval(ctx, topic.ID, status); err != nil {
		return nil, mapStoreError(err, "topic not found", "update topic approval")
	}

	view, err := s.registrationView(ctx, topic.ID, actor.UserID)
	if err != nil {
		return nil, err
	}
	if view.RegisteredGroup != nil {
		holders := make([]string, 0, len(view.RegisteredGroup.Members))
		for _, m := range view.RegisteredGroup.Members {
			holders = append(holders, m.UserID)
		}
		s.notify(ctx, holders, models.NotificationTopicApproval, fmt.Sprintf("Topic %q was %s", topic.Name, strings.ToLower(string(status))))
	}
	s.publish(ctx, realtime.TableTopics, realtime.OpUpdate, topic.ID, map[string]string{"class_id": topic.ClassID}, view)
	return view, nil
}

// RegisterTopic links the actor's group to a topic. A student without a group in
// the topic's class gets a new single-member group in the same transaction.
func (s *TopicService) RegisterTopic(ctx context.Context, topicID string, actor *models.JWTClaims) (result *dto.RegistrationResult, err error) {
	defer func() { s.record(opTopicRegister, err) }()

	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !actor.IsStudent() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students register for topics")
	}

	topic, err := s.topics.FindByID(ctx, topicID)
	if err != nil {
		return nil, mapStoreError(err, "topic not found", "load topic")
	}

	group, err := s.groups.FindByUserAndClass(ctx, actor.UserID, topic.ClassID)
	if err != nil {
		return nil, mapStoreError(err, "group not found", "load group")
	}

	params := repository.RegisterParams{
		TopicID:         topic.ID,
		RequireApproved: s.config.RequireApprovedTopics,
		Now:             s.now(),
	}
	if group != nil {
		params.GroupID = group.ID
	} else {
		params.CreateForUserID = actor.UserID
	}

	registered, err := s.groups.RegisterTopic(ctx, params)
	if err != nil {
		return nil, mapStoreError(err, "topic not found", "register topic")
	}

	view, err := s.registrationView(ctx, topic.ID, actor.UserID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("topic registered",
		zap.String("topic_id", topic.ID),
		zap.String("group_id", registered.Group.ID),
		zap.Bool("group_created", registered.Created),
	)
	keys := map[string]string{"class_id": topic.ClassID}
	if registered.Created {
		s.publish(ctx, realtime.TableGroups, realtime.OpInsert, registered.Group.ID, keys, registered.Group)
	} else {
		s.publish(ctx, realtime.TableGroups, realtime.OpUpdate, registered.Group.ID, keys, registered.Group)
	}
	s.publish(ctx, realtime.TableTopics, realtime.OpUpdate, topic.ID, keys, view)

	return &dto.RegistrationResult{Topic: *view, GroupID: registered.Group.ID, GroupCreated: registered.Created}, nil
}

// CancelRegistration clears the group's topic. Cancelling an unregistered group succeeds.
func (s *TopicService) CancelRegistration(ctx context.Context, groupID string, actor *models.JWTClaims) (err error) {
	defer func() { s.record(opTopicCancel, err) }()

	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	group, err := loadGroup(ctx, s.groups, groupID)
	if err != nil {
		return err
	}
	if err := s.authorizeGroupActor(ctx, group, actor); err != nil {
		return err
	}

	if group.HasTopic() {
		topic, err := s.topics.FindByID(ctx, *group.TopicID)
		if err != nil {
			return mapStoreError(err, "topic not found", "load topic")
		}
		if topic.RegistrationClosed(s.now()) && !actor.IsAdmin() {
			return appErrors.ErrRegistrationClosed
		}
	}

	cancelled, err := s.groups.ClearTopic(ctx, group.ID, s.now())
	if err != nil {
		return mapStoreError(err, "group not found", "cancel registration")
	}
	if cancelled.PreviousTopicID == nil {
		return nil
	}

	keys := map[string]string{"class_id": group.ClassID}
	s.logger.Info("registration cancelled", zap.String("group_id", group.ID), zap.String("topic_id", *cancelled.PreviousTopicID))
	s.publish(ctx, realtime.TableGroups, realtime.OpUpdate, group.ID, keys, nil)
	s.publish(ctx, realtime.TableTopics, realtime.OpUpdate, *cancelled.PreviousTopicID, keys, nil)
	s.notifyInvalidatedSwaps(ctx, s.groups, cancelled.Invalidated, "")
	return nil
}

func (s *TopicService) registrationView(ctx context.Context, topicID, viewerID string) (*dto.TopicWithRegistration, error) {
	row, err := s.topics.FindRegistrationByID(ctx, topicID)
	if err != nil {
		return nil, mapStoreError(err, "topic not found", "load topic")
	}
	var members []models.GroupMember
	if row.GroupID != nil {
		if members, err = s.groups.ListMembers(ctx, *row.GroupID); err != nil {
			return nil, mapStoreError(err, "group not found", "load registered group")
		}
	}
	view := dto.NewTopicWithRegistration(*row, members, viewerID, s.now())
	return &view, nil
}

// manageableTopic loads a topic the actor may edit: the owning lecturer, the class
// lecturer, or an admin.
func (s *TopicService) manageableTopic(ctx context.Context, id string, actor *models.JWTClaims) (*models.Topic, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.IsStudent() {
		return nil, appErrors.ErrForbidden
	}
	topic, err := s.topics.FindByID(ctx, id)
	if err != nil {
		return nil, mapStoreError(err, "topic not found", "load topic")
	}
	if actor.IsAdmin() || topic.LecturerID == actor.UserID {
		return topic, nil
	}
	class, err := loadClass(ctx, s.classes, topic.ClassID)
	if err != nil {
		return nil, err
	}
	if !ownsClass(actor, class) {
		return nil, appErrors.ErrForbidden
	}
	return topic, nil
}

func (s *TopicService) authorizeGroupActor(ctx context.Context, group *models.Group, actor *models.JWTClaims) error {
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

func validateDeadlines(registration, submission, approval *time.Time) error {
	if submission == nil {
		return nil
	}
	if registration != nil && registration.After(*submission) {
		return appErrors.Clone(appErrors.ErrValidation, "registrationDeadline must not be after submissionDeadline")
	}
	if approval != nil && approval.After(*submission) {
		return appErrors.Clone(appErrors.ErrValidation, "approvalDeadline must not be after submissionDeadline")
	}
	return nil
}
