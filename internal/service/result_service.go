package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/topic-registry-api/internal/dto"
	"github.com/noah-isme/topic-registry-api/internal/models"
	appErrors "github.com/noah-isme/topic-registry-api/pkg/errors"
)

type resultStore interface {
	FindByGroup(ctx context.Context, groupID string) (*models.TopicResult, error)
	UpsertReport(ctx context.Context, groupID, topicID, reportURL string) (*models.TopicResult, error)
	UpsertGrade(ctx context.Context, groupID, topicID string, score float64, notes *string) (*models.TopicResult, error)
}

type topicReader interface {
	FindByID(ctx context.Context, id string) (*models.Topic, error)
}

// ResultService records reports and grades for registered groups.
type ResultService struct {
	workflowBase
	results   resultStore
	groups    groupReader
	topics    topicReader
	classes   classReader
	validator *validator.Validate
}

// NewResultService wires result handling.
func NewResultService(
	results resultStore,
	groups groupReader,
	topics topicReader,
	classes classReader,
	notifications notifier,
	metrics workflowRecorder,
	validate *validator.Validate,
	logger *zap.Logger,
) *ResultService {
	if validate == nil {
		validate = validator.New()
	}
	return &ResultService{
		workflowBase: newWorkflowBase(notifications, nil, metrics, logger),
		results:      results,
		groups:       groups,
		topics:       topics,
		classes:      classes,
		validator:    validate,
	}
}

// Get returns the group's result for the topic it holds now, or nil when nothing
// was recorded for that topic yet.
func (s *ResultService) Get(ctx context.Context, groupID string, actor *models.JWTClaims) (*dto.TopicResultItem, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	group, err := loadGroup(ctx, s.groups, groupID)
	if err != nil {
		return nil, err
	}
	if actor.IsStudent() {
		if err := requireMember(ctx, s.groups, group.ID, actor); err != nil {
			return nil, err
		}
	} else if _, err := s.gradingTopic(ctx, group, actor); err != nil {
		if !errors.Is(err, appErrors.ErrNoTopicHeld) {
			return nil, err
		}
		class, err := loadClass(ctx, s.classes, group.ClassID)
		if err != nil {
			return nil, err
		}
		if !ownsClass(actor, class) {
			return nil, appErrors.ErrForbidden
		}
	}

	result, err := s.results.FindByGroup(ctx, group.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, mapStoreError(err, "result not found", "load result")
	}
	if !group.HoldsTopic(result.TopicID) {
		return nil, nil
	}
	item := dto.NewTopicResultItem(*result)
	return &item, nil
}

// SubmitReport stores the link to the group's report. Only members of a registered group may submit.
func (s *ResultService) SubmitReport(ctx context.Context, groupID string, req dto.SubmitReportRequest, actor *models.JWTClaims) (result *dto.TopicResultItem, err error) {
	defer func() { s.record(opResultReport, err) }()

	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	req.ReportURL = strings.TrimSpace(req.ReportURL)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid report payload")
	}

	group, err := loadGroup(ctx, s.groups, groupID)
	if err != nil {
		return nil, err
	}
	if err := requireMember(ctx, s.groups, group.ID, actor); err != nil {
		return nil, err
	}
	if !group.HasTopic() {
		return nil, appErrors.ErrNoTopicHeld
	}

	row, err := s.results.UpsertReport(ctx, group.ID, *group.TopicID, req.ReportURL)
	if err != nil {
		return nil, mapStoreError(err, "group not found", "submit report")
	}

	if topic, err := s.topics.FindByID(ctx, *group.TopicID); err != nil {
		s.logger.Warn("failed to load topic for report notification", zap.String("topic_id", *group.TopicID), zap.Error(err))
	} else {
		s.notify(ctx, []string{topic.LecturerID}, models.NotificationReportSubmitted, fmt.Sprintf("%s submitted a report for %q", groupLabel(group), topic.Name))
	}

	item := dto.NewTopicResultItem(*row)
	return &item, nil
}

// Grade records the lecturer's score for the group's current topic.
func (s *ResultService) Grade(ctx context.Context, groupID string, req dto.GradeRequest, actor *models.JWTClaims) (result *dto.TopicResultItem, err error) {
	defer func() { s.record(opResultGrade, err) }()

	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.IsStudent() {
		return nil, appErrors.ErrForbidden
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grade payload")
	}

	group, err := loadGroup(ctx, s.groups, groupID)
	if err != nil {
		return nil, err
	}
	topic, err := s.gradingTopic(ctx, group, actor)
	if err != nil {
		return nil, err
	}

	row, err := s.results.UpsertGrade(ctx, group.ID, topic.ID, *req.Score, req.Notes)
	if err != nil {
		return nil, mapStoreError(err, "group not found", "grade group")
	}

	members, err := s.groups.ListMembers(ctx, group.ID)
	if err != nil {
		s.logger.Warn("failed to load members for grade notification", zap.String("group_id", group.ID), zap.Error(err))
	} else {
		s.notify(ctx, memberIDs(members), models.NotificationResultGraded, fmt.Sprintf("Your work on %q was graded", topic.Name))
	}

	item := dto.NewTopicResultItem(*row)
	return &item, nil
}

// gradingTopic returns the group's topic when the actor may grade it: the topic's
// lecturer, the class lecturer, or an admin.
func (s *ResultService) gradingTopic(ctx context.Context, group *models.Group, actor *models.JWTClaims) (*models.Topic, error) {
	if !group.HasTopic() {
		return nil, appErrors.ErrNoTopicHeld
	}
	topic, err := s.topics.FindByID(ctx, *group.TopicID)
	if err != nil {
		return nil, mapStoreError(err, "topic not found", "load topic")
	}
	if actor.IsAdmin() || (actor.IsLecturer() && topic.LecturerID == actor.UserID) {
		return topic, nil
	}
	class, err := loadClass(ctx, s.classes, group.ClassID)
	if err != nil {
		return nil, err
	}
	if !ownsClass(actor, class) {
		return nil, appErrors.ErrForbidden
	}
	return topic, nil
}
