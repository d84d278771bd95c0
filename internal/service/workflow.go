package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/topic-registry-api/internal/models"
	"github.com/noah-isme/topic-registry-api/internal/repository"
	"github.com/noah-isme/topic-registry-api/pkg/database"
	appErrors "github.com/noah-isme/topic-registry-api/pkg/errors"
	"github.com/noah-isme/topic-registry-api/pkg/realtime"
)

// Workflow operation labels used for metrics and logs.
const (
	opGroupCreate      = "group.create"
	opGroupJoin        = "group.join"
	opGroupLeave       = "group.leave"
	opTopicCreate      = "topic.create"
	opTopicUpdate      = "topic.update"
	opTopicDelete      = "topic.delete"
	opTopicApproval    = "topic.approval"
	opTopicRegister    = "topic.register"
	opTopicCancel      = "topic.cancel"
	opSwapRequest      = "swap.request"
	opSwapApprove      = "swap.approve"
	opSwapReject       = "swap.reject"
	opSwapCancel       = "swap.cancel"
	opResultReport     = "result.report"
	opResultGrade      = "result.grade"
	opMaintenanceSweep = "maintenance.swap_sweep"
	opMaintenancePrune = "maintenance.group_prune"
)

type classReader interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
}

type groupReader interface {
	FindByID(ctx context.Context, id string) (*models.Group, error)
	ListMembers(ctx context.Context, groupID string) ([]models.GroupMember, error)
	IsMember(ctx context.Context, groupID, userID string) (bool, error)
}

// notifier is the fire-and-forget side channel. Implementations never fail the caller.
type notifier interface {
	NotifyMany(ctx context.Context, userIDs []string, kind models.NotificationKind, message string)
}

type changePublisher interface {
	Publish(ctx context.Context, change realtime.Change) error
}

type workflowRecorder interface {
	RecordWorkflow(operation string, err error)
}

// sentinelErrors maps repository sentinels to API errors.
var sentinelErrors = []struct {
	sentinel error
	target   *appErrors.Error
}{
	{repository.ErrAlreadyTaken, appErrors.ErrAlreadyTaken},
	{repository.ErrAlreadyRegistered, appErrors.ErrAlreadyRegistered},
	{repository.ErrDuplicateMembership, appErrors.ErrDuplicateMembership},
	{repository.ErrGroupFull, appErrors.ErrGroupFull},
	{repository.ErrOverCapacity, appErrors.ErrGroupOverCapacity},
	{repository.ErrClassMismatch, appErrors.ErrClassMismatch},
	{repository.ErrTopicNotApproved, appErrors.ErrTopicNotApproved},
	{repository.ErrRegistrationClosed, appErrors.ErrRegistrationClosed},
	{repository.ErrNotMember, appErrors.ErrNotGroupMember},
	{repository.ErrTopicRegistered, appErrors.ErrTopicRegistered},
	{repository.ErrDuplicateSwap, appErrors.ErrDuplicateSwapRequest},
	{repository.ErrNotPending, appErrors.ErrNotPending},
	{repository.ErrSwapStale, appErrors.ErrSwapStale},
	{repository.ErrEmptyGroup, appErrors.Clone(appErrors.ErrValidation, "a group needs at least one member")},
}

// mapStoreError converts a repository failure into an API error. notFound is the
// message used for a missing row, action completes "failed to ...".
func mapStoreError(err error, notFound, action string) error {
	if err == nil {
		return nil
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, notFound)
	}
	for _, m := range sentinelErrors {
		if errors.Is(err, m.sentinel) {
			return appErrors.Wrap(err, m.target.Code, m.target.Status, m.target.Message)
		}
	}
	if errors.Is(err, repository.ErrReferenceMissing) {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "referenced record no longer exists, please reload")
	}
	if database.IsTransient(err) {
		return appErrors.Wrap(err, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, appErrors.ErrTransient.Message)
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to "+action)
}

func loadClass(ctx context.Context, classes classReader, id string) (*models.Class, error) {
	if id == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "classId is required")
	}
	class, err := classes.FindByID(ctx, id)
	if err != nil {
		return nil, mapStoreError(err, "class not found", "load class")
	}
	return class, nil
}

func loadGroup(ctx context.Context, groups groupReader, id string) (*models.Group, error) {
	group, err := groups.FindByID(ctx, id)
	if err != nil {
		return nil, mapStoreError(err, "group not found", "load group")
	}
	return group, nil
}

// requireMember fails with NOT_GROUP_MEMBER unless the actor belongs to the group.
func requireMember(ctx context.Context, groups groupReader, groupID string, actor *models.JWTClaims) error {
	member, err := groups.IsMember(ctx, groupID, actor.UserID)
	if err != nil {
		return mapStoreError(err, "group not found", "check membership")
	}
	if !member {
		return appErrors.ErrNotGroupMember
	}
	return nil
}

func memberIDs(members []models.GroupMember) []string {
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.UserID)
	}
	return ids
}

// without drops every occurrence of exclude from ids.
func without(ids []string, exclude string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out
}

func groupLabel(group *models.Group) string {
	if group != nil && group.Name != nil && *group.Name != "" {
		return *group.Name
	}
	return "a group"
}

func ownsClass(actor *models.JWTClaims, class *models.Class) bool {
	return actor.IsAdmin() || (actor.IsLecturer() && class != nil && class.LecturerID == actor.UserID)
}

// workflowBase holds collaborators shared by the workflow services.
type workflowBase struct {
	notifier  notifier
	publisher changePublisher
	metrics   workflowRecorder
	logger    *zap.Logger
	now       func() time.Time
}

func newWorkflowBase(n notifier, publisher changePublisher, metrics workflowRecorder, logger *zap.Logger) workflowBase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return workflowBase{
		notifier:  n,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (b *workflowBase) record(operation string, err error) {
	if b.metrics != nil {
		b.metrics.RecordWorkflow(operation, err)
	}
	if err != nil && appErrors.KindOf(err) == appErrors.KindInternal {
		b.logger.Error("workflow operation failed", zap.String("operation", operation), zap.Error(err))
	}
}

func (b *workflowBase) notify(ctx context.Context, userIDs []string, kind models.NotificationKind, message string) {
	if b.notifier == nil || len(userIDs) == 0 {
		return
	}
	b.notifier.NotifyMany(ctx, userIDs, kind, message)
}

// publish announces a committed change. Failures are logged; subscribers re-fetch.
func (b *workflowBase) publish(ctx context.Context, table string, op realtime.Op, recordID string, keys map[string]string, payload interface{}) {
	if b.publisher == nil {
		return
	}
	change := realtime.Change{Table: table, Op: op, RecordID: recordID, Keys: keys}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			b.logger.Warn("failed to encode change payload", zap.String("table", table), zap.Error(err))
		} else {
			change.Payload = raw
		}
	}
	if err := b.publisher.Publish(ctx, change); err != nil {
		b.logger.Warn("failed to publish change", zap.String("table", table), zap.String("record_id", recordID), zap.Error(err))
	}
}

// notifyInvalidatedSwaps tells the parties of swap requests that were rejected as a
// side effect of another change. Members of skipGroupID are not notified.
func (b *workflowBase) notifyInvalidatedSwaps(ctx context.Context, groups groupReader, swaps []models.SwapRequest, skipGroupID string) {
	for _, swap := range swaps {
		b.publish(ctx, realtime.TableSwapRequests, realtime.OpUpdate, swap.ID, swapKeys(swap), swap)
		for _, groupID := range []string{swap.RequestingGroupID, swap.RequestedGroupID} {
			if groupID == skipGroupID {
				continue
			}
			members, err := groups.ListMembers(ctx, groupID)
			if err != nil {
				b.logger.Warn("failed to load members for swap invalidation", zap.String("group_id", groupID), zap.Error(err))
				continue
			}
			b.notify(ctx, memberIDs(members), models.NotificationSwapRejected, "A pending topic swap request was withdrawn because a registration changed")
		}
	}
}

func swapKeys(swap models.SwapRequest) map[string]string {
	return map[string]string{
		"requesting_group_id": swap.RequestingGroupID,
		"requested_group_id":  swap.RequestedGroupID,
	}
}
