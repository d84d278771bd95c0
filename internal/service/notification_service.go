package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/topic-registry-api/internal/dto"
	"github.com/noah-isme/topic-registry-api/internal/models"
	appErrors "github.com/noah-isme/topic-registry-api/pkg/errors"
	"github.com/noah-isme/topic-registry-api/pkg/jobs"
	"github.com/noah-isme/topic-registry-api/pkg/realtime"
)

// JobTypeNotification labels notification delivery jobs.
const JobTypeNotification = "notification.deliver"

type notificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
	ListByUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, id, userID string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
}

type notificationDispatcher interface {
	TryEnqueue(job jobs.Job) error
}

type notificationRecorder interface {
	RecordNotification(outcome string)
}

type changeSubscriber interface {
	Subscribe(ctx context.Context, table string, filter realtime.Filter, onChange realtime.Handler) (func(), error)
}

// NotificationService relays workflow events to users without blocking the workflow.
type NotificationService struct {
	repo    notificationStore
	queue   notificationDispatcher
	feed    changeSubscriber
	metrics notificationRecorder
	logger  *zap.Logger
}

// NewNotificationService constructs the relay.
func NewNotificationService(repo notificationStore, queue notificationDispatcher, feed changeSubscriber, metrics notificationRecorder, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{repo: repo, queue: queue, feed: feed, metrics: metrics, logger: logger}
}

// Notify schedules a single notification. Failures are logged and never surface.
func (s *NotificationService) Notify(ctx context.Context, userID string, kind models.NotificationKind, message string) {
	if s == nil || s.queue == nil || userID == "" {
		return
	}
	n := models.Notification{ID: uuid.NewString(), UserID: userID, Kind: kind, Message: message}
	if err := s.queue.TryEnqueue(jobs.Job{ID: n.ID, Type: JobTypeNotification, Payload: n}); err != nil {
		s.logger.Warn("notification dropped",
			zap.String("user_id", userID),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		if s.metrics != nil {
			s.metrics.RecordNotification(OutcomeDropped)
		}
	}
}

// NotifyMany schedules one notification per distinct user.
func (s *NotificationService) NotifyMany(ctx context.Context, userIDs []string, kind models.NotificationKind, message string) {
	for _, id := range uniqueIDs(userIDs) {
		s.Notify(ctx, id, kind, message)
	}
}

// List returns the caller's notifications, newest first.
func (s *NotificationService) List(ctx context.Context, userID string, filter dto.NotificationFilter) ([]dto.NotificationItem, error) {
	if userID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	rows, err := s.repo.ListByUser(ctx, userID, filter.UnreadOnly, filter.Limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	items := make([]dto.NotificationItem, 0, len(rows))
	for _, n := range rows {
		items = append(items, dto.NewNotificationItem(n))
	}
	return items, nil
}

// MarkRead flags one of the caller's notifications as read.
func (s *NotificationService) MarkRead(ctx context.Context, id, userID string) error {
	if userID == "" {
		return appErrors.ErrUnauthorized
	}
	if err := s.repo.MarkRead(ctx, id, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notification read")
	}
	return nil
}

// MarkAllRead flags every unread notification of the caller.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (*dto.MarkAllReadResponse, error) {
	if userID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	updated, err := s.repo.MarkAllRead(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notifications read")
	}
	return &dto.MarkAllReadResponse{Updated: updated}, nil
}

// Subscribe streams the user's new notifications until ctx ends or the returned func is called.
func (s *NotificationService) Subscribe(ctx context.Context, userID string, onItem func(dto.NotificationItem)) (func(), error) {
	if userID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	if s.feed == nil {
		return nil, appErrors.Clone(appErrors.ErrTransient, "realtime feed unavailable")
	}
	unsubscribe, err := s.feed.Subscribe(ctx, realtime.TableNotifications, realtime.Eq("user_id", userID), func(change realtime.Change) {
		if change.Op != realtime.OpInsert || len(change.Payload) == 0 {
			return
		}
		var item dto.NotificationItem
		if err := json.Unmarshal(change.Payload, &item); err != nil {
			s.logger.Warn("discarding malformed notification change", zap.String("record_id", change.RecordID), zap.Error(err))
			return
		}
		onItem(item)
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, "failed to subscribe to notifications")
	}
	return unsubscribe, nil
}

// NotificationWorker persists queued notifications and announces them on the feed.
type NotificationWorker struct {
	repo      notificationStore
	publisher changePublisher
	metrics   notificationRecorder
	logger    *zap.Logger
}

// NewNotificationWorker constructs the queue handler.
func NewNotificationWorker(repo notificationStore, publisher changePublisher, metrics notificationRecorder, logger *zap.Logger) *NotificationWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationWorker{repo: repo, publisher: publisher, metrics: metrics, logger: logger}
}

// Handle processes a queue job. A returned error schedules a retry.
func (w *NotificationWorker) Handle(ctx context.Context, job jobs.Job) error {
	n, ok := job.Payload.(models.Notification)
	if !ok {
		w.logger.Error("unexpected notification payload", zap.String("job_id", job.ID), zap.String("type", job.Type))
		return nil
	}
	if err := w.repo.Create(ctx, &n); err != nil {
		if w.metrics != nil {
			w.metrics.RecordNotification(OutcomeRetried)
		}
		return fmt.Errorf("store notification: %w", err)
	}
	if w.metrics != nil {
		w.metrics.RecordNotification(OutcomeDelivered)
	}

	if w.publisher == nil {
		return nil
	}
	payload, err := json.Marshal(dto.NewNotificationItem(n))
	if err != nil {
		w.logger.Warn("failed to encode notification", zap.String("notification_id", n.ID), zap.Error(err))
		return nil
	}
	change := realtime.Change{
		Table:    realtime.TableNotifications,
		Op:       realtime.OpInsert,
		RecordID: n.ID,
		Keys:     map[string]string{"user_id": n.UserID},
		Payload:  payload,
	}
	if err := w.publisher.Publish(ctx, change); err != nil {
		w.logger.Warn("failed to publish notification", zap.String("notification_id", n.ID), zap.Error(err))
	}
	return nil
}

// Dropped is the queue's drop callback.
func (w *NotificationWorker) Dropped(job jobs.Job, err error) {
	w.logger.Error("notification discarded", zap.String("job_id", job.ID), zap.Int("attempts", job.Attempt), zap.Error(err))
	if w.metrics != nil {
		w.metrics.RecordNotification(OutcomeDropped)
	}
}
