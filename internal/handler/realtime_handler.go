package handler

import (
	"context"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/topic-registry-api/internal/dto"
	"github.com/noah-isme/topic-registry-api/pkg/response"
)

const streamBuffer = 16

type notificationSubscriber interface {
	Subscribe(ctx context.Context, userID string, onItem func(dto.NotificationItem)) (func(), error)
}

type streamTracker interface {
	StreamOpened()
	StreamClosed()
}

// RealtimeHandler streams notifications to the caller over server-sent events.
type RealtimeHandler struct {
	subscriber notificationSubscriber
	metrics    streamTracker
	heartbeat  time.Duration
	logger     *zap.Logger
}

// NewRealtimeHandler builds a new handler. A non-positive heartbeat defaults to 25s.
func NewRealtimeHandler(subscriber notificationSubscriber, metrics streamTracker, heartbeat time.Duration, logger *zap.Logger) *RealtimeHandler {
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RealtimeHandler{subscriber: subscriber, metrics: metrics, heartbeat: heartbeat, logger: logger}
}

// Notifications godoc
// @Summary Stream notifications of the caller
// @Description Server-sent events. Browsers pass the token in the access_token query parameter.
// @Tags Notifications
// @Produce text/event-stream
// @Param access_token query string false "Access token"
// @Success 200 {string} string "event stream"
// @Router /realtime/notifications [get]
func (h *RealtimeHandler) Notifications(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	items := make(chan dto.NotificationItem, streamBuffer)
	unsubscribe, err := h.subscriber.Subscribe(ctx, userID, func(item dto.NotificationItem) {
		select {
		case items <- item:
		default:
			h.logger.Warn("notification stream lagging, dropping item", zap.String("user_id", userID), zap.String("notification_id", item.ID))
		}
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	defer unsubscribe()

	if h.metrics != nil {
		h.metrics.StreamOpened()
		defer h.metrics.StreamClosed()
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("ready", gin.H{"userId": userID})
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case item := <-items:
			c.SSEvent("notification", item)
			return true
		case <-ticker.C:
			c.SSEvent("heartbeat", time.Now().UTC().Format(time.RFC3339))
			return true
		}
	})
}
