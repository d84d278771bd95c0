package dto

import (
	"time"

	"github.com/noah-isme/topic-registry-api/internal/models"
)

// NotificationItem is a notification as delivered to its owner.
type NotificationItem struct {
	ID        string                  `json:"id"`
	Kind      models.NotificationKind `json:"kind"`
	Message   string                  `json:"message"`
	IsRead    bool                    `json:"isRead"`
	CreatedAt time.Time               `json:"createdAt"`
}

// NewNotificationItem maps a notification row.
func NewNotificationItem(n models.Notification) NotificationItem {
	return NotificationItem{
		ID:        n.ID,
		Kind:      n.Kind,
		Message:   n.Message,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt,
	}
}

// NotificationFilter narrows notification listings.
type NotificationFilter struct {
	UnreadOnly bool
	Limit      int
}

// MarkAllReadResponse reports how many notifications changed.
type MarkAllReadResponse struct {
	Updated int64 `json:"updated"`
}
