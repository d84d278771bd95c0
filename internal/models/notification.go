package models

import "time"

// NotificationKind labels workflow events delivered to users.
type NotificationKind string

// Notification kinds.
const (
	NotificationGroupJoined     NotificationKind = "GROUP_JOINED"
	NotificationGroupLeft       NotificationKind = "GROUP_LEFT"
	NotificationSwapRequested   NotificationKind = "SWAP_REQUESTED"
	NotificationSwapApproved    NotificationKind = "SWAP_APPROVED"
	NotificationSwapRejected    NotificationKind = "SWAP_REJECTED"
	NotificationTopicApproval   NotificationKind = "TOPIC_APPROVAL"
	NotificationResultGraded    NotificationKind = "RESULT_GRADED"
	NotificationReportSubmitted NotificationKind = "REPORT_SUBMITTED"
)

// Notification is a persisted message for a single user.
type Notification struct {
	ID        string           `db:"id" json:"id"`
	UserID    string           `db:"user_id" json:"user_id"`
	Kind      NotificationKind `db:"kind" json:"kind"`
	Message   string           `db:"message" json:"message"`
	IsRead    bool             `db:"is_read" json:"is_read"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
}
