package models

import "time"

// SwapStatus is the lifecycle of a swap request. Approved and rejected are terminal.
type SwapStatus string

// Swap states.
const (
	SwapPending  SwapStatus = "PENDING"
	SwapApproved SwapStatus = "APPROVED"
	SwapRejected SwapStatus = "REJECTED"
)

// SwapRequest proposes exchanging the requesting group's topic with TopicID,
// the topic held by the requested group when the request was raised.
type SwapRequest struct {
	ID                string     `db:"id" json:"id"`
	TopicID           string     `db:"topic_id" json:"topic_id"`
	RequestingGroupID string     `db:"requesting_group_id" json:"requesting_group_id"`
	RequestedGroupID  string     `db:"requested_group_id" json:"requested_group_id"`
	Status            SwapStatus `db:"status" json:"status"`
	IsRead            bool       `db:"is_read" json:"is_read"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// IsPending reports whether the request can still transition.
func (r *SwapRequest) IsPending() bool {
	return r != nil && r.Status == SwapPending
}

// SwapRequestDetail joins a request with the names of the topics and groups involved.
type SwapRequestDetail struct {
	SwapRequest
	TopicName           string  `db:"topic_name" json:"topic_name"`
	RequestingGroupName *string `db:"requesting_group_name" json:"requesting_group_name,omitempty"`
	RequestingTopicID   *string `db:"requesting_topic_id" json:"requesting_topic_id,omitempty"`
	RequestingTopicName *string `db:"requesting_topic_name" json:"requesting_topic_name,omitempty"`
	RequestedGroupName  *string `db:"requested_group_name" json:"requested_group_name,omitempty"`
}
