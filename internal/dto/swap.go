package dto

import (
	"time"

	"github.com/noah-isme/topic-registry-api/internal/models"
)

// Swap directions relative to the group listing its requests.
const (
	SwapOutgoing = "OUTGOING"
	SwapIncoming = "INCOMING"
)

// CreateSwapRequest asks the requested group to trade topics.
type CreateSwapRequest struct {
	RequestingGroupID string `json:"requestingGroupId" validate:"required"`
	RequestedGroupID  string `json:"requestedGroupId" validate:"required,nefield=RequestingGroupID"`
}

// SwapRequestItem is a swap request rendered for one of its parties.
type SwapRequestItem struct {
	ID                  string            `json:"id"`
	TopicID             string            `json:"topicId"`
	TopicName           string            `json:"topicName"`
	RequestingGroupID   string            `json:"requestingGroupId"`
	RequestingGroupName *string           `json:"requestingGroupName,omitempty"`
	RequestingTopicID   *string           `json:"requestingTopicId,omitempty"`
	RequestingTopicName *string           `json:"requestingTopicName,omitempty"`
	RequestedGroupID    string            `json:"requestedGroupId"`
	RequestedGroupName  *string           `json:"requestedGroupName,omitempty"`
	Status              models.SwapStatus `json:"status"`
	IsRead              bool              `json:"isRead"`
	Direction           string            `json:"direction,omitempty"`
	CreatedAt           time.Time         `json:"createdAt"`
	UpdatedAt           time.Time         `json:"updatedAt"`
}

// NewSwapRequestItem maps a request detail. viewerGroupID sets Direction when non-empty.
func NewSwapRequestItem(detail models.SwapRequestDetail, viewerGroupID string) SwapRequestItem {
	item := SwapRequestItem{
		ID:                  detail.ID,
		TopicID:             detail.TopicID,
		TopicName:           detail.TopicName,
		RequestingGroupID:   detail.RequestingGroupID,
		RequestingGroupName: detail.RequestingGroupName,
		RequestingTopicID:   detail.RequestingTopicID,
		RequestingTopicName: detail.RequestingTopicName,
		RequestedGroupID:    detail.RequestedGroupID,
		RequestedGroupName:  detail.RequestedGroupName,
		Status:              detail.Status,
		IsRead:              detail.IsRead,
		CreatedAt:           detail.CreatedAt,
		UpdatedAt:           detail.UpdatedAt,
	}
	switch viewerGroupID {
	case "":
	case detail.RequestingGroupID:
		item.Direction = SwapOutgoing
	case detail.RequestedGroupID:
		item.Direction = SwapIncoming
	}
	return item
}
