package dto

import (
	"time"

	"github.com/noah-isme/topic-registry-api/internal/models"
)

// GroupMemberItem is a member as rendered inside group payloads.
type GroupMemberItem struct {
	UserID      string    `json:"userId"`
	FullName    string    `json:"fullName"`
	StudentCode *string   `json:"studentCode,omitempty"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// GroupWithMembers is a group together with its member list.
type GroupWithMembers struct {
	ID        string            `json:"id"`
	ClassID   string            `json:"classId"`
	Name      *string           `json:"name,omitempty"`
	TopicID   *string           `json:"topicId,omitempty"`
	Members   []GroupMemberItem `json:"members"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// HasMember reports whether userID is in the member list.
func (g *GroupWithMembers) HasMember(userID string) bool {
	if g == nil {
		return false
	}
	for _, m := range g.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// MemberIDs lists the user ids of every member.
func (g *GroupWithMembers) MemberIDs() []string {
	if g == nil {
		return nil
	}
	ids := make([]string, 0, len(g.Members))
	for _, m := range g.Members {
		ids = append(ids, m.UserID)
	}
	return ids
}

// NewGroupMemberItems maps membership rows.
func NewGroupMemberItems(members []models.GroupMember) []GroupMemberItem {
	items := make([]GroupMemberItem, 0, len(members))
	for _, m := range members {
		items = append(items, GroupMemberItem{
			UserID:      m.UserID,
			FullName:    m.FullName,
			StudentCode: m.StudentCode,
			JoinedAt:    m.JoinedAt,
		})
	}
	return items
}

// NewGroupWithMembers maps a group row and its membership rows.
func NewGroupWithMembers(group models.Group, members []models.GroupMember) GroupWithMembers {
	return GroupWithMembers{
		ID:        group.ID,
		ClassID:   group.ClassID,
		Name:      group.Name,
		TopicID:   group.TopicID,
		Members:   NewGroupMemberItems(members),
		CreatedAt: group.CreatedAt,
		UpdatedAt: group.UpdatedAt,
	}
}

// CreateGroupRequest defines payload for forming a group.
type CreateGroupRequest struct {
	ClassID   string   `json:"classId" validate:"required"`
	MemberIDs []string `json:"memberIds" validate:"required,min=1,dive,required"`
	Name      *string  `json:"name" validate:"omitempty,max=100"`
}

// JoinGroupRequest names the user joining. An empty UserID means the caller.
type JoinGroupRequest struct {
	UserID string `json:"userId"`
}

// LeaveGroupResponse reports whether the departure disbanded the group.
type LeaveGroupResponse struct {
	Disbanded bool `json:"disbanded"`
}
