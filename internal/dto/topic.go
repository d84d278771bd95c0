package dto

import (
	"time"

	"github.com/noah-isme/topic-registry-api/internal/models"
)

// TopicState is the registration state of a topic as seen by one viewer.
type TopicState string

// Topic states.
const (
	TopicUnregistered       TopicState = "UNREGISTERED"
	TopicHeldBySelf         TopicState = "HELD_BY_SELF"
	TopicHeldByOther        TopicState = "HELD_BY_OTHER"
	TopicRegistrationClosed TopicState = "REGISTRATION_CLOSED"
)

// RegisteredGroup is the group holding a topic.
type RegisteredGroup struct {
	ID      string            `json:"id"`
	Name    *string           `json:"name,omitempty"`
	Members []GroupMemberItem `json:"members"`
}

// TopicWithRegistration is a topic annotated with its holder relative to a viewer.
type TopicWithRegistration struct {
	ID                   string                `json:"id"`
	ClassID              string                `json:"classId"`
	LecturerID           string                `json:"lecturerId"`
	Name                 string                `json:"name"`
	Description          string                `json:"description"`
	MaxMembers           int                   `json:"maxMembers"`
	RegistrationDeadline *time.Time            `json:"registrationDeadline,omitempty"`
	SubmissionDeadline   *time.Time            `json:"submissionDeadline,omitempty"`
	ApprovalDeadline     *time.Time            `json:"approvalDeadline,omitempty"`
	ApprovalStatus       models.ApprovalStatus `json:"approvalStatus"`
	RegisteredGroup      *RegisteredGroup      `json:"registeredGroup,omitempty"`
	RegisteredByUser     bool                  `json:"registeredByUser"`
	State                TopicState            `json:"state"`
	CreatedAt            time.Time             `json:"createdAt"`
	UpdatedAt            time.Time             `json:"updatedAt"`
}

// NewTopicWithRegistration maps a topic row joined with its holder. members must
// belong to the holding group; viewerID may be empty.
func NewTopicWithRegistration(row models.TopicRegistrationRow, members []models.GroupMember, viewerID string, now time.Time) TopicWithRegistration {
	item := TopicWithRegistration{
		ID:                   row.ID,
		ClassID:              row.ClassID,
		LecturerID:           row.LecturerID,
		Name:                 row.Name,
		Description:          row.Description,
		MaxMembers:           row.MaxMembers,
		RegistrationDeadline: row.RegistrationDeadline,
		SubmissionDeadline:   row.SubmissionDeadline,
		ApprovalDeadline:     row.ApprovalDeadline,
		ApprovalStatus:       row.ApprovalStatus,
		CreatedAt:            row.CreatedAt,
		UpdatedAt:            row.UpdatedAt,
		State:                TopicUnregistered,
	}

	if row.GroupID != nil {
		item.RegisteredGroup = &RegisteredGroup{
			ID:      *row.GroupID,
			Name:    row.GroupName,
			Members: NewGroupMemberItems(members),
		}
		item.State = TopicHeldByOther
		for _, m := range members {
			if viewerID != "" && m.UserID == viewerID {
				item.RegisteredByUser = true
				item.State = TopicHeldBySelf
				break
			}
		}
	}

	if !item.RegisteredByUser && row.Topic.RegistrationClosed(now) {
		item.State = TopicRegistrationClosed
	}
	return item
}

// CreateTopicRequest defines payload for publishing a topic.
type CreateTopicRequest struct {
	ClassID              string     `json:"classId" validate:"required"`
	LecturerID           *string    `json:"lecturerId"`
	Name                 string     `json:"name" validate:"required,max=200"`
	Description          string     `json:"description" validate:"max=5000"`
	MaxMembers           int        `json:"maxMembers" validate:"required,min=1"`
	RegistrationDeadline *time.Time `json:"registrationDeadline"`
	SubmissionDeadline   *time.Time `json:"submissionDeadline"`
	ApprovalDeadline     *time.Time `json:"approvalDeadline"`
}

// UpdateTopicRequest defines the editable fields of a topic.
type UpdateTopicRequest struct {
	Name                 string     `json:"name" validate:"required,max=200"`
	Description          string     `json:"description" validate:"max=5000"`
	MaxMembers           int        `json:"maxMembers" validate:"required,min=1"`
	RegistrationDeadline *time.Time `json:"registrationDeadline"`
	SubmissionDeadline   *time.Time `json:"submissionDeadline"`
	ApprovalDeadline     *time.Time `json:"approvalDeadline"`
}

// SetApprovalRequest moves a topic out of review.
type SetApprovalRequest struct {
	Status models.ApprovalStatus `json:"status" validate:"required"`
}

// RegistrationResult is returned after registering a topic.
type RegistrationResult struct {
	Topic        TopicWithRegistration `json:"topic"`
	GroupID      string                `json:"groupId"`
	GroupCreated bool                  `json:"groupCreated"`
}
