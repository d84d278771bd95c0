package models

import "time"

// ApprovalStatus gates whether a topic is sanctioned for registration.
type ApprovalStatus string

// Approval states.
const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

// Topic is a project subject offered within a class.
type Topic struct {
	ID                   string         `db:"id" json:"id"`
	ClassID              string         `db:"class_id" json:"class_id"`
	LecturerID           string         `db:"lecturer_id" json:"lecturer_id"`
	Name                 string         `db:"name" json:"name"`
	Description          string         `db:"description" json:"description"`
	MaxMembers           int            `db:"max_members" json:"max_members"`
	RegistrationDeadline *time.Time     `db:"registration_deadline" json:"registration_deadline,omitempty"`
	SubmissionDeadline   *time.Time     `db:"submission_deadline" json:"submission_deadline,omitempty"`
	ApprovalDeadline     *time.Time     `db:"approval_deadline" json:"approval_deadline,omitempty"`
	ApprovalStatus       ApprovalStatus `db:"approval_status" json:"approval_status"`
	CreatedAt            time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time      `db:"updated_at" json:"updated_at"`
}

// RegistrationClosed reports whether the registration deadline lies before now.
func (t *Topic) RegistrationClosed(now time.Time) bool {
	return t != nil && t.RegistrationDeadline != nil && now.After(*t.RegistrationDeadline)
}

// TopicRegistrationRow is the flat result of joining a topic with its registered group.
type TopicRegistrationRow struct {
	Topic
	GroupID   *string `db:"group_id"`
	GroupName *string `db:"group_name"`
}
