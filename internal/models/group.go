package models

import "time"

// Group is a set of students registering for at most one topic within a class.
type Group struct {
	ID        string    `db:"id" json:"id"`
	ClassID   string    `db:"class_id" json:"class_id"`
	Name      *string   `db:"name" json:"name,omitempty"`
	TopicID   *string   `db:"topic_id" json:"topic_id,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// HasTopic reports whether the group currently holds a registration.
func (g *Group) HasTopic() bool {
	return g != nil && g.TopicID != nil && *g.TopicID != ""
}

// HoldsTopic reports whether the group is registered to topicID.
func (g *Group) HoldsTopic(topicID string) bool {
	return g.HasTopic() && *g.TopicID == topicID
}

// GroupMember is a membership row enriched with the member's display fields.
type GroupMember struct {
	GroupID     string    `db:"group_id" json:"group_id"`
	UserID      string    `db:"user_id" json:"user_id"`
	ClassID     string    `db:"class_id" json:"class_id"`
	FullName    string    `db:"full_name" json:"full_name"`
	StudentCode *string   `db:"student_code" json:"student_code,omitempty"`
	JoinedAt    time.Time `db:"joined_at" json:"joined_at"`
}
