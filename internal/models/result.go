package models

import "time"

// TopicResult holds the outcome of a group's work on its topic.
// The group writes ReportURL; the lecturer writes Score and Notes.
type TopicResult struct {
	GroupID   string    `db:"group_id" json:"group_id"`
	TopicID   string    `db:"topic_id" json:"topic_id"`
	Score     *float64  `db:"score" json:"score,omitempty"`
	Notes     *string   `db:"notes" json:"notes,omitempty"`
	ReportURL *string   `db:"report_url" json:"report_url,omitempty"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
