package models

import "time"

// Class scopes groups and topics. A group may only register topics of its own class.
type Class struct {
	ID             string    `db:"id" json:"id"`
	Name           string    `db:"name" json:"name"`
	LecturerID     string    `db:"lecturer_id" json:"lecturer_id"`
	Semester       string    `db:"semester" json:"semester"`
	SubjectID      *string   `db:"subject_id" json:"subject_id,omitempty"`
	IsFinalProject bool      `db:"is_final_project" json:"is_final_project"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}
