package dto

import (
	"time"

	"github.com/noah-isme/topic-registry-api/internal/models"
)

// SubmitReportRequest carries the link to a group's report.
type SubmitReportRequest struct {
	ReportURL string `json:"reportUrl" validate:"required,url,max=2048"`
}

// GradeRequest carries the lecturer's assessment.
type GradeRequest struct {
	Score *float64 `json:"score" validate:"required,gte=0,lte=100"`
	Notes *string  `json:"notes" validate:"omitempty,max=5000"`
}

// TopicResultItem is the rendered result of a group.
type TopicResultItem struct {
	GroupID   string    `json:"groupId"`
	TopicID   string    `json:"topicId"`
	Score     *float64  `json:"score,omitempty"`
	Notes     *string   `json:"notes,omitempty"`
	ReportURL *string   `json:"reportUrl,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewTopicResultItem maps a result row.
func NewTopicResultItem(r models.TopicResult) TopicResultItem {
	return TopicResultItem{
		GroupID:   r.GroupID,
		TopicID:   r.TopicID,
		Score:     r.Score,
		Notes:     r.Notes,
		ReportURL: r.ReportURL,
		UpdatedAt: r.UpdatedAt,
	}
}
