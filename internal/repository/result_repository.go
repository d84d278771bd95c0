package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/topic-registry-api/internal/models"
)

const resultColumns = `group_id, topic_id, score, notes, report_url, updated_at`

// ResultRepository persists topic results keyed by group.
type ResultRepository struct {
	db *sqlx.DB
}

// NewResultRepository constructs the repository.
func NewResultRepository(db *sqlx.DB) *ResultRepository {
	return &ResultRepository{db: db}
}

// FindByGroup returns the result row of a group.
func (r *ResultRepository) FindByGroup(ctx context.Context, groupID string) (*models.TopicResult, error) {
	query := `SELECT ` + resultColumns + ` FROM topic_results WHERE group_id = $1`
	var result models.TopicResult
	if err := r.db.GetContext(ctx, &result, query, groupID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find topic result: %w", err)
	}
	return &result, nil
}

// A group's row describes its work on one topic. When the group now holds a different
// topic the columns written by the other party are cleared instead of carried over.
const (
	keepScoreForTopic  = `score = CASE WHEN topic_results.topic_id = EXCLUDED.topic_id THEN topic_results.score END`
	keepNotesForTopic  = `notes = CASE WHEN topic_results.topic_id = EXCLUDED.topic_id THEN topic_results.notes END`
	keepReportForTopic = `report_url = CASE WHEN topic_results.topic_id = EXCLUDED.topic_id THEN topic_results.report_url END`
)

// UpsertReport records the group's report link. The grade is kept only while the topic is unchanged.
func (r *ResultRepository) UpsertReport(ctx context.Context, groupID, topicID, reportURL string) (*models.TopicResult, error) {
	query := `INSERT INTO topic_results (group_id, topic_id, report_url, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (group_id) DO UPDATE SET topic_id = EXCLUDED.topic_id, report_url = EXCLUDED.report_url, ` +
		keepScoreForTopic + `, ` + keepNotesForTopic + `, updated_at = EXCLUDED.updated_at
RETURNING ` + resultColumns
	var result models.TopicResult
	if err := r.db.GetContext(ctx, &result, query, groupID, topicID, reportURL, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("upsert topic report: %w", err)
	}
	return &result, nil
}

// UpsertGrade records the lecturer's score and notes. The report link is kept only while the topic is unchanged.
func (r *ResultRepository) UpsertGrade(ctx context.Context, groupID, topicID string, score float64, notes *string) (*models.TopicResult, error) {
	query := `INSERT INTO topic_results (group_id, topic_id, score, notes, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (group_id) DO UPDATE SET topic_id = EXCLUDED.topic_id, score = EXCLUDED.score, notes = EXCLUDED.notes, ` +
		keepReportForTopic + `, updated_at = EXCLUDED.updated_at
RETURNING ` + resultColumns
	var result models.TopicResult
	if err := r.db.GetContext(ctx, &result, query, groupID, topicID, score, notes, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("upsert topic grade: %w", err)
	}
	return &result, nil
}
