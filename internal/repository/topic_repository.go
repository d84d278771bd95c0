package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/topic-registry-api/internal/models"
	"github.com/noah-isme/topic-registry-api/pkg/database"
)

const topicColumns = `id, class_id, lecturer_id, name, description, max_members, registration_deadline,
submission_deadline, approval_deadline, approval_status, created_at, updated_at`

const topicRegistrationSelect = `SELECT t.id, t.class_id, t.lecturer_id, t.name, t.description, t.max_members,
t.registration_deadline, t.submission_deadline, t.approval_deadline, t.approval_status, t.created_at, t.updated_at,
g.id AS group_id, g.name AS group_name
FROM topics t
LEFT JOIN student_groups g ON g.topic_id = t.id`

// TopicRepository persists topics.
type TopicRepository struct {
	db *sqlx.DB
}

// NewTopicRepository constructs the repository.
func NewTopicRepository(db *sqlx.DB) *TopicRepository {
	return &TopicRepository{db: db}
}

// FindByID returns a topic by identifier.
func (r *TopicRepository) FindByID(ctx context.Context, id string) (*models.Topic, error) {
	query := `SELECT ` + topicColumns + ` FROM topics WHERE id = $1`
	var topic models.Topic
	if err := r.db.GetContext(ctx, &topic, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find topic: %w", err)
	}
	return &topic, nil
}

// ListByClass returns every topic of a class with the group holding it, if any.
func (r *TopicRepository) ListByClass(ctx context.Context, classID string) ([]models.TopicRegistrationRow, error) {
	query := topicRegistrationSelect + ` WHERE t.class_id = $1 ORDER BY t.name ASC`
	var rows []models.TopicRegistrationRow
	if err := r.db.SelectContext(ctx, &rows, query, classID); err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	return rows, nil
}

// FindRegistrationByID returns one topic with its registered group.
func (r *TopicRepository) FindRegistrationByID(ctx context.Context, id string) (*models.TopicRegistrationRow, error) {
	query := topicRegistrationSelect + ` WHERE t.id = $1`
	var row models.TopicRegistrationRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find topic registration: %w", err)
	}
	return &row, nil
}

// Create inserts a topic.
func (r *TopicRepository) Create(ctx context.Context, topic *models.Topic) error {
	if topic.ID == "" {
		topic.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	topic.CreatedAt = now
	topic.UpdatedAt = now
	if topic.ApprovalStatus == "" {
		topic.ApprovalStatus = models.ApprovalPending
	}

	const query = `INSERT INTO topics (id, class_id, lecturer_id, name, description, max_members, registration_deadline,
submission_deadline, approval_deadline, approval_status, created_at, updated_at)
VALUES (:id, :class_id, :lecturer_id, :name, :description, :max_members, :registration_deadline,
:submission_deadline, :approval_deadline, :approval_status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, topic); err != nil {
		if database.IsForeignKeyViolation(err) {
			return ErrReferenceMissing
		}
		return fmt.Errorf("create topic: %w", err)
	}
	return nil
}

// Update rewrites the editable fields. Lowering max_members below the size of the
// group holding the topic returns ErrOverCapacity.
func (r *TopicRepository) Update(ctx context.Context, topic *models.Topic) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin topic update: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var exists int
	if err = tx.GetContext(ctx, &exists, `SELECT 1 FROM topics WHERE id = $1 FOR UPDATE`, topic.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return fmt.Errorf("lock topic: %w", err)
	}

	const sizeQuery = `SELECT COUNT(m.user_id)
FROM student_groups g
JOIN student_group_members m ON m.group_id = g.id
WHERE g.topic_id = $1`
	var holderSize int
	if err = tx.GetContext(ctx, &holderSize, sizeQuery, topic.ID); err != nil {
		return fmt.Errorf("count holder members: %w", err)
	}
	if holderSize > topic.MaxMembers {
		err = ErrOverCapacity
		return err
	}

	topic.UpdatedAt = time.Now().UTC()
	const query = `UPDATE topics SET name = :name, description = :description, max_members = :max_members,
registration_deadline = :registration_deadline, submission_deadline = :submission_deadline,
approval_deadline = :approval_deadline, updated_at = :updated_at
WHERE id = :id`
	if _, err = tx.NamedExecContext(ctx, query, topic); err != nil {
		return fmt.Errorf("update topic: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit topic update: %w", err)
	}
	return nil
}

// Delete removes a topic unless a group holds it.
func (r *TopicRepository) Delete(ctx context.Context, id string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin topic delete: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var exists int
	if err = tx.GetContext(ctx, &exists, `SELECT 1 FROM topics WHERE id = $1 FOR UPDATE`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return fmt.Errorf("lock topic: %w", err)
	}

	var held bool
	if err = tx.GetContext(ctx, &held, `SELECT EXISTS (SELECT 1 FROM student_groups WHERE topic_id = $1)`, id); err != nil {
		return fmt.Errorf("check topic holder: %w", err)
	}
	if held {
		err = ErrTopicRegistered
		return err
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM topics WHERE id = $1`, id); err != nil {
		if database.IsForeignKeyViolation(err, constraintGroupTopicClassFK) {
			err = ErrTopicRegistered
			return err
		}
		return fmt.Errorf("delete topic: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit topic delete: %w", err)
	}
	return nil
}

// SetApproval updates the approval status and returns the updated topic.
func (r *TopicRepository) SetApproval(ctx context.Context, id string, status models.ApprovalStatus) (*models.Topic, error) {
	query := `UPDATE topics SET approval_status = $2, updated_at = $3 WHERE id = $1 RETURNING ` + topicColumns
	var topic models.Topic
	if err := r.db.GetContext(ctx, &topic, query, id, status, time.Now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("set topic approval: %w", err)
	}
	return &topic, nil
}
