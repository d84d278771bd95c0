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
)

const groupColumns = `id, class_id, name, topic_id, created_at, updated_at`

// GroupRepository persists student groups and their memberships.
type GroupRepository struct {
	db *sqlx.DB
}

// NewGroupRepository constructs the repository.
func NewGroupRepository(db *sqlx.DB) *GroupRepository {
	return &GroupRepository{db: db}
}

// FindByID returns a group by identifier.
func (r *GroupRepository) FindByID(ctx context.Context, id string) (*models.Group, error) {
	query := `SELECT ` + groupColumns + ` FROM student_groups WHERE id = $1`
	var group models.Group
	if err := r.db.GetContext(ctx, &group, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find group: %w", err)
	}
	return &group, nil
}

// FindByUserAndClass returns the user's group in a class, or nil when there is none.
func (r *GroupRepository) FindByUserAndClass(ctx context.Context, userID, classID string) (*models.Group, error) {
	const query = `SELECT g.id, g.class_id, g.name, g.topic_id, g.created_at, g.updated_at
FROM student_groups g
JOIN student_group_members m ON m.group_id = g.id
WHERE m.user_id = $1 AND m.class_id = $2
LIMIT 1`
	var group models.Group
	if err := r.db.GetContext(ctx, &group, query, userID, classID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find group for user: %w", err)
	}
	return &group, nil
}

// FindByTopic returns the group holding a topic, or nil.
func (r *GroupRepository) FindByTopic(ctx context.Context, topicID string) (*models.Group, error) {
	query := `SELECT ` + groupColumns + ` FROM student_groups WHERE topic_id = $1`
	var group models.Group
	if err := r.db.GetContext(ctx, &group, query, topicID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find group by topic: %w", err)
	}
	return &group, nil
}

const memberSelect = `SELECT m.group_id, m.user_id, m.class_id, u.full_name, u.student_code, m.joined_at
FROM student_group_members m
JOIN users u ON u.id = m.user_id`

// ListMembers returns the members of a group ordered by join time.
func (r *GroupRepository) ListMembers(ctx context.Context, groupID string) ([]models.GroupMember, error) {
	query := memberSelect + ` WHERE m.group_id = $1 ORDER BY m.joined_at ASC, u.full_name ASC`
	var members []models.GroupMember
	if err := r.db.SelectContext(ctx, &members, query, groupID); err != nil {
		return nil, fmt.Errorf("list group members: %w", err)
	}
	return members, nil
}

// ListMembersByGroupIDs returns members of several groups in one round trip.
func (r *GroupRepository) ListMembersByGroupIDs(ctx context.Context, groupIDs []string) ([]models.GroupMember, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(memberSelect+` WHERE m.group_id IN (?) ORDER BY m.group_id, m.joined_at ASC`, groupIDs)
	if err != nil {
		return nil, fmt.Errorf("build member query: %w", err)
	}
	var members []models.GroupMember
	if err := r.db.SelectContext(ctx, &members, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list members by groups: %w", err)
	}
	return members, nil
}

// IsMember reports whether the user belongs to the group.
func (r *GroupRepository) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	const query = `SELECT 1 FROM student_group_members WHERE group_id = $1 AND user_id = $2 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, groupID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check group member: %w", err)
	}
	return true, nil
}

// Create inserts the group and all its members in one transaction.
func (r *GroupRepository) Create(ctx context.Context, group *models.Group, memberIDs []string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin group transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = insertGroup(ctx, tx, group, memberIDs); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit group: %w", err)
	}
	return nil
}

func insertGroup(ctx context.Context, tx *sqlx.Tx, group *models.Group, memberIDs []string) error {
	if len(memberIDs) == 0 {
		return ErrEmptyGroup
	}
	if group.ID == "" {
		group.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if group.CreatedAt.IsZero() {
		group.CreatedAt = now
	}
	group.UpdatedAt = group.CreatedAt

	const groupQuery = `INSERT INTO student_groups (id, class_id, name, topic_id, created_at, updated_at)
VALUES (:id, :class_id, :name, :topic_id, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, groupQuery, group); err != nil {
		if mapped := translate(err); mapped != err {
			return mapped
		}
		return fmt.Errorf("insert group: %w", err)
	}

	const memberQuery = `INSERT INTO student_group_members (group_id, user_id, class_id, joined_at) VALUES ($1, $2, $3, $4)`
	for _, userID := range memberIDs {
		if _, err := tx.ExecContext(ctx, memberQuery, group.ID, userID, group.ClassID, group.CreatedAt); err != nil {
			if mapped := translate(err); mapped != err {
				return mapped
			}
			return fmt.Errorf("insert group member: %w", err)
		}
	}
	return nil
}

func lockGroup(ctx context.Context, tx *sqlx.Tx, id string) (*models.Group, error) {
	query := `SELECT ` + groupColumns + ` FROM student_groups WHERE id = $1 FOR UPDATE`
	var group models.Group
	if err := tx.GetContext(ctx, &group, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("lock group: %w", err)
	}
	return &group, nil
}

func countMembers(ctx context.Context, tx *sqlx.Tx, groupID string) (int, error) {
	var count int
	if err := tx.GetContext(ctx, &count, `SELECT COUNT(*) FROM student_group_members WHERE group_id = $1`, groupID); err != nil {
		return 0, fmt.Errorf("count group members: %w", err)
	}
	return count, nil
}

// AddMember inserts a membership while holding the group row lock so the capacity
// check and the insert cannot interleave with another join.
func (r *GroupRepository) AddMember(ctx context.Context, groupID, userID string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin join transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	group, err := lockGroup(ctx, tx, groupID)
	if err != nil {
		return err
	}

	if group.HasTopic() {
		var maxMembers int
		if err = tx.GetContext(ctx, &maxMembers, `SELECT max_members FROM topics WHERE id = $1 FOR SHARE`, *group.TopicID); err != nil {
			return fmt.Errorf("load topic capacity: %w", err)
		}
		var count int
		if count, err = countMembers(ctx, tx, groupID); err != nil {
			return err
		}
		if count >= maxMembers {
			err = ErrGroupFull
			return err
		}
	}

	const query = `INSERT INTO student_group_members (group_id, user_id, class_id, joined_at) VALUES ($1, $2, $3, $4)`
	if _, err = tx.ExecContext(ctx, query, groupID, userID, group.ClassID, time.Now().UTC()); err != nil {
		if mapped := translate(err); mapped != err {
			err = mapped
			return err
		}
		return fmt.Errorf("insert group member: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit join: %w", err)
	}
	return nil
}

// LeaveResult describes the effect of removing a member.
type LeaveResult struct {
	Disbanded   bool
	Invalidated []models.SwapRequest
}

// RemoveMember deletes a membership. When the last member leaves, pending swap
// requests touching the group are rejected and the group is deleted in the same transaction.
func (r *GroupRepository) RemoveMember(ctx context.Context, groupID, userID string) (result LeaveResult, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("begin leave transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = lockGroup(ctx, tx, groupID); err != nil {
		return result, err
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM student_group_members WHERE group_id = $1 AND user_id = $2`, groupID, userID)
	if err != nil {
		return result, fmt.Errorf("delete group member: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		err = ErrNotMember
		return result, err
	}

	remaining, err := countMembers(ctx, tx, groupID)
	if err != nil {
		return result, err
	}
	if remaining == 0 {
		if result.Invalidated, err = rejectPendingSwaps(ctx, tx, "", groupID); err != nil {
			return result, err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM student_groups WHERE id = $1`, groupID); err != nil {
			return result, fmt.Errorf("delete empty group: %w", err)
		}
		result.Disbanded = true
	}

	if err = tx.Commit(); err != nil {
		return result, fmt.Errorf("commit leave: %w", err)
	}
	return result, nil
}

// RegisterParams describes a registration attempt. When GroupID is empty a new group
// containing only CreateForUserID is created in the topic's class first.
type RegisterParams struct {
	TopicID         string
	GroupID         string
	CreateForUserID string
	GroupName       *string
	RequireApproved bool
	Now             time.Time
}

// RegisterResult reports the registered group and whether it was created implicitly.
type RegisterResult struct {
	Group   *models.Group
	Created bool
}

// RegisterTopic links a group to a topic. The unique constraint on topic_id is the
// final arbiter when two groups race for the same topic.
func (r *GroupRepository) RegisterTopic(ctx context.Context, params RegisterParams) (result RegisterResult, err error) {
	if params.Now.IsZero() {
		params.Now = time.Now().UTC()
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("begin registration transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var topic models.Topic
	query := `SELECT ` + topicColumns + ` FROM topics WHERE id = $1 FOR SHARE`
	if err = tx.GetContext(ctx, &topic, query, params.TopicID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return result, err
		}
		return result, fmt.Errorf("lock topic: %w", err)
	}
	if params.RequireApproved && topic.ApprovalStatus != models.ApprovalApproved {
		err = ErrTopicNotApproved
		return result, err
	}
	if topic.RegistrationClosed(params.Now) {
		err = ErrRegistrationClosed
		return result, err
	}

	var group *models.Group
	if params.GroupID == "" {
		group = &models.Group{ClassID: topic.ClassID, Name: params.GroupName, CreatedAt: params.Now}
		if err = insertGroup(ctx, tx, group, []string{params.CreateForUserID}); err != nil {
			return result, err
		}
		result.Created = true
	} else if group, err = lockGroup(ctx, tx, params.GroupID); err != nil {
		return result, err
	}

	if group.ClassID != topic.ClassID {
		err = ErrClassMismatch
		return result, err
	}
	if group.HoldsTopic(topic.ID) {
		if err = tx.Commit(); err != nil {
			return result, fmt.Errorf("commit registration: %w", err)
		}
		result.Group = group
		return result, nil
	}
	if group.HasTopic() {
		err = ErrAlreadyRegistered
		return result, err
	}

	count, err := countMembers(ctx, tx, group.ID)
	if err != nil {
		return result, err
	}
	if count > topic.MaxMembers {
		err = ErrOverCapacity
		return result, err
	}

	const update = `UPDATE student_groups SET topic_id = $2, updated_at = $3 WHERE id = $1`
	if _, err = tx.ExecContext(ctx, update, group.ID, topic.ID, params.Now); err != nil {
		if mapped := translate(err); mapped != err {
			err = mapped
			return result, err
		}
		return result, fmt.Errorf("register topic: %w", err)
	}
	group.TopicID = &topic.ID
	group.UpdatedAt = params.Now

	if err = tx.Commit(); err != nil {
		return result, fmt.Errorf("commit registration: %w", err)
	}
	result.Group = group
	return result, nil
}

// CancelResult reports the topic released by a cancellation and the swap requests it invalidated.
type CancelResult struct {
	PreviousTopicID *string
	Invalidated     []models.SwapRequest
}

// ClearTopic removes the group's registration. Clearing an unregistered group succeeds without changes.
func (r *GroupRepository) ClearTopic(ctx context.Context, groupID string, now time.Time) (result CancelResult, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("begin cancel transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	group, err := lockGroup(ctx, tx, groupID)
	if err != nil {
		return result, err
	}
	if group.HasTopic() {
		if _, err = tx.ExecContext(ctx, `UPDATE student_groups SET topic_id = NULL, updated_at = $2 WHERE id = $1`, groupID, now); err != nil {
			return result, fmt.Errorf("clear group topic: %w", err)
		}
		result.PreviousTopicID = group.TopicID
		if result.Invalidated, err = rejectPendingSwaps(ctx, tx, "", groupID); err != nil {
			return result, err
		}
	}

	if err = tx.Commit(); err != nil {
		return result, fmt.Errorf("commit cancel: %w", err)
	}
	return result, nil
}

// DeleteEmpty removes groups left without members by earlier non-transactional writers.
func (r *GroupRepository) DeleteEmpty(ctx context.Context) (int64, error) {
	const query = `DELETE FROM student_groups g
WHERE NOT EXISTS (SELECT 1 FROM student_group_members m WHERE m.group_id = g.id)`
	res, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("delete empty groups: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}
