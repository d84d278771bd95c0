package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/topic-registry-api/internal/models"
)

const swapColumns = `id, topic_id, requesting_group_id, requested_group_id, status, is_read, created_at, updated_at`

const swapDetailSelect = `SELECT r.id, r.topic_id, r.requesting_group_id, r.requested_group_id, r.status, r.is_read, r.created_at, r.updated_at,
t.name AS topic_name, rg.name AS requesting_group_name, rg.topic_id AS requesting_topic_id,
rt.name AS requesting_topic_name, qg.name AS requested_group_name
FROM topic_swap_requests r
JOIN topics t ON t.id = r.topic_id
JOIN student_groups rg ON rg.id = r.requesting_group_id
JOIN student_groups qg ON qg.id = r.requested_group_id
LEFT JOIN topics rt ON rt.id = rg.topic_id`

// SwapRepository persists topic swap requests and performs the exchange itself.
type SwapRepository struct {
	db *sqlx.DB
}

// NewSwapRepository constructs the repository.
func NewSwapRepository(db *sqlx.DB) *SwapRepository {
	return &SwapRepository{db: db}
}

// Create inserts a pending request. A second pending request for the same tuple returns ErrDuplicateSwap.
func (r *SwapRepository) Create(ctx context.Context, req *models.SwapRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	req.Status = models.SwapPending
	req.IsRead = false
	req.CreatedAt = now
	req.UpdatedAt = now

	const query = `INSERT INTO topic_swap_requests (id, topic_id, requesting_group_id, requested_group_id, status, is_read, created_at, updated_at)
VALUES (:id, :topic_id, :requesting_group_id, :requested_group_id, :status, :is_read, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, req); err != nil {
		if mapped := translate(err); mapped != err {
			return mapped
		}
		return fmt.Errorf("create swap request: %w", err)
	}
	return nil
}

// FindByID returns a request by identifier.
func (r *SwapRepository) FindByID(ctx context.Context, id string) (*models.SwapRequest, error) {
	query := `SELECT ` + swapColumns + ` FROM topic_swap_requests WHERE id = $1`
	var req models.SwapRequest
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find swap request: %w", err)
	}
	return &req, nil
}

// FindDetailByID returns a request joined with its group and topic names.
func (r *SwapRepository) FindDetailByID(ctx context.Context, id string) (*models.SwapRequestDetail, error) {
	query := swapDetailSelect + ` WHERE r.id = $1`
	var detail models.SwapRequestDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find swap request detail: %w", err)
	}
	return &detail, nil
}

// ListByGroup returns every request where the group is either party, newest first.
func (r *SwapRepository) ListByGroup(ctx context.Context, groupID string) ([]models.SwapRequestDetail, error) {
	query := swapDetailSelect + ` WHERE r.requesting_group_id = $1 OR r.requested_group_id = $1 ORDER BY r.created_at DESC`
	var details []models.SwapRequestDetail
	if err := r.db.SelectContext(ctx, &details, query, groupID); err != nil {
		return nil, fmt.Errorf("list swap requests: %w", err)
	}
	return details, nil
}

// ApproveResult captures the state after a successful exchange.
type ApproveResult struct {
	Request     models.SwapRequest
	Requesting  models.Group
	Requested   models.Group
	Invalidated []models.SwapRequest
}

// Approve exchanges the two groups' topics and marks the request approved in one
// transaction. When the pairing no longer holds the request is rejected, committed,
// and ErrSwapStale is returned alongside the rejected request.
func (r *SwapRepository) Approve(ctx context.Context, id string) (result ApproveResult, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("begin swap transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// Groups are locked before the request row, the order RemoveMember and ClearTopic
	// take when they reject pending requests. A request's group ids never change.
	req, err := readSwap(ctx, tx, id, false)
	if err != nil {
		return result, err
	}
	if !req.IsPending() {
		err = ErrNotPending
		return result, err
	}

	requesting, requested, err := lockGroupPair(ctx, tx, req.RequestingGroupID, req.RequestedGroupID)
	if err != nil {
		return result, err
	}
	if req, err = readSwap(ctx, tx, id, true); err != nil {
		return result, err
	}
	if !req.IsPending() {
		err = ErrNotPending
		return result, err
	}

	now := time.Now().UTC()
	if swapIsStale(req, requesting, requested) {
		if err = setSwapStatus(ctx, tx, req, models.SwapRejected, now); err != nil {
			return result, err
		}
		if err = tx.Commit(); err != nil {
			return result, fmt.Errorf("commit stale swap: %w", err)
		}
		result.Request = *req
		return result, ErrSwapStale
	}

	heldByRequesting := *requesting.TopicID
	heldByRequested := *requested.TopicID

	const clear = `UPDATE student_groups SET topic_id = NULL, updated_at = $2 WHERE id = $1`
	const assign = `UPDATE student_groups SET topic_id = $2, updated_at = $3 WHERE id = $1`
	if _, err = tx.ExecContext(ctx, clear, requesting.ID, now); err != nil {
		return result, fmt.Errorf("release requesting topic: %w", err)
	}
	if _, err = tx.ExecContext(ctx, assign, requested.ID, heldByRequesting, now); err != nil {
		return result, fmt.Errorf("assign requested group topic: %w", err)
	}
	if _, err = tx.ExecContext(ctx, assign, requesting.ID, heldByRequested, now); err != nil {
		return result, fmt.Errorf("assign requesting group topic: %w", err)
	}

	if err = setSwapStatus(ctx, tx, req, models.SwapApproved, now); err != nil {
		return result, err
	}
	if result.Invalidated, err = rejectPendingSwaps(ctx, tx, req.ID, requesting.ID, requested.ID); err != nil {
		return result, err
	}

	if err = tx.Commit(); err != nil {
		return result, fmt.Errorf("commit swap: %w", err)
	}

	requesting.TopicID = &heldByRequested
	requested.TopicID = &heldByRequesting
	requesting.UpdatedAt = now
	requested.UpdatedAt = now
	result.Request = *req
	result.Requesting = *requesting
	result.Requested = *requested
	return result, nil
}

// Reject resolves a pending request without touching registrations.
func (r *SwapRepository) Reject(ctx context.Context, id string) (*models.SwapRequest, error) {
	query := `UPDATE topic_swap_requests SET status = 'REJECTED', updated_at = $2
WHERE id = $1 AND status = 'PENDING'
RETURNING ` + swapColumns
	var req models.SwapRequest
	if err := r.db.GetContext(ctx, &req, query, id, time.Now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, r.notPendingOrMissing(ctx, id)
		}
		return nil, fmt.Errorf("reject swap request: %w", err)
	}
	return &req, nil
}

// DeletePending removes a request that has not been resolved yet.
func (r *SwapRepository) DeletePending(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM topic_swap_requests WHERE id = $1 AND status = 'PENDING'`, id)
	if err != nil {
		return fmt.Errorf("delete swap request: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return r.notPendingOrMissing(ctx, id)
	}
	return nil
}

// MarkRead flags the request as seen by the requested group.
func (r *SwapRepository) MarkRead(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE topic_swap_requests SET is_read = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark swap request read: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RejectStale rejects every pending request whose pairing no longer holds.
func (r *SwapRepository) RejectStale(ctx context.Context) ([]models.SwapRequest, error) {
	const query = `UPDATE topic_swap_requests r SET status = 'REJECTED', updated_at = $1
FROM student_groups rg, student_groups qg
WHERE r.status = 'PENDING'
  AND rg.id = r.requesting_group_id
  AND qg.id = r.requested_group_id
  AND (qg.topic_id IS DISTINCT FROM r.topic_id OR rg.topic_id IS NULL OR rg.topic_id = r.topic_id)
RETURNING r.id, r.topic_id, r.requesting_group_id, r.requested_group_id, r.status, r.is_read, r.created_at, r.updated_at`
	var rejected []models.SwapRequest
	if err := r.db.SelectContext(ctx, &rejected, query, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("reject stale swap requests: %w", err)
	}
	return rejected, nil
}

func (r *SwapRepository) notPendingOrMissing(ctx context.Context, id string) error {
	if _, err := r.FindByID(ctx, id); err != nil {
		return err
	}
	return ErrNotPending
}

func readSwap(ctx context.Context, tx *sqlx.Tx, id string, lock bool) (*models.SwapRequest, error) {
	query := `SELECT ` + swapColumns + ` FROM topic_swap_requests WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var req models.SwapRequest
	if err := tx.GetContext(ctx, &req, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("read swap request: %w", err)
	}
	return &req, nil
}

// lockGroupPair locks both groups in id order so concurrent swaps cannot deadlock.
func lockGroupPair(ctx context.Context, tx *sqlx.Tx, requestingID, requestedID string) (*models.Group, *models.Group, error) {
	query := `SELECT ` + groupColumns + ` FROM student_groups WHERE id IN ($1, $2) ORDER BY id FOR UPDATE`
	var groups []models.Group
	if err := tx.SelectContext(ctx, &groups, query, requestingID, requestedID); err != nil {
		return nil, nil, fmt.Errorf("lock swap groups: %w", err)
	}
	var requesting, requested *models.Group
	for i := range groups {
		switch groups[i].ID {
		case requestingID:
			requesting = &groups[i]
		case requestedID:
			requested = &groups[i]
		}
	}
	if requesting == nil || requested == nil {
		return nil, nil, sql.ErrNoRows
	}
	return requesting, requested, nil
}

func swapIsStale(req *models.SwapRequest, requesting, requested *models.Group) bool {
	if !requesting.HasTopic() || !requested.HoldsTopic(req.TopicID) {
		return true
	}
	return requesting.HoldsTopic(req.TopicID)
}

func setSwapStatus(ctx context.Context, tx *sqlx.Tx, req *models.SwapRequest, status models.SwapStatus, now time.Time) error {
	const query = `UPDATE topic_swap_requests SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, req.ID, status, now); err != nil {
		return fmt.Errorf("update swap status: %w", err)
	}
	req.Status = status
	req.UpdatedAt = now
	return nil
}

// rejectPendingSwaps invalidates pending requests touching any of the groups, except excludeID.
func rejectPendingSwaps(ctx context.Context, tx *sqlx.Tx, excludeID string, groupIDs ...string) ([]models.SwapRequest, error) {
	query := `UPDATE topic_swap_requests SET status = 'REJECTED', updated_at = $1
WHERE status = 'PENDING' AND (requesting_group_id = ANY($2::uuid[]) OR requested_group_id = ANY($2::uuid[]))`
	args := []interface{}{time.Now().UTC(), pq.Array(groupIDs)}
	if excludeID != "" {
		query += ` AND id <> $3`
		args = append(args, excludeID)
	}
	query += ` RETURNING ` + swapColumns

	var rejected []models.SwapRequest
	if err := tx.SelectContext(ctx, &rejected, query, args...); err != nil {
		return nil, fmt.Errorf("invalidate pending swaps: %w", err)
	}
	return rejected, nil
}
