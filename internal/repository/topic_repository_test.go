package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/topic-registry-api/internal/models"
)

func TestListTopicsByClassIncludesHolder(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTopicRepository(db)

	now := time.Now()
	cols := append(append([]string{}, topicCols...), "group_id", "group_name")
	rows := sqlmock.NewRows(cols).
		AddRow("t1", "c1", "l1", "Alpha", "", 2, nil, nil, nil, "APPROVED", now, now, "g1", "Team A").
		AddRow("t2", "c1", "l1", "Beta", "", 3, nil, nil, nil, "APPROVED", now, now, nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("LEFT JOIN student_groups g ON g.topic_id = t.id WHERE t.class_id = $1")).
		WithArgs("c1").
		WillReturnRows(rows)

	topics, err := repo.ListByClass(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, topics, 2)
	require.NotNil(t, topics[0].GroupID)
	assert.Equal(t, "g1", *topics[0].GroupID)
	assert.Nil(t, topics[1].GroupID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTopicDefaultsToPending(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTopicRepository(db)

	mock.ExpectExec("INSERT INTO topics").WillReturnResult(sqlmock.NewResult(1, 1))

	topic := &models.Topic{ClassID: "c1", LecturerID: "l1", Name: "Alpha", MaxMembers: 2}
	require.NoError(t, repo.Create(context.Background(), topic))
	assert.Equal(t, models.ApprovalPending, topic.ApprovalStatus)
	assert.NotEmpty(t, topic.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTopicBelowHolderSize(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTopicRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM topics WHERE id = $1 FOR UPDATE")).
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(m.user_id)")).
		WithArgs("t1").
		WillReturnRows(countRow(3))
	mock.ExpectRollback()

	err := repo.Update(context.Background(), &models.Topic{ID: "t1", Name: "Alpha", MaxMembers: 2})
	assert.ErrorIs(t, err, ErrOverCapacity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteTopicBlockedWhileHeld(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTopicRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM topics WHERE id = $1 FOR UPDATE")).
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	err := repo.Delete(context.Background(), "t1")
	assert.ErrorIs(t, err, ErrTopicRegistered)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteUnheldTopic(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTopicRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM topics WHERE id = $1")).
		WithArgs("t1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Delete(context.Background(), "t1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
