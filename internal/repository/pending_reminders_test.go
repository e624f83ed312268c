package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"wisefido-orchestrator/internal/models"
)

func setupMockPendingDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PendingRemindersRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := NewPendingRemindersRepository(db, logger)

	return db, mock, repo
}

func TestEnqueue_Success(t *testing.T) {
	db, mock, repo := setupMockPendingDB(t)
	defer db.Close()

	now := time.Now()
	pending := &models.PendingReminder{
		LocalID:     "local:" + uuid.New().String(),
		Key:         "med:m1:occ0",
		At:          now.Add(time.Hour),
		Payload:     `{"type":"medication"}`,
		Attempts:    0,
		NextRetryAt: now.Add(5 * time.Second),
		CreatedAt:   now,
	}

	mock.ExpectExec(`INSERT INTO pending_reminders`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Enqueue(context.Background(), pending)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueue_Validation(t *testing.T) {
	db, _, repo := setupMockPendingDB(t)
	defer db.Close()

	err := repo.Enqueue(context.Background(), &models.PendingReminder{Key: "k"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "local_id is required")

	err = repo.Enqueue(context.Background(), &models.PendingReminder{LocalID: "local:x"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "key is required")
}

func TestDue_Success(t *testing.T) {
	db, mock, repo := setupMockPendingDB(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"local_id", "reminder_key", "scheduled_at", "payload",
		"attempts", "next_retry_at", "created_at",
	}).AddRow(
		"local:a", "med:m1:occ0", now.Add(time.Hour), `{}`,
		2, now.Add(-time.Second), now.Add(-time.Minute),
	)

	mock.ExpectQuery(`SELECT`).
		WithArgs(sqlmock.AnyArg(), 50).
		WillReturnRows(rows)

	due, err := repo.Due(context.Background(), now, 50)

	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "local:a", due[0].LocalID)
	assert.Equal(t, 2, due[0].Attempts)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateRetry_NotFound(t *testing.T) {
	db, mock, repo := setupMockPendingDB(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE pending_reminders`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateRetry(context.Background(), "local:gone", 3, time.Now().Add(20*time.Second))

	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestDelete_Success(t *testing.T) {
	db, mock, repo := setupMockPendingDB(t)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM pending_reminders`).
		WithArgs("local:a").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Delete(context.Background(), "local:a")

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
