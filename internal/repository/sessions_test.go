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

func setupMockSessionsDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *SessionsRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := NewSessionsRepository(db, logger)

	return db, mock, repo
}

func TestArchiveSession_Success(t *testing.T) {
	db, mock, repo := setupMockSessionsDB(t)
	defer db.Close()

	ctx := context.Background()
	reason := models.ResolveReasonMovement
	resolvedAt := time.Now()
	session := &models.SedentarySession{
		SessionID:             uuid.New().String(),
		UserID:                "u1",
		StartedAt:             time.Now().Add(-45 * time.Minute),
		LastPosture:           models.PostureStanding,
		LastUpdateAt:          time.Now(),
		ReminderTier:          1,
		ScheduledReminderIDs:  []string{"r-1", "r-2", "r-3"},
		State:                 models.SessionStateResolved,
		ResolvedAt:            &resolvedAt,
		ResolveReason:         &reason,
		ReturnedAfterReminder: true,
	}

	mock.ExpectExec(`INSERT INTO sedentary_sessions`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.ArchiveSession(ctx, session)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveSession_Validation(t *testing.T) {
	db, _, repo := setupMockSessionsDB(t)
	defer db.Close()

	err := repo.ArchiveSession(context.Background(), &models.SedentarySession{UserID: "u1"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "session_id is required")

	err = repo.ArchiveSession(context.Background(), &models.SedentarySession{SessionID: "s1"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "user_id is required")
}

func TestGetSession_Success(t *testing.T) {
	db, mock, repo := setupMockSessionsDB(t)
	defer db.Close()

	ctx := context.Background()
	sessionID := uuid.New().String()
	startedAt := time.Now().Add(-time.Hour)
	lastUpdateAt := time.Now()
	resolvedAt := time.Now()

	rows := sqlmock.NewRows([]string{
		"session_id", "user_id", "started_at", "last_posture", "last_update_at",
		"reminder_tier", "scheduled_reminder_ids", "state", "resolved_at",
		"resolve_reason", "returned_after_reminder",
	}).AddRow(
		sessionID, "u1", startedAt, "standing", lastUpdateAt,
		2, `["r-1","r-2","r-3"]`, "resolved", resolvedAt,
		"movement", true,
	)

	mock.ExpectQuery(`SELECT`).
		WithArgs(sessionID).
		WillReturnRows(rows)

	session, err := repo.GetSession(ctx, sessionID)

	require.NoError(t, err)
	assert.Equal(t, sessionID, session.SessionID)
	assert.Equal(t, "u1", session.UserID)
	assert.Equal(t, 2, session.ReminderTier)
	assert.Equal(t, []string{"r-1", "r-2", "r-3"}, session.ScheduledReminderIDs)
	require.NotNil(t, session.ResolveReason)
	assert.Equal(t, models.ResolveReasonMovement, *session.ResolveReason)
	assert.True(t, session.ReturnedAfterReminder)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSession_NotFound(t *testing.T) {
	db, mock, repo := setupMockSessionsDB(t)
	defer db.Close()

	sessionID := uuid.New().String()
	mock.ExpectQuery(`SELECT`).
		WithArgs(sessionID).
		WillReturnError(sql.ErrNoRows)

	session, err := repo.GetSession(context.Background(), sessionID)

	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Nil(t, session)
}

func TestListUserSessions_Success(t *testing.T) {
	db, mock, repo := setupMockSessionsDB(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"session_id", "user_id", "started_at", "last_posture", "last_update_at",
		"reminder_tier", "scheduled_reminder_ids", "state", "resolved_at",
		"resolve_reason", "returned_after_reminder",
	}).AddRow(
		"s-2", "u1", now.Add(-time.Hour), "standing", now,
		0, `[]`, "resolved", now, "movement", false,
	).AddRow(
		"s-1", "u1", now.Add(-3*time.Hour), "walking", now.Add(-2*time.Hour),
		3, `["r-1"]`, "resolved", now.Add(-2*time.Hour), "exhausted", false,
	)

	mock.ExpectQuery(`SELECT`).
		WithArgs("u1", 10).
		WillReturnRows(rows)

	sessions, err := repo.ListUserSessions(context.Background(), "u1", 10)

	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "s-2", sessions[0].SessionID)
	assert.Equal(t, 3, sessions[1].ReminderTier)

	require.NoError(t, mock.ExpectationsWereMet())
}
