package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"wisefido-orchestrator/internal/models"
)

func setupMockHabitsDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *HabitsRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := NewHabitsRepository(db, logger)

	return db, mock, repo
}

func TestGetProfile_Success(t *testing.T) {
	db, mock, repo := setupMockHabitsDB(t)
	defer db.Close()

	lastUpdated := time.Now()
	rows := sqlmock.NewRows([]string{
		"user_id", "event_type", "sample_count", "mean",
		"variance_accum", "confidence", "last_updated",
	}).AddRow(
		"u1", "wake_up", int64(12), 25200.0, 4400.0, 12.0/17.0, lastUpdated,
	)

	mock.ExpectQuery(`SELECT`).
		WithArgs("u1", "wake_up").
		WillReturnRows(rows)

	profile, err := repo.GetProfile(context.Background(), "u1", "wake_up")

	require.NoError(t, err)
	assert.Equal(t, int64(12), profile.Count)
	assert.InDelta(t, 25200.0, profile.Mean, 1e-9)
	assert.InDelta(t, 4400.0, profile.VarianceAccum, 1e-9)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProfile_NotFound(t *testing.T) {
	db, mock, repo := setupMockHabitsDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).
		WithArgs("u1", "lunch").
		WillReturnError(sql.ErrNoRows)

	profile, err := repo.GetProfile(context.Background(), "u1", "lunch")

	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Nil(t, profile)
}

func TestGetProfile_Validation(t *testing.T) {
	db, _, repo := setupMockHabitsDB(t)
	defer db.Close()

	_, err := repo.GetProfile(context.Background(), "", "wake_up")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "user_id is required")

	_, err = repo.GetProfile(context.Background(), "u1", "")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "event_type is required")
}

func TestUpsertProfile_Success(t *testing.T) {
	db, mock, repo := setupMockHabitsDB(t)
	defer db.Close()

	profile := &models.HabitProfile{
		UserID:        "u1",
		EventType:     "wake_up",
		Count:         13,
		Mean:          25230.5,
		VarianceAccum: 4512.25,
		Confidence:    13.0 / 18.0,
		LastUpdated:   time.Now(),
	}

	mock.ExpectExec(`INSERT INTO habit_profiles`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpsertProfile(context.Background(), profile)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListUserProfiles_Success(t *testing.T) {
	db, mock, repo := setupMockHabitsDB(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"user_id", "event_type", "sample_count", "mean",
		"variance_accum", "confidence", "last_updated",
	}).AddRow(
		"u1", "lunch", int64(5), 43200.0, 900.0, 0.5, now,
	).AddRow(
		"u1", "wake_up", int64(12), 25200.0, 4400.0, 12.0/17.0, now,
	)

	mock.ExpectQuery(`SELECT`).
		WithArgs("u1").
		WillReturnRows(rows)

	profiles, err := repo.ListUserProfiles(context.Background(), "u1")

	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, "lunch", profiles[0].EventType)
	assert.Equal(t, "wake_up", profiles[1].EventType)

	require.NoError(t, mock.ExpectationsWereMet())
}
