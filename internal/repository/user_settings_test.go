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

func setupMockUserSettingsDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *UserSettingsRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := NewUserSettingsRepository(db, logger)

	return db, mock, repo
}

func TestGetSettings_Success(t *testing.T) {
	db, mock, repo := setupMockUserSettingsDB(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{
		"user_id", "opt_out_camera", "opt_out_habits", "updated_at",
	}).AddRow("u1", true, false, time.Now())

	mock.ExpectQuery(`SELECT`).
		WithArgs("u1").
		WillReturnRows(rows)

	settings, err := repo.GetSettings(context.Background(), "u1")

	require.NoError(t, err)
	assert.True(t, settings.OptOutCamera)
	assert.False(t, settings.OptOutHabits)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSettings_DefaultWhenMissing(t *testing.T) {
	db, mock, repo := setupMockUserSettingsDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).
		WithArgs("u1").
		WillReturnError(sql.ErrNoRows)

	settings, err := repo.GetSettings(context.Background(), "u1")

	// 没写过偏好不是错误，默认全部参与
	require.NoError(t, err)
	assert.Equal(t, "u1", settings.UserID)
	assert.False(t, settings.OptOutCamera)
	assert.False(t, settings.OptOutHabits)
}

func TestUpsertSettings_Success(t *testing.T) {
	db, mock, repo := setupMockUserSettingsDB(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO user_settings`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpsertSettings(context.Background(), &models.UserSettings{
		UserID:       "u1",
		OptOutCamera: true,
	})

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSettings_Validation(t *testing.T) {
	db, _, repo := setupMockUserSettingsDB(t)
	defer db.Close()

	err := repo.UpsertSettings(context.Background(), &models.UserSettings{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "user_id is required")
}
