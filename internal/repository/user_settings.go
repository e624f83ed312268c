package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	"wisefido-orchestrator/internal/models"
)

// UserSettingsRepository 用户偏好仓库（摄像头/习惯分析退出开关）
type UserSettingsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewUserSettingsRepository 创建用户偏好仓库
func NewUserSettingsRepository(db *sql.DB, logger *zap.Logger) *UserSettingsRepository {
	return &UserSettingsRepository{
		db:     db,
		logger: logger,
	}
}

// GetSettings 读用户偏好，无记录时返回默认（全部参与）
func (r *UserSettingsRepository) GetSettings(ctx context.Context, userID string) (*models.UserSettings, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	query := `
		SELECT
			user_id,
			opt_out_camera,
			opt_out_habits,
			updated_at
		FROM user_settings
		WHERE user_id = $1
	`

	var settings models.UserSettings
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&settings.UserID,
		&settings.OptOutCamera,
		&settings.OptOutHabits,
		&settings.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		// 没写过偏好的用户按默认参与处理
		return &models.UserSettings{UserID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user settings: %w", err)
	}

	return &settings, nil
}

// UpsertSettings 写用户偏好
func (r *UserSettingsRepository) UpsertSettings(ctx context.Context, settings *models.UserSettings) error {
	if settings.UserID == "" {
		return fmt.Errorf("user_id is required")
	}

	query := `
		INSERT INTO user_settings (
			user_id,
			opt_out_camera,
			opt_out_habits,
			updated_at
		) VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			opt_out_camera = EXCLUDED.opt_out_camera,
			opt_out_habits = EXCLUDED.opt_out_habits,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		settings.UserID,
		settings.OptOutCamera,
		settings.OptOutHabits,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert user settings: %w", err)
	}

	return nil
}
