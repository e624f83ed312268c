package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	"wisefido-orchestrator/internal/models"
)

// HabitsRepository 习惯画像仓库（实现 habit.ProfileStore）
type HabitsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewHabitsRepository 创建习惯画像仓库
func NewHabitsRepository(db *sql.DB, logger *zap.Logger) *HabitsRepository {
	return &HabitsRepository{
		db:     db,
		logger: logger,
	}
}

// GetProfile 按 (user_id, event_type) 读画像，无记录返回 ErrNotFound
func (r *HabitsRepository) GetProfile(ctx context.Context, userID, eventType string) (*models.HabitProfile, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}
	if eventType == "" {
		return nil, fmt.Errorf("event_type is required")
	}

	query := `
		SELECT
			user_id,
			event_type,
			sample_count,
			mean,
			variance_accum,
			confidence,
			last_updated
		FROM habit_profiles
		WHERE user_id = $1
		  AND event_type = $2
	`

	var profile models.HabitProfile
	err := r.db.QueryRowContext(ctx, query, userID, eventType).Scan(
		&profile.UserID,
		&profile.EventType,
		&profile.Count,
		&profile.Mean,
		&profile.VarianceAccum,
		&profile.Confidence,
		&profile.LastUpdated,
	)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get habit profile: %w", err)
	}

	return &profile, nil
}

// UpsertProfile 写回画像（在线统计量整体覆盖）
func (r *HabitsRepository) UpsertProfile(ctx context.Context, profile *models.HabitProfile) error {
	if profile.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if profile.EventType == "" {
		return fmt.Errorf("event_type is required")
	}

	query := `
		INSERT INTO habit_profiles (
			user_id,
			event_type,
			sample_count,
			mean,
			variance_accum,
			confidence,
			last_updated
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, event_type) DO UPDATE SET
			sample_count = EXCLUDED.sample_count,
			mean = EXCLUDED.mean,
			variance_accum = EXCLUDED.variance_accum,
			confidence = EXCLUDED.confidence,
			last_updated = EXCLUDED.last_updated
	`

	_, err := r.db.ExecContext(ctx, query,
		profile.UserID,
		profile.EventType,
		profile.Count,
		profile.Mean,
		profile.VarianceAccum,
		profile.Confidence,
		profile.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert habit profile: %w", err)
	}

	return nil
}

// ListUserProfiles 列出某用户的全部画像
func (r *HabitsRepository) ListUserProfiles(ctx context.Context, userID string) ([]*models.HabitProfile, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	query := `
		SELECT
			user_id,
			event_type,
			sample_count,
			mean,
			variance_accum,
			confidence,
			last_updated
		FROM habit_profiles
		WHERE user_id = $1
		ORDER BY event_type
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list habit profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*models.HabitProfile
	for rows.Next() {
		var profile models.HabitProfile
		err := rows.Scan(
			&profile.UserID,
			&profile.EventType,
			&profile.Count,
			&profile.Mean,
			&profile.VarianceAccum,
			&profile.Confidence,
			&profile.LastUpdated,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan habit profile: %w", err)
		}
		profiles = append(profiles, &profile)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate habit profiles: %w", err)
	}

	return profiles, nil
}
