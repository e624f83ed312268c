package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	"wisefido-orchestrator/internal/models"
)

// PendingRemindersRepository 降级提醒队列仓库（实现 scheduler.PendingStore）
//
// 提醒服务不可用时排期请求落到这张表，由后台重试循环消费。
type PendingRemindersRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPendingRemindersRepository 创建降级队列仓库
func NewPendingRemindersRepository(db *sql.DB, logger *zap.Logger) *PendingRemindersRepository {
	return &PendingRemindersRepository{
		db:     db,
		logger: logger,
	}
}

// Enqueue 入队一条降级提醒
func (r *PendingRemindersRepository) Enqueue(ctx context.Context, pending *models.PendingReminder) error {
	if pending.LocalID == "" {
		return fmt.Errorf("local_id is required")
	}
	if pending.Key == "" {
		return fmt.Errorf("key is required")
	}

	query := `
		INSERT INTO pending_reminders (
			local_id,
			reminder_key,
			scheduled_at,
			payload,
			attempts,
			next_retry_at,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		pending.LocalID,
		pending.Key,
		pending.At,
		pending.Payload,
		pending.Attempts,
		pending.NextRetryAt,
		pending.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue pending reminder: %w", err)
	}

	return nil
}

// Due 取到期待重试的行（按重试时间升序）
func (r *PendingRemindersRepository) Due(ctx context.Context, now time.Time, limit int) ([]*models.PendingReminder, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT
			local_id,
			reminder_key,
			scheduled_at,
			payload,
			attempts,
			next_retry_at,
			created_at
		FROM pending_reminders
		WHERE next_retry_at <= $1
		ORDER BY next_retry_at ASC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load due reminders: %w", err)
	}
	defer rows.Close()

	var due []*models.PendingReminder
	for rows.Next() {
		var pending models.PendingReminder
		err := rows.Scan(
			&pending.LocalID,
			&pending.Key,
			&pending.At,
			&pending.Payload,
			&pending.Attempts,
			&pending.NextRetryAt,
			&pending.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending reminder: %w", err)
		}
		due = append(due, &pending)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending reminders: %w", err)
	}

	return due, nil
}

// UpdateRetry 重试失败后回写尝试次数与下次重试时间
func (r *PendingRemindersRepository) UpdateRetry(ctx context.Context, localID string, attempts int, nextRetryAt time.Time) error {
	if localID == "" {
		return fmt.Errorf("local_id is required")
	}

	query := `
		UPDATE pending_reminders
		SET attempts = $2,
		    next_retry_at = $3
		WHERE local_id = $1
	`

	result, err := r.db.ExecContext(ctx, query, localID, attempts, nextRetryAt)
	if err != nil {
		return fmt.Errorf("failed to update retry state: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return models.ErrNotFound
	}

	return nil
}

// Delete 删除队列行（换入远端成功或 key 已不再需要）
func (r *PendingRemindersRepository) Delete(ctx context.Context, localID string) error {
	if localID == "" {
		return fmt.Errorf("local_id is required")
	}

	query := `DELETE FROM pending_reminders WHERE local_id = $1`

	if _, err := r.db.ExecContext(ctx, query, localID); err != nil {
		return fmt.Errorf("failed to delete pending reminder: %w", err)
	}

	return nil
}
