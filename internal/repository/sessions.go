package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"wisefido-orchestrator/internal/models"
)

// SessionsRepository 久坐会话归档仓库
type SessionsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSessionsRepository 创建会话仓库
func NewSessionsRepository(db *sql.DB, logger *zap.Logger) *SessionsRepository {
	return &SessionsRepository{
		db:     db,
		logger: logger,
	}
}

// ArchiveSession 归档已解决的会话
func (r *SessionsRepository) ArchiveSession(ctx context.Context, session *models.SedentarySession) error {
	if session.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}
	if session.UserID == "" {
		return fmt.Errorf("user_id is required")
	}

	reminderIDs, err := json.Marshal(session.ScheduledReminderIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal reminder ids: %w", err)
	}

	query := `
		INSERT INTO sedentary_sessions (
			session_id,
			user_id,
			started_at,
			last_posture,
			last_update_at,
			reminder_tier,
			scheduled_reminder_ids,
			state,
			resolved_at,
			resolve_reason,
			returned_after_reminder
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (session_id) DO UPDATE SET
			last_posture = EXCLUDED.last_posture,
			last_update_at = EXCLUDED.last_update_at,
			reminder_tier = EXCLUDED.reminder_tier,
			state = EXCLUDED.state,
			resolved_at = EXCLUDED.resolved_at,
			resolve_reason = EXCLUDED.resolve_reason,
			returned_after_reminder = EXCLUDED.returned_after_reminder
	`

	_, err = r.db.ExecContext(ctx, query,
		session.SessionID,
		session.UserID,
		session.StartedAt,
		session.LastPosture,
		session.LastUpdateAt,
		session.ReminderTier,
		reminderIDs,
		session.State,
		session.ResolvedAt,
		session.ResolveReason,
		session.ReturnedAfterReminder,
	)
	if err != nil {
		return fmt.Errorf("failed to archive session: %w", err)
	}

	return nil
}

// GetSession 按 session_id 查询归档会话
func (r *SessionsRepository) GetSession(ctx context.Context, sessionID string) (*models.SedentarySession, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}

	query := `
		SELECT
			session_id,
			user_id,
			started_at,
			last_posture,
			last_update_at,
			reminder_tier,
			scheduled_reminder_ids,
			state,
			resolved_at,
			resolve_reason,
			returned_after_reminder
		FROM sedentary_sessions
		WHERE session_id = $1
	`

	var session models.SedentarySession
	var reminderIDs []byte
	var resolvedAt sql.NullTime
	var resolveReason sql.NullString

	err := r.db.QueryRowContext(ctx, query, sessionID).Scan(
		&session.SessionID,
		&session.UserID,
		&session.StartedAt,
		&session.LastPosture,
		&session.LastUpdateAt,
		&session.ReminderTier,
		&reminderIDs,
		&session.State,
		&resolvedAt,
		&resolveReason,
		&session.ReturnedAfterReminder,
	)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if len(reminderIDs) > 0 {
		if err := json.Unmarshal(reminderIDs, &session.ScheduledReminderIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal reminder ids: %w", err)
		}
	}
	if resolvedAt.Valid {
		session.ResolvedAt = &resolvedAt.Time
	}
	if resolveReason.Valid {
		session.ResolveReason = &resolveReason.String
	}

	return &session, nil
}

// ListUserSessions 按用户列出归档会话（新到旧）
func (r *SessionsRepository) ListUserSessions(ctx context.Context, userID string, limit int) ([]*models.SedentarySession, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT
			session_id,
			user_id,
			started_at,
			last_posture,
			last_update_at,
			reminder_tier,
			scheduled_reminder_ids,
			state,
			resolved_at,
			resolve_reason,
			returned_after_reminder
		FROM sedentary_sessions
		WHERE user_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.SedentarySession
	for rows.Next() {
		var session models.SedentarySession
		var reminderIDs []byte
		var resolvedAt sql.NullTime
		var resolveReason sql.NullString

		err := rows.Scan(
			&session.SessionID,
			&session.UserID,
			&session.StartedAt,
			&session.LastPosture,
			&session.LastUpdateAt,
			&session.ReminderTier,
			&reminderIDs,
			&session.State,
			&resolvedAt,
			&resolveReason,
			&session.ReturnedAfterReminder,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}

		if len(reminderIDs) > 0 {
			if err := json.Unmarshal(reminderIDs, &session.ScheduledReminderIDs); err != nil {
				return nil, fmt.Errorf("failed to unmarshal reminder ids: %w", err)
			}
		}
		if resolvedAt.Valid {
			session.ResolvedAt = &resolvedAt.Time
		}
		if resolveReason.Valid {
			session.ResolveReason = &resolveReason.String
		}

		sessions = append(sessions, &session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}

	return sessions, nil
}
