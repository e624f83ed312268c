package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"wisefido-orchestrator/internal/models"
)

// MedicationsRepository 用药记录与用药提醒仓库
type MedicationsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewMedicationsRepository 创建用药仓库
func NewMedicationsRepository(db *sql.DB, logger *zap.Logger) *MedicationsRepository {
	return &MedicationsRepository{
		db:     db,
		logger: logger,
	}
}

// ============================================
// 用药记录
// ============================================

// CreateMedRecord 新建用药记录
//
// 排期文本解析失败时 ParsedOccurrences 为空，记录照常入库。
func (r *MedicationsRepository) CreateMedRecord(ctx context.Context, record *models.MedRecord) error {
	if record.MedID == "" {
		return fmt.Errorf("med_id is required")
	}
	if record.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if record.MedName == "" {
		return fmt.Errorf("med_name is required")
	}

	occurrences, err := json.Marshal(record.ParsedOccurrences)
	if err != nil {
		return fmt.Errorf("failed to marshal occurrences: %w", err)
	}

	query := `
		INSERT INTO med_records (
			med_id,
			user_id,
			med_name,
			dosage,
			schedule_text,
			parsed_occurrences,
			created_at,
			updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = r.db.ExecContext(ctx, query,
		record.MedID,
		record.UserID,
		record.MedName,
		record.Dosage,
		record.ScheduleText,
		occurrences,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create med record: %w", err)
	}

	return nil
}

// GetMedRecord 按 med_id 查询用药记录
func (r *MedicationsRepository) GetMedRecord(ctx context.Context, medID string) (*models.MedRecord, error) {
	if medID == "" {
		return nil, fmt.Errorf("med_id is required")
	}

	query := `
		SELECT
			med_id,
			user_id,
			med_name,
			dosage,
			schedule_text,
			parsed_occurrences,
			created_at,
			updated_at
		FROM med_records
		WHERE med_id = $1
	`

	var record models.MedRecord
	var occurrences []byte

	err := r.db.QueryRowContext(ctx, query, medID).Scan(
		&record.MedID,
		&record.UserID,
		&record.MedName,
		&record.Dosage,
		&record.ScheduleText,
		&occurrences,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get med record: %w", err)
	}

	if len(occurrences) > 0 {
		if err := json.Unmarshal(occurrences, &record.ParsedOccurrences); err != nil {
			return nil, fmt.Errorf("failed to unmarshal occurrences: %w", err)
		}
	}

	return &record, nil
}

// UpdateMedSchedule 重解析后回写排期文本与新的发生序列
func (r *MedicationsRepository) UpdateMedSchedule(ctx context.Context, medID, scheduleText string, parsed []time.Time) error {
	if medID == "" {
		return fmt.Errorf("med_id is required")
	}

	occurrences, err := json.Marshal(parsed)
	if err != nil {
		return fmt.Errorf("failed to marshal occurrences: %w", err)
	}

	query := `
		UPDATE med_records
		SET schedule_text = $2,
		    parsed_occurrences = $3,
		    updated_at = $4
		WHERE med_id = $1
	`

	result, err := r.db.ExecContext(ctx, query, medID, scheduleText, occurrences, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update med schedule: %w", err)
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

// ============================================
// 用药提醒
// ============================================

// CreateMedReminder 新建一条用药提醒
func (r *MedicationsRepository) CreateMedReminder(ctx context.Context, reminder *models.MedReminder) error {
	if reminder.ReminderID == "" {
		return fmt.Errorf("reminder_id is required")
	}
	if reminder.MedID == "" {
		return fmt.Errorf("med_id is required")
	}

	query := `
		INSERT INTO med_reminders (
			reminder_id,
			med_id,
			user_id,
			scheduled_time,
			status,
			created_at,
			updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		reminder.ReminderID,
		reminder.MedID,
		reminder.UserID,
		reminder.ScheduledTime,
		reminder.Status,
		reminder.CreatedAt,
		reminder.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create med reminder: %w", err)
	}

	return nil
}

// ListPendingReminders 列出某用药的待投递提醒（按时间升序）
func (r *MedicationsRepository) ListPendingReminders(ctx context.Context, medID string) ([]*models.MedReminder, error) {
	if medID == "" {
		return nil, fmt.Errorf("med_id is required")
	}

	query := `
		SELECT
			reminder_id,
			med_id,
			user_id,
			scheduled_time,
			status,
			created_at,
			updated_at
		FROM med_reminders
		WHERE med_id = $1
		  AND status = $2
		ORDER BY scheduled_time ASC
	`

	rows, err := r.db.QueryContext(ctx, query, medID, models.MedReminderPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending reminders: %w", err)
	}
	defer rows.Close()

	var reminders []*models.MedReminder
	for rows.Next() {
		var reminder models.MedReminder
		err := rows.Scan(
			&reminder.ReminderID,
			&reminder.MedID,
			&reminder.UserID,
			&reminder.ScheduledTime,
			&reminder.Status,
			&reminder.CreatedAt,
			&reminder.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan med reminder: %w", err)
		}
		reminders = append(reminders, &reminder)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate med reminders: %w", err)
	}

	return reminders, nil
}

// UpdateReminderStatus 更新单条提醒状态
func (r *MedicationsRepository) UpdateReminderStatus(ctx context.Context, reminderID, status string) error {
	if reminderID == "" {
		return fmt.Errorf("reminder_id is required")
	}

	query := `
		UPDATE med_reminders
		SET status = $2,
		    updated_at = $3
		WHERE reminder_id = $1
	`

	result, err := r.db.ExecContext(ctx, query, reminderID, status, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update reminder status: %w", err)
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

// EarliestPendingReminder 取某用药最早的待投递提醒（投递回调翻转用）
func (r *MedicationsRepository) EarliestPendingReminder(ctx context.Context, medID string) (*models.MedReminder, error) {
	if medID == "" {
		return nil, fmt.Errorf("med_id is required")
	}

	query := `
		SELECT
			reminder_id,
			med_id,
			user_id,
			scheduled_time,
			status,
			created_at,
			updated_at
		FROM med_reminders
		WHERE med_id = $1
		  AND status = $2
		ORDER BY scheduled_time ASC
		LIMIT 1
	`

	var reminder models.MedReminder
	err := r.db.QueryRowContext(ctx, query, medID, models.MedReminderPending).Scan(
		&reminder.ReminderID,
		&reminder.MedID,
		&reminder.UserID,
		&reminder.ScheduledTime,
		&reminder.Status,
		&reminder.CreatedAt,
		&reminder.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending reminder: %w", err)
	}

	return &reminder, nil
}

// EarliestOpenReminder 取某用药最早的已投递或待投递提醒（确认用）
func (r *MedicationsRepository) EarliestOpenReminder(ctx context.Context, medID string) (*models.MedReminder, error) {
	if medID == "" {
		return nil, fmt.Errorf("med_id is required")
	}

	query := `
		SELECT
			reminder_id,
			med_id,
			user_id,
			scheduled_time,
			status,
			created_at,
			updated_at
		FROM med_reminders
		WHERE med_id = $1
		  AND status IN ($2, $3)
		ORDER BY
			CASE status WHEN $2 THEN 0 ELSE 1 END,
			scheduled_time ASC
		LIMIT 1
	`

	var reminder models.MedReminder
	err := r.db.QueryRowContext(ctx, query, medID, models.MedReminderFired, models.MedReminderPending).Scan(
		&reminder.ReminderID,
		&reminder.MedID,
		&reminder.UserID,
		&reminder.ScheduledTime,
		&reminder.Status,
		&reminder.CreatedAt,
		&reminder.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open reminder: %w", err)
	}

	return &reminder, nil
}

// ============================================
// 服药记录
// ============================================

// InsertAdherence 写一条服药记录
func (r *MedicationsRepository) InsertAdherence(ctx context.Context, entry *models.MedAdherence) error {
	if entry.MedID == "" {
		return fmt.Errorf("med_id is required")
	}
	if entry.UserID == "" {
		return fmt.Errorf("user_id is required")
	}

	query := `
		INSERT INTO med_adherence (
			med_id,
			user_id,
			taken,
			recorded_at
		) VALUES ($1, $2, $3, $4)
	`

	_, err := r.db.ExecContext(ctx, query,
		entry.MedID,
		entry.UserID,
		entry.Taken,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert adherence entry: %w", err)
	}

	return nil
}
