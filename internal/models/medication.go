package models

import (
	"time"
)

// MedReminder 状态
const (
	MedReminderPending   = "pending"
	MedReminderFired     = "fired"
	MedReminderConfirmed = "confirmed"
	MedReminderMissed    = "missed"
	MedReminderCancelled = "cancelled" // 重新解析 schedule 时作废的旧提醒
)

// MedRecord 用药记录（对应 med_records 表）
// 上传时创建；除 schedule_text 变更触发重新解析外不可变。
type MedRecord struct {
	MedID             string    `json:"med_id" db:"med_id"`
	UserID            string    `json:"user_id" db:"user_id"`
	MedName           string    `json:"med_name" db:"med_name"`
	Dosage            string    `json:"dosage" db:"dosage"`
	ScheduleText      string    `json:"schedule_text" db:"schedule_text"`
	ParsedOccurrences []time.Time `json:"parsed_occurrences" db:"parsed_occurrences"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// MedReminder 用药提醒（每个解析出的 occurrence 对应一条）
type MedReminder struct {
	ReminderID    string    `json:"reminder_id" db:"reminder_id"`
	MedID         string    `json:"med_id" db:"med_id"`
	UserID        string    `json:"user_id" db:"user_id"`
	ScheduledTime time.Time `json:"scheduled_time" db:"scheduled_time"`
	Status        string    `json:"status" db:"status"` // pending, fired, confirmed, missed, cancelled
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// MedAdherence 用药依从性日志（对应 med_adherence 表）
type MedAdherence struct {
	ID        int64     `json:"id" db:"id"`
	MedID     string    `json:"med_id" db:"med_id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	Taken     bool      `json:"taken" db:"taken"`
}
