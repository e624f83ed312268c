package models

import (
	"time"
)

// 久坐会话状态
const (
	SessionStateActive   = "active"
	SessionStateResolved = "resolved"
)

// 会话解除原因
const (
	ResolveReasonMovement  = "movement"   // 摄像头上报 standing/walking
	ResolveReasonStale     = "stale"      // 超时无上报，视为隐式起身
	ResolveReasonExhausted = "exhausted"  // 第三级提醒已触发且无后续上报
)

// SedentarySession 久坐会话（每用户同一时刻至多一个非终态会话）
//
// reminder_tier 表示已触发的最高提醒级别（0 表示尚未触发任何提醒）。
// ScheduledReminderIDs 按级别 1..3 记录已安排的提醒 ID。
type SedentarySession struct {
	SessionID            string     `json:"session_id" db:"session_id"`
	UserID               string     `json:"user_id" db:"user_id"`
	StartedAt            time.Time  `json:"started_at" db:"started_at"`
	LastPosture          string     `json:"last_posture" db:"last_posture"`
	LastUpdateAt         time.Time  `json:"last_update_at" db:"last_update_at"`
	ReminderTier         int        `json:"reminder_tier" db:"reminder_tier"` // 0-3
	ScheduledReminderIDs []string   `json:"scheduled_reminder_ids" db:"scheduled_reminder_ids"`
	State                string     `json:"state" db:"state"` // active, resolved
	ResolvedAt           *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
	ResolveReason        *string    `json:"resolve_reason,omitempty" db:"resolve_reason"`
	// 解除时是否已有提醒触发过（原始系统用于统计"提醒后起身"）
	ReturnedAfterReminder bool `json:"returned_after_reminder" db:"returned_after_reminder"`
}
