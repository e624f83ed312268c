package models

import (
	"time"
)

// 姿态标签（来自摄像头姿态分类器，本服务不校验分类正确性）
const (
	PostureSitting  = "sitting"
	PostureStanding = "standing"
	PostureWalking  = "walking"
)

// CamReport 摄像头姿态上报（输入事件，仅保留派生效果，不长期持久化）
type CamReport struct {
	UserID       string    `json:"user_id"`
	FaceID       *string   `json:"face_id,omitempty"`
	Posture      string    `json:"posture"`
	Timestamp    time.Time `json:"timestamp"`
	LocationHash *string   `json:"location_hash,omitempty"`
	ImageID      *string   `json:"image_id,omitempty"`
}

// IsMovement 是否为离座姿态（standing/walking 视为已起身）
func (r *CamReport) IsMovement() bool {
	return r.Posture == PostureStanding || r.Posture == PostureWalking
}

// HabitEvent 习惯事件（输入事件）
type HabitEvent struct {
	UserID    string    `json:"user_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// SecondsOfDay 时间戳换算为当日秒数（习惯画像的观测值）
func (e *HabitEvent) SecondsOfDay() float64 {
	return float64(e.Timestamp.Hour()*3600 + e.Timestamp.Minute()*60 + e.Timestamp.Second())
}

// UserSettings 用户偏好设置（摄像头/习惯跟踪可分别退出）
type UserSettings struct {
	UserID       string    `json:"user_id" db:"user_id"`
	OptOutCamera bool      `json:"opt_out_camera" db:"opt_out_camera"`
	OptOutHabits bool      `json:"opt_out_habits" db:"opt_out_habits"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}
