package models

import (
	"time"
)

// PendingReminder 降级排队中的提醒（对应 pending_reminders 表）
//
// 投递服务不可用时写入本地持久化队列，由后台重试循环以指数退避
// 重新尝试远端排期；排期成功或 key 不再需要时删除。
type PendingReminder struct {
	LocalID     string    `json:"local_id" db:"local_id"` // "local:" 前缀的本地 ID
	Key         string    `json:"key" db:"key"`
	At          time.Time `json:"at" db:"at"`
	Payload     string    `json:"payload" db:"payload"`
	Attempts    int       `json:"attempts" db:"attempts"`
	NextRetryAt time.Time `json:"next_retry_at" db:"next_retry_at"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
