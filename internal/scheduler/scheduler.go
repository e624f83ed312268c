// Package scheduler 管理全部未决提醒的排期与取消
//
// 排期对 key 幂等：同一 key 重复排期会替换旧定时器而不是产生重复投递。
// 主路径委托外部提醒投递服务；调用失败（超时/连接错误/非 2xx）时降级为
// 本地持久化队列条目，由后台循环以指数退避（基础 5s，上限 5m）无限重试，
// 失败只记录日志，绝不作为致命错误抛回摄取调用方。
package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"wisefido-orchestrator/internal/config"
	"wisefido-orchestrator/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// localIDPrefix 降级条目的本地 reminder_id 前缀
const localIDPrefix = "local:"

// firedRetention 已投递 ID 的保留时长，过期后投递回调之后的迟到取消按 not_found 处理
const firedRetention = 24 * time.Hour

// PendingStore 降级队列持久化接口（由 repository.PendingReminderRepository 实现）
type PendingStore interface {
	Enqueue(ctx context.Context, pending *models.PendingReminder) error
	Due(ctx context.Context, now time.Time, limit int) ([]*models.PendingReminder, error)
	UpdateRetry(ctx context.Context, localID string, attempts int, nextRetryAt time.Time) error
	Delete(ctx context.Context, localID string) error
}

// entry 内存中的定时器条目
type entry struct {
	Key        string
	ReminderID string
	Remote     bool // false 表示降级排队中
	At         time.Time
	Payload    string
}

// Scheduler 提醒调度器
//
// 定时器集合是共享结构，由自身互斥锁保护，与各用户会话锁相互独立；
// 可从多个用户流并发调用。
type Scheduler struct {
	cfg    *config.Config
	client DeliveryClient
	queue  PendingStore
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]*entry    // key → entry
	byID    map[string]string    // reminderID → key
	fired   map[string]time.Time // 已投递的 reminderID → 投递时刻（cancel 时报告 already_fired）
}

// NewScheduler 创建调度器
func NewScheduler(cfg *config.Config, client DeliveryClient, queue PendingStore, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		client:  client,
		queue:   queue,
		logger:  logger,
		entries: make(map[string]*entry),
		byID:    make(map[string]string),
		fired:   make(map[string]time.Time),
	}
}

// Schedule 排期一条提醒，返回 reminder_id
//
// 对 key 幂等：已有同 key 条目时先替换（取消旧定时器）。远端不可用时
// 降级为本地队列条目并返回 "local:" 前缀的 ID，这不是错误。
func (s *Scheduler) Schedule(ctx context.Context, key string, at time.Time, payload string) (string, error) {
	if key == "" {
		return "", models.ValidationError("key", "is required")
	}

	// 1. 摘除旧条目（锁内），取消动作在锁外执行
	s.mu.Lock()
	prior := s.entries[key]
	if prior != nil {
		delete(s.entries, key)
		delete(s.byID, prior.ReminderID)
	}
	s.mu.Unlock()

	if prior != nil {
		s.cancelEntry(ctx, prior)
	}

	// 2. 远端排期（锁外 I/O）
	reminderID, remote := "", true
	remoteID, err := s.client.Schedule(ctx, key, at, payload)
	if err != nil {
		// 降级：写持久化队列，后台重试
		remote = false
		reminderID = localIDPrefix + uuid.New().String()
		pending := &models.PendingReminder{
			LocalID:     reminderID,
			Key:         key,
			At:          at,
			Payload:     payload,
			Attempts:    0,
			NextRetryAt: time.Now().Add(s.cfg.Reminder.RetryBase),
			CreatedAt:   time.Now(),
		}
		if qErr := s.queue.Enqueue(ctx, pending); qErr != nil {
			// 队列也写不进去才是真正的失败
			return "", qErr
		}
		s.logger.Warn("Reminder service unavailable, degraded to local queue",
			zap.String("key", key),
			zap.String("local_id", reminderID),
			zap.Time("at", at),
			zap.Error(err),
		)
	} else {
		reminderID = remoteID
	}

	// 3. 登记条目（锁内）；并发同 key 排期时后写者胜，被替换者取消
	newEntry := &entry{
		Key:        key,
		ReminderID: reminderID,
		Remote:     remote,
		At:         at,
		Payload:    payload,
	}
	s.mu.Lock()
	displaced := s.entries[key]
	if displaced != nil {
		delete(s.byID, displaced.ReminderID)
	}
	s.entries[key] = newEntry
	s.byID[reminderID] = key
	s.mu.Unlock()

	if displaced != nil {
		s.cancelEntry(ctx, displaced)
	}

	return reminderID, nil
}

// Cancel 取消一条提醒
//
// 已投递的定时器取消是 no-op（返回 false, nil，即 already_fired，不是错误）。
func (s *Scheduler) Cancel(ctx context.Context, reminderID string) (bool, error) {
	if reminderID == "" {
		return false, models.ValidationError("reminder_id", "is required")
	}

	s.mu.Lock()
	if _, ok := s.fired[reminderID]; ok {
		s.mu.Unlock()
		return false, nil // already_fired
	}
	key, ok := s.byID[reminderID]
	var e *entry
	if ok {
		e = s.entries[key]
		delete(s.entries, key)
		delete(s.byID, reminderID)
	}
	s.mu.Unlock()

	if e == nil {
		// 未登记的 ID：可能是重启前的远端提醒，直接尝试远端取消
		if !strings.HasPrefix(reminderID, localIDPrefix) {
			return s.cancelRemote(ctx, reminderID)
		}
		return false, nil
	}

	return s.cancelEntryReported(ctx, e)
}

// CancelKey 按 key 取消（会话解除 / schedule 重解析时使用）
func (s *Scheduler) CancelKey(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	e := s.entries[key]
	if e != nil {
		delete(s.entries, key)
		delete(s.byID, e.ReminderID)
	}
	s.mu.Unlock()

	if e == nil {
		return false, nil
	}
	return s.cancelEntryReported(ctx, e)
}

// MarkFired 记录投递回调：定时器已消耗，后续 cancel 报告 already_fired
func (s *Scheduler) MarkFired(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[key]
	if e == nil {
		return
	}
	delete(s.entries, key)
	delete(s.byID, e.ReminderID)
	now := time.Now()
	s.fired[e.ReminderID] = now
	s.pruneFiredLocked(now)
}

// pruneFiredLocked 清掉超过保留期的已投递记录，防止长跑进程无界增长
func (s *Scheduler) pruneFiredLocked(now time.Time) {
	for id, firedAt := range s.fired {
		if now.Sub(firedAt) > firedRetention {
			delete(s.fired, id)
		}
	}
}

// stillWanted 重试前检查：该 key 的降级条目是否仍需要投递
func (s *Scheduler) stillWanted(key, localID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[key]
	return e != nil && e.ReminderID == localID
}

// promote 降级条目重试成功后换入远端 ID
func (s *Scheduler) promote(key, localID, remoteID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[key]
	if e == nil || e.ReminderID != localID {
		return false
	}
	delete(s.byID, localID)
	e.ReminderID = remoteID
	e.Remote = true
	s.byID[remoteID] = key
	return true
}

// cancelEntry 取消条目（不关心结果，仅记录日志）
func (s *Scheduler) cancelEntry(ctx context.Context, e *entry) {
	if _, err := s.cancelEntryReported(ctx, e); err != nil {
		s.logger.Warn("Failed to cancel replaced reminder",
			zap.String("key", e.Key),
			zap.String("reminder_id", e.ReminderID),
			zap.Error(err),
		)
	}
}

// cancelEntryReported 取消条目并返回是否实际取消
func (s *Scheduler) cancelEntryReported(ctx context.Context, e *entry) (bool, error) {
	if !e.Remote {
		// 降级条目：删掉队列行即可
		if err := s.queue.Delete(ctx, e.ReminderID); err != nil {
			return false, err
		}
		return true, nil
	}
	return s.cancelRemote(ctx, e.ReminderID)
}

// cancelRemote 远端取消并归一化状态
func (s *Scheduler) cancelRemote(ctx context.Context, reminderID string) (bool, error) {
	status, err := s.client.Cancel(ctx, reminderID)
	if err != nil {
		s.logger.Warn("Failed to cancel remote reminder",
			zap.String("reminder_id", reminderID),
			zap.Error(err),
		)
		return false, err
	}

	switch status {
	case CancelStatusCancelled:
		return true, nil
	case CancelStatusAlreadyFired:
		s.mu.Lock()
		now := time.Now()
		s.fired[reminderID] = now
		s.pruneFiredLocked(now)
		s.mu.Unlock()
		return false, nil
	default: // not_found 等
		return false, nil
	}
}
