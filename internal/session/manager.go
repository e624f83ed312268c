package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"wisefido-orchestrator/internal/config"
	"wisefido-orchestrator/internal/models"
)

// ============================================
// 依赖接口
// ============================================

// SessionRepo 会话归档存储
type SessionRepo interface {
	ArchiveSession(ctx context.Context, session *models.SedentarySession) error
}

// SnapshotCache 会话快照缓存（展示用读路径，允许轻微过期）
type SnapshotCache interface {
	SaveSession(ctx context.Context, session *models.SedentarySession) error
	DropSession(ctx context.Context, userID string) error
}

// ReminderScheduler 提醒排期依赖（由 internal/scheduler 实现）
type ReminderScheduler interface {
	Schedule(ctx context.Context, key string, at time.Time, payload string) (string, error)
	CancelKey(ctx context.Context, key string) (bool, error)
	MarkFired(key string)
}

// ============================================
// 久坐会话管理器
// ============================================

// Manager 按用户驱动久坐状态机
//
// 每个用户一个 slot，各自持锁，互不阻塞。锁内只计算状态迁移，
// 排期、归档、缓存等 I/O 在放锁之后执行。
type Manager struct {
	cfg    *config.Config
	repo   SessionRepo
	cache  SnapshotCache
	sched  ReminderScheduler
	logger *zap.Logger

	mu    sync.Mutex
	slots map[string]*userSlot
}

type userSlot struct {
	mu      sync.Mutex
	session *models.SedentarySession
}

// decision 锁内算出的待执行动作，放锁后逐项落地
type decision struct {
	scheduleTiers *models.SedentarySession // 非空：为新会话排三档提醒
	snapshot      *models.SedentarySession // 非空：写缓存快照
	resolved      *models.SedentarySession // 非空：取消未投递档位、归档、删快照
}

func NewManager(cfg *config.Config, repo SessionRepo, cache SnapshotCache, sched ReminderScheduler, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		repo:   repo,
		cache:  cache,
		sched:  sched,
		logger: logger,
		slots:  make(map[string]*userSlot),
	}
}

func (m *Manager) slot(userID string) *userSlot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[userID]
	if !ok {
		s = &userSlot{}
		m.slots[userID] = s
	}
	return s
}

func tierKey(userID, sessionID string, tier int) string {
	return fmt.Sprintf("sedentary:%s:%s:tier%d", userID, sessionID, tier)
}

// ============================================
// 姿态事件
// ============================================

// HandleCamReport 处理一条姿态报告，返回该用户当前会话（可能为 nil）
//
// 迁移规则：
//   - 无会话 + sitting → 新建 ACTIVE(0)，排 +1h/+2h/+3h 三档提醒
//   - 有会话 + sitting → 刷新时间戳（严格更旧的报告丢弃）
//   - 有会话 + standing/walking → RESOLVED，取消未投递档位并归档
func (m *Manager) HandleCamReport(ctx context.Context, report *models.CamReport) (*models.SedentarySession, error) {
	if report.UserID == "" {
		return nil, models.ValidationError("user_id", "is required")
	}
	if report.Timestamp.IsZero() {
		return nil, models.ValidationError("timestamp", "is required")
	}

	slot := m.slot(report.UserID)
	slot.mu.Lock()

	var d decision
	current := slot.session

	switch {
	case current == nil:
		if report.Posture != models.PostureSitting {
			// 没有会话时的起身报告没有意义
			slot.mu.Unlock()
			return nil, nil
		}
		session := m.newSession(report)
		slot.session = session
		d.scheduleTiers = session
		d.snapshot = session

	case report.Timestamp.Before(current.LastUpdateAt):
		// 乱序报告：严格更旧的直接丢弃（时间戳后写者胜）
		slot.mu.Unlock()
		return current, nil

	case report.Posture == models.PostureSitting:
		current.LastPosture = report.Posture
		current.LastUpdateAt = report.Timestamp
		d.snapshot = current

	case report.IsMovement():
		m.resolveLocked(slot, current, models.ResolveReasonMovement, report.Timestamp)
		d.resolved = current

	default:
		// 未知姿态字符串只刷新活跃时间，不做迁移
		current.LastUpdateAt = report.Timestamp
		d.snapshot = current
	}

	result := slot.session
	if d.resolved != nil {
		result = d.resolved
	}
	slot.mu.Unlock()

	m.execute(ctx, slot, &d)
	return result, nil
}

// CreateSession 显式建会话入口，幂等
//
// 已有活跃会话时返回现有会话（状态冲突视为 no-op 成功）。
func (m *Manager) CreateSession(ctx context.Context, userID string) (*models.SedentarySession, error) {
	if userID == "" {
		return nil, models.ValidationError("user_id", "is required")
	}

	slot := m.slot(userID)
	slot.mu.Lock()
	if existing := slot.session; existing != nil {
		slot.mu.Unlock()
		m.logger.Debug("Active sedentary session already exists",
			zap.String("user_id", userID),
			zap.String("session_id", existing.SessionID),
		)
		return existing, nil
	}

	session := m.newSession(&models.CamReport{
		UserID:    userID,
		Posture:   models.PostureSitting,
		Timestamp: time.Now(),
	})
	slot.session = session
	slot.mu.Unlock()

	m.execute(ctx, slot, &decision{scheduleTiers: session, snapshot: session})
	return session, nil
}

// ActiveSession 返回当前活跃会话快照，无则 nil
func (m *Manager) ActiveSession(userID string) *models.SedentarySession {
	slot := m.slot(userID)
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.session == nil {
		return nil
	}
	snapshot := *slot.session
	return &snapshot
}

// ============================================
// 提醒投递回调
// ============================================

// OnReminderFired 记录某档提醒已投递
//
// 投递只抬高已投递档位的高水位，不做状态迁移：末档投递后
// 会话保持 ACTIVE(3)，由起身报告或过期清理来结束。
func (m *Manager) OnReminderFired(ctx context.Context, userID, sessionID string, tier int) {
	slot := m.slot(userID)
	slot.mu.Lock()

	current := slot.session
	if current == nil || current.SessionID != sessionID {
		slot.mu.Unlock()
		return
	}

	m.sched.MarkFired(tierKey(userID, sessionID, tier))
	if tier > current.ReminderTier {
		current.ReminderTier = tier
	}
	slot.mu.Unlock()

	m.execute(ctx, slot, &decision{snapshot: current})
}

// ============================================
// 过期清理
// ============================================

// RunJanitor 周期清理失联会话，随 ctx 取消退出
//
// StaleTimeout 内没有任何报告的会话按隐式起身处理。
func (m *Manager) RunJanitor(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Session.JanitorInterval)
	defer ticker.Stop()

	m.logger.Info("Session janitor started",
		zap.Duration("interval", m.cfg.Session.JanitorInterval),
		zap.Duration("stale_timeout", m.cfg.Session.StaleTimeout),
	)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Session janitor stopped")
			return
		case now := <-ticker.C:
			m.sweepStale(ctx, now)
		}
	}
}

func (m *Manager) sweepStale(ctx context.Context, now time.Time) {
	m.mu.Lock()
	users := make([]string, 0, len(m.slots))
	for userID := range m.slots {
		users = append(users, userID)
	}
	m.mu.Unlock()

	for _, userID := range users {
		slot := m.slot(userID)
		slot.mu.Lock()
		current := slot.session
		if current == nil || now.Sub(current.LastUpdateAt) < m.cfg.Session.StaleTimeout {
			slot.mu.Unlock()
			continue
		}
		// 三档都已投递仍无任何上报的会话按档位耗尽归档，其余按失联
		reason := models.ResolveReasonStale
		if current.ReminderTier >= len(m.cfg.Session.TierOffsets) {
			reason = models.ResolveReasonExhausted
		}
		m.resolveLocked(slot, current, reason, now)
		slot.mu.Unlock()

		m.logger.Info("Stale sedentary session auto-resolved",
			zap.String("user_id", userID),
			zap.String("session_id", current.SessionID),
			zap.Time("last_update_at", current.LastUpdateAt),
		)
		m.execute(ctx, slot, &decision{resolved: current})
	}
}

// ============================================
// 内部
// ============================================

func (m *Manager) newSession(report *models.CamReport) *models.SedentarySession {
	return &models.SedentarySession{
		SessionID:    uuid.New().String(),
		UserID:       report.UserID,
		StartedAt:    report.Timestamp,
		LastPosture:  report.Posture,
		LastUpdateAt: report.Timestamp,
		ReminderTier: 0,
		State:        models.SessionStateActive,
	}
}

// resolveLocked 在持有 slot 锁时完成状态迁移，调用方负责后续 I/O
func (m *Manager) resolveLocked(slot *userSlot, session *models.SedentarySession, reason string, at time.Time) {
	session.State = models.SessionStateResolved
	resolvedAt := at
	session.ResolvedAt = &resolvedAt
	session.ResolveReason = &reason
	if reason == models.ResolveReasonMovement && session.ReminderTier > 0 {
		session.ReturnedAfterReminder = true
	}
	slot.session = nil
}

// execute 落地锁内算出的动作（全部 I/O 在这里，锁已释放）
func (m *Manager) execute(ctx context.Context, slot *userSlot, d *decision) {
	if d.scheduleTiers != nil {
		m.scheduleTiers(ctx, slot, d.scheduleTiers)
	}

	if d.resolved != nil {
		m.cancelUnfired(ctx, d.resolved)
		if err := m.repo.ArchiveSession(ctx, d.resolved); err != nil {
			m.logger.Error("Failed to archive sedentary session",
				zap.String("session_id", d.resolved.SessionID),
				zap.Error(err),
			)
		}
		if err := m.cache.DropSession(ctx, d.resolved.UserID); err != nil {
			m.logger.Warn("Failed to drop session snapshot",
				zap.String("user_id", d.resolved.UserID),
				zap.Error(err),
			)
		}
		return
	}

	if d.snapshot != nil {
		if err := m.cache.SaveSession(ctx, d.snapshot); err != nil {
			m.logger.Warn("Failed to save session snapshot",
				zap.String("user_id", d.snapshot.UserID),
				zap.Error(err),
			)
		}
	}
}

// scheduleTiers 为新会话排三档久坐提醒
//
// 排期失败降级由 scheduler 内部处理，这里不会失败到调用方。
func (m *Manager) scheduleTiers(ctx context.Context, slot *userSlot, session *models.SedentarySession) {
	ids := make([]string, 0, len(m.cfg.Session.TierOffsets))
	for i, offset := range m.cfg.Session.TierOffsets {
		tier := i + 1
		key := tierKey(session.UserID, session.SessionID, tier)
		payload := fmt.Sprintf(`{"type":"sedentary","user_id":"%s","session_id":"%s","tier":%d}`,
			session.UserID, session.SessionID, tier)
		id, err := m.sched.Schedule(ctx, key, session.StartedAt.Add(offset), payload)
		if err != nil {
			m.logger.Error("Failed to schedule sedentary reminder",
				zap.String("key", key),
				zap.Error(err),
			)
			continue
		}
		ids = append(ids, id)
	}

	// 会话可能在排期期间就被解决：那次 resolve 的 cancelUnfired 看不到
	// 还没登记的 key，所以这里必须亲手撤掉刚建的提醒
	slot.mu.Lock()
	stillActive := slot.session != nil && slot.session.SessionID == session.SessionID
	if stillActive {
		slot.session.ScheduledReminderIDs = ids
	}
	slot.mu.Unlock()

	if !stillActive {
		m.cancelUnfired(ctx, session)
		m.logger.Info("Session resolved during tier scheduling, reminders withdrawn",
			zap.String("user_id", session.UserID),
			zap.String("session_id", session.SessionID),
		)
		return
	}

	m.logger.Info("Sedentary session started",
		zap.String("user_id", session.UserID),
		zap.String("session_id", session.SessionID),
		zap.Int("reminders", len(ids)),
	)
}

// cancelUnfired 取消会话所有未投递档位（已投递的 key 取消是 no-op）
func (m *Manager) cancelUnfired(ctx context.Context, session *models.SedentarySession) {
	for tier := 1; tier <= len(m.cfg.Session.TierOffsets); tier++ {
		key := tierKey(session.UserID, session.SessionID, tier)
		if _, err := m.sched.CancelKey(ctx, key); err != nil {
			m.logger.Warn("Failed to cancel tier reminder",
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}
}
