// Package habit 维护每 (user_id, event_type) 的在线统计画像并提供异常检测
//
// 统计量使用 Welford 单遍算法：每个新观测值 O(1) 更新 mean 和方差累加量，
// 不回看历史，内存占用与事件量无关。观测值为事件时间戳的当日秒数。
//
// 异常检测对"更新前"的画像计算 z-score（新样本不参与自身的基线），
// 样本数或置信度不足的画像不产生异常（冷启动不误报）。
// 检测结果仅作为 advisory 返回，是否触发提醒由调用方决定。
package habit

import (
	"context"
	"errors"
	"math"
	"sync"

	"wisefido-orchestrator/internal/config"
	"wisefido-orchestrator/internal/models"

	"go.uber.org/zap"
)

// ProfileStore 画像持久化接口（由 repository.HabitProfileRepository 实现）
type ProfileStore interface {
	GetProfile(ctx context.Context, userID, eventType string) (*models.HabitProfile, error)
	UpsertProfile(ctx context.Context, profile *models.HabitProfile) error
}

// Engine 习惯画像引擎
//
// 内存中的画像是权威状态，写穿透到持久化存储；每个用户一个互斥槽位，
// 跨用户并行（不使用全局锁）。
type Engine struct {
	cfg    *config.Config
	store  ProfileStore
	logger *zap.Logger

	mu    sync.Mutex
	slots map[string]*userSlot
}

// userSlot 单用户的画像槽位（持锁者独占变更权）
type userSlot struct {
	mu       sync.Mutex
	profiles map[string]*models.HabitProfile // event_type → profile
	loaded   map[string]bool                 // 是否已尝试从存储加载
}

// NewEngine 创建习惯画像引擎
func NewEngine(cfg *config.Config, store ProfileStore, logger *zap.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		store:  store,
		logger: logger,
		slots:  make(map[string]*userSlot),
	}
}

// Observe 记录一次习惯事件并返回更新后的画像快照
//
// 返回的 AnomalyReport 在事件相对历史基线异常时非空（基于更新前的画像评分）。
// 持久化失败会返回错误，但内存画像已更新。
func (e *Engine) Observe(ctx context.Context, event *models.HabitEvent) (*models.HabitProfile, *models.AnomalyReport, error) {
	if event.UserID == "" {
		return nil, nil, models.ValidationError("user_id", "is required")
	}
	if event.EventType == "" {
		return nil, nil, models.ValidationError("event_type", "is required")
	}
	if event.Timestamp.IsZero() {
		return nil, nil, models.ValidationError("timestamp", "is required")
	}

	slot := e.slot(event.UserID)
	value := event.SecondsOfDay()

	// 首次观测该 event_type 时，先在锁外从存储预热（持锁期间不做 I/O）
	var preloaded *models.HabitProfile
	if !slot.isLoaded(event.EventType) {
		stored, err := e.store.GetProfile(ctx, event.UserID, event.EventType)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return nil, nil, err
		}
		preloaded = stored
	}

	// 持锁阶段：评分 + 更新（无 I/O）
	slot.mu.Lock()
	if !slot.loaded[event.EventType] {
		slot.loaded[event.EventType] = true
		if preloaded != nil && slot.profiles[event.EventType] == nil {
			slot.profiles[event.EventType] = preloaded
		}
	}

	profile := slot.profiles[event.EventType]
	if profile == nil {
		profile = &models.HabitProfile{
			UserID:    event.UserID,
			EventType: event.EventType,
		}
		slot.profiles[event.EventType] = profile
	}

	// 先对更新前的画像做异常评分
	report := e.scoreAgainst(profile, value)

	// Welford 在线更新
	delta := value - profile.Mean
	profile.Count++
	profile.Mean += delta / float64(profile.Count)
	delta2 := value - profile.Mean
	profile.VarianceAccum += delta * delta2
	profile.Confidence = float64(profile.Count) / float64(profile.Count+int64(e.cfg.Habit.ConfidenceK))
	profile.LastUpdated = event.Timestamp

	snapshot := *profile
	slot.mu.Unlock()

	// 锁外写穿透
	if err := e.store.UpsertProfile(ctx, &snapshot); err != nil {
		e.logger.Error("Failed to persist habit profile",
			zap.String("user_id", event.UserID),
			zap.String("event_type", event.EventType),
			zap.Error(err),
		)
		return &snapshot, report, err
	}

	if report != nil {
		e.logger.Info("Habit anomaly detected",
			zap.String("user_id", report.UserID),
			zap.String("event_type", report.EventType),
			zap.Float64("z_score", report.ZScore),
			zap.Float64("confidence", report.Confidence),
		)
	}

	return &snapshot, report, nil
}

// Query 查询画像快照（无锁外部可见性要求，内存未命中时回源存储）
func (e *Engine) Query(ctx context.Context, userID, eventType string) (*models.HabitProfile, error) {
	if userID == "" {
		return nil, models.ValidationError("user_id", "is required")
	}
	if eventType == "" {
		return nil, models.ValidationError("event_type", "is required")
	}

	slot := e.slot(userID)

	slot.mu.Lock()
	if profile := slot.profiles[eventType]; profile != nil {
		snapshot := *profile
		slot.mu.Unlock()
		return &snapshot, nil
	}
	slot.mu.Unlock()

	stored, err := e.store.GetProfile(ctx, userID, eventType)
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// scoreAgainst 对更新前的画像计算 z-score
//
// 异常条件：|z| > 阈值 且 confidence/样本数达到上报下限且基线有离散度。
func (e *Engine) scoreAgainst(profile *models.HabitProfile, value float64) *models.AnomalyReport {
	if profile.Count < int64(e.cfg.Habit.MinCount) {
		return nil
	}
	if profile.Confidence < e.cfg.Habit.MinConfidence {
		return nil
	}
	stddev := profile.StdDev()
	if stddev <= 0 {
		return nil
	}

	z := (value - profile.Mean) / stddev
	if math.Abs(z) <= e.cfg.Habit.ZThreshold {
		return nil
	}

	return &models.AnomalyReport{
		UserID:     profile.UserID,
		EventType:  profile.EventType,
		Value:      value,
		ZScore:     z,
		Mean:       profile.Mean,
		StdDev:     stddev,
		Confidence: profile.Confidence,
	}
}

// slot 获取（或创建）用户槽位
func (e *Engine) slot(userID string) *userSlot {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.slots[userID]
	if !ok {
		s = &userSlot{
			profiles: make(map[string]*models.HabitProfile),
			loaded:   make(map[string]bool),
		}
		e.slots[userID] = s
	}
	return s
}

func (s *userSlot) isLoaded(eventType string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded[eventType]
}
