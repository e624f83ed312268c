package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"wisefido-orchestrator/internal/config"
	"wisefido-orchestrator/internal/models"
)

// ============================================
// 依赖接口
// ============================================

// CamHandler 姿态事件处理（由 session.Manager 实现）
type CamHandler interface {
	HandleCamReport(ctx context.Context, report *models.CamReport) (*models.SedentarySession, error)
}

// HabitHandler 习惯事件处理（由 habit.Engine 实现）
type HabitHandler interface {
	Observe(ctx context.Context, event *models.HabitEvent) (*models.HabitProfile, *models.AnomalyReport, error)
}

// SettingsProvider 用户偏好读取
type SettingsProvider interface {
	GetSettings(ctx context.Context, userID string) (*models.UserSettings, error)
}

// ProfileCache 画像快照写入（展示用读路径）
type ProfileCache interface {
	SaveProfile(ctx context.Context, profile *models.HabitProfile) error
}

// ReminderScheduler 提醒排期（异常关怀提醒用）
type ReminderScheduler interface {
	Schedule(ctx context.Context, key string, at time.Time, payload string) (string, error)
}

// ============================================
// 结果类型
// ============================================

const (
	StatusOK       = "ok"        // 事件已处理
	StatusOptedOut = "opted_out" // 用户已退出该类分析，状态未变
	StatusIgnored  = "ignored"   // 事件无效果（如无会话时的起身报告）
)

// Effect 单个下游效果的提交结果
//
// 各效果独立提交，一个失败不回滚其它效果。
type Effect struct {
	Name  string
	OK    bool
	Error string
}

// IngestResult 单条事件的处理结果
type IngestResult struct {
	Status  string
	Effects []Effect

	Session *models.SedentarySession // 姿态事件：当前会话（可能为 nil）
	Profile *models.HabitProfile     // 习惯事件：更新后画像
	Anomaly *models.AnomalyReport    // 习惯事件：异常报告（advisory，可能为 nil）
}

func (r *IngestResult) addEffect(name string, err error) {
	e := Effect{Name: name, OK: err == nil}
	if err != nil {
		e.Error = err.Error()
	}
	r.Effects = append(r.Effects, e)
}

// ============================================
// 事件接入管道
// ============================================

// Pipeline 事件接入管道
//
// 同步路由到对应处理器。信封校验在任何状态变更之前；
// 下游提醒服务的失败只记日志，绝不反馈为接入失败。
type Pipeline struct {
	cfg      *config.Config
	sessions CamHandler
	habits   HabitHandler
	settings SettingsProvider
	cache    ProfileCache
	sched    ReminderScheduler
	logger   *zap.Logger
}

func NewPipeline(
	cfg *config.Config,
	sessions CamHandler,
	habits HabitHandler,
	settings SettingsProvider,
	cache ProfileCache,
	sched ReminderScheduler,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		sessions: sessions,
		habits:   habits,
		settings: settings,
		cache:    cache,
		sched:    sched,
		logger:   logger,
	}
}

// IngestCamReport 接入一条摄像头姿态报告
func (p *Pipeline) IngestCamReport(ctx context.Context, report *models.CamReport) (*IngestResult, error) {
	if report == nil {
		return nil, models.ValidationError("report", "is required")
	}
	if report.UserID == "" {
		return nil, models.ValidationError("user_id", "is required")
	}
	if report.Timestamp.IsZero() {
		return nil, models.ValidationError("timestamp", "is required")
	}
	if report.Posture == "" {
		return nil, models.ValidationError("posture", "is required")
	}

	result := &IngestResult{Status: StatusOK}

	// 退出摄像头分析的用户：任何状态变更之前直接返回
	settings, err := p.settings.GetSettings(ctx, report.UserID)
	if err != nil {
		p.logger.Warn("Failed to load user settings, proceeding with defaults",
			zap.String("user_id", report.UserID),
			zap.Error(err),
		)
	} else if settings.OptOutCamera {
		result.Status = StatusOptedOut
		return result, nil
	}

	session, err := p.sessions.HandleCamReport(ctx, report)
	if err != nil {
		return nil, err
	}
	result.addEffect("sedentary_session", nil)
	result.Session = session
	if session == nil {
		result.Status = StatusIgnored
	}

	return result, nil
}

// IngestHabitEvent 接入一条习惯事件
//
// 异常是 advisory 输出；只有开启 AutoCheckIn 且用户未退出时
// 才顺带安排一条关怀提醒，排期失败不影响本次接入。
func (p *Pipeline) IngestHabitEvent(ctx context.Context, event *models.HabitEvent) (*IngestResult, error) {
	if event == nil {
		return nil, models.ValidationError("event", "is required")
	}
	if event.UserID == "" {
		return nil, models.ValidationError("user_id", "is required")
	}
	if event.EventType == "" {
		return nil, models.ValidationError("event_type", "is required")
	}
	if event.Timestamp.IsZero() {
		return nil, models.ValidationError("timestamp", "is required")
	}

	profile, anomaly, err := p.habits.Observe(ctx, event)
	if err != nil {
		return nil, err
	}

	result := &IngestResult{Status: StatusOK, Profile: profile, Anomaly: anomaly}
	result.addEffect("habit_profile", nil)

	if err := p.cache.SaveProfile(ctx, profile); err != nil {
		result.addEffect("profile_snapshot", err)
		p.logger.Warn("Failed to save profile snapshot",
			zap.String("user_id", event.UserID),
			zap.String("event_type", event.EventType),
			zap.Error(err),
		)
	} else {
		result.addEffect("profile_snapshot", nil)
	}

	if anomaly != nil {
		p.logger.Info("Habit anomaly detected",
			zap.String("user_id", anomaly.UserID),
			zap.String("event_type", anomaly.EventType),
			zap.Float64("z_score", anomaly.ZScore),
			zap.Float64("confidence", anomaly.Confidence),
		)
		p.maybeScheduleCheckIn(ctx, anomaly, result)
	}

	return result, nil
}

// maybeScheduleCheckIn 异常时按策略安排关怀提醒
func (p *Pipeline) maybeScheduleCheckIn(ctx context.Context, anomaly *models.AnomalyReport, result *IngestResult) {
	if !p.cfg.Habit.AutoCheckIn {
		return
	}

	settings, err := p.settings.GetSettings(ctx, anomaly.UserID)
	if err == nil && settings.OptOutHabits {
		return
	}

	key := fmt.Sprintf("habit:%s:%s:checkin", anomaly.UserID, anomaly.EventType)
	payload := fmt.Sprintf(`{"type":"habit_checkin","user_id":"%s","event_type":"%s"}`,
		anomaly.UserID, anomaly.EventType)
	if _, err := p.sched.Schedule(ctx, key, time.Now().Add(time.Minute), payload); err != nil {
		result.addEffect("checkin_reminder", err)
		p.logger.Warn("Failed to schedule check-in reminder",
			zap.String("key", key),
			zap.Error(err),
		)
		return
	}
	result.addEffect("checkin_reminder", nil)
}
