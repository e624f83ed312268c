package service

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wisefido-orchestrator/internal/cache"
	"wisefido-orchestrator/internal/config"
	"wisefido-orchestrator/internal/consumer"
	"wisefido-orchestrator/internal/database"
	"wisefido-orchestrator/internal/habit"
	"wisefido-orchestrator/internal/ingest"
	"wisefido-orchestrator/internal/models"
	"wisefido-orchestrator/internal/mqtt"
	redisclient "wisefido-orchestrator/internal/redis"
	"wisefido-orchestrator/internal/repository"
	"wisefido-orchestrator/internal/schedule"
	"wisefido-orchestrator/internal/scheduler"
	"wisefido-orchestrator/internal/session"
)

// intervalOccurrences 间隔类排期一次生成的剂次数
const intervalOccurrences = 3

// OrchestratorService 行为编排服务（整合各层）
type OrchestratorService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redisclient.Client
	mqttClient  *mqtt.Client
	logger      *zap.Logger

	// 各层组件
	stateCache       *cache.StateCache
	sessionsRepo     *repository.SessionsRepository
	habitsRepo       *repository.HabitsRepository
	medsRepo         *repository.MedicationsRepository
	pendingRepo      *repository.PendingRemindersRepository
	userSettingsRepo *repository.UserSettingsRepository
	reminderSched    *scheduler.Scheduler
	habitEngine      *habit.Engine
	sessionManager   *session.Manager
	pipeline         *ingest.Pipeline
	mqttConsumer     *consumer.MQTTConsumer

	cancel  context.CancelFunc
	stopped sync.WaitGroup
}

// NewOrchestratorService 创建编排服务
func NewOrchestratorService(cfg *config.Config, logger *zap.Logger) (*OrchestratorService, error) {
	// 1. 连接数据库
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	// 2. 连接 Redis
	redisClient := redisclient.NewRedisClient(&cfg.Redis)
	if err := redisclient.Ping(context.Background(), redisClient); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 3. 连接 MQTT
	mqttClient, err := mqtt.NewClient(&cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("failed to connect mqtt broker: %w", err)
	}

	return buildService(cfg, db, redisClient, mqttClient, logger), nil
}

// buildService 装配各层组件（连接在外部建立，便于测试替换）
func buildService(
	cfg *config.Config,
	db *sql.DB,
	redisClient *redisclient.Client,
	mqttClient *mqtt.Client,
	logger *zap.Logger,
) *OrchestratorService {
	// Repository 层
	sessionsRepo := repository.NewSessionsRepository(db, logger)
	habitsRepo := repository.NewHabitsRepository(db, logger)
	medsRepo := repository.NewMedicationsRepository(db, logger)
	pendingRepo := repository.NewPendingRemindersRepository(db, logger)
	userSettingsRepo := repository.NewUserSettingsRepository(db, logger)

	// 缓存层
	stateCache := cache.NewStateCache(cfg, redisClient, logger)

	// 提醒排期器
	deliveryClient := scheduler.NewHTTPDeliveryClient(cfg.Reminder.BaseURL, cfg.Reminder.Timeout, logger)
	reminderSched := scheduler.NewScheduler(cfg, deliveryClient, pendingRepo, logger)

	// 领域层
	habitEngine := habit.NewEngine(cfg, habitsRepo, logger)
	sessionManager := session.NewManager(cfg, sessionsRepo, stateCache, reminderSched, logger)

	// 接入管道与 MQTT 消费者
	pipeline := ingest.NewPipeline(cfg, sessionManager, habitEngine, userSettingsRepo, stateCache, reminderSched, logger)
	mqttConsumer := consumer.NewMQTTConsumer(cfg, mqttClient, pipeline, logger)

	return &OrchestratorService{
		config:           cfg,
		db:               db,
		redisClient:      redisClient,
		mqttClient:       mqttClient,
		logger:           logger,
		stateCache:       stateCache,
		sessionsRepo:     sessionsRepo,
		habitsRepo:       habitsRepo,
		medsRepo:         medsRepo,
		pendingRepo:      pendingRepo,
		userSettingsRepo: userSettingsRepo,
		reminderSched:    reminderSched,
		habitEngine:      habitEngine,
		sessionManager:   sessionManager,
		pipeline:         pipeline,
		mqttConsumer:     mqttConsumer,
	}
}

// Start 启动服务（后台循环 + MQTT 订阅）
func (s *OrchestratorService) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.stopped.Add(3)
	go func() {
		defer s.stopped.Done()
		s.reminderSched.RunRetryLoop(runCtx)
	}()
	go func() {
		defer s.stopped.Done()
		s.sessionManager.RunJanitor(runCtx)
	}()
	go func() {
		defer s.stopped.Done()
		if err := s.mqttConsumer.Start(runCtx); err != nil {
			s.logger.Error("MQTT consumer exited", zap.Error(err))
		}
	}()

	s.logger.Info("Orchestrator service started")
	return nil
}

// Stop 停止服务
func (s *OrchestratorService) Stop() error {
	s.logger.Info("Stopping orchestrator service")

	if s.cancel != nil {
		s.cancel()
	}
	s.stopped.Wait()

	if err := s.mqttConsumer.Stop(context.Background()); err != nil {
		s.logger.Error("Failed to stop mqtt consumer", zap.Error(err))
	}
	s.mqttClient.Disconnect()

	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close database", zap.Error(err))
	}
	if err := s.redisClient.Close(); err != nil {
		s.logger.Error("Failed to close redis", zap.Error(err))
	}

	return nil
}

// ============================================
// 对外入口：事件接入
// ============================================

// IngestCamReport 接入一条摄像头姿态报告
func (s *OrchestratorService) IngestCamReport(ctx context.Context, report *models.CamReport) (*ingest.IngestResult, error) {
	return s.pipeline.IngestCamReport(ctx, report)
}

// IngestHabitEvent 接入一条习惯事件
func (s *OrchestratorService) IngestHabitEvent(ctx context.Context, userID, eventType string, timestamp time.Time) (*ingest.IngestResult, error) {
	return s.pipeline.IngestHabitEvent(ctx, &models.HabitEvent{
		UserID:    userID,
		EventType: eventType,
		Timestamp: timestamp,
	})
}

// CreateSedentarySession 显式建会话（幂等）
func (s *OrchestratorService) CreateSedentarySession(ctx context.Context, userID string) (*models.SedentarySession, error) {
	return s.sessionManager.CreateSession(ctx, userID)
}

// GetHabitProfile 查询习惯画像
func (s *OrchestratorService) GetHabitProfile(ctx context.Context, userID, eventType string) (*models.HabitProfile, error) {
	return s.habitEngine.Query(ctx, userID, eventType)
}

// ============================================
// 对外入口：用药管理
// ============================================

// MedUploadResult 用药上传结果
type MedUploadResult struct {
	Record       *models.MedRecord
	Reminders    []*models.MedReminder
	ParseWarning string // 排期文本无法识别时的提示（记录仍已入库）
}

// UploadMedication 上传用药记录并生成提醒
//
// 排期文本解析失败不是硬错误：记录照常入库（发生序列为空），
// 解析失败作为 warning 返回给调用方。
func (s *OrchestratorService) UploadMedication(ctx context.Context, userID, medName, dosage, scheduleText string) (*MedUploadResult, error) {
	if userID == "" {
		return nil, models.ValidationError("user_id", "is required")
	}
	if medName == "" {
		return nil, models.ValidationError("med_name", "is required")
	}

	now := time.Now()
	record := &models.MedRecord{
		MedID:        uuid.New().String(),
		UserID:       userID,
		MedName:      medName,
		Dosage:       dosage,
		ScheduleText: scheduleText,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	result := &MedUploadResult{Record: record}

	parsed, err := schedule.Parse(scheduleText)
	if err != nil {
		result.ParseWarning = err.Error()
		s.logger.Warn("Unrecognized medication schedule text",
			zap.String("med_id", record.MedID),
			zap.String("schedule_text", scheduleText),
		)
	} else {
		record.ParsedOccurrences = parsed.Occurrences(now, time.Local, intervalOccurrences)
	}

	if err := s.medsRepo.CreateMedRecord(ctx, record); err != nil {
		return nil, err
	}

	reminders, err := s.createAndScheduleReminders(ctx, record)
	if err != nil {
		return nil, err
	}
	result.Reminders = reminders

	s.logger.Info("Medication uploaded",
		zap.String("med_id", record.MedID),
		zap.String("user_id", userID),
		zap.Int("occurrences", len(record.ParsedOccurrences)),
	)
	return result, nil
}

// ReparseMedication 排期文本编辑后重建提醒
//
// 先取消全部待投递提醒再建新的一组，杜绝重复投递。
func (s *OrchestratorService) ReparseMedication(ctx context.Context, medID, scheduleText string) (*MedUploadResult, error) {
	if medID == "" {
		return nil, models.ValidationError("med_id", "is required")
	}

	record, err := s.medsRepo.GetMedRecord(ctx, medID)
	if err != nil {
		return nil, err
	}

	// 1. 取消旧的排期 key，必须按原发生序列的下标逐个取消：
	//    待投递行的列表下标在有剂次投递后会前移，按它取消会漏掉尾部的 key。
	//    已投递的 key 取消是 no-op，多取消无害。
	for i := range record.ParsedOccurrences {
		if _, err := s.reminderSched.CancelKey(ctx, medOccurrenceKey(medID, i)); err != nil {
			s.logger.Warn("Failed to cancel old med reminder",
				zap.String("med_id", medID),
				zap.Int("occurrence", i),
				zap.Error(err),
			)
		}
	}

	// 2. 翻转残留的待投递提醒行
	pending, err := s.medsRepo.ListPendingReminders(ctx, medID)
	if err != nil {
		return nil, err
	}
	for _, reminder := range pending {
		if err := s.medsRepo.UpdateReminderStatus(ctx, reminder.ReminderID, models.MedReminderCancelled); err != nil {
			s.logger.Warn("Failed to cancel reminder row",
				zap.String("reminder_id", reminder.ReminderID),
				zap.Error(err),
			)
		}
	}

	// 3. 重新解析
	result := &MedUploadResult{Record: record}
	var occurrences []time.Time
	now := time.Now()
	parsed, err := schedule.Parse(scheduleText)
	if err != nil {
		result.ParseWarning = err.Error()
	} else {
		occurrences = parsed.Occurrences(now, time.Local, intervalOccurrences)
	}

	if err := s.medsRepo.UpdateMedSchedule(ctx, medID, scheduleText, occurrences); err != nil {
		return nil, err
	}
	record.ScheduleText = scheduleText
	record.ParsedOccurrences = occurrences
	record.UpdatedAt = now

	// 4. 建新一组提醒
	reminders, err := s.createAndScheduleReminders(ctx, record)
	if err != nil {
		return nil, err
	}
	result.Reminders = reminders

	s.logger.Info("Medication schedule reparsed",
		zap.String("med_id", medID),
		zap.Int("cancelled", len(pending)),
		zap.Int("occurrences", len(occurrences)),
	)
	return result, nil
}

// ConfirmMedication 确认服药/漏服
func (s *OrchestratorService) ConfirmMedication(ctx context.Context, userID, medID string, taken bool) error {
	if userID == "" {
		return models.ValidationError("user_id", "is required")
	}
	if medID == "" {
		return models.ValidationError("med_id", "is required")
	}

	record, err := s.medsRepo.GetMedRecord(ctx, medID)
	if err != nil {
		return err
	}
	if record.UserID != userID {
		return models.ErrNotFound
	}

	if err := s.medsRepo.InsertAdherence(ctx, &models.MedAdherence{
		MedID:     medID,
		UserID:    userID,
		Timestamp: time.Now(),
		Taken:     taken,
	}); err != nil {
		return err
	}

	status := models.MedReminderConfirmed
	if !taken {
		status = models.MedReminderMissed
	}
	reminder, err := s.medsRepo.EarliestOpenReminder(ctx, medID)
	if err != nil {
		if err == models.ErrNotFound {
			// 没有待确认的提醒，服药记录已落库即可
			return nil
		}
		return err
	}
	if err := s.medsRepo.UpdateReminderStatus(ctx, reminder.ReminderID, status); err != nil {
		return err
	}

	s.logger.Info("Medication confirmed",
		zap.String("med_id", medID),
		zap.String("user_id", userID),
		zap.Bool("taken", taken),
	)
	return nil
}

// createAndScheduleReminders 为记录的每个发生点建提醒并排期
func (s *OrchestratorService) createAndScheduleReminders(ctx context.Context, record *models.MedRecord) ([]*models.MedReminder, error) {
	now := time.Now()
	reminders := make([]*models.MedReminder, 0, len(record.ParsedOccurrences))
	for i, at := range record.ParsedOccurrences {
		reminder := &models.MedReminder{
			ReminderID:    uuid.New().String(),
			MedID:         record.MedID,
			UserID:        record.UserID,
			ScheduledTime: at,
			Status:        models.MedReminderPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.medsRepo.CreateMedReminder(ctx, reminder); err != nil {
			return nil, err
		}

		payload := fmt.Sprintf(`{"type":"medication","med_id":"%s","med_name":"%s","dosage":"%s"}`,
			record.MedID, record.MedName, record.Dosage)
		if _, err := s.reminderSched.Schedule(ctx, medOccurrenceKey(record.MedID, i), at, payload); err != nil {
			// 排期器内部已降级，这里只剩队列都写不进去的硬失败
			s.logger.Error("Failed to schedule medication reminder",
				zap.String("med_id", record.MedID),
				zap.Int("occurrence", i),
				zap.Error(err),
			)
		}
		reminders = append(reminders, reminder)
	}
	return reminders, nil
}

func medOccurrenceKey(medID string, occurrence int) string {
	return fmt.Sprintf("med:%s:occ%d", medID, occurrence)
}

// ============================================
// 对外入口：用户偏好
// ============================================

// GetUserSettings 读用户偏好
func (s *OrchestratorService) GetUserSettings(ctx context.Context, userID string) (*models.UserSettings, error) {
	if userID == "" {
		return nil, models.ValidationError("user_id", "is required")
	}
	return s.userSettingsRepo.GetSettings(ctx, userID)
}

// SetUserSettings 写用户偏好
func (s *OrchestratorService) SetUserSettings(ctx context.Context, settings *models.UserSettings) error {
	if settings == nil || settings.UserID == "" {
		return models.ValidationError("user_id", "is required")
	}
	return s.userSettingsRepo.UpsertSettings(ctx, settings)
}

// ============================================
// 对外入口：投递回调
// ============================================

// ReminderFired 提醒投递回调
//
// key 决定路由：久坐档位更新会话高水位，用药提醒翻转状态，
// 其余类型只记录已投递。
func (s *OrchestratorService) ReminderFired(ctx context.Context, key string) error {
	if key == "" {
		return models.ValidationError("key", "is required")
	}

	parts := strings.Split(key, ":")
	switch parts[0] {
	case "sedentary":
		// sedentary:<user>:<session>:tier<N>
		if len(parts) != 4 || !strings.HasPrefix(parts[3], "tier") {
			return models.ValidationError("key", "malformed sedentary key")
		}
		tier, err := strconv.Atoi(strings.TrimPrefix(parts[3], "tier"))
		if err != nil {
			return models.ValidationError("key", "malformed tier")
		}
		s.sessionManager.OnReminderFired(ctx, parts[1], parts[2], tier)
		return nil

	case "med":
		// med:<med_id>:occ<N>
		if len(parts) != 3 {
			return models.ValidationError("key", "malformed med key")
		}
		s.reminderSched.MarkFired(key)
		// 只看待投递行：已投递待确认的行不能挡住后续剂次的翻转
		reminder, err := s.medsRepo.EarliestPendingReminder(ctx, parts[1])
		if err != nil {
			if err == models.ErrNotFound {
				return nil
			}
			return err
		}
		return s.medsRepo.UpdateReminderStatus(ctx, reminder.ReminderID, models.MedReminderFired)

	default:
		s.reminderSched.MarkFired(key)
		return nil
	}
}
