package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"wisefido-orchestrator/internal/config"
	"wisefido-orchestrator/internal/ingest"
	"wisefido-orchestrator/internal/models"
	"wisefido-orchestrator/internal/mqtt"
)

// EventPipeline 事件接入入口（由 ingest.Pipeline 实现）
type EventPipeline interface {
	IngestCamReport(ctx context.Context, report *models.CamReport) (*ingest.IngestResult, error)
	IngestHabitEvent(ctx context.Context, event *models.HabitEvent) (*ingest.IngestResult, error)
}

// MQTTConsumer MQTT消息消费者
//
// 订阅摄像头姿态上报与习惯事件两个主题，user_id 从主题路径提取。
type MQTTConsumer struct {
	config     *config.Config
	mqttClient *mqtt.Client
	pipeline   EventPipeline
	logger     *zap.Logger
}

// NewMQTTConsumer 创建MQTT消费者
func NewMQTTConsumer(
	cfg *config.Config,
	mqttClient *mqtt.Client,
	pipeline EventPipeline,
	logger *zap.Logger,
) *MQTTConsumer {
	return &MQTTConsumer{
		config:     cfg,
		mqttClient: mqttClient,
		pipeline:   pipeline,
		logger:     logger,
	}
}

// Start 启动消费者
func (c *MQTTConsumer) Start(ctx context.Context) error {
	if err := c.mqttClient.Subscribe(c.config.Topics.CamReport, 1, c.handleCamReport); err != nil {
		return fmt.Errorf("failed to subscribe to cam report topic: %w", err)
	}
	if err := c.mqttClient.Subscribe(c.config.Topics.HabitEvent, 1, c.handleHabitEvent); err != nil {
		return fmt.Errorf("failed to subscribe to habit event topic: %w", err)
	}

	c.logger.Info("MQTT consumer started",
		zap.String("cam_topic", c.config.Topics.CamReport),
		zap.String("habit_topic", c.config.Topics.HabitEvent),
	)

	<-ctx.Done()
	return nil
}

// Stop 停止消费者
func (c *MQTTConsumer) Stop(ctx context.Context) error {
	if err := c.mqttClient.Unsubscribe(c.config.Topics.CamReport, c.config.Topics.HabitEvent); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
	}

	c.logger.Info("MQTT consumer stopped")
	return nil
}

// ============================================
// 消息处理
// ============================================

// camReportPayload 摄像头上报的线格式
type camReportPayload struct {
	FaceID       *string `json:"face_id,omitempty"`
	Posture      string  `json:"posture"`
	Timestamp    int64   `json:"timestamp"` // Unix 秒
	LocationHash *string `json:"location_hash,omitempty"`
	ImageID      *string `json:"image_id,omitempty"`
}

// habitEventPayload 习惯事件的线格式
type habitEventPayload struct {
	EventType string `json:"event_type"`
	Timestamp int64  `json:"timestamp"` // Unix 秒
}

// handleCamReport 处理摄像头姿态上报
// 主题格式: assistant/cam/{user_id}/report
func (c *MQTTConsumer) handleCamReport(topic string, payload []byte) error {
	userID, err := extractUserID(topic, 4)
	if err != nil {
		return err
	}

	var wire camReportPayload
	if err := json.Unmarshal(payload, &wire); err != nil {
		c.logger.Error("Failed to unmarshal cam report",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return fmt.Errorf("failed to unmarshal cam report: %w", err)
	}

	report := &models.CamReport{
		UserID:       userID,
		FaceID:       wire.FaceID,
		Posture:      wire.Posture,
		Timestamp:    time.Unix(wire.Timestamp, 0),
		LocationHash: wire.LocationHash,
		ImageID:      wire.ImageID,
	}
	if wire.Timestamp == 0 {
		report.Timestamp = time.Time{}
	}

	result, err := c.pipeline.IngestCamReport(context.Background(), report)
	if err != nil {
		c.logger.Warn("Cam report rejected",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return err
	}

	c.logger.Debug("Cam report processed",
		zap.String("user_id", userID),
		zap.String("posture", report.Posture),
		zap.String("status", result.Status),
	)
	return nil
}

// handleHabitEvent 处理习惯事件
// 主题格式: assistant/habit/{user_id}/event
func (c *MQTTConsumer) handleHabitEvent(topic string, payload []byte) error {
	userID, err := extractUserID(topic, 4)
	if err != nil {
		return err
	}

	var wire habitEventPayload
	if err := json.Unmarshal(payload, &wire); err != nil {
		c.logger.Error("Failed to unmarshal habit event",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return fmt.Errorf("failed to unmarshal habit event: %w", err)
	}

	event := &models.HabitEvent{
		UserID:    userID,
		EventType: wire.EventType,
		Timestamp: time.Unix(wire.Timestamp, 0),
	}
	if wire.Timestamp == 0 {
		event.Timestamp = time.Time{}
	}

	result, err := c.pipeline.IngestHabitEvent(context.Background(), event)
	if err != nil {
		c.logger.Warn("Habit event rejected",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return err
	}

	if result.Anomaly != nil {
		c.logger.Info("Habit event anomalous",
			zap.String("user_id", userID),
			zap.String("event_type", event.EventType),
			zap.Float64("z_score", result.Anomaly.ZScore),
		)
	}
	return nil
}

// extractUserID 从主题路径提取 user_id（第二段）
func extractUserID(topic string, wantParts int) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != wantParts || parts[2] == "" {
		return "", fmt.Errorf("invalid topic format: %s", topic)
	}
	return parts[2], nil
}
