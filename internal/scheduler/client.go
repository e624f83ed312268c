package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// 远端取消结果状态
const (
	CancelStatusCancelled    = "cancelled"
	CancelStatusAlreadyFired = "already_fired"
	CancelStatusNotFound     = "not_found"
)

// DeliveryClient 提醒投递服务客户端接口
//
// 由 HTTPDeliveryClient 实现；测试中用桩实现替换。
type DeliveryClient interface {
	// Schedule 在投递服务上排期一条提醒，返回远端 reminder_id
	Schedule(ctx context.Context, key string, at time.Time, payload string) (string, error)
	// Cancel 取消远端提醒，返回状态（cancelled/already_fired/not_found）
	Cancel(ctx context.Context, reminderID string) (string, error)
}

// scheduleRequest POST /schedule 请求体
type scheduleRequest struct {
	Key     string `json:"key"`
	AtTime  string `json:"at_time"` // ISO-8601
	Payload string `json:"payload"`
}

// scheduleResponse POST /schedule 响应体
type scheduleResponse struct {
	ReminderID string `json:"reminder_id"`
	Error      string `json:"error,omitempty"`
}

// cancelResponse POST /cancel/{id} 响应体
type cancelResponse struct {
	Status string `json:"status"`
}

// HTTPDeliveryClient 提醒投递服务 HTTP 客户端
type HTTPDeliveryClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewHTTPDeliveryClient 创建投递服务客户端
//
// 超时固定在单次调用上（默认 5 秒）；重试由调度器的降级队列负责，
// 客户端本身不做重试。
func NewHTTPDeliveryClient(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPDeliveryClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &HTTPDeliveryClient{
		httpClient: client,
		logger:     logger,
	}
}

// Schedule 调用 POST /schedule
func (c *HTTPDeliveryClient) Schedule(ctx context.Context, key string, at time.Time, payload string) (string, error) {
	request := scheduleRequest{
		Key:     key,
		AtTime:  at.Format(time.RFC3339),
		Payload: payload,
	}

	var response scheduleResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(request).
		SetResult(&response).
		Post("/schedule")

	if err != nil {
		return "", fmt.Errorf("failed to call reminder service: %w", err)
	}

	if resp.IsError() {
		return "", fmt.Errorf("reminder service returned status %d", resp.StatusCode())
	}

	if response.ReminderID == "" {
		return "", fmt.Errorf("reminder service returned empty reminder_id: %s", response.Error)
	}

	c.logger.Debug("Reminder scheduled remotely",
		zap.String("key", key),
		zap.String("reminder_id", response.ReminderID),
		zap.Time("at", at),
	)

	return response.ReminderID, nil
}

// Cancel 调用 POST /cancel/{reminder_id}
func (c *HTTPDeliveryClient) Cancel(ctx context.Context, reminderID string) (string, error) {
	var response cancelResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&response).
		SetPathParam("reminder_id", reminderID).
		Post("/cancel/{reminder_id}")

	if err != nil {
		return "", fmt.Errorf("failed to call reminder service: %w", err)
	}

	if resp.IsError() {
		return "", fmt.Errorf("reminder service returned status %d", resp.StatusCode())
	}

	if response.Status == "" {
		return "", fmt.Errorf("reminder service returned empty cancel status")
	}

	return response.Status, nil
}
