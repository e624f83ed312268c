package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"wisefido-orchestrator/internal/config"
	"wisefido-orchestrator/internal/models"
)

// StateCache 快照缓存（展示用读路径，允许轻微过期）
type StateCache struct {
	config      *config.Config
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewStateCache 创建快照缓存
func NewStateCache(
	cfg *config.Config,
	redisClient *redis.Client,
	logger *zap.Logger,
) *StateCache {
	return &StateCache{
		config:      cfg,
		redisClient: redisClient,
		logger:      logger,
	}
}

// SessionKey 构建久坐会话快照键
func (c *StateCache) SessionKey(userID string) string {
	return fmt.Sprintf("%s%s%s",
		c.config.Cache.SessionKeyPrefix,
		userID,
		c.config.Cache.SessionSuffix,
	)
}

// ProfileKey 构建习惯画像快照键
func (c *StateCache) ProfileKey(userID, eventType string) string {
	return fmt.Sprintf("%s%s%s:%s",
		c.config.Cache.ProfileKeyPrefix,
		userID,
		c.config.Cache.ProfileSuffix,
		eventType,
	)
}

// ============================================
// 久坐会话快照
// ============================================

// SaveSession 写会话快照（带 TTL）
func (c *StateCache) SaveSession(ctx context.Context, session *models.SedentarySession) error {
	jsonData, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session snapshot: %w", err)
	}

	ttl := time.Duration(c.config.Cache.SnapshotTTL) * time.Second
	if err := c.redisClient.Set(ctx, c.SessionKey(session.UserID), jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session snapshot: %w", err)
	}

	return nil
}

// GetSession 读会话快照，无快照返回 ErrNotFound
func (c *StateCache) GetSession(ctx context.Context, userID string) (*models.SedentarySession, error) {
	val, err := c.redisClient.Get(ctx, c.SessionKey(userID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session snapshot: %w", err)
	}

	var session models.SedentarySession
	if err := json.Unmarshal([]byte(val), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session snapshot: %w", err)
	}

	return &session, nil
}

// DropSession 删除会话快照
func (c *StateCache) DropSession(ctx context.Context, userID string) error {
	if err := c.redisClient.Del(ctx, c.SessionKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to drop session snapshot: %w", err)
	}
	return nil
}

// ============================================
// 习惯画像快照
// ============================================

// SaveProfile 写画像快照（带 TTL）
func (c *StateCache) SaveProfile(ctx context.Context, profile *models.HabitProfile) error {
	jsonData, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to marshal profile snapshot: %w", err)
	}

	ttl := time.Duration(c.config.Cache.SnapshotTTL) * time.Second
	key := c.ProfileKey(profile.UserID, profile.EventType)
	if err := c.redisClient.Set(ctx, key, jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save profile snapshot: %w", err)
	}

	return nil
}

// GetProfile 读画像快照，无快照返回 ErrNotFound
func (c *StateCache) GetProfile(ctx context.Context, userID, eventType string) (*models.HabitProfile, error) {
	val, err := c.redisClient.Get(ctx, c.ProfileKey(userID, eventType)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get profile snapshot: %w", err)
	}

	var profile models.HabitProfile
	if err := json.Unmarshal([]byte(val), &profile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile snapshot: %w", err)
	}

	return &profile, nil
}
