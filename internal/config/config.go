package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT配置
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// Config 行为编排服务配置
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	MQTT     MQTTConfig

	// 外部提醒投递服务
	Reminder struct {
		BaseURL      string        // 提醒服务地址，如 "http://reminder:9002"
		Timeout      time.Duration // 单次调用超时，默认 5秒
		RetryBase    time.Duration // 降级重试基础退避，默认 5秒
		RetryCap     time.Duration // 降级重试退避上限，默认 5分钟
		RetryTick    time.Duration // 降级重试轮询间隔，默认 1秒
	}

	// 久坐会话配置
	Session struct {
		TierOffsets     [3]time.Duration // 三级提醒偏移，默认 +1h/+2h/+3h
		StaleTimeout    time.Duration    // 无摄像头上报视为离座的超时，默认 10分钟
		JanitorInterval time.Duration    // 过期会话巡检间隔，默认 1分钟
	}

	// 习惯画像配置
	Habit struct {
		ConfidenceK   int     // 置信度饱和常数 K（confidence = count/(count+K)），默认 5
		ZThreshold    float64 // 异常判定 z-score 阈值，默认 2.0
		MinConfidence float64 // 异常上报最低置信度，默认 0.4
		MinCount      int     // 异常上报最低样本数，默认 3
		AutoCheckIn   bool    // 异常时自动安排关怀提醒，默认 false（仅做 advisory 输出）
	}

	// MQTT 事件主题
	Topics struct {
		CamReport  string // 摄像头姿态上报主题，默认 "assistant/cam/+/report"
		HabitEvent string // 习惯事件主题，默认 "assistant/habit/+/event"
	}

	// Redis 快照缓存配置
	Cache struct {
		SessionKeyPrefix string // 会话快照键前缀，如 "assistant:user:"
		SessionSuffix    string // 会话快照键后缀，如 ":sedentary"
		ProfileKeyPrefix string // 画像快照键前缀，如 "assistant:user:"
		ProfileSuffix    string // 画像快照键后缀，如 ":habits"
		SnapshotTTL      int    // 快照 TTL（秒），默认 3600
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 从环境变量加载（默认值）
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "assistant")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 10)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "wisefido-orchestrator")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = 1

	// 提醒投递服务
	cfg.Reminder.BaseURL = getEnv("REMINDER_URL", "http://reminder:9002")
	cfg.Reminder.Timeout = getEnvDuration("REMINDER_TIMEOUT", 5*time.Second)
	cfg.Reminder.RetryBase = getEnvDuration("REMINDER_RETRY_BASE", 5*time.Second)
	cfg.Reminder.RetryCap = getEnvDuration("REMINDER_RETRY_CAP", 5*time.Minute)
	cfg.Reminder.RetryTick = getEnvDuration("REMINDER_RETRY_TICK", time.Second)

	// 久坐会话
	cfg.Session.TierOffsets = [3]time.Duration{
		getEnvDuration("SESSION_TIER1_OFFSET", time.Hour),
		getEnvDuration("SESSION_TIER2_OFFSET", 2*time.Hour),
		getEnvDuration("SESSION_TIER3_OFFSET", 3*time.Hour),
	}
	cfg.Session.StaleTimeout = getEnvDuration("SESSION_STALE_TIMEOUT", 10*time.Minute)
	cfg.Session.JanitorInterval = getEnvDuration("SESSION_JANITOR_INTERVAL", time.Minute)

	// 习惯画像
	cfg.Habit.ConfidenceK = getEnvInt("HABIT_CONFIDENCE_K", 5)
	cfg.Habit.ZThreshold = getEnvFloat("HABIT_Z_THRESHOLD", 2.0)
	cfg.Habit.MinConfidence = getEnvFloat("HABIT_MIN_CONFIDENCE", 0.4)
	cfg.Habit.MinCount = getEnvInt("HABIT_MIN_COUNT", 3)
	cfg.Habit.AutoCheckIn = getEnvBool("HABIT_AUTO_CHECKIN", false)

	// MQTT 主题
	cfg.Topics.CamReport = getEnv("TOPIC_CAM_REPORT", "assistant/cam/+/report")
	cfg.Topics.HabitEvent = getEnv("TOPIC_HABIT_EVENT", "assistant/habit/+/event")

	// 快照缓存
	cfg.Cache.SessionKeyPrefix = getEnv("CACHE_SESSION_PREFIX", "assistant:user:")
	cfg.Cache.SessionSuffix = ":sedentary"
	cfg.Cache.ProfileKeyPrefix = getEnv("CACHE_PROFILE_PREFIX", "assistant:user:")
	cfg.Cache.ProfileSuffix = ":habits"
	cfg.Cache.SnapshotTTL = getEnvInt("CACHE_SNAPSHOT_TTL", 3600)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
