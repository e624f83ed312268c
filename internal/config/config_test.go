package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	// 清除环境变量
	os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	// 验证默认值
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "postgres", cfg.Database.User)
	assert.Equal(t, "postgres", cfg.Database.Password)
	assert.Equal(t, "assistant", cfg.Database.Database)
	assert.Equal(t, "disable", cfg.Database.SSLMode)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "", cfg.Redis.Password)
	assert.Equal(t, 0, cfg.Redis.DB)

	assert.Equal(t, "http://reminder:9002", cfg.Reminder.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Reminder.Timeout)
	assert.Equal(t, 5*time.Second, cfg.Reminder.RetryBase)
	assert.Equal(t, 5*time.Minute, cfg.Reminder.RetryCap)

	assert.Equal(t, time.Hour, cfg.Session.TierOffsets[0])
	assert.Equal(t, 2*time.Hour, cfg.Session.TierOffsets[1])
	assert.Equal(t, 3*time.Hour, cfg.Session.TierOffsets[2])
	assert.Equal(t, 10*time.Minute, cfg.Session.StaleTimeout)

	assert.Equal(t, 5, cfg.Habit.ConfidenceK)
	assert.Equal(t, 2.0, cfg.Habit.ZThreshold)
	assert.Equal(t, 0.4, cfg.Habit.MinConfidence)
	assert.Equal(t, 3, cfg.Habit.MinCount)
	assert.False(t, cfg.Habit.AutoCheckIn)

	assert.Equal(t, "assistant:user:", cfg.Cache.SessionKeyPrefix)
	assert.Equal(t, ":sedentary", cfg.Cache.SessionSuffix)
	assert.Equal(t, ":habits", cfg.Cache.ProfileSuffix)
	assert.Equal(t, 3600, cfg.Cache.SnapshotTTL)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	// 设置环境变量
	os.Setenv("DB_HOST", "test-host")
	os.Setenv("DB_USER", "test-user")
	os.Setenv("DB_PASSWORD", "test-password")
	os.Setenv("DB_NAME", "test-db")
	os.Setenv("REDIS_ADDR", "test-redis:6380")
	os.Setenv("REMINDER_URL", "http://test-reminder:9000")
	os.Setenv("SESSION_STALE_TIMEOUT", "30s")
	os.Setenv("SESSION_TIER1_OFFSET", "10m")
	os.Setenv("HABIT_AUTO_CHECKIN", "true")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("LOG_FORMAT", "console")

	cfg, err := Load()
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	// 验证环境变量覆盖
	assert.Equal(t, "test-host", cfg.Database.Host)
	assert.Equal(t, "test-user", cfg.Database.User)
	assert.Equal(t, "test-password", cfg.Database.Password)
	assert.Equal(t, "test-db", cfg.Database.Database)

	assert.Equal(t, "test-redis:6380", cfg.Redis.Addr)
	assert.Equal(t, "http://test-reminder:9000", cfg.Reminder.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Session.StaleTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Session.TierOffsets[0])
	assert.True(t, cfg.Habit.AutoCheckIn)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)

	// 清理环境变量
	os.Clearenv()
}

func TestGetDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "db-host",
		Port:     5433,
		User:     "u",
		Password: "p",
		Database: "d",
		SSLMode:  "disable",
	}
	assert.Equal(t, "host=db-host port=5433 user=u password=p dbname=d sslmode=disable", cfg.GetDSN())
}

func TestGetEnv(t *testing.T) {
	// 测试默认值
	os.Clearenv()
	value := getEnv("TEST_KEY", "default-value")
	assert.Equal(t, "default-value", value)

	// 测试环境变量存在
	os.Setenv("TEST_KEY", "env-value")
	value = getEnv("TEST_KEY", "default-value")
	assert.Equal(t, "env-value", value)

	// 清理
	os.Unsetenv("TEST_KEY")
}

func TestGetEnvDuration_Invalid(t *testing.T) {
	os.Setenv("TEST_DURATION", "not-a-duration")
	value := getEnvDuration("TEST_DURATION", 7*time.Second)
	assert.Equal(t, 7*time.Second, value)
	os.Unsetenv("TEST_DURATION")
}
