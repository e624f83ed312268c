package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"wisefido-orchestrator/internal/models"
)

// ============================================
// 解析测试
// ============================================

func TestParse_ClockTimeList(t *testing.T) {
	s, err := Parse("08:00,14:00,20:00")

	require.NoError(t, err)
	assert.Equal(t, KindClockTimes, s.Kind)
	require.Len(t, s.Times, 3)
	assert.Equal(t, ClockTime{Hour: 8, Minute: 0}, s.Times[0])
	assert.Equal(t, ClockTime{Hour: 14, Minute: 0}, s.Times[1])
	assert.Equal(t, ClockTime{Hour: 20, Minute: 0}, s.Times[2])
}

func TestParse_SingleClockTime(t *testing.T) {
	s, err := Parse("21:30")

	require.NoError(t, err)
	assert.Equal(t, KindClockTimes, s.Kind)
	require.Len(t, s.Times, 1)
	assert.Equal(t, ClockTime{Hour: 21, Minute: 30}, s.Times[0])
}

func TestParse_EveryHours(t *testing.T) {
	s, err := Parse("every 8 hours")

	require.NoError(t, err)
	assert.Equal(t, KindInterval, s.Kind)
	assert.Equal(t, 8*time.Hour, s.Interval)
}

func TestParse_EveryMinutes(t *testing.T) {
	s, err := Parse("Every 30 minutes")

	require.NoError(t, err)
	assert.Equal(t, KindInterval, s.Kind)
	assert.Equal(t, 30*time.Minute, s.Interval)
}

func TestParse_OnceDailyAt(t *testing.T) {
	s, err := Parse("once daily at 08:00")

	require.NoError(t, err)
	assert.Equal(t, KindClockTimes, s.Kind)
	require.Len(t, s.Times, 1)
	assert.Equal(t, ClockTime{Hour: 8, Minute: 0}, s.Times[0])
}

func TestParse_DailyAtWithoutOnce(t *testing.T) {
	s, err := Parse("daily at 9:15")

	require.NoError(t, err)
	assert.Equal(t, KindClockTimes, s.Kind)
	require.Len(t, s.Times, 1)
	assert.Equal(t, ClockTime{Hour: 9, Minute: 15}, s.Times[0])
}

func TestParse_EmbeddedTimes(t *testing.T) {
	// 原始摄取行为：文本中的 HH:MM 时刻都按显式时刻识别
	s, err := Parse("take with food at 08:00 and 20:00")

	require.NoError(t, err)
	assert.Equal(t, KindClockTimes, s.Kind)
	require.Len(t, s.Times, 2)
	assert.Equal(t, ClockTime{Hour: 8, Minute: 0}, s.Times[0])
	assert.Equal(t, ClockTime{Hour: 20, Minute: 0}, s.Times[1])
}

func TestParse_Unrecognized(t *testing.T) {
	s, err := Parse("whenever I feel like it")

	assert.Nil(t, s)
	require.Error(t, err)
	assert.True(t, models.IsScheduleParseError(err))
}

func TestParse_Empty(t *testing.T) {
	s, err := Parse("   ")

	assert.Nil(t, s)
	assert.True(t, models.IsScheduleParseError(err))
}

func TestParse_InvalidClockValuesIgnored(t *testing.T) {
	// 25:99 不是合法时刻；只剩非法时刻时报解析错误
	s, err := Parse("25:99")

	assert.Nil(t, s)
	assert.True(t, models.IsScheduleParseError(err))
}

func TestParse_DuplicateTimesDeduped(t *testing.T) {
	s, err := Parse("08:00,08:00,20:00")

	require.NoError(t, err)
	assert.Len(t, s.Times, 2)
}

// ============================================
// Occurrence 生成测试
// ============================================

func TestOccurrences_ClockTimes_FutureSameDay(t *testing.T) {
	s, err := Parse("08:00,20:00")
	require.NoError(t, err)

	loc := time.UTC
	now := time.Date(2025, 6, 1, 6, 0, 0, 0, loc)

	occ := s.Occurrences(now, loc, 0)

	// 正好两条：当天的 08:00 和 20:00
	require.Len(t, occ, 2)
	assert.Equal(t, time.Date(2025, 6, 1, 8, 0, 0, 0, loc), occ[0])
	assert.Equal(t, time.Date(2025, 6, 1, 20, 0, 0, 0, loc), occ[1])
}

func TestOccurrences_ClockTimes_RollToNextDay(t *testing.T) {
	s, err := Parse("08:00,20:00")
	require.NoError(t, err)

	loc := time.UTC
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, loc)

	occ := s.Occurrences(now, loc, 0)

	// 08:00 已过，顺延到 6月2日；20:00 仍在当天
	require.Len(t, occ, 2)
	assert.Equal(t, time.Date(2025, 6, 1, 20, 0, 0, 0, loc), occ[0])
	assert.Equal(t, time.Date(2025, 6, 2, 8, 0, 0, 0, loc), occ[1])
}

func TestOccurrences_ClockTimes_AllInFuture(t *testing.T) {
	s, err := Parse("08:00,14:00,20:00")
	require.NoError(t, err)

	now := time.Date(2025, 6, 1, 23, 30, 0, 0, time.UTC)
	occ := s.Occurrences(now, time.UTC, 0)

	require.Len(t, occ, 3)
	for _, o := range occ {
		assert.True(t, o.After(now))
	}
}

func TestOccurrences_Interval(t *testing.T) {
	s, err := Parse("every 8 hours")
	require.NoError(t, err)

	loc := time.UTC
	now := time.Date(2025, 6, 1, 6, 0, 0, 0, loc)

	occ := s.Occurrences(now, loc, 3)

	require.Len(t, occ, 3)
	assert.Equal(t, now.Add(8*time.Hour), occ[0])
	assert.Equal(t, now.Add(16*time.Hour), occ[1])
	assert.Equal(t, now.Add(24*time.Hour), occ[2])
}

func TestOccurrences_UserTimezone(t *testing.T) {
	s, err := Parse("08:00")
	require.NoError(t, err)

	loc, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)

	// UTC 22:00 = 上海次日 06:00，上海本地 08:00 仍在未来
	now := time.Date(2025, 6, 1, 22, 0, 0, 0, time.UTC)
	occ := s.Occurrences(now, loc, 0)

	require.Len(t, occ, 1)
	assert.Equal(t, 8, occ[0].Hour())
	assert.Equal(t, loc, occ[0].Location())
	assert.True(t, occ[0].After(now))
}
