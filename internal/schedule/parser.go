// Package schedule 将自由文本的用药计划解析为未来的具体时间点
//
// 识别的形式：
//   - 显式时刻列表："08:00,14:00,20:00"（逗号分隔的 HH:MM）
//   - 固定间隔："every 8 hours" / "every 30 minutes"（自上传时刻起算）
//   - 每日定时："once daily at 08:00" / "daily at 8:00"（每日重复）
//
// 其他包含 HH:MM 时刻的文本按显式时刻处理（与原始摄取行为一致）；
// 完全无法识别的文本返回 *models.ScheduleParseError。
package schedule

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"wisefido-orchestrator/internal/models"
)

// Kind 计划类型
type Kind string

const (
	KindClockTimes Kind = "clock_times" // 每日固定时刻
	KindInterval   Kind = "interval"    // 固定间隔
)

// ClockTime 一天内的时刻
type ClockTime struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// Schedule 解析结果
type Schedule struct {
	Kind     Kind          `json:"kind"`
	Times    []ClockTime   `json:"times,omitempty"`    // KindClockTimes 时有效
	Interval time.Duration `json:"interval,omitempty"` // KindInterval 时有效
}

var (
	intervalRe = regexp.MustCompile(`(?i)^every\s+(\d+)\s+(hour|hours|minute|minutes|min|mins)$`)
	dailyAtRe  = regexp.MustCompile(`(?i)(?:once\s+)?daily\s+at\s+(\d{1,2}):(\d{2})`)
	clockRe    = regexp.MustCompile(`(\d{1,2}):(\d{2})`)
)

// Parse 解析 schedule_text
func Parse(text string) (*Schedule, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, &models.ScheduleParseError{Text: text, Reason: "empty schedule text"}
	}

	// 1. 固定间隔："every N hours/minutes"
	if m := intervalRe.FindStringSubmatch(trimmed); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 {
			return nil, &models.ScheduleParseError{Text: text, Reason: "interval must be at least 1"}
		}
		unit := time.Hour
		if strings.HasPrefix(strings.ToLower(m[2]), "min") {
			unit = time.Minute
		}
		return &Schedule{Kind: KindInterval, Interval: time.Duration(n) * unit}, nil
	}

	// 2. 每日定时："once daily at HH:MM"
	if m := dailyAtRe.FindStringSubmatch(trimmed); m != nil {
		ct, ok := makeClockTime(m[1], m[2])
		if !ok {
			return nil, &models.ScheduleParseError{Text: text, Reason: "invalid clock time"}
		}
		return &Schedule{Kind: KindClockTimes, Times: []ClockTime{ct}}, nil
	}

	// 3. 显式时刻：提取文本中所有合法的 HH:MM
	var times []ClockTime
	for _, m := range clockRe.FindAllStringSubmatch(trimmed, -1) {
		if ct, ok := makeClockTime(m[1], m[2]); ok {
			times = append(times, ct)
		}
	}
	if len(times) == 0 {
		return nil, &models.ScheduleParseError{Text: text, Reason: "no recognizable schedule form"}
	}

	// 去重并按时刻排序
	times = dedupClockTimes(times)
	sort.Slice(times, func(i, j int) bool {
		if times[i].Hour != times[j].Hour {
			return times[i].Hour < times[j].Hour
		}
		return times[i].Minute < times[j].Minute
	})

	return &Schedule{Kind: KindClockTimes, Times: times}, nil
}

// Occurrences 生成未来的时间点（用户本地时区）
//
// 显式时刻：每个时刻取下一次出现（已过今日时刻顺延到明天），每时刻一条。
// 固定间隔：自 now 起每隔 Interval 一条，共 intervalCount 条。
func (s *Schedule) Occurrences(now time.Time, loc *time.Location, intervalCount int) []time.Time {
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)

	switch s.Kind {
	case KindInterval:
		if intervalCount < 1 {
			intervalCount = 1
		}
		occurrences := make([]time.Time, 0, intervalCount)
		for i := 1; i <= intervalCount; i++ {
			occurrences = append(occurrences, local.Add(time.Duration(i)*s.Interval))
		}
		return occurrences

	case KindClockTimes:
		occurrences := make([]time.Time, 0, len(s.Times))
		for _, ct := range s.Times {
			when := time.Date(local.Year(), local.Month(), local.Day(), ct.Hour, ct.Minute, 0, 0, loc)
			if !when.After(local) {
				// 今日时刻已过，顺延到明天
				when = when.AddDate(0, 0, 1)
			}
			occurrences = append(occurrences, when)
		}
		sort.Slice(occurrences, func(i, j int) bool { return occurrences[i].Before(occurrences[j]) })
		return occurrences
	}

	return nil
}

func makeClockTime(hourStr, minuteStr string) (ClockTime, bool) {
	hour, err := strconv.Atoi(hourStr)
	if err != nil || hour < 0 || hour > 23 {
		return ClockTime{}, false
	}
	minute, err := strconv.Atoi(minuteStr)
	if err != nil || minute < 0 || minute > 59 {
		return ClockTime{}, false
	}
	return ClockTime{Hour: hour, Minute: minute}, true
}

func dedupClockTimes(times []ClockTime) []ClockTime {
	seen := make(map[ClockTime]bool, len(times))
	out := times[:0]
	for _, ct := range times {
		if !seen[ct] {
			seen[ct] = true
			out = append(out, ct)
		}
	}
	return out
}
