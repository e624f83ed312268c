package models

import (
	"math"
	"time"
)

// HabitProfile 习惯画像（每 (user_id, event_type) 一条，只增不删）
//
// mean/variance 采用 Welford 单遍算法在线更新；VarianceAccum 为 M2 累加量，
// 恒为非负。confidence = count/(count+K)，随 count 单调不减且饱和于 1.0。
type HabitProfile struct {
	UserID        string    `json:"user_id" db:"user_id"`
	EventType     string    `json:"event_type" db:"event_type"`
	Count         int64     `json:"count" db:"count"`
	Mean          float64   `json:"mean" db:"mean"`
	VarianceAccum float64   `json:"variance_accum" db:"variance_accum"` // Welford M2
	Confidence    float64   `json:"confidence" db:"confidence"`
	LastUpdated   time.Time `json:"last_updated" db:"last_updated"`
}

// Variance 样本方差（count < 2 时为 0）
func (p *HabitProfile) Variance() float64 {
	if p.Count < 2 {
		return 0
	}
	return p.VarianceAccum / float64(p.Count-1)
}

// StdDev 样本标准差
func (p *HabitProfile) StdDev() float64 {
	return math.Sqrt(p.Variance())
}

// AnomalyReport 异常检测结果（advisory 输出，由调用方决定是否采取动作）
type AnomalyReport struct {
	UserID     string  `json:"user_id"`
	EventType  string  `json:"event_type"`
	Value      float64 `json:"value"`
	ZScore     float64 `json:"z_score"`
	Mean       float64 `json:"mean"`
	StdDev     float64 `json:"std_dev"`
	Confidence float64 `json:"confidence"`
}
