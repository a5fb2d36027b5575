// Package models 定义睡眠分析核心的领域模型
//
// 数据流：RawPayload → DecodedBatch(RawPhaseEvent) → NormalizedBatch(SleepPhase)
// → SleepSession。SleepSession 在计算质量分后不可变，修正数据需要生成新的会话。
package models

import "time"

// SleepPhaseType 规范睡眠阶段
type SleepPhaseType string

const (
	PhaseDeep  SleepPhaseType = "Deep"
	PhaseREM   SleepPhaseType = "REM"
	PhaseLight SleepPhaseType = "Light"
	PhaseAwake SleepPhaseType = "Awake"
)

// AllPhaseTypes 按固定顺序列出全部阶段（用于输出稳定的分布）
var AllPhaseTypes = []SleepPhaseType{PhaseDeep, PhaseREM, PhaseLight, PhaseAwake}

// Valid 是否为四个规范阶段之一
func (t SleepPhaseType) Valid() bool {
	switch t {
	case PhaseDeep, PhaseREM, PhaseLight, PhaseAwake:
		return true
	}
	return false
}

// SleepPhase 一段连续的睡眠阶段，归属于包含它的 SleepSession
type SleepPhase struct {
	Type            SleepPhaseType `json:"type"`
	StartTime       time.Time      `json:"start_time"`
	DurationMinutes int            `json:"duration_minutes"`
}

// EndTime 阶段结束时间（按天、分钟分段相加，超长阶段不溢出 time.Duration）
func (p SleepPhase) EndTime() time.Time {
	days, rest := p.DurationMinutes/minutesPerDay, p.DurationMinutes%minutesPerDay
	end := p.StartTime.UTC().AddDate(0, 0, days).Add(time.Duration(rest) * time.Minute)
	return end.In(p.StartTime.Location())
}

const minutesPerDay = 24 * 60

// HeartRateSample 心率采样，Confidence ∈ [0,1]
type HeartRateSample struct {
	Timestamp  time.Time `json:"timestamp"`
	BPM        int       `json:"bpm"`
	Confidence float64   `json:"confidence"`
}

// MotionSample 加速度采样（单位 g）
type MotionSample struct {
	Timestamp time.Time `json:"timestamp"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Z         float64   `json:"z"`
	Magnitude float64   `json:"magnitude"`
}

// SessionMetadata 来源附带的会话元数据，nil 表示来源未提供
type SessionMetadata struct {
	DeviceID         string `json:"device_id,omitempty"`
	TenantID         string `json:"tenant_id,omitempty"`
	TimeInBedMinutes *int   `json:"time_in_bed_minutes,omitempty"`
	Awakenings       *int   `json:"awakenings,omitempty"`
}

// SleepSession 一晚完整的睡眠记录
//
// 不变量：
//   - Phases 按时间排序且互不重叠
//   - Σ Phases.DurationMinutes == DurationMinutes <= TimeInBedMinutes
//   - Quality 只由 Phases 重新计算得出，来源不能直接设置
type SleepSession struct {
	ID               string            `json:"id"`
	Source           SourceKind        `json:"source"`
	DeviceID         string            `json:"device_id,omitempty"`
	TenantID         string            `json:"tenant_id,omitempty"`
	Date             string            `json:"date"` // 入睡日期 YYYY-MM-DD
	StartTime        time.Time         `json:"start_time"`
	EndTime          time.Time         `json:"end_time"`
	DurationMinutes  int               `json:"duration_minutes"`
	TimeInBedMinutes int               `json:"time_in_bed_minutes"`
	Phases           []SleepPhase      `json:"phases"`
	HeartRateSamples []HeartRateSample `json:"heart_rate_samples"`
	MotionSamples    []MotionSample    `json:"motion_samples"`
	Awakenings       int               `json:"awakenings"`
	Quality          int               `json:"quality"`
}

// DateLayout SleepSession.Date 的格式
const DateLayout = "2006-01-02"

// Weekday 入睡日期的星期；Date 无法解析时退回 StartTime
func (s *SleepSession) Weekday() time.Weekday {
	if d, err := time.Parse(DateLayout, s.Date); err == nil {
		return d.Weekday()
	}
	return s.StartTime.Weekday()
}

// Clone 深拷贝（切片不共享底层数组）
func (s *SleepSession) Clone() *SleepSession {
	c := *s
	c.Phases = append([]SleepPhase(nil), s.Phases...)
	c.HeartRateSamples = append([]HeartRateSample(nil), s.HeartRateSamples...)
	c.MotionSamples = append([]MotionSample(nil), s.MotionSamples...)
	return &c
}
