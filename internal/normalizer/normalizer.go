// Package normalizer 将解码结果映射为规范睡眠模型
//
// 每个来源一张 Table（编码表 + 时钟定义 + 加速度比例）。控制逻辑与表分离，
// 新增来源或修改编码只需替换表。
package normalizer

import (
	"math"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"wisefido-sleep/internal/models"
)

// 心率无效值（设备未测得时上报 0 或 255）
const (
	minValidBPM = 0
	maxValidBPM = 255
)

// Normalizer 规范化器，构造后只读，可并发使用
type Normalizer struct {
	tables   map[models.SourceKind]Table
	location *time.Location
	logger   *zap.Logger
}

// Option 构造选项
type Option func(*Normalizer)

// WithTable 替换单个来源的表
func WithTable(source models.SourceKind, table Table) Option {
	return func(n *Normalizer) {
		n.tables[source] = table
	}
}

// WithTables 批量替换（通常来自 LoadTablesYAML）
func WithTables(tables map[models.SourceKind]Table) Option {
	return func(n *Normalizer) {
		for source, table := range tables {
			n.tables[source] = table
		}
	}
}

// WithLocation 设置输出时间的时区（由调用方解析用户时区，默认 UTC）
func WithLocation(loc *time.Location) Option {
	return func(n *Normalizer) {
		if loc != nil {
			n.location = loc
		}
	}
}

// New 创建规范化器
func New(logger *zap.Logger, opts ...Option) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &Normalizer{
		tables:   DefaultTables(),
		location: time.UTC,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Location 输出时间使用的时区
func (n *Normalizer) Location() *time.Location {
	return n.location
}

// Normalize 规范化一个解码批次
//
// 处理内容：
//   - 阶段编码 → SleepPhaseType（未知编码按 Light 处理，不报错）
//   - 来源时钟偏移 → 绝对时间；时长单位 → 整分钟（截断）
//   - 加速度 → g，并计算模长
//   - 心率：过滤无效值，可信度限制在 [0,1]
//   - 阶段与采样按时间排序
func (n *Normalizer) Normalize(batch *models.DecodedBatch) (*models.NormalizedBatch, error) {
	table, ok := n.tables[batch.Source]
	if !ok {
		return nil, &models.DecodeError{Kind: models.ErrUnrecognizedSource, Source: batch.Source}
	}
	tb := table.TimeBase

	out := &models.NormalizedBatch{
		Source:    batch.Source,
		Phases:    make([]models.SleepPhase, 0, len(batch.Events)),
		HeartRate: make([]models.HeartRateSample, 0, len(batch.HeartRate)),
		Motion:    make([]models.MotionSample, 0, len(batch.Motion)),
	}

	for _, ev := range batch.Events {
		out.Phases = append(out.Phases, models.SleepPhase{
			Type:            n.phaseType(batch.Source, table, ev.PhaseCode),
			StartTime:       tb.at(ev.StartOffset, n.location),
			DurationMinutes: tb.minutes(ev.DurationUnits),
		})
	}

	for _, hr := range batch.HeartRate {
		if hr.BPM <= minValidBPM || hr.BPM >= maxValidBPM {
			continue
		}
		out.HeartRate = append(out.HeartRate, models.HeartRateSample{
			Timestamp:  tb.at(hr.Offset, n.location),
			BPM:        hr.BPM,
			Confidence: clamp01(hr.Confidence),
		})
	}

	for _, m := range batch.Motion {
		x, y, z := m.X*table.MotionScale, m.Y*table.MotionScale, m.Z*table.MotionScale
		out.Motion = append(out.Motion, models.MotionSample{
			Timestamp: tb.at(m.Offset, n.location),
			X:         x,
			Y:         y,
			Z:         z,
			Magnitude: math.Sqrt(x*x + y*y + z*z),
		})
	}

	slices.SortStableFunc(out.Phases, func(a, b models.SleepPhase) int {
		return a.StartTime.Compare(b.StartTime)
	})
	slices.SortStableFunc(out.HeartRate, func(a, b models.HeartRateSample) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	slices.SortStableFunc(out.Motion, func(a, b models.MotionSample) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	out.Meta.Awakenings = batch.Meta.Awakenings
	out.Meta.TimeInBedMinutes = batch.Meta.TimeInBedMinutes
	if out.Meta.TimeInBedMinutes == nil && batch.Meta.StartOffset != nil && batch.Meta.EndOffset != nil {
		// 来源未给出在床时长时，用文档的起止时间跨度
		span := int(tb.at(*batch.Meta.EndOffset, time.UTC).Sub(tb.at(*batch.Meta.StartOffset, time.UTC)) / time.Minute)
		out.Meta.TimeInBedMinutes = &span
	}

	return out, nil
}

func (n *Normalizer) phaseType(source models.SourceKind, table Table, code string) models.SleepPhaseType {
	if t, ok := table.Codes[code]; ok {
		return t
	}
	if t, ok := table.Codes[strings.ToLower(code)]; ok {
		return t
	}
	n.logger.Debug("Unknown phase code, using Light",
		zap.String("source", string(source)),
		zap.String("code", code),
	)
	return models.PhaseLight
}

func (tb TimeBase) at(offset int64, loc *time.Location) time.Time {
	return tb.Epoch.Add(time.Duration(offset) * tb.OffsetUnit).In(loc)
}

// minutes 按 DurationUnit/Minute 的约分比例换算，units 很大时也不溢出
func (tb TimeBase) minutes(units int64) int {
	num, den := int64(tb.DurationUnit), int64(time.Minute)
	g := gcd(num, den)
	num, den = num/g, den/g
	return int(units/den*num + units%den*num/den)
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
