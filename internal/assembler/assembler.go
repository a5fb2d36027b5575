// Package assembler 将规范化的阶段与采样组装为一晚的 SleepSession
package assembler

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"wisefido-sleep/internal/models"
)

// Assemble 组装会话
//
// 步骤：
//  1. 没有阶段时返回 nil, nil（不是错误）
//  2. 按开始时间稳定排序副本，拒绝重叠或负时长的阶段
//  3. 开始 = 最早阶段开始，结束 = 最晚阶段结束
//  4. 睡眠时长 = Σ 阶段分钟（阶段之间的空隙不补齐）
//  5. 在床时长 = 元数据值或睡眠时长，小于睡眠时长时提升到睡眠时长
//  6. 醒来次数 = 元数据值或 0（不推断）
//  7. 采样排序并裁剪到 [开始, 结束]
//
// Quality 不在此计算，由 metrics.Score 填充。
func Assemble(
	source models.SourceKind,
	phases []models.SleepPhase,
	heartRate []models.HeartRateSample,
	motion []models.MotionSample,
	meta models.SessionMetadata,
) (*models.SleepSession, error) {
	if len(phases) == 0 {
		return nil, nil
	}

	sorted := slices.Clone(phases)
	slices.SortStableFunc(sorted, func(a, b models.SleepPhase) int {
		return a.StartTime.Compare(b.StartTime)
	})

	// latest 为已检查阶段中结束最晚的一个
	var latest models.SleepPhase
	for i, p := range sorted {
		if p.DurationMinutes < 0 || !p.Type.Valid() {
			return nil, &models.AssemblyError{Kind: models.ErrInvalidPhase, First: p}
		}
		if i > 0 && overlaps(latest, p) {
			return nil, &models.AssemblyError{Kind: models.ErrOverlappingPhases, First: latest, Second: p}
		}
		if i == 0 || p.EndTime().After(latest.EndTime()) {
			latest = p
		}
	}

	start := sorted[0].StartTime
	end := sorted[0].EndTime()
	duration := 0
	for _, p := range sorted {
		if e := p.EndTime(); e.After(end) {
			end = e
		}
		duration += p.DurationMinutes
	}

	timeInBed := duration
	if meta.TimeInBedMinutes != nil && *meta.TimeInBedMinutes > duration {
		timeInBed = *meta.TimeInBedMinutes
	}
	awakenings := 0
	if meta.Awakenings != nil && *meta.Awakenings > 0 {
		awakenings = *meta.Awakenings
	}

	return &models.SleepSession{
		ID:               uuid.New().String(),
		Source:           source,
		DeviceID:         meta.DeviceID,
		TenantID:         meta.TenantID,
		Date:             start.Format(models.DateLayout),
		StartTime:        start,
		EndTime:          end,
		DurationMinutes:  duration,
		TimeInBedMinutes: timeInBed,
		Phases:           sorted,
		HeartRateSamples: window(heartRate, start, end, func(s models.HeartRateSample) time.Time { return s.Timestamp }),
		MotionSamples:    window(motion, start, end, func(s models.MotionSample) time.Time { return s.Timestamp }),
		Awakenings:       awakenings,
	}, nil
}

// overlaps 两个阶段区间是否相交
func overlaps(a, b models.SleepPhase) bool {
	return a.StartTime.Before(b.EndTime()) && b.StartTime.Before(a.EndTime())
}

func window[S any](samples []S, start, end time.Time, ts func(S) time.Time) []S {
	out := make([]S, 0, len(samples))
	for _, s := range samples {
		t := ts(s)
		if t.Before(start) || t.After(end) {
			continue
		}
		out = append(out, s)
	}
	slices.SortStableFunc(out, func(a, b S) int {
		return ts(a).Compare(ts(b))
	})
	return out
}
