// Package metrics 睡眠质量与统计指标
//
// 所有计算使用整数或定点数，幂等且不返回错误。
// 百分比以基点（1/100 %）保存，避免浮点误差影响输出稳定性。
package metrics

import (
	"time"

	"wisefido-sleep/internal/models"
)

// 质量分权重
const (
	weightDeep  = 40
	weightREM   = 30
	weightLight = 20
	weightAwake = 10 // 作用于非清醒时长

	// MaxQuality 质量分上限
	MaxQuality = 100

	// BasisPointsPerPercent 1% = 100 基点
	BasisPointsPerPercent = 100
)

// Breakdown 各阶段的分钟数与占比
type Breakdown struct {
	Minutes      map[models.SleepPhaseType]int `json:"minutes"`
	PercentBasis map[models.SleepPhaseType]int `json:"percent_basis_points"` // 10000 = 100%
	Total        int                           `json:"total_minutes"`
}

// Percent 以浮点百分比返回（仅用于展示）
func (b Breakdown) Percent(t models.SleepPhaseType) float64 {
	return float64(b.PercentBasis[t]) / BasisPointsPerPercent
}

// PhaseTotals 按阶段汇总分钟数；总和为 0 时所有占比为 0
func PhaseTotals(s *models.SleepSession) Breakdown {
	b := Breakdown{
		Minutes:      make(map[models.SleepPhaseType]int, len(models.AllPhaseTypes)),
		PercentBasis: make(map[models.SleepPhaseType]int, len(models.AllPhaseTypes)),
	}
	for _, t := range models.AllPhaseTypes {
		b.Minutes[t] = 0
		b.PercentBasis[t] = 0
	}
	if s == nil {
		return b
	}

	for _, p := range s.Phases {
		if p.DurationMinutes <= 0 {
			continue
		}
		b.Minutes[p.Type] += p.DurationMinutes
		b.Total += p.DurationMinutes
	}
	if b.Total == 0 {
		return b
	}
	for _, t := range models.AllPhaseTypes {
		b.PercentBasis[t] = divRound(b.Minutes[t]*100*BasisPointsPerPercent, b.Total)
	}
	return b
}

// Quality 质量分 0..100
//
//	quality = round((40·deep + 30·rem + 20·light + 10·(T − awake)) / T)
//
// T 为全部阶段分钟数（含清醒）。T = 0 时为 0。
func Quality(s *models.SleepSession) int {
	b := PhaseTotals(s)
	if b.Total == 0 {
		return 0
	}
	numer := weightDeep*b.Minutes[models.PhaseDeep] +
		weightREM*b.Minutes[models.PhaseREM] +
		weightLight*b.Minutes[models.PhaseLight] +
		weightAwake*(b.Total-b.Minutes[models.PhaseAwake])
	return clamp(divRound(numer, b.Total), 0, MaxQuality)
}

// Score 返回重新计算质量分后的副本，原会话不变
func Score(s *models.SleepSession) *models.SleepSession {
	if s == nil {
		return nil
	}
	c := s.Clone()
	c.Quality = Quality(c)
	return c
}

// Efficiency 睡眠效率 = round(100 · Σ睡眠时长 / Σ在床时长)；Σ在床时长为 0 时为 0
func Efficiency(sessions []*models.SleepSession) int {
	var asleep, inBed int
	for _, s := range sessions {
		if s == nil {
			continue
		}
		asleep += s.DurationMinutes
		inBed += s.TimeInBedMinutes
	}
	if inBed <= 0 {
		return 0
	}
	return divRound(100*asleep, inBed)
}

// SplitAverages 工作日 / 周末的平均睡眠时长（小时）
type SplitAverages struct {
	WeekdayHours  float64 `json:"weekday_hours"`
	WeekendHours  float64 `json:"weekend_hours"`
	WeekdayNights int     `json:"weekday_nights"`
	WeekendNights int     `json:"weekend_nights"`
}

// IsWeekendNight 周五、周六入睡计为周末
func IsWeekendNight(d time.Weekday) bool {
	return d == time.Friday || d == time.Saturday
}

// WeekdayWeekendAverages 按入睡日期的星期分组求平均时长，空组为 0
func WeekdayWeekendAverages(sessions []*models.SleepSession) SplitAverages {
	var out SplitAverages
	var weekdayMin, weekendMin int
	for _, s := range sessions {
		if s == nil {
			continue
		}
		if IsWeekendNight(s.Weekday()) {
			weekendMin += s.DurationMinutes
			out.WeekendNights++
		} else {
			weekdayMin += s.DurationMinutes
			out.WeekdayNights++
		}
	}
	out.WeekdayHours = averageHours(weekdayMin, out.WeekdayNights)
	out.WeekendHours = averageHours(weekendMin, out.WeekendNights)
	return out
}

func averageHours(minutes, nights int) float64 {
	if nights == 0 {
		return 0
	}
	return float64(minutes) / float64(nights) / 60
}

// divRound 非负整数除法，四舍五入（half up）
func divRound(numer, denom int) int {
	return (2*numer + denom) / (2 * denom)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
