package metrics

import (
	"gonum.org/v1/gonum/stat"

	"wisefido-sleep/internal/models"
)

// VitalsSummary 心率（按可信度加权）与体动统计；没有采样时为零值
func VitalsSummary(s *models.SleepSession) models.VitalsSummary {
	var v models.VitalsSummary
	if s == nil {
		return v
	}

	if n := len(s.HeartRateSamples); n > 0 {
		bpm := make([]float64, n)
		weights := make([]float64, n)
		var weightSum float64
		v.HeartRateMin, v.HeartRateMax = s.HeartRateSamples[0].BPM, s.HeartRateSamples[0].BPM
		for i, hr := range s.HeartRateSamples {
			bpm[i] = float64(hr.BPM)
			weights[i] = hr.Confidence
			weightSum += hr.Confidence
			v.HeartRateMin = min(v.HeartRateMin, hr.BPM)
			v.HeartRateMax = max(v.HeartRateMax, hr.BPM)
		}
		if weightSum == 0 {
			// 全部采样可信度为 0 时退化为等权
			weights = nil
			weightSum = float64(n)
		}
		v.HeartRateSamples = n
		if weightSum > 1 {
			v.HeartRateMean, v.HeartRateStdDev = stat.MeanStdDev(bpm, weights)
		} else {
			v.HeartRateMean = stat.Mean(bpm, weights)
		}
	}

	if n := len(s.MotionSamples); n > 0 {
		mag := make([]float64, n)
		for i, m := range s.MotionSamples {
			mag[i] = m.Magnitude
		}
		v.MotionSamples = n
		v.MotionMean = stat.Mean(mag, nil)
	}

	return v
}

// Summarize 生成下游使用的会话概要（质量分重新计算）
func Summarize(s *models.SleepSession) models.SessionSummary {
	b := PhaseTotals(s)
	return models.SessionSummary{
		SessionID:        s.ID,
		DeviceID:         s.DeviceID,
		TenantID:         s.TenantID,
		Source:           s.Source,
		Date:             s.Date,
		StartUnix:        s.StartTime.Unix(),
		EndUnix:          s.EndTime.Unix(),
		DurationMinutes:  s.DurationMinutes,
		TimeInBedMinutes: s.TimeInBedMinutes,
		Quality:          Quality(s),
		Awakenings:       s.Awakenings,
		PhaseMinutes:     b.Minutes,
		Vitals:           VitalsSummary(s),
	}
}
