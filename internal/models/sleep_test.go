package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSleepPhaseEndTime(t *testing.T) {
	shanghai, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		t.Skip("tzdata not available")
	}
	start := time.Date(2024, 3, 4, 23, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		phase   SleepPhase
		wantEnd time.Time
	}{
		{"zero", SleepPhase{StartTime: start}, start},
		{"ninety minutes", SleepPhase{StartTime: start, DurationMinutes: 90}, start.Add(90 * time.Minute)},
		{"two days", SleepPhase{StartTime: start, DurationMinutes: 2*24*60 + 5}, start.Add(48*time.Hour + 5*time.Minute)},
		{"beyond duration range", SleepPhase{StartTime: start, DurationMinutes: 200000000},
			start.AddDate(0, 0, 138888).Add(1280 * time.Minute)},
		{"keeps location", SleepPhase{StartTime: start.In(shanghai), DurationMinutes: 60}, start.Add(time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.phase.EndTime()
			assert.True(t, got.Equal(tt.wantEnd), "got %s want %s", got, tt.wantEnd)
			assert.Equal(t, tt.phase.StartTime.Location(), got.Location())
			assert.False(t, got.Before(tt.phase.StartTime))
		})
	}
}
