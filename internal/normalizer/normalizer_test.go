package normalizer

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wisefido-sleep/internal/models"
)

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }

func TestNormalize_BLEBand(t *testing.T) {
	n := New(zap.NewNop())
	start := time.Date(2024, 3, 4, 23, 0, 0, 0, time.UTC)

	batch := &models.DecodedBatch{
		Source: models.SourceBLEBand,
		Events: []models.RawPhaseEvent{
			{PhaseCode: "2", StartOffset: start.Add(30 * time.Minute).Unix(), DurationUnits: 60},
			{PhaseCode: "1", StartOffset: start.Unix(), DurationUnits: 30},
			{PhaseCode: "3", StartOffset: start.Add(90 * time.Minute).Unix(), DurationUnits: 20},
			{PhaseCode: "0", StartOffset: start.Add(110 * time.Minute).Unix(), DurationUnits: 5},
		},
		HeartRate: []models.RawHeartRateSample{
			{Offset: start.Add(time.Minute).Unix(), BPM: 60, Confidence: 1.7},
			{Offset: start.Add(2 * time.Minute).Unix(), BPM: 0, Confidence: 1},
			{Offset: start.Add(3 * time.Minute).Unix(), BPM: 255, Confidence: 1},
			{Offset: start.Add(4 * time.Minute).Unix(), BPM: 58, Confidence: -0.2},
		},
		Motion: []models.RawMotionSample{
			{Offset: start.Unix(), X: 300, Y: 0, Z: 400},
		},
	}

	out, err := n.Normalize(batch)
	require.NoError(t, err)

	require.Len(t, out.Phases, 4)
	assert.Equal(t, models.PhaseLight, out.Phases[0].Type)
	assert.True(t, out.Phases[0].StartTime.Equal(start))
	assert.Equal(t, 30, out.Phases[0].DurationMinutes)
	assert.Equal(t, models.PhaseDeep, out.Phases[1].Type)
	assert.Equal(t, models.PhaseREM, out.Phases[2].Type)
	assert.Equal(t, models.PhaseAwake, out.Phases[3].Type)

	require.Len(t, out.HeartRate, 2)
	assert.Equal(t, 1.0, out.HeartRate[0].Confidence)
	assert.Equal(t, 0.0, out.HeartRate[1].Confidence)

	require.Len(t, out.Motion, 1)
	assert.InDelta(t, 0.3, out.Motion[0].X, 1e-9)
	assert.InDelta(t, 0.5, out.Motion[0].Magnitude, 1e-9)
}

func TestNormalize_BLERingEpochAndThirtySecondUnits(t *testing.T) {
	n := New(zap.NewNop())
	batch := &models.DecodedBatch{
		Source: models.SourceBLERing,
		Events: []models.RawPhaseEvent{{PhaseCode: "2", StartOffset: 3600, DurationUnits: 5}},
	}

	out, err := n.Normalize(batch)
	require.NoError(t, err)
	require.Len(t, out.Phases, 1)
	assert.True(t, out.Phases[0].StartTime.Equal(time.Date(2000, 1, 1, 1, 0, 0, 0, time.UTC)))
	// 5 × 30s = 150s → 2 分钟（截断）
	assert.Equal(t, 2, out.Phases[0].DurationMinutes)
}

func TestTimeBaseMinutes_LargeUnits(t *testing.T) {
	tests := []struct {
		name  string
		unit  time.Duration
		units int64
		want  int
	}{
		{"ring 30s epochs", 30 * time.Second, 400000000, 200000000},
		{"ring max uint32", 30 * time.Second, math.MaxUint32, 2147483647},
		{"minutes", time.Minute, math.MaxUint32, math.MaxUint32},
		{"seconds truncate", time.Second, 119, 1},
		{"milliseconds", time.Millisecond, 5400000, 90},
		{"zero", 30 * time.Second, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tb := TimeBase{DurationUnit: tt.unit}
			assert.Equal(t, tt.want, tb.minutes(tt.units))
		})
	}
}

func TestNormalize_UnknownCodeIsLight(t *testing.T) {
	n := New(zap.NewNop())

	tests := []struct {
		source models.SourceKind
		code   string
	}{
		{models.SourceBLEBand, "9"},
		{models.SourceSamsungHealth, "40099"},
		{models.SourceAppleHealth, "awake"},
		{models.SourceAppleHealth, "inBed"},
		{models.SourceManualImport, "nap"},
	}

	for _, tt := range tests {
		t.Run(string(tt.source)+"/"+tt.code, func(t *testing.T) {
			out, err := n.Normalize(&models.DecodedBatch{
				Source: tt.source,
				Events: []models.RawPhaseEvent{{PhaseCode: tt.code, StartOffset: 0, DurationUnits: 0}},
			})
			require.NoError(t, err)
			assert.Equal(t, models.PhaseLight, out.Phases[0].Type)
		})
	}
}

func TestNormalize_ManualCodesCaseInsensitive(t *testing.T) {
	n := New(zap.NewNop())
	out, err := n.Normalize(&models.DecodedBatch{
		Source: models.SourceManualImport,
		Events: []models.RawPhaseEvent{{PhaseCode: "REM", StartOffset: 0, DurationUnits: 15}},
	})
	require.NoError(t, err)
	assert.Equal(t, models.PhaseREM, out.Phases[0].Type)
	assert.Equal(t, 15, out.Phases[0].DurationMinutes)
}

func TestNormalize_Metadata(t *testing.T) {
	n := New(zap.NewNop())

	out, err := n.Normalize(&models.DecodedBatch{
		Source: models.SourceSamsungHealth,
		Meta: models.RawMetadata{
			StartOffset: int64Ptr(1709593200000),
			EndOffset:   int64Ptr(1709622000000),
			Awakenings:  intPtr(3),
		},
	})
	require.NoError(t, err)
	require.NotNil(t, out.Meta.TimeInBedMinutes)
	assert.Equal(t, 480, *out.Meta.TimeInBedMinutes)
	assert.Equal(t, 3, *out.Meta.Awakenings)

	out, err = n.Normalize(&models.DecodedBatch{
		Source: models.SourceSamsungHealth,
		Meta: models.RawMetadata{
			StartOffset:      int64Ptr(0),
			EndOffset:        int64Ptr(60000),
			TimeInBedMinutes: intPtr(500),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 500, *out.Meta.TimeInBedMinutes)
}

func TestNormalize_Location(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	n := New(zap.NewNop(), WithLocation(loc))

	out, err := n.Normalize(&models.DecodedBatch{
		Source: models.SourceManualImport,
		Events: []models.RawPhaseEvent{{PhaseCode: "deep", StartOffset: 0, DurationUnits: 10}},
	})
	require.NoError(t, err)
	assert.Equal(t, loc, out.Phases[0].StartTime.Location())
	assert.Equal(t, 8, out.Phases[0].StartTime.Hour())
}

func TestNormalize_UnknownSource(t *testing.T) {
	_, err := New(nil).Normalize(&models.DecodedBatch{Source: "fitbit"})
	assert.ErrorIs(t, err, models.ErrUnrecognizedSource)
}

func TestWithTable_Replaces(t *testing.T) {
	table := DefaultTables()[models.SourceBLEBand]
	table.Codes = map[string]models.SleepPhaseType{"1": models.PhaseDeep}
	n := New(zap.NewNop(), WithTable(models.SourceBLEBand, table))

	out, err := n.Normalize(&models.DecodedBatch{
		Source: models.SourceBLEBand,
		Events: []models.RawPhaseEvent{{PhaseCode: "1"}, {PhaseCode: "2", StartOffset: 60}},
	})
	require.NoError(t, err)
	assert.Equal(t, models.PhaseDeep, out.Phases[0].Type)
	assert.Equal(t, models.PhaseLight, out.Phases[1].Type)
}

func TestLoadTablesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tables.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tables:
  samsung_health:
    codes:
      "40005": Deep
      "40001": Light
  ble_ring:
    motion_scale: 0.002
`), 0o600))

	tables, err := LoadTablesYAML(path)
	require.NoError(t, err)

	samsung := tables[models.SourceSamsungHealth]
	assert.Equal(t, models.PhaseDeep, samsung.Codes["40005"])
	assert.Equal(t, models.PhaseLight, samsung.Codes["40001"])
	assert.Equal(t, models.PhaseREM, samsung.Codes["40004"])
	assert.Equal(t, time.Millisecond, samsung.TimeBase.OffsetUnit)

	assert.Equal(t, 0.002, tables[models.SourceBLERing].MotionScale)
	assert.Equal(t, models.PhaseDeep, tables[models.SourceBLERing].Codes["2"])

	// 默认表未被修改
	_, ok := DefaultTables()[models.SourceSamsungHealth].Codes["40005"]
	assert.False(t, ok)
}

func TestParseTablesYAML_Errors(t *testing.T) {
	tests := map[string]string{
		"unknown source": "tables:\n  fitbit:\n    codes:\n      \"1\": Deep\n",
		"unknown phase":  "tables:\n  ble_band:\n    codes:\n      \"1\": Dozing\n",
		"bad scale":      "tables:\n  ble_band:\n    motion_scale: 0\n",
		"not yaml":       "tables: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseTablesYAML([]byte(doc))
			assert.Error(t, err)
		})
	}

	_, err := LoadTablesYAML(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, clamp01(math.NaN()))
	assert.Equal(t, 0.5, clamp01(0.5))
}
