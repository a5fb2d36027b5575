package decoder

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wisefido-sleep/internal/models"
)

func documentPayload(doc string) models.RawPayload {
	return models.RawPayload{Channel: models.ChannelDocument, Data: []byte(doc)}
}

func TestDecode_SamsungHealth(t *testing.T) {
	doc := `{
		"startDate": 1709593200000,
		"endDate":   1709622000000,
		"awakenings": 2,
		"timeInBed": 490,
		"phases": [
			{"stage": 40002, "startDate": 1709593200000, "endDate": 1709595000000},
			{"stage": 40003, "startDate": 1709595000000, "endDate": 1709598600000}
		],
		"heartRate": [
			{"time": 1709593260000, "bpm": 58},
			{"time": 1709593320000, "bpm": 57.6, "confidence": 0.5}
		],
		"motion": [
			{"time": 1709593260000, "x": 12, "z": -980}
		]
	}`

	batch, err := Decode(models.SourceSamsungHealth, documentPayload(doc))
	require.NoError(t, err)

	require.Len(t, batch.Events, 2)
	assert.Equal(t, models.RawPhaseEvent{PhaseCode: "40002", StartOffset: 1709593200000, DurationUnits: 1800000}, batch.Events[0])
	assert.Equal(t, "40003", batch.Events[1].PhaseCode)

	require.Len(t, batch.HeartRate, 2)
	assert.Equal(t, DefaultConfidence, batch.HeartRate[0].Confidence)
	assert.Equal(t, 58, batch.HeartRate[1].BPM)
	assert.Equal(t, 0.5, batch.HeartRate[1].Confidence)

	require.Len(t, batch.Motion, 1)
	assert.Equal(t, 12.0, batch.Motion[0].X)
	assert.Equal(t, 0.0, batch.Motion[0].Y)
	assert.Equal(t, -980.0, batch.Motion[0].Z)

	require.NotNil(t, batch.Meta.Awakenings)
	assert.Equal(t, 2, *batch.Meta.Awakenings)
	require.NotNil(t, batch.Meta.TimeInBedMinutes)
	assert.Equal(t, 490, *batch.Meta.TimeInBedMinutes)
	assert.Equal(t, int64(1709593200000), *batch.Meta.StartOffset)
	assert.Equal(t, int64(1709622000000), *batch.Meta.EndOffset)
}

func TestDecode_AppleHealth(t *testing.T) {
	doc := `{
		"startDate": "2024-03-04T23:00:00+08:00",
		"endDate":   "2024-03-05T07:00:00+08:00",
		"phases": [
			{"value": "asleepCore", "startDate": "2024-03-04T23:00:00+08:00", "endDate": "2024-03-04T23:45:00+08:00"},
			{"value": "awake",      "startDate": "2024-03-04T23:45:00+08:00", "endDate": "2024-03-04T23:50:00+08:00"}
		],
		"heartRate": [{"date": "2024-03-04T23:10:00+08:00", "bpm": 61}]
	}`

	batch, err := Decode(models.SourceAppleHealth, documentPayload(doc))
	require.NoError(t, err)

	start := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC).Unix()
	require.Len(t, batch.Events, 2)
	assert.Equal(t, models.RawPhaseEvent{PhaseCode: "asleepCore", StartOffset: start, DurationUnits: 45 * 60}, batch.Events[0])
	assert.Equal(t, "awake", batch.Events[1].PhaseCode)
	assert.Equal(t, start, *batch.Meta.StartOffset)
	assert.Nil(t, batch.Meta.Awakenings)
	assert.Nil(t, batch.Meta.TimeInBedMinutes)

	require.Len(t, batch.HeartRate, 1)
	assert.Equal(t, start+600, batch.HeartRate[0].Offset)
}

func TestDecode_ManualImport(t *testing.T) {
	doc := `{
		"startDate": 1709593200,
		"endDate": 1709622000,
		"phases": [
			{"type": "light", "start": 1709593200, "minutes": 60},
			{"type": "deep",  "start": 1709596800, "minutes": 90}
		]
	}`

	batch, err := Decode(models.SourceManualImport, documentPayload(doc))
	require.NoError(t, err)
	require.Len(t, batch.Events, 2)
	assert.Equal(t, models.RawPhaseEvent{PhaseCode: "deep", StartOffset: 1709596800, DurationUnits: 90}, batch.Events[1])
}

func TestDecode_DocumentMissingFields(t *testing.T) {
	tests := []struct {
		name   string
		source models.SourceKind
		doc    string
		field  string
	}{
		{"no start", models.SourceSamsungHealth, `{"endDate": 1, "phases": []}`, "startDate"},
		{"no end", models.SourceSamsungHealth, `{"startDate": 1, "phases": []}`, "endDate"},
		{"null phases", models.SourceSamsungHealth, `{"startDate": 1, "endDate": 2, "phases": null}`, "phases"},
		{"phase stage", models.SourceSamsungHealth,
			`{"startDate": 1, "endDate": 2, "phases": [{"startDate": 1, "endDate": 2}]}`, "phases[0].stage"},
		{"phase end", models.SourceAppleHealth,
			`{"startDate": "2024-03-04T23:00:00Z", "endDate": "2024-03-05T07:00:00Z",
			  "phases": [{"value": "asleepDeep", "startDate": "2024-03-04T23:00:00Z"}]}`, "phases[0].endDate"},
		{"phase minutes", models.SourceManualImport,
			`{"startDate": 1, "endDate": 2, "phases": [{"type": "deep", "start": 1}]}`, "phases[0].minutes"},
		{"heart rate bpm", models.SourceManualImport,
			`{"startDate": 1, "endDate": 2, "phases": [], "heartRate": [{"time": 1}]}`, "heartRate[0].bpm"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.source, documentPayload(tt.doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrMissingField)

			var decErr *models.DecodeError
			require.True(t, errors.As(err, &decErr))
			assert.Equal(t, tt.field, decErr.Field)
		})
	}
}

func TestDecode_DocumentInvalidFields(t *testing.T) {
	tests := []struct {
		name   string
		source models.SourceKind
		doc    string
	}{
		{"not json", models.SourceSamsungHealth, `{"startDate":`},
		{"string epoch", models.SourceSamsungHealth, `{"startDate": "soon", "endDate": 2, "phases": []}`},
		{"bad rfc3339", models.SourceAppleHealth, `{"startDate": "yesterday", "endDate": "2024-03-05T07:00:00Z", "phases": []}`},
		{"end before start", models.SourceManualImport, `{"startDate": 10, "endDate": 5, "phases": []}`},
		{"phases not list", models.SourceManualImport, `{"startDate": 1, "endDate": 2, "phases": {}}`},
		{"negative awakenings", models.SourceManualImport, `{"startDate": 1, "endDate": 2, "phases": [], "awakenings": -1}`},
		{"negative phase", models.SourceSamsungHealth,
			`{"startDate": 1, "endDate": 2, "phases": [{"stage": 40002, "startDate": 10, "endDate": 5}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.source, documentPayload(tt.doc))
			assert.ErrorIs(t, err, models.ErrInvalidField)
		})
	}
}
