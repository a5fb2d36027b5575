package assembler

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wisefido-sleep/internal/models"
)

var night = time.Date(2024, 3, 4, 23, 0, 0, 0, time.UTC)

func phase(t models.SleepPhaseType, startMin, minutes int) models.SleepPhase {
	return models.SleepPhase{
		Type:            t,
		StartTime:       night.Add(time.Duration(startMin) * time.Minute),
		DurationMinutes: minutes,
	}
}

func intPtr(v int) *int { return &v }

func TestAssemble_Empty(t *testing.T) {
	session, err := Assemble(models.SourceBLEBand, nil, nil, nil, models.SessionMetadata{})
	assert.NoError(t, err)
	assert.Nil(t, session)
}

func TestAssemble_Basic(t *testing.T) {
	phases := []models.SleepPhase{
		phase(models.PhaseDeep, 30, 60),
		phase(models.PhaseLight, 0, 30),
		phase(models.PhaseREM, 100, 20), // 90–100 空隙
	}
	hr := []models.HeartRateSample{
		{Timestamp: night.Add(-time.Minute), BPM: 70},
		{Timestamp: night.Add(50 * time.Minute), BPM: 55},
		{Timestamp: night.Add(10 * time.Minute), BPM: 60},
		{Timestamp: night.Add(121 * time.Minute), BPM: 65},
	}
	motion := []models.MotionSample{
		{Timestamp: night.Add(120 * time.Minute), Magnitude: 1},
	}

	session, err := Assemble(models.SourceBLEBand, phases, hr, motion, models.SessionMetadata{DeviceID: "dev-1", TenantID: "t-1"})
	require.NoError(t, err)
	require.NotNil(t, session)

	_, err = uuid.Parse(session.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.SourceBLEBand, session.Source)
	assert.Equal(t, "dev-1", session.DeviceID)
	assert.Equal(t, "2024-03-04", session.Date)
	assert.True(t, session.StartTime.Equal(night))
	assert.True(t, session.EndTime.Equal(night.Add(120*time.Minute)))
	assert.Equal(t, 110, session.DurationMinutes)
	assert.Equal(t, 110, session.TimeInBedMinutes)
	assert.Equal(t, 0, session.Awakenings)
	assert.Equal(t, 0, session.Quality)

	require.Len(t, session.Phases, 3)
	assert.Equal(t, models.PhaseLight, session.Phases[0].Type)
	assert.Equal(t, models.PhaseDeep, session.Phases[1].Type)
	// 输入切片不被修改
	assert.Equal(t, models.PhaseDeep, phases[0].Type)

	require.Len(t, session.HeartRateSamples, 2)
	assert.Equal(t, 60, session.HeartRateSamples[0].BPM)
	assert.Equal(t, 55, session.HeartRateSamples[1].BPM)
	assert.Len(t, session.MotionSamples, 1)
}

func TestAssemble_Overlap(t *testing.T) {
	phases := []models.SleepPhase{
		phase(models.PhaseLight, 0, 30),
		phase(models.PhaseDeep, 20, 20),
	}

	session, err := Assemble(models.SourceManualImport, phases, nil, nil, models.SessionMetadata{})
	assert.Nil(t, session)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrOverlappingPhases))

	var asmErr *models.AssemblyError
	require.True(t, errors.As(err, &asmErr))
	assert.Equal(t, models.PhaseLight, asmErr.First.Type)
	assert.Equal(t, models.PhaseDeep, asmErr.Second.Type)
}

func TestAssemble_OverlapNotAdjacent(t *testing.T) {
	phases := []models.SleepPhase{
		phase(models.PhaseLight, 0, 100),
		phase(models.PhaseAwake, 0, 0),
		phase(models.PhaseDeep, 50, 10),
	}
	_, err := Assemble(models.SourceManualImport, phases, nil, nil, models.SessionMetadata{})
	assert.ErrorIs(t, err, models.ErrOverlappingPhases)
}

func TestAssemble_Touching(t *testing.T) {
	phases := []models.SleepPhase{
		phase(models.PhaseLight, 0, 30),
		phase(models.PhaseDeep, 30, 30),
	}
	session, err := Assemble(models.SourceManualImport, phases, nil, nil, models.SessionMetadata{})
	require.NoError(t, err)
	assert.Equal(t, 60, session.DurationMinutes)
}

func TestAssemble_NegativeDuration(t *testing.T) {
	_, err := Assemble(models.SourceManualImport, []models.SleepPhase{phase(models.PhaseDeep, 0, -5)}, nil, nil, models.SessionMetadata{})
	assert.ErrorIs(t, err, models.ErrInvalidPhase)
}

func TestAssemble_UnknownPhaseType(t *testing.T) {
	phases := []models.SleepPhase{
		phase(models.PhaseLight, 0, 30),
		phase(models.SleepPhaseType("Nap"), 30, 60),
	}
	session, err := Assemble(models.SourceManualImport, phases, nil, nil, models.SessionMetadata{})
	assert.Nil(t, session)
	require.ErrorIs(t, err, models.ErrInvalidPhase)

	var asmErr *models.AssemblyError
	require.True(t, errors.As(err, &asmErr))
	assert.Equal(t, models.SleepPhaseType("Nap"), asmErr.First.Type)
}

func TestAssemble_Metadata(t *testing.T) {
	phases := []models.SleepPhase{phase(models.PhaseLight, 0, 400)}

	session, err := Assemble(models.SourceSamsungHealth, phases, nil, nil, models.SessionMetadata{
		TimeInBedMinutes: intPtr(450),
		Awakenings:       intPtr(3),
	})
	require.NoError(t, err)
	assert.Equal(t, 450, session.TimeInBedMinutes)
	assert.Equal(t, 3, session.Awakenings)

	// 来源报告的在床时长小于睡眠时长时提升到睡眠时长
	session, err = Assemble(models.SourceSamsungHealth, phases, nil, nil, models.SessionMetadata{
		TimeInBedMinutes: intPtr(300),
	})
	require.NoError(t, err)
	assert.Equal(t, 400, session.TimeInBedMinutes)
}

func TestAssemble_DateUsesStartLocation(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	p := models.SleepPhase{Type: models.PhaseLight, StartTime: night.In(loc), DurationMinutes: 30}

	session, err := Assemble(models.SourceAppleHealth, []models.SleepPhase{p}, nil, nil, models.SessionMetadata{})
	require.NoError(t, err)
	assert.Equal(t, "2024-03-05", session.Date)
}

func TestAssemble_FreshIDs(t *testing.T) {
	phases := []models.SleepPhase{phase(models.PhaseLight, 0, 30)}
	a, err := Assemble(models.SourceBLEBand, phases, nil, nil, models.SessionMetadata{})
	require.NoError(t, err)
	b, err := Assemble(models.SourceBLEBand, phases, nil, nil, models.SessionMetadata{})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestSessionBuffer(t *testing.T) {
	buf := NewSessionBuffer(models.SourceBLEBand, "dev-1", "t-1")
	assert.Equal(t, 0, buf.Len())

	session, err := buf.Assemble()
	require.NoError(t, err)
	assert.Nil(t, session)

	buf.Append(&models.NormalizedBatch{
		Phases:    []models.SleepPhase{phase(models.PhaseDeep, 30, 30)},
		HeartRate: []models.HeartRateSample{{Timestamp: night.Add(40 * time.Minute), BPM: 52}},
	})
	buf.Append(&models.NormalizedBatch{
		Phases: []models.SleepPhase{phase(models.PhaseLight, 0, 30)},
		Meta:   models.SessionMetadata{Awakenings: intPtr(1)},
	})
	buf.Append(nil)
	assert.Equal(t, 2, buf.Len())

	session, err = buf.Assemble()
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "dev-1", session.DeviceID)
	assert.Equal(t, "t-1", session.TenantID)
	assert.Equal(t, 60, session.DurationMinutes)
	assert.Equal(t, 1, session.Awakenings)
	assert.Len(t, session.HeartRateSamples, 1)

	buf.Reset()
	assert.Equal(t, 0, buf.Len())
	session, err = buf.Assemble()
	require.NoError(t, err)
	assert.Nil(t, session)

	buf.Append(&models.NormalizedBatch{Phases: []models.SleepPhase{phase(models.PhaseLight, 0, 10)}})
	session, err = buf.Assemble()
	require.NoError(t, err)
	assert.Equal(t, 0, session.Awakenings)
	assert.Equal(t, "dev-1", session.DeviceID)
}
