package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wisefido-sleep/internal/models"
	"wisefido-sleep/internal/store"
)

func sampleSummary() models.SessionSummary {
	return models.SessionSummary{
		SessionID:        "session-1",
		DeviceID:         "band-1",
		TenantID:         "tenant-1",
		Source:           models.SourceBLEBand,
		Date:             "2024-03-04",
		StartUnix:        1709593200,
		EndUnix:          1709622000,
		DurationMinutes:  480,
		TimeInBedMinutes: 500,
		Quality:          37,
		Awakenings:       2,
		PhaseMinutes: map[models.SleepPhaseType]int{
			models.PhaseDeep:  120,
			models.PhaseREM:   90,
			models.PhaseLight: 270,
			models.PhaseAwake: 0,
		},
		Vitals: models.VitalsSummary{HeartRateSamples: 2, HeartRateMean: 60, HeartRateMin: 58, HeartRateMax: 62},
	}
}

func TestSessionCache_PutGetLatest(t *testing.T) {
	kv := newFakeKV()
	cache := store.NewSessionCache(kv, time.Hour, zap.NewNop())
	ctx := context.Background()

	want := sampleSummary()
	require.NoError(t, cache.PutLatest(ctx, want))
	assert.Equal(t, time.Hour, kv.data[store.LatestKey("band-1")].ttl)

	got, err := cache.GetLatest(ctx, "band-1")
	require.NoError(t, err)
	if diff := cmp.Diff(want, *got); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
}

func TestSessionCache_DeterministicEncoding(t *testing.T) {
	a, b := newFakeKV(), newFakeKV()
	ctx := context.Background()

	require.NoError(t, store.NewSessionCache(a, 0, zap.NewNop()).PutLatest(ctx, sampleSummary()))
	require.NoError(t, store.NewSessionCache(b, 0, zap.NewNop()).PutLatest(ctx, sampleSummary()))

	key := store.LatestKey("band-1")
	assert.Equal(t, a.data[key].value, b.data[key].value)
	assert.Equal(t, store.DefaultSessionTTL, a.data[key].ttl)
}

func TestSessionCache_Miss(t *testing.T) {
	cache := store.NewSessionCache(newFakeKV(), time.Hour, zap.NewNop())

	_, err := cache.GetLatest(context.Background(), "unknown")
	assert.ErrorIs(t, err, store.ErrMiss)
}

func TestSessionCache_RequiresDevice(t *testing.T) {
	cache := store.NewSessionCache(newFakeKV(), time.Hour, zap.NewNop())

	s := sampleSummary()
	s.DeviceID = ""
	assert.Error(t, cache.PutLatest(context.Background(), s))
}

func TestSessionCache_CorruptEntry(t *testing.T) {
	kv := newFakeKV()
	require.NoError(t, kv.Set(context.Background(), store.LatestKey("band-1"), "\xff\x00", 0))

	cache := store.NewSessionCache(kv, time.Hour, zap.NewNop())
	_, err := cache.GetLatest(context.Background(), "band-1")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, store.ErrMiss)
}

func TestRedisKV(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	kv := store.NewRedisKV(client)
	ctx := context.Background()

	_, err := kv.Get(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrMiss)

	require.NoError(t, kv.Set(ctx, "k", "v", time.Minute))
	got, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
	assert.Equal(t, time.Minute, mr.TTL("k"))

	mr.FastForward(2 * time.Minute)
	_, err = kv.Get(ctx, "k")
	assert.ErrorIs(t, err, store.ErrMiss)

	cache := store.NewSessionCache(kv, time.Hour, zap.NewNop())
	require.NoError(t, cache.PutLatest(ctx, sampleSummary()))
	summary, err := cache.GetLatest(ctx, "band-1")
	require.NoError(t, err)
	assert.Equal(t, 37, summary.Quality)
}
