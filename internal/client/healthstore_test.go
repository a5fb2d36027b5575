package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wisefido-sleep/internal/models"
)

func TestFetchSleep_Success(t *testing.T) {
	from := time.Unix(1709593200, 0)
	to := from.Add(24 * time.Hour)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/samsung_health/sleep", r.URL.Path)

		var req struct {
			Token Token          `json:"token"`
			Data  map[string]any `json:"data"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "app-1", req.Token.AppID)
		assert.Equal(t, "secret", req.Token.SecureKey)
		assert.Equal(t, "user-9", req.Data["userId"])
		assert.Equal(t, float64(from.Unix()), req.Data["startTime"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":0,"msg":"ok","data":{"startDate":1,"endDate":2,"phases":[]}}`))
	}))
	defer server.Close()

	c := NewHealthStoreClient(server.URL, "app-1", "secret", zap.NewNop())
	doc, err := c.FetchSleep(context.Background(), models.SourceSamsungHealth, "user-9", from, to)
	require.NoError(t, err)
	assert.JSONEq(t, `{"startDate":1,"endDate":2,"phases":[]}`, string(doc))
}

func TestFetchSleep_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":1001,"msg":"user not authorized"}`))
	}))
	defer server.Close()

	c := NewHealthStoreClient(server.URL, "app-1", "secret", zap.NewNop())
	_, err := c.FetchSleep(context.Background(), models.SourceAppleHealth, "user-9", time.Now(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user not authorized")
}

func TestFetchSleep_HTTPError(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c := NewHealthStoreClient(server.URL, "app-1", "secret", zap.NewNop())
	_, err := c.FetchSleep(context.Background(), models.SourceAppleHealth, "user-9", time.Now(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Equal(t, 1, calls)
}

func TestFetchSleep_EmptyDocument(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":0,"msg":"ok","data":null}`))
	}))
	defer server.Close()

	c := NewHealthStoreClient(server.URL, "app-1", "secret", zap.NewNop())
	_, err := c.FetchSleep(context.Background(), models.SourceManualImport, "user-9", time.Now(), time.Now())
	assert.Error(t, err)
}

func TestFetchSleep_RejectsBLESource(t *testing.T) {
	c := NewHealthStoreClient("http://127.0.0.1:1", "app-1", "secret", zap.NewNop())
	_, err := c.FetchSleep(context.Background(), models.SourceBLEBand, "user-9", time.Now(), time.Now())
	assert.ErrorIs(t, err, models.ErrUnrecognizedSource)
}
