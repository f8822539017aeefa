package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/idlewatch/internal/activity"
	"github.com/p-blackswan/idlewatch/internal/audit"
	"github.com/p-blackswan/idlewatch/internal/config"
	"github.com/p-blackswan/idlewatch/internal/health"
	"github.com/p-blackswan/idlewatch/internal/metrics"
)

const testKey = "test-api-key"

func newTestServer(t *testing.T) (*Server, *activity.Store) {
	t.Helper()
	cfg := config.New(config.File{
		IdleThresholdDays: 30,
		APIKey:            testKey,
		ProtectedUsers:    []string{"+protected"},
	})
	store := activity.NewStore(filepath.Join(t.TempDir(), "activity.json"), nil, zerolog.Nop())

	auditLog, err := audit.Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { auditLog.Close() })

	checker := health.NewChecker(zerolog.Nop())
	s := NewServer(":0", cfg, store, auditLog, checker, metrics.New(), zerolog.Nop())
	return s, store
}

func request(t *testing.T, s *Server, method, path, key string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestHealthz_NoAuthRequired(t *testing.T) {
	s, _ := newTestServer(t)

	resp := request(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStats_RequiresAuth(t *testing.T) {
	s, _ := newTestServer(t)

	resp := request(t, s, http.MethodGet, "/v1/stats", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = request(t, s, http.MethodGet, "/v1/stats", "wrong-key")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStats_Body(t *testing.T) {
	s, store := newTestServer(t)
	store.Touch("+15551234")

	resp := request(t, s, http.MethodGet, "/v1/stats", testKey)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body StatsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 1, body.TotalMembers)
	assert.Equal(t, 1, body.ActiveMembers)
	assert.Equal(t, 0, body.IdleMembers)
	assert.Equal(t, 30, body.ThresholdDays)
	assert.Equal(t, 1, body.ProtectedCount)
	assert.True(t, body.DryRun)
}

func TestIdle_Body(t *testing.T) {
	s, store := newTestServer(t)
	store.Touch("+15551234")

	resp := request(t, s, http.MethodGet, "/v1/idle", testKey)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var members []IdleMember
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&members))
	assert.Empty(t, members, "freshly seen member is not idle")
}

func TestAudit_Body(t *testing.T) {
	s, _ := newTestServer(t)
	require.NoError(t, s.audit.Record(context.Background(),
		"+15550001", "idle", audit.ResultAllowed, "!idle"))

	resp := request(t, s, http.MethodGet, "/v1/audit?limit=10", testKey)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var entries []audit.Entry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "idle", entries[0].Command)
}

func TestEmptyAPIKeyFailsClosed(t *testing.T) {
	cfg := config.New(config.File{IdleThresholdDays: 30})
	store := activity.NewStore(filepath.Join(t.TempDir(), "activity.json"), nil, zerolog.Nop())
	s := NewServer(":0", cfg, store, nil, health.NewChecker(zerolog.Nop()), nil, zerolog.Nop())

	resp := request(t, s, http.MethodGet, "/v1/stats", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Even an arbitrary bearer token is rejected when no key is configured.
	resp = request(t, s, http.MethodGet, "/v1/stats", "anything")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
