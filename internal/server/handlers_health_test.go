package server

import (
	"encoding/json"
	"net/http"
	"runtime"
	"testing"

	"github.com/jmbish04/9to5-scout-retrofit-project-sub000/internal/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestHandleLiveness(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	code, body := getJSON(t, ts.URL+"/health/live")
	assert.Equal(t, 200, code)
	assert.Equal(t, "ok", body["status"])

	uptime, ok := body["uptime"].(float64)
	require.True(t, ok)
	assert.GreaterOrEqual(t, uptime, 0.0)
}

func TestHandleReadiness_RelayAnswering(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	code, body := getJSON(t, ts.URL+"/health/ready")
	assert.Equal(t, 200, code)
	assert.Equal(t, "ready", body["status"])
}

func TestHandleReadiness_RelayStopped(t *testing.T) {
	ts, r := newTestServer(t, nil)

	r.Stop()

	code, body := getJSON(t, ts.URL+"/health/ready")
	assert.Equal(t, 503, code)
	assert.Equal(t, "unhealthy", body["status"])
	assert.Equal(t, "relay", body["failed_check"])
	assert.Contains(t, body["error"], "relay stopped")
}

func TestHandleVersion(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	code, body := getJSON(t, ts.URL+"/version")
	assert.Equal(t, 200, code)
	assert.Equal(t, version.Service, body["service"])
	assert.Equal(t, "dev", body["version"])
	assert.Equal(t, runtime.Version(), body["go_version"])
	assert.Contains(t, body, "commit")
	assert.Contains(t, body, "build_time")
}
