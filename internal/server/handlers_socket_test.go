package server

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/jmbish04/9to5-scout-retrofit-project-sub000/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wsURL(ts string, clientType string) string {
	url := "ws" + strings.TrimPrefix(ts, "http") + "/ws"
	if clientType != "" {
		url += "?client=" + clientType
	}
	return url
}

func dialWS(t *testing.T, url string) *ws.Conn {
	t.Helper()
	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *ws.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(msg, &envelope))
	return envelope
}

// readFrameOfType skips interleaved status broadcasts until the wanted
// envelope type arrives.
func readFrameOfType(t *testing.T, conn *ws.Conn, envelopeType string) map[string]any {
	t.Helper()
	for range 20 {
		envelope := readFrame(t, conn)
		if envelope["type"] == envelopeType {
			return envelope
		}
	}
	t.Fatalf("no %s frame received", envelopeType)
	return nil
}

func TestHandleWebSocket_WelcomeRoundTrip(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	conn := dialWS(t, wsURL(ts.URL, "python"))

	welcome := readFrame(t, conn)
	assert.Equal(t, "welcome", welcome["type"])
	assert.Equal(t, "python", welcome["clientType"])
	assert.Equal(t, true, welcome["pythonConnected"])
	assert.Equal(t, 1.0, welcome["connections"])

	require.NoError(t, conn.WriteMessage(ws.TextMessage, []byte("ping")))
	readFrameOfType(t, conn, "pong")
}

func TestHandleWebSocket_MissingClientParamDefaultsToObserver(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	conn := dialWS(t, wsURL(ts.URL, ""))

	welcome := readFrame(t, conn)
	assert.Equal(t, "observer", welcome["clientType"])
	assert.Equal(t, false, welcome["pythonConnected"])
}

func TestHandleWebSocket_GlobalCapRejects(t *testing.T) {
	cfg := testConfig()
	cfg.MaxWSConnections = 1
	ts, _ := newTestServer(t, cfg)

	first := dialWS(t, wsURL(ts.URL, "python"))
	readFrame(t, first)

	before := testutil.ToFloat64(metrics.GateRejectionsTotal.WithLabelValues("global_limit"))

	conn, resp, err := ws.DefaultDialer.Dial(wsURL(ts.URL, "observer"), nil)
	require.Error(t, err)
	require.Nil(t, conn)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, 503, resp.StatusCode)

	after := testutil.ToFloat64(metrics.GateRejectionsTotal.WithLabelValues("global_limit"))
	assert.Equal(t, 1.0, after-before)
}

func TestHandleWebSocket_PerIPCapRejects(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConnectionsPerIP = 1
	ts, _ := newTestServer(t, cfg)

	first := dialWS(t, wsURL(ts.URL, "observer"))
	readFrame(t, first)

	conn, resp, err := ws.DefaultDialer.Dial(wsURL(ts.URL, "observer"), nil)
	require.Error(t, err)
	require.Nil(t, conn)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, 429, resp.StatusCode)
}

func TestHandleWebSocket_RateLimitRejects(t *testing.T) {
	cfg := testConfig()
	cfg.ConnectionRatePerIP = 1
	cfg.ConnectionRateBurst = 1
	ts, _ := newTestServer(t, cfg)

	before := testutil.ToFloat64(metrics.GateRejectionsTotal.WithLabelValues("rate_limit"))

	first := dialWS(t, wsURL(ts.URL, "observer"))
	readFrame(t, first)

	conn, resp, err := ws.DefaultDialer.Dial(wsURL(ts.URL, "observer"), nil)
	require.Error(t, err)
	require.Nil(t, conn)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, 429, resp.StatusCode)

	after := testutil.ToFloat64(metrics.GateRejectionsTotal.WithLabelValues("rate_limit"))
	assert.Equal(t, 1.0, after-before)
}

func TestHandleWebSocket_SlotFreedOnDisconnect(t *testing.T) {
	cfg := testConfig()
	cfg.MaxWSConnections = 1
	ts, _ := newTestServer(t, cfg)

	first := dialWS(t, wsURL(ts.URL, "observer"))
	readFrame(t, first)
	first.Close()

	// The slot frees once the handler's read loop notices the close
	assert.Eventually(t, func() bool {
		conn, resp, err := ws.DefaultDialer.Dial(wsURL(ts.URL, "observer"), nil)
		if err != nil {
			if resp != nil {
				resp.Body.Close()
			}
			return false
		}
		conn.Close()
		return true
	}, 2*time.Second, 20*time.Millisecond)
}

func TestHandleWebSocket_CommandRoundTrip(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	worker := dialWS(t, wsURL(ts.URL, "python"))
	readFrameOfType(t, worker, "welcome")
	observer := dialWS(t, wsURL(ts.URL, "observer"))
	readFrameOfType(t, observer, "welcome")

	require.NoError(t, observer.WriteMessage(ws.TextMessage, []byte(`{"type":"scan","url":"http://x"}`)))

	command := readFrameOfType(t, worker, "scan")
	commandID, ok := command["commandId"].(string)
	require.True(t, ok)
	assert.Equal(t, "http://x", command["url"])

	reply := fmt.Sprintf(`{"commandId":%q,"status":"ok"}`, commandID)
	require.NoError(t, worker.WriteMessage(ws.TextMessage, []byte(reply)))

	result := readFrameOfType(t, observer, "result")
	assert.Equal(t, commandID, result["commandId"])
	payload := result["payload"].(map[string]any)
	assert.Equal(t, "ok", payload["status"])
}

func TestHandleWebSocket_OversizedFrameClosesSession(t *testing.T) {
	cfg := testConfig()
	cfg.MaxMessageBytes = 64
	ts, r := newTestServer(t, cfg)

	conn := dialWS(t, wsURL(ts.URL, "observer"))
	readFrame(t, conn)

	big := strings.Repeat("x", 1024)
	require.NoError(t, conn.WriteMessage(ws.TextMessage, []byte(big)))

	// The server abandons the session instead of relaying the frame
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var err error
	for err == nil {
		_, _, err = conn.ReadMessage()
	}
	require.Error(t, err)

	assert.Eventually(t, func() bool {
		return r.Status().Connections == 0
	}, 2*time.Second, 10*time.Millisecond)
}
