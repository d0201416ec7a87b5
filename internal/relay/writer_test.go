package relay

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientWriter_TrySendDelivers(t *testing.T) {
	server, client := newTestConnPair(t)

	cw := newClientWriter(server, clockwork.NewRealClock(), 4)
	t.Cleanup(func() { cw.stop() })

	require.True(t, cw.trySend([]byte(`{"type":"pong"}`)))

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := client.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"pong"}`, string(msg))
}

func TestClientWriter_TrySendAfterStop(t *testing.T) {
	server, client := newTestConnPair(t)
	t.Cleanup(func() { client.Close() })

	cw := newClientWriter(server, clockwork.NewRealClock(), 4)
	cw.stop()

	assert.False(t, cw.trySend([]byte("late")), "writer must refuse frames once stopped")
}

func TestClientWriter_TrySendDeadPump(t *testing.T) {
	server, client := newTestConnPair(t)
	t.Cleanup(func() { client.Close() })

	cw := newClientWriter(server, clockwork.NewRealClock(), 4)
	t.Cleanup(func() { cw.stop() })

	// Kill the socket under the pump; the next write attempt ends it.
	server.Close()
	cw.trySend([]byte("doomed"))

	dead := false
	for range 100 {
		if !cw.trySend([]byte("probe")) {
			dead = true
			break
		}
		time.Sleep(time.Millisecond)
	}
	assert.True(t, dead, "trySend should fail once the pump has exited")
}

func TestClientWriter_BufferFullDropped(t *testing.T) {
	server, client := newTestConnPair(t)
	_ = client // intentionally never read; frames pile up

	cw := newClientWriter(server, clockwork.NewRealClock(), 1)
	t.Cleanup(func() { cw.stop() })

	// Frames large enough that the pump stalls in the kernel once the
	// client stops draining.
	payload := bytes.Repeat([]byte("x"), 8<<20)

	dropped := false
	for range 10 {
		if !cw.trySend(payload) {
			dropped = true
			break
		}
	}
	assert.True(t, dropped, "sends against a full buffer should report failure")
}

func TestClientWriter_GracefulStop(t *testing.T) {
	server, client := newTestConnPair(t)

	cw := newClientWriter(server, clockwork.NewRealClock(), 4)
	cw.stopGraceful("maintenance window")

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := client.ReadMessage()

	// WebSocket library returns CloseError when close frame is received
	if closeErr, ok := err.(*websocket.CloseError); ok {
		assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
		assert.Contains(t, closeErr.Text, "maintenance")
	} else {
		// Some implementations might just close the connection
		assert.Error(t, err, "connection should be closed")
	}
}

func TestClientWriter_StopIdempotent(t *testing.T) {
	server, client := newTestConnPair(t)
	t.Cleanup(func() { client.Close() })

	cw := newClientWriter(server, clockwork.NewRealClock(), 4)

	// Call stop multiple times - should not panic
	cw.stop()
	cw.stop()
	cw.stopGraceful("already stopped")
}

func TestClientWriter_ConcurrentStop(t *testing.T) {
	server, client := newTestConnPair(t)
	t.Cleanup(func() { client.Close() })

	cw := newClientWriter(server, clockwork.NewRealClock(), 4)

	// Call stop concurrently from multiple goroutines
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cw.stop()
		}()
	}

	// Should complete without panic or deadlock
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		// Success
	case <-time.After(2 * time.Second):
		t.Fatal("concurrent stop calls deadlocked")
	}
}

func TestClientWriter_PingOnInterval(t *testing.T) {
	fakeClock := clockwork.NewFakeClock()
	server, client := newTestConnPair(t)

	pinged := make(chan struct{}, 1)
	client.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return nil
	})

	frames := make(chan []byte, 8)
	go func() {
		for {
			_, msg, err := client.ReadMessage()
			if err != nil {
				return
			}
			frames <- msg
		}
	}()

	cw := newClientWriter(server, fakeClock, 4)
	t.Cleanup(func() { cw.stop() })

	// A delivered frame proves the pump loop (and its ticker) is running
	require.True(t, cw.trySend([]byte("warmup")))
	select {
	case <-frames:
	case <-time.After(2 * time.Second):
		t.Fatal("warmup frame never arrived")
	}

	select {
	case <-pinged:
		t.Fatal("ping before the interval elapsed")
	default:
	}

	fakeClock.Advance(pingInterval)

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("no ping after advancing past the interval")
	}
}
