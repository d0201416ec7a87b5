package relay

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// pendingCommand links a dispatched command id to the observer that must
// receive its eventual result.
type pendingCommand struct {
	issuedBy *websocket.Conn
	issuedAt time.Time
}

// correlator tracks in-flight commands. Owned by the relay goroutine; no
// locking.
type correlator struct {
	pending map[string]pendingCommand
}

func newCorrelator() *correlator {
	return &correlator{pending: make(map[string]pendingCommand)}
}

// newCommandID builds a command id from the dispatch time plus six random
// bytes, unique for the life of the instance.
func newCommandID(now time.Time) string {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return fmt.Sprintf("cmd-%d-%s", now.UnixMilli(), hex.EncodeToString(b))
}

// track records a pending command. Only called after a dispatch reached at
// least one worker.
func (c *correlator) track(id string, issuer *websocket.Conn, now time.Time) {
	c.pending[id] = pendingCommand{issuedBy: issuer, issuedAt: now}
}

// resolve removes and returns the issuer for id. The first caller wins;
// later calls for the same id report false.
func (c *correlator) resolve(id string) (*websocket.Conn, bool) {
	p, ok := c.pending[id]
	if !ok {
		return nil, false
	}
	delete(c.pending, id)
	return p.issuedBy, true
}

// expiredCommand is one entry evicted by a TTL sweep.
type expiredCommand struct {
	id       string
	issuedBy *websocket.Conn
}

// expire removes every pending command issued at or before cutoff and
// returns the evicted entries.
func (c *correlator) expire(cutoff time.Time) []expiredCommand {
	var expired []expiredCommand
	for id, p := range c.pending {
		if !p.issuedAt.After(cutoff) {
			delete(c.pending, id)
			expired = append(expired, expiredCommand{id: id, issuedBy: p.issuedBy})
		}
	}
	return expired
}

func (c *correlator) size() int {
	return len(c.pending)
}
