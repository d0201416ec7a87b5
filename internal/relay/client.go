package relay

import (
	"time"

	"github.com/gorilla/websocket"
)

// Client type tags. A connection declaring WorkerClientType at upgrade time
// is a worker (a remote automation agent); every other tag is an observer.
const (
	WorkerClientType   = "python"
	ObserverClientType = "observer"
)

// clientEntry is the registry record for one attached connection. The relay
// goroutine owns every field; no other component holds a reference.
type clientEntry struct {
	conn       *websocket.Conn
	writer     *clientWriter
	clientType string
	lastPing   time.Time
}

// roleLabel normalizes a free-form client type into the two roles the relay
// distinguishes. Metric labels use it so arbitrary type strings cannot mint
// new series; logs keep the raw type.
func roleLabel(clientType string) string {
	if clientType == WorkerClientType {
		return "worker"
	}
	return "observer"
}

func (e *clientEntry) role() string {
	return roleLabel(e.clientType)
}

// registry holds the currently attached clients keyed by their socket.
// It is a plain map without locking: the relay goroutine is the single
// reader and writer.
type registry struct {
	entries map[*websocket.Conn]*clientEntry
}

func newRegistry() *registry {
	return &registry{entries: make(map[*websocket.Conn]*clientEntry)}
}

// add inserts or replaces the entry for its connection and stamps lastPing,
// so a connection never appears twice.
func (r *registry) add(entry *clientEntry, now time.Time) {
	entry.lastPing = now
	r.entries[entry.conn] = entry
}

// get returns the entry for conn, or nil if it is not attached.
func (r *registry) get(conn *websocket.Conn) *clientEntry {
	return r.entries[conn]
}

// remove drops the entry for conn. Removing an absent connection is a no-op.
func (r *registry) remove(conn *websocket.Conn) {
	delete(r.entries, conn)
}

// all returns a snapshot of the current entries, safe to iterate while the
// registry is mutated.
func (r *registry) all() []*clientEntry {
	entries := make([]*clientEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		entries = append(entries, entry)
	}
	return entries
}

func (r *registry) size() int {
	return len(r.entries)
}
