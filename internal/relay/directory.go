package relay

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Directory provides thread-safe access to named relays, constructing each
// one on first use. All relays share the directory's clock and tuning.
type Directory struct {
	mu             sync.Mutex
	clock          clockwork.Clock
	sendBufferSize int
	pendingTTL     time.Duration
	relays         map[string]*Relay
}

// NewDirectory creates an empty relay directory.
func NewDirectory(clock clockwork.Clock, sendBufferSize int, pendingTTL time.Duration) *Directory {
	return &Directory{
		clock:          clock,
		sendBufferSize: sendBufferSize,
		pendingTTL:     pendingTTL,
		relays:         make(map[string]*Relay),
	}
}

// Get returns the relay registered under name, starting it if needed.
func (d *Directory) Get(name string) *Relay {
	d.mu.Lock()
	defer d.mu.Unlock()

	r, exists := d.relays[name]
	if !exists {
		r = NewRelay(name, d.clock, d.sendBufferSize, d.pendingTTL)
		d.relays[name] = r
		slog.Info("Relay started", "relay", name)
	}
	return r
}

// StopAll stops every relay in the directory. Blocks until each relay has
// shut down or hit its stop timeout.
func (d *Directory) StopAll() {
	d.mu.Lock()
	relays := make([]*Relay, 0, len(d.relays))
	for _, r := range d.relays {
		relays = append(relays, r)
	}
	d.relays = make(map[string]*Relay)
	d.mu.Unlock()

	for _, r := range relays {
		r.Stop()
	}
}
