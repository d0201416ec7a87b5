package relay

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jmbish04/9to5-scout-retrofit-project-sub000/internal/metrics"
	"github.com/jonboulle/clockwork"
)

const (
	commandTimeout   = 5 * time.Second  // Actor command timeout
	stopTimeout      = 10 * time.Second // Graceful shutdown timeout
	sweepInterval    = 1 * time.Second  // Pending-command expiry cadence
	channelWarnDepth = 200              // 80% of the command channel capacity
)

// ErrRelayStopped is returned for calls issued after the relay has stopped.
var ErrRelayStopped = errors.New("relay stopped")

// ErrCommandTimeout is returned when the actor goroutine fails to answer
// within the command timeout.
var ErrCommandTimeout = errors.New("relay command timed out")

// relayCmd is the command interface for the Relay actor.
type relayCmd interface{ isRelayCmd() }

type baseRelayCmd struct{}

func (baseRelayCmd) isRelayCmd() {}

type attachCmd struct {
	baseRelayCmd
	connection   *websocket.Conn
	clientType   string
	errorChannel chan error
}

type detachCmd struct {
	baseRelayCmd
	connection *websocket.Conn
}

type inboundCmd struct {
	baseRelayCmd
	connection *websocket.Conn
	data       []byte
}

type dispatchCmd struct {
	baseRelayCmd
	payload      []byte
	replyChannel chan bool
}

type statusQueryCmd struct {
	baseRelayCmd
	replyChannel chan Status
}

type stopCmd struct {
	baseRelayCmd
}

// Relay brokers traffic between the worker and observer clients attached to
// one named channel. A single goroutine owns the registry and the pending
// command table; every mutation arrives as a command on cmdCh.
type Relay struct {
	name           string
	cmdCh          chan relayCmd
	clock          clockwork.Clock
	clients        *registry
	correlator     *correlator
	sendBufferSize int
	pendingTTL     time.Duration
	done           chan struct{}
	stopTimeout    time.Duration
}

// NewRelay creates a relay and starts its actor goroutine.
// sendBufferSize caps each client's outbound queue; clients that fall behind
// it are pruned. pendingTTL expires unanswered commands, zero disables the
// sweep entirely.
func NewRelay(name string, clock clockwork.Clock, sendBufferSize int, pendingTTL time.Duration) *Relay {
	r := &Relay{
		name:           name,
		cmdCh:          make(chan relayCmd, 256),
		clock:          clock,
		clients:        newRegistry(),
		correlator:     newCorrelator(),
		sendBufferSize: sendBufferSize,
		pendingTTL:     pendingTTL,
		done:           make(chan struct{}),
		stopTimeout:    stopTimeout,
	}
	go r.run()
	return r
}

// Attach registers a connection under clientType. An empty clientType
// attaches as an observer. The welcome frame is queued before Attach
// returns.
func (r *Relay) Attach(conn *websocket.Conn, clientType string) error {
	errCh := make(chan error, 1)
	select {
	case r.cmdCh <- attachCmd{connection: conn, clientType: clientType, errorChannel: errCh}:
	case <-r.done:
		return ErrRelayStopped
	}

	// Use timeout to prevent blocking forever if the relay is stuck
	timer := r.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		return err
	case <-timer.Chan():
		return fmt.Errorf("attach: %w after %v", ErrCommandTimeout, commandTimeout)
	case <-r.done:
		return ErrRelayStopped
	}
}

// Detach removes a connection and stops its writer. Safe to call for
// connections the relay has already pruned.
func (r *Relay) Detach(conn *websocket.Conn) {
	select {
	case r.cmdCh <- detachCmd{connection: conn}:
	case <-r.done:
	}
}

// Receive hands one inbound client frame to the relay.
func (r *Relay) Receive(conn *websocket.Conn, data []byte) {
	select {
	case r.cmdCh <- inboundCmd{connection: conn, data: data}:
	case <-r.done:
	}
}

// DispatchRaw forwards payload verbatim to every attached worker, without
// assigning a command id. It reports whether at least one worker accepted
// the frame.
func (r *Relay) DispatchRaw(payload []byte) bool {
	replyCh := make(chan bool, 1)
	select {
	case r.cmdCh <- dispatchCmd{payload: payload, replyChannel: replyCh}:
	case <-r.done:
		return false
	}

	timer := r.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case delivered := <-replyCh:
		return delivered
	case <-timer.Chan():
		slog.Warn("DispatchRaw timed out", "relay", r.name, "timeout", commandTimeout)
		return false
	case <-r.done:
		return false
	}
}

// Status reports the current connection count and worker liveness.
// Returns the zero Status if the relay has stopped or the query times out.
func (r *Relay) Status() Status {
	replyCh := make(chan Status, 1)
	select {
	case r.cmdCh <- statusQueryCmd{replyChannel: replyCh}:
	case <-r.done:
		return Status{}
	}

	timer := r.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case s := <-replyCh:
		return s
	case <-timer.Chan():
		slog.Warn("Status query timed out", "relay", r.name, "timeout", commandTimeout)
		return Status{}
	case <-r.done:
		return Status{}
	}
}

// Ready returns nil when the actor goroutine answers a status query within
// the command timeout, and ErrRelayStopped once the relay has stopped.
func (r *Relay) Ready() error {
	replyCh := make(chan Status, 1)
	select {
	case r.cmdCh <- statusQueryCmd{replyChannel: replyCh}:
	case <-r.done:
		return ErrRelayStopped
	}

	timer := r.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case <-replyCh:
		return nil
	case <-timer.Chan():
		return fmt.Errorf("status query: %w after %v", ErrCommandTimeout, commandTimeout)
	case <-r.done:
		return ErrRelayStopped
	}
}

// Stop shuts down the relay, closing all client connections.
// Blocks until the relay goroutine has exited or the timeout is reached.
func (r *Relay) Stop() {
	select {
	case r.cmdCh <- stopCmd{}:
	case <-r.done:
		return
	}

	timeout := r.clock.NewTimer(r.stopTimeout)
	defer timeout.Stop()

	select {
	case <-r.done:
		slog.Info("Relay stopped gracefully", "relay", r.name)
	case <-timeout.Chan():
		slog.Warn("Relay stop timeout exceeded", "relay", r.name, "timeout", r.stopTimeout)
		metrics.RelayStopTimeoutsTotal.Inc()
	}
}

func (r *Relay) run() {
	// Panic recovery wrapper
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Relay panic recovered", "relay", r.name, "panic", rec)
			metrics.RelayPanicsTotal.Inc()

			// Attempt graceful cleanup
			r.closeAllClients("relay failure")
		}
	}()

	defer close(r.done)

	// Track command channel depth every second
	depthTicker := r.clock.NewTicker(1 * time.Second)
	defer depthTicker.Stop()

	// A nil sweep channel blocks forever, disabling expiry when no TTL is set.
	var sweepCh <-chan time.Time
	if r.pendingTTL > 0 {
		sweepTicker := r.clock.NewTicker(sweepInterval)
		defer sweepTicker.Stop()
		sweepCh = sweepTicker.Chan()
	}

	for {
		select {
		case <-depthTicker.Chan():
			depth := len(r.cmdCh)
			metrics.RelayCommandChannelDepth.Set(float64(depth))

			if depth > channelWarnDepth {
				slog.Warn("Command channel near capacity",
					"relay", r.name,
					"depth", depth,
					"capacity", cap(r.cmdCh),
				)
			}

		case <-sweepCh:
			r.handleSweep()

		case cmd := <-r.cmdCh:
			switch c := cmd.(type) {
			case attachCmd:
				r.handleAttach(c)
			case detachCmd:
				r.handleDetach(c)
			case inboundCmd:
				r.handleInbound(c)
			case dispatchCmd:
				c.replyChannel <- r.deliver(c.payload, isWorker, nil)
			case statusQueryCmd:
				c.replyChannel <- r.currentStatus()
			case stopCmd:
				r.handleStop()
				return
			default:
				slog.Warn("Relay received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
			}
		}
	}
}

func (r *Relay) handleAttach(c attachCmd) {
	clientType := c.clientType
	if clientType == "" {
		clientType = ObserverClientType
	}

	if existing := r.clients.get(c.connection); existing != nil {
		// Same socket announcing itself again keeps its writer; only the
		// recorded type and liveness stamp move.
		if existing.clientType != clientType {
			metrics.RelayConnectedClients.WithLabelValues(existing.role()).Dec()
			metrics.RelayConnectedClients.WithLabelValues(roleLabel(clientType)).Inc()
			existing.clientType = clientType
		}
		existing.lastPing = r.clock.Now()
		c.errorChannel <- nil
		return
	}

	entry := &clientEntry{
		conn:       c.connection,
		writer:     newClientWriter(c.connection, r.clock, r.sendBufferSize),
		clientType: clientType,
	}
	r.clients.add(entry, r.clock.Now())

	metrics.RelayConnectedClients.WithLabelValues(entry.role()).Inc()
	metrics.RelayAttachesTotal.WithLabelValues(entry.role()).Inc()

	welcome := welcomeEnvelope{
		Type:            envelopeWelcome,
		ClientType:      clientType,
		PythonConnected: hasActiveWorker(r.clients, r.clock.Now()),
		Connections:     r.clients.size(),
	}
	r.sendTo(entry, encodeEnvelope(welcome))
	r.announceStatus()

	slog.Info("Client attached", "relay", r.name, "client_type", clientType, "connections", r.clients.size())
	c.errorChannel <- nil
}

func (r *Relay) handleDetach(c detachCmd) {
	if entry := r.clients.get(c.connection); entry != nil {
		entry.writer.stop()
		r.clients.remove(c.connection)
		metrics.RelayConnectedClients.WithLabelValues(entry.role()).Dec()
		metrics.RelayDetachesTotal.WithLabelValues(entry.role()).Inc()
		slog.Info("Client detached", "relay", r.name, "client_type", entry.clientType, "connections", r.clients.size())
	}

	// Pruned connections detach a second time when their read loop fails;
	// the count announcement runs on both paths.
	r.announceStatus()
}

func (r *Relay) handleInbound(c inboundCmd) {
	entry := r.clients.get(c.connection)
	if entry == nil {
		return
	}

	if string(c.data) == pingSentinel {
		metrics.RelayMessagesTotal.WithLabelValues("ping").Inc()
		entry.lastPing = r.clock.Now()
		r.sendTo(entry, encodeEnvelope(pongEnvelope{Type: envelopePong}))
		return
	}

	if isWorker(entry) {
		metrics.RelayMessagesTotal.WithLabelValues("worker").Inc()
		r.handleWorkerMessage(entry, c.data)
		return
	}

	metrics.RelayMessagesTotal.WithLabelValues("observer").Inc()
	r.handleObserverMessage(entry, c.data)
}

// handleWorkerMessage resolves a reply against the pending table when it
// carries a command id, then fans the payload out to observers either way.
func (r *Relay) handleWorkerMessage(from *clientEntry, data []byte) {
	payload := parsePayload(data)

	if id, ok := commandIDOf(payload); ok {
		if issuer, found := r.correlator.resolve(id); found {
			metrics.PendingCommands.Set(float64(r.correlator.size()))
			r.forwardResult(issuer, id, payload)
		} else {
			metrics.UnmatchedRepliesTotal.Inc()
			slog.Warn("Worker reply matched no pending command", "relay", r.name, "command_id", id)
		}
	}

	event := encodeEnvelope(workerEventEnvelope{Type: envelopeWorkerEvent, Payload: payload})
	r.deliver(event, isObserver, from.conn)
}

// forwardResult is best effort: the issuer may have disconnected since the
// command was dispatched.
func (r *Relay) forwardResult(issuer *websocket.Conn, id string, payload any) {
	entry := r.clients.get(issuer)
	if entry == nil {
		slog.Debug("Command issuer already detached", "relay", r.name, "command_id", id)
		return
	}

	result := encodeEnvelope(resultEnvelope{Type: envelopeResult, CommandID: id, Payload: payload})
	if r.sendTo(entry, result) {
		metrics.ResultsForwardedTotal.Inc()
	}
}

func (r *Relay) handleObserverMessage(from *clientEntry, data []byte) {
	command := normalizeCommand(parsePayload(data))
	id := newCommandID(r.clock.Now())
	command["commandId"] = id

	if !r.deliver(encodeEnvelope(command), isWorker, nil) {
		metrics.CommandsRejectedTotal.Inc()
		r.sendTo(from, encodeEnvelope(errorEnvelope{
			Type:      envelopeError,
			Message:   noWorkersMessage,
			CommandID: id,
		}))
		return
	}

	r.correlator.track(id, from.conn, r.clock.Now())
	metrics.CommandsDispatchedTotal.Inc()
	metrics.PendingCommands.Set(float64(r.correlator.size()))

	r.sendTo(from, encodeEnvelope(ackEnvelope{Type: envelopeAck, CommandID: id}))

	mirror := encodeEnvelope(dispatchedEnvelope{Type: envelopeDispatched, CommandID: id, Payload: command})
	r.deliver(mirror, isObserver, from.conn)
}

// deliver queues payload on every registry entry matching match, excluding
// exclude. Clients whose queue is full or whose writer has died are pruned
// in the same pass. Reports whether at least one send succeeded.
func (r *Relay) deliver(payload []byte, match func(*clientEntry) bool, exclude *websocket.Conn) bool {
	if payload == nil {
		return false
	}

	delivered := false
	var dead []*clientEntry
	for _, entry := range r.clients.all() {
		if entry.conn == exclude || !match(entry) {
			continue
		}
		if entry.writer.trySend(payload) {
			delivered = true
		} else {
			dead = append(dead, entry)
		}
	}

	for _, entry := range dead {
		r.prune(entry)
	}
	return delivered
}

func (r *Relay) sendTo(entry *clientEntry, payload []byte) bool {
	if payload == nil {
		return false
	}
	if entry.writer.trySend(payload) {
		return true
	}
	r.prune(entry)
	return false
}

func (r *Relay) prune(entry *clientEntry) {
	slog.Warn("Disconnecting slow client", "relay", r.name, "client_type", entry.clientType)
	metrics.RelayPrunedConnectionsTotal.Inc()

	entry.writer.stop()
	r.clients.remove(entry.conn)
	metrics.RelayConnectedClients.WithLabelValues(entry.role()).Dec()
}

func (r *Relay) currentStatus() Status {
	return Status{
		PythonConnected: hasActiveWorker(r.clients, r.clock.Now()),
		Connections:     r.clients.size(),
	}
}

// announceStatus broadcasts the current counts to every attached client,
// the newest connection included.
func (r *Relay) announceStatus() {
	s := r.currentStatus()
	frame := encodeEnvelope(statusEnvelope{
		Type:            envelopeStatus,
		PythonConnected: s.PythonConnected,
		Connections:     s.Connections,
	})
	r.deliver(frame, func(*clientEntry) bool { return true }, nil)
}

// handleSweep evicts pending commands older than the TTL and tells each
// issuer still attached that its command expired.
func (r *Relay) handleSweep() {
	cutoff := r.clock.Now().Add(-r.pendingTTL)
	expired := r.correlator.expire(cutoff)
	if len(expired) == 0 {
		return
	}

	metrics.ExpiredCommandsTotal.Add(float64(len(expired)))
	metrics.PendingCommands.Set(float64(r.correlator.size()))

	for _, ex := range expired {
		slog.Warn("Pending command expired", "relay", r.name, "command_id", ex.id)
		if entry := r.clients.get(ex.issuedBy); entry != nil {
			r.sendTo(entry, encodeEnvelope(errorEnvelope{
				Type:      envelopeError,
				Message:   commandTimeoutMessage,
				CommandID: ex.id,
			}))
		}
	}
}

func (r *Relay) handleStop() {
	slog.Info("Relay shutting down", "relay", r.name, "connections", r.clients.size())
	r.closeAllClients("Server shutting down")
	slog.Info("Relay shutdown complete", "relay", r.name)
}

// closeAllClients closes every client connection with the given reason.
// Used during panic recovery and graceful shutdown.
func (r *Relay) closeAllClients(reason string) {
	for _, entry := range r.clients.all() {
		entry.writer.stopGraceful(reason)
		r.clients.remove(entry.conn)
		metrics.RelayConnectedClients.WithLabelValues(entry.role()).Dec()
	}
}
