// Package relay implements the real-time command relay between worker and
// observer socket clients using the actor pattern.
//
// One goroutine per relay owns the connection registry and the pending
// command table; attaches, detaches, inbound messages and control dispatches
// arrive as commands on a single channel (no mutexes). Per-connection writer
// goroutines absorb slow clients: a full outbound buffer counts as a failed
// send, and every failed send prunes the connection on the spot.
package relay
