package relay

import (
	"encoding/json"
	"log/slog"
)

// Envelope type tags as they appear on the wire.
const (
	envelopeWelcome     = "welcome"
	envelopeStatus      = "status"
	envelopePong        = "pong"
	envelopeAck         = "ack"
	envelopeError       = "error"
	envelopeResult      = "result"
	envelopeWorkerEvent = "python-event"
	envelopeDispatched  = "command-dispatched"
)

// pingSentinel is the literal (non-JSON) liveness probe clients send.
const pingSentinel = "ping"

// Operator-facing error messages.
const (
	noWorkersMessage      = "No Python clients are currently connected."
	commandTimeoutMessage = "Command timed out before any worker replied."
)

// Status is the relay's externally visible state snapshot. It is also
// served verbatim as the GET /status body.
type Status struct {
	PythonConnected bool `json:"pythonConnected"`
	Connections     int  `json:"connections"`
}

type welcomeEnvelope struct {
	Type            string `json:"type"`
	ClientType      string `json:"clientType"`
	PythonConnected bool   `json:"pythonConnected"`
	Connections     int    `json:"connections"`
}

type statusEnvelope struct {
	Type            string `json:"type"`
	PythonConnected bool   `json:"pythonConnected"`
	Connections     int    `json:"connections"`
}

type pongEnvelope struct {
	Type string `json:"type"`
}

type ackEnvelope struct {
	Type      string `json:"type"`
	CommandID string `json:"commandId"`
}

type errorEnvelope struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	CommandID string `json:"commandId"`
}

type resultEnvelope struct {
	Type      string `json:"type"`
	CommandID string `json:"commandId"`
	Payload   any    `json:"payload"`
}

type workerEventEnvelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type dispatchedEnvelope struct {
	Type      string `json:"type"`
	CommandID string `json:"commandId"`
	Payload   any    `json:"payload"`
}

// encodeEnvelope marshals an envelope, logging instead of failing: every
// payload that came through parsePayload marshals back cleanly.
func encodeEnvelope(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to marshal envelope", "error", err)
		return nil
	}
	return data
}

// parsePayload interprets raw client bytes as JSON, falling back to the raw
// text for anything unparsable. The relay never rejects a message.
func parsePayload(raw []byte) any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

// commandIDOf extracts a non-empty string commandId from a parsed payload
// object.
func commandIDOf(payload any) (string, bool) {
	obj, ok := payload.(map[string]any)
	if !ok {
		return "", false
	}
	id, ok := obj["commandId"].(string)
	return id, ok && id != ""
}

// normalizeCommand shapes an observer payload into the object dispatched to
// workers: raw text becomes a message envelope, objects pass through,
// anything else is wrapped as unknown.
func normalizeCommand(payload any) map[string]any {
	switch p := payload.(type) {
	case map[string]any:
		return p
	case string:
		return map[string]any{"type": "message", "value": p}
	default:
		return map[string]any{"type": "unknown", "value": p}
	}
}
