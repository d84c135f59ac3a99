package protocol

import "encoding/json"

// Outer envelope codes carried on the wire. Code 0 wraps a typed envelope;
// everything else is a control signal from the server.
const (
	CodeEnvelope         = 0
	CodeClose            = 2
	CodePrivilegeRevoked = 403
	CodeRateLimited      = 429
)

// Envelope is one (type, payload) unit of application-level meaning.
type Envelope struct {
	Type    string
	Payload json.RawMessage
}

// CallPayload is the body of an outbound call envelope.
type CallPayload struct {
	Fn   string `json:"fn"`
	Args []any  `json:"args"`
}

// Handshake is the one-time initial-connection payload, delivered as a JSON
// object before any framed batch.
type Handshake struct {
	Version int    `json:"version"`
	Session string `json:"session"`
	Ack     uint64 `json:"ack"`
}

// Entry is one decoded element of an inbound frame: either a typed envelope
// with its client sequence number (Code == CodeEnvelope) or a control
// signal (Code != CodeEnvelope, Envelope and Seq unset).
type Entry struct {
	Code     int
	Envelope Envelope
	Seq      uint64
}

// Frame is a decoded inbound batch.
type Frame struct {
	ServerAck uint64
	Entries   []Entry
}
