// Package room implements the client session engine for one remote room.
//
// Ownership boundary:
// - connection lifecycle (connect/retry, handshake, subscribe, graceful close)
// - inbound envelope dispatch and generic repost
// - correlation-id callback RPC
// - message/file entity derivation and the live file set
// - validated, role-gated public operations
//
// One Session owns one room. Inbound frames are processed in arrival order
// by the transport's single reader goroutine; outbound calls serialize
// through the protocol.Sequencer, which is the only writer of ack/sack
// state.
package room
