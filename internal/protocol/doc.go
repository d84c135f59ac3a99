// Package protocol owns the room-service wire codec and sequence state.
//
// Ownership boundary:
// - frame encode/decode (call, ack-only, close, inbound batches)
// - handshake payload parsing
// - ack/sack sequence accounting (Sequencer)
//
// A frame is a JSON array. Inbound frames open with the server's cumulative
// ack count followed by envelope entries; the one-time handshake arrives as
// a JSON object instead. Outbound call frames are
// [sack, [[0, {fn, args}], ack]], ack-only frames are [sack], close frames
// are [sack, [[2], ack]].
package protocol
