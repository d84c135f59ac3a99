package protocol

import "sync"

// DefaultAckBatchThreshold is the unacknowledged-envelope gap that forces a
// standalone ack flush.
const DefaultAckBatchThreshold = 10

// Sequencer is the sole owner of the session's sequence state: the outbound
// operation count (ack), the last server sequence observed (sack), and the
// last sack value the client has put on the wire (last_sack).
//
// Invariant: lastAcked <= lastSeen, and both are non-decreasing.
type Sequencer struct {
	mu        sync.Mutex
	outbound  uint64
	lastSeen  uint64
	lastAcked uint64
	threshold uint64
}

func NewSequencer(ackBatchThreshold uint64) *Sequencer {
	if ackBatchThreshold == 0 {
		ackBatchThreshold = DefaultAckBatchThreshold
	}
	return &Sequencer{threshold: ackBatchThreshold}
}

// Seed primes the outbound counter from the handshake's initial ack value so
// a resumed session continues the server's count.
func (s *Sequencer) Seed(ack uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ack > s.outbound {
		s.outbound = ack
	}
}

// NextCallFrame stamps and encodes one outbound call. Sending a call frame
// acknowledges everything seen so far.
func (s *Sequencer) NextCallFrame(call CallPayload) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outbound++
	raw, err := EncodeCallFrame(s.lastSeen, call, s.outbound)
	if err != nil {
		s.outbound--
		return nil, err
	}
	s.lastAcked = s.lastSeen
	return raw, nil
}

// CloseFrame encodes the graceful-close frame [sack, [[2], ack]].
func (s *Sequencer) CloseFrame() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outbound++
	raw, err := EncodeCloseFrame(s.lastSeen, s.outbound)
	if err != nil {
		s.outbound--
		return nil, err
	}
	s.lastAcked = s.lastSeen
	return raw, nil
}

// Observe records one inbound envelope's client sequence number.
func (s *Sequencer) Observe(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq > s.lastSeen {
		s.lastSeen = seq
	}
}

// ShouldFlushAck reports whether the unacknowledged gap has reached the
// batch threshold.
func (s *Sequencer) ShouldFlushAck() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen-s.lastAcked >= s.threshold
}

// AckFrame encodes a standalone ack flush, or returns (nil, false) when
// there is nothing new to acknowledge.
func (s *Sequencer) AckFrame() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastSeen == s.lastAcked {
		return nil, false
	}
	raw, err := EncodeAckFrame(s.lastSeen)
	if err != nil {
		return nil, false
	}
	s.lastAcked = s.lastSeen
	return raw, true
}

// Counters returns (outbound, lastSeen, lastAcked).
func (s *Sequencer) Counters() (uint64, uint64, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outbound, s.lastSeen, s.lastAcked
}
