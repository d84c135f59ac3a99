package protocol

import (
	"math/rand"
	"testing"

	"github.com/roomwire/roomwire/internal/testutil/testlog"
)

func TestSequencerCallFrameStampsCounters(t *testing.T) {
	testlog.Start(t)
	s := NewSequencer(10)
	s.Observe(4)
	raw, err := s.NextCallFrame(CallPayload{Fn: "chat", Args: []any{"hi"}})
	if err != nil {
		t.Fatalf("next call frame: %v", err)
	}
	sack, _, ack, err := DecodeCallFrame(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sack != 4 || ack != 1 {
		t.Fatalf("unexpected counters sack=%d ack=%d", sack, ack)
	}
	if _, ok := s.AckFrame(); ok {
		t.Fatalf("call frame should have acknowledged everything seen")
	}
}

func TestSequencerAckInvariant(t *testing.T) {
	testlog.Start(t)
	s := NewSequencer(10)
	rng := rand.New(rand.NewSource(42))

	var seq uint64
	prevAcked := uint64(0)
	for i := 0; i < 500; i++ {
		seq += uint64(rng.Intn(3))
		s.Observe(seq)
		if s.ShouldFlushAck() {
			if _, ok := s.AckFrame(); !ok {
				t.Fatalf("flush requested but nothing to ack")
			}
		}
		_, lastSeen, lastAcked := s.Counters()
		if lastAcked > lastSeen {
			t.Fatalf("lastAcked=%d exceeds lastSeen=%d", lastAcked, lastSeen)
		}
		if lastAcked < prevAcked {
			t.Fatalf("lastAcked regressed %d -> %d", prevAcked, lastAcked)
		}
		prevAcked = lastAcked
	}
}

func TestSequencerFlushThreshold(t *testing.T) {
	testlog.Start(t)
	s := NewSequencer(10)
	for seq := uint64(1); seq <= 9; seq++ {
		s.Observe(seq)
		if s.ShouldFlushAck() {
			t.Fatalf("flush should not trigger at gap %d", seq)
		}
	}
	s.Observe(10)
	if !s.ShouldFlushAck() {
		t.Fatalf("flush should trigger at gap 10")
	}
	raw, ok := s.AckFrame()
	if !ok {
		t.Fatalf("expected ack frame")
	}
	if string(raw) != "[10]" {
		t.Fatalf("unexpected ack frame: %s", raw)
	}
	if s.ShouldFlushAck() {
		t.Fatalf("flush should clear after ack")
	}
}

func TestSequencerSeedFromHandshake(t *testing.T) {
	testlog.Start(t)
	s := NewSequencer(0)
	s.Seed(7)
	raw, err := s.NextCallFrame(CallPayload{Fn: "subscribe"})
	if err != nil {
		t.Fatalf("next call frame: %v", err)
	}
	_, _, ack, err := DecodeCallFrame(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ack != 8 {
		t.Fatalf("seeded counter should continue at 8, got %d", ack)
	}
}

func TestSequencerStandaloneAckSuppressedWhenCurrent(t *testing.T) {
	testlog.Start(t)
	s := NewSequencer(10)
	if _, ok := s.AckFrame(); ok {
		t.Fatalf("fresh sequencer has nothing to ack")
	}
	s.Observe(2)
	if raw, ok := s.AckFrame(); !ok || string(raw) != "[2]" {
		t.Fatalf("expected [2], got %s ok=%v", raw, ok)
	}
	if _, ok := s.AckFrame(); ok {
		t.Fatalf("second flush should be suppressed")
	}
}
