package protocol

import (
	"encoding/json"
	"testing"

	"github.com/roomwire/roomwire/internal/testutil/testlog"
)

func TestCallFrameRoundTrip(t *testing.T) {
	testlog.Start(t)
	raw, err := EncodeCallFrame(4, CallPayload{Fn: "chat", Args: []any{"hi"}}, 5)
	if err != nil {
		t.Fatalf("encode call frame: %v", err)
	}
	sack, call, ack, err := DecodeCallFrame(raw)
	if err != nil {
		t.Fatalf("decode call frame: %v", err)
	}
	if sack != 4 || ack != 5 {
		t.Fatalf("unexpected counters sack=%d ack=%d", sack, ack)
	}
	if call.Fn != "chat" || len(call.Args) != 1 || call.Args[0] != "hi" {
		t.Fatalf("unexpected call: %+v", call)
	}
}

func TestEncodeAckFrameShape(t *testing.T) {
	testlog.Start(t)
	raw, err := EncodeAckFrame(17)
	if err != nil {
		t.Fatalf("encode ack frame: %v", err)
	}
	if string(raw) != "[17]" {
		t.Fatalf("unexpected ack frame: %s", raw)
	}
}

func TestEncodeCloseFrameShape(t *testing.T) {
	testlog.Start(t)
	raw, err := EncodeCloseFrame(3, 9)
	if err != nil {
		t.Fatalf("encode close frame: %v", err)
	}
	if string(raw) != "[3,[[2],9]]" {
		t.Fatalf("unexpected close frame: %s", raw)
	}
}

func TestParseInboundHandshake(t *testing.T) {
	testlog.Start(t)
	hs, fr, err := ParseInbound([]byte(`{"version":7,"session":"s1","ack":0}`))
	if err != nil {
		t.Fatalf("parse handshake: %v", err)
	}
	if fr != nil {
		t.Fatalf("expected no frame, got %+v", fr)
	}
	if hs.Version != 7 || hs.Session != "s1" || hs.Ack != 0 {
		t.Fatalf("unexpected handshake: %+v", hs)
	}
}

func TestParseInboundTypedBatch(t *testing.T) {
	testlog.Start(t)
	raw := []byte(`[3,[[0,["chat",{"nick":"momo","message":["hey"]}]],11],[[0,["user_count",4]],12]]`)
	hs, fr, err := ParseInbound(raw)
	if err != nil {
		t.Fatalf("parse batch: %v", err)
	}
	if hs != nil {
		t.Fatalf("unexpected handshake")
	}
	if fr.ServerAck != 3 || len(fr.Entries) != 2 {
		t.Fatalf("unexpected frame: %+v", fr)
	}
	first := fr.Entries[0]
	if first.Code != CodeEnvelope || first.Envelope.Type != "chat" || first.Seq != 11 {
		t.Fatalf("unexpected first entry: %+v", first)
	}
	var count int
	if err := json.Unmarshal(fr.Entries[1].Envelope.Payload, &count); err != nil || count != 4 {
		t.Fatalf("unexpected second payload: %s", fr.Entries[1].Envelope.Payload)
	}
}

func TestParseInboundControlEntries(t *testing.T) {
	testlog.Start(t)
	for _, raw := range []string{`[5,[2]]`, `[5,[[2]]]`, `[5,[[2],6]]`} {
		_, fr, err := ParseInbound([]byte(raw))
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if len(fr.Entries) != 1 || fr.Entries[0].Code != CodeClose {
			t.Fatalf("expected close entry for %q, got %+v", raw, fr.Entries)
		}
	}
	_, fr, err := ParseInbound([]byte(`[5,[[429]]]`))
	if err != nil {
		t.Fatalf("parse rate-limit: %v", err)
	}
	if fr.Entries[0].Code != CodeRateLimited {
		t.Fatalf("expected rate-limit code, got %d", fr.Entries[0].Code)
	}
}

func TestParseInboundMalformed(t *testing.T) {
	testlog.Start(t)
	for _, raw := range []string{``, `true`, `[]`, `[["x"]]`, `[1,[[0]]]`, `[1,[[0,[42]]]]`} {
		if _, _, err := ParseInbound([]byte(raw)); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}
