package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EncodeCallFrame builds [sack, [[0, {fn, args}], ack]].
func EncodeCallFrame(sack uint64, call CallPayload, ack uint64) ([]byte, error) {
	if call.Args == nil {
		call.Args = []any{}
	}
	return json.Marshal([]any{sack, []any{[]any{CodeEnvelope, call}, ack}})
}

// EncodeAckFrame builds the minimal standalone acknowledgment [sack].
func EncodeAckFrame(sack uint64) ([]byte, error) {
	return json.Marshal([]any{sack})
}

// EncodeCloseFrame builds [sack, [[2], ack]].
func EncodeCloseFrame(sack uint64, ack uint64) ([]byte, error) {
	return json.Marshal([]any{sack, []any{[]any{CodeClose}, ack}})
}

// DecodeCallFrame parses an outbound call frame back into its parts.
func DecodeCallFrame(raw []byte) (sack uint64, call CallPayload, ack uint64, err error) {
	var parts []json.RawMessage
	if err = json.Unmarshal(raw, &parts); err != nil {
		return 0, CallPayload{}, 0, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if len(parts) != 2 {
		return 0, CallPayload{}, 0, ErrNotCallFrame
	}
	if err = json.Unmarshal(parts[0], &sack); err != nil {
		return 0, CallPayload{}, 0, fmt.Errorf("%w: sack: %v", ErrMalformedFrame, err)
	}
	var entry []json.RawMessage
	if err = json.Unmarshal(parts[1], &entry); err != nil || len(entry) != 2 {
		return 0, CallPayload{}, 0, ErrNotCallFrame
	}
	var inner []json.RawMessage
	if err = json.Unmarshal(entry[0], &inner); err != nil || len(inner) != 2 {
		return 0, CallPayload{}, 0, ErrNotCallFrame
	}
	var code int
	if err = json.Unmarshal(inner[0], &code); err != nil || code != CodeEnvelope {
		return 0, CallPayload{}, 0, ErrNotCallFrame
	}
	if err = json.Unmarshal(inner[1], &call); err != nil {
		return 0, CallPayload{}, 0, fmt.Errorf("%w: call payload: %v", ErrMalformedPayload, err)
	}
	if err = json.Unmarshal(entry[1], &ack); err != nil {
		return 0, CallPayload{}, 0, fmt.Errorf("%w: ack: %v", ErrMalformedFrame, err)
	}
	return sack, call, ack, nil
}

// ParseInbound decodes one raw transport message. Exactly one of the return
// values is non-nil on success: a Handshake for the one-time non-array
// initial payload, a Frame otherwise.
func ParseInbound(raw []byte) (*Handshake, *Frame, error) {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, nil, ErrEmptyFrame
	}
	if trimmed[0] == '{' {
		var hs Handshake
		if err := json.Unmarshal(trimmed, &hs); err != nil {
			return nil, nil, fmt.Errorf("%w: handshake: %v", ErrMalformedFrame, err)
		}
		return &hs, nil, nil
	}
	if trimmed[0] != '[' {
		return nil, nil, ErrMalformedFrame
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(trimmed, &parts); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if len(parts) == 0 {
		return nil, nil, ErrEmptyFrame
	}

	fr := &Frame{}
	if err := json.Unmarshal(parts[0], &fr.ServerAck); err != nil {
		return nil, nil, fmt.Errorf("%w: server ack: %v", ErrMalformedFrame, err)
	}
	for i, part := range parts[1:] {
		entry, err := decodeEntry(part)
		if err != nil {
			return nil, nil, fmt.Errorf("entry[%d]: %w", i, err)
		}
		fr.Entries = append(fr.Entries, entry)
	}
	return nil, fr, nil
}

func decodeEntry(raw json.RawMessage) (Entry, error) {
	var fields []json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrMalformedEntry, err)
	}
	if len(fields) == 0 {
		return Entry{}, ErrMalformedEntry
	}

	head := bytes.TrimLeft(fields[0], " \t\r\n")
	if len(head) == 0 {
		return Entry{}, ErrMalformedEntry
	}

	// A bare numeric head is a control entry without a wrapping pair, e.g. [2].
	if head[0] != '[' {
		var code int
		if err := json.Unmarshal(head, &code); err != nil {
			return Entry{}, fmt.Errorf("%w: control code: %v", ErrMalformedEntry, err)
		}
		if code == CodeEnvelope {
			return Entry{}, ErrMalformedEntry
		}
		return Entry{Code: code}, nil
	}

	var inner []json.RawMessage
	if err := json.Unmarshal(head, &inner); err != nil || len(inner) == 0 {
		return Entry{}, ErrMalformedEntry
	}
	var code int
	if err := json.Unmarshal(inner[0], &code); err != nil {
		return Entry{}, fmt.Errorf("%w: envelope code: %v", ErrMalformedEntry, err)
	}
	if code != CodeEnvelope {
		return Entry{Code: code}, nil
	}
	if len(inner) < 2 {
		return Entry{}, fmt.Errorf("%w: typed envelope without body", ErrMalformedEntry)
	}

	env, err := decodeTypedBody(inner[1])
	if err != nil {
		return Entry{}, err
	}

	entry := Entry{Code: CodeEnvelope, Envelope: env}
	if len(fields) > 1 {
		if err := json.Unmarshal(fields[1], &entry.Seq); err != nil {
			return Entry{}, fmt.Errorf("%w: client seq: %v", ErrMalformedEntry, err)
		}
	}
	return entry, nil
}

// decodeTypedBody unwraps [name, payload]; the payload element is optional.
func decodeTypedBody(raw json.RawMessage) (Envelope, error) {
	var body []json.RawMessage
	if err := json.Unmarshal(raw, &body); err != nil || len(body) == 0 {
		return Envelope{}, ErrMalformedPayload
	}
	var name string
	if err := json.Unmarshal(body[0], &name); err != nil || name == "" {
		return Envelope{}, fmt.Errorf("%w: envelope type", ErrMalformedPayload)
	}
	env := Envelope{Type: name}
	if len(body) > 1 {
		env.Payload = body[1]
	}
	return env, nil
}
