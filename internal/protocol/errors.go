package protocol

import "errors"

var (
	ErrEmptyFrame       = errors.New("protocol: empty frame")
	ErrMalformedFrame   = errors.New("protocol: malformed frame")
	ErrMalformedEntry   = errors.New("protocol: malformed envelope entry")
	ErrMalformedPayload = errors.New("protocol: malformed envelope payload")
	ErrNotCallFrame     = errors.New("protocol: not a call frame")
)
