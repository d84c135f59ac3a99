package room

import "errors"

var (
	// Validation errors: the caller's input is wrong. Fail before any
	// network effect.
	ErrEmptyMessage   = errors.New("room: empty chat message")
	ErrMessageTooLong = errors.New("room: chat message exceeds room limit")
	ErrInvalidNick    = errors.New("room: nick must be 3-12 alphanumeric characters")
	ErrInvalidBanSpec = errors.New("room: invalid ban spec")
	ErrInvalidTimeout = errors.New("room: invalid timeout spec")
	ErrInvalidSetting = errors.New("room: invalid room setting value")

	// Privilege errors: the operation needs a role the session lacks.
	ErrNotPermitted = errors.New("room: operation requires elevated role")

	// Session-level failures.
	ErrAlreadyConnected = errors.New("room: session already connected")
	ErrSessionClosed    = errors.New("room: session closed")
	ErrRPCTimeout       = errors.New("room: no response to call")
	ErrRemoteCall       = errors.New("room: remote call failed")
	ErrPrivilegeRevoked = errors.New("room: server revoked privileges")
	ErrRateLimited      = errors.New("room: server rate limited the session")
)
