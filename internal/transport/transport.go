// Package transport defines the duplex connection contract the session
// engine rides on, plus the websocket adapter that implements it. Any
// transport delivering ordered messages with open/ping/error/close
// reporting is substitutable.
package transport

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrConnClosed = errors.New("transport: connection closed")
)

// Callbacks receive transport events. OnMessage and OnPing are invoked from
// a single reader goroutine in arrival order; exactly one of OnError or
// OnClose fires last.
type Callbacks struct {
	OnMessage func(raw []byte)
	OnPing    func()
	OnError   func(err error)
	OnClose   func(err error)
}

// Conn is an established duplex connection.
type Conn interface {
	Send(ctx context.Context, raw []byte) error
	Close() error
}

// Dialer opens connections to a server endpoint.
type Dialer interface {
	Dial(ctx context.Context, url string, cb Callbacks) (Conn, error)
}

// DialError wraps a failed dial, carrying the HTTP status code of the
// handshake response when the server produced one.
type DialError struct {
	StatusCode int
	Err        error
}

func (e *DialError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport: dial failed (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transport: dial failed: %v", e.Err)
}

func (e *DialError) Unwrap() error { return e.Err }

// Transient reports whether the failure is a server-side transient overload
// (5xx) that the connect sequence should retry.
func (e *DialError) Transient() bool {
	return e.StatusCode >= 500 && e.StatusCode <= 599
}

// IsTransient reports whether err is a retryable transient-overload dial
// failure. Only an explicit 5xx from the server qualifies.
func IsTransient(err error) bool {
	var de *DialError
	return errors.As(err, &de) && de.Transient()
}
