package room

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roomwire/roomwire/internal/protocol"
	"github.com/roomwire/roomwire/internal/testutil/testlog"
)

func TestCallWithResultResolves(t *testing.T) {
	testlog.Start(t)
	d := &fakeDialer{}
	s, err := newTestSession(d, nil)
	require.NoError(t, err)
	conn, err := openConnected(s, d)
	require.NoError(t, err)

	type outcome struct {
		value json.RawMessage
		err   error
	}
	results := make(chan outcome, 1)
	before := len(conn.sentFrames())
	go func() {
		v, err := s.CallWithResult(context.Background(), "getFileinfo", "f123")
		results <- outcome{v, err}
	}()

	// Wait for the call frame, then answer it with the correlation id the
	// session appended.
	var call protocol.CallPayload
	require.Eventually(t, func() bool {
		frames := conn.sentFrames()
		if len(frames) <= before {
			return false
		}
		_, call, _, err = protocol.DecodeCallFrame(frames[len(frames)-1])
		return err == nil
	}, time.Second, time.Millisecond)
	require.Equal(t, "getFileinfo", call.Fn)
	require.Len(t, call.Args, 2)
	id := int(call.Args[1].(float64))

	conn.deliver(`[0,[[0,["callback",{"id":` + itoa(id) + `,"args":[null,{"size":42}]}]],2]]`)
	res := <-results
	require.NoError(t, res.err)
	require.JSONEq(t, `{"size":42}`, string(res.value))
	require.Zero(t, s.PendingCalls())
}

func TestCallWithResultRemoteError(t *testing.T) {
	testlog.Start(t)
	d := &fakeDialer{}
	s, err := newTestSession(d, nil)
	require.NoError(t, err)
	conn, err := openConnected(s, d)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := s.CallWithResult(context.Background(), "getFileinfo", "nope")
		done <- err
	}()
	require.Eventually(t, func() bool { return s.PendingCalls() == 1 }, time.Second, time.Millisecond)

	frames := conn.sentFrames()
	_, call, _, err := protocol.DecodeCallFrame(frames[len(frames)-1])
	require.NoError(t, err)
	id := int(call.Args[1].(float64))

	conn.deliver(`[0,[[0,["callback",{"id":` + itoa(id) + `,"args":["no such file"]}]],2]]`)
	require.ErrorIs(t, <-done, ErrRemoteCall)
	require.Zero(t, s.PendingCalls())
}

func TestCallWithResultTimesOut(t *testing.T) {
	testlog.Start(t)
	d := &fakeDialer{}
	s, err := newTestSession(d, func(c *Config) { c.RPCTimeout = 30 * time.Millisecond })
	require.NoError(t, err)
	conn, err := openConnected(s, d)
	require.NoError(t, err)

	start := time.Now()
	_, err = s.CallWithResult(context.Background(), "getFileinfo", "f123")
	require.ErrorIs(t, err, ErrRPCTimeout)
	require.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	require.Zero(t, s.PendingCalls())

	// A late callback for the expired id is silently ignored.
	conn.deliver(`[0,[[0,["callback",{"id":2,"args":[null,"late"]}]],2]]`)
	require.Zero(t, s.PendingCalls())
}

func TestPendingCallsRejectedOnClose(t *testing.T) {
	testlog.Start(t)
	d := &fakeDialer{}
	s, err := newTestSession(d, func(c *Config) { c.CloseTimeout = 5 * time.Millisecond })
	require.NoError(t, err)
	_, err = openConnected(s, d)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := s.CallWithResult(context.Background(), "getFileinfo", "f123")
		done <- err
	}()
	require.Eventually(t, func() bool { return s.PendingCalls() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, s.Close())
	require.ErrorIs(t, <-done, ErrSessionClosed)
	require.Zero(t, s.PendingCalls())
}

func TestCallWithResultFailsFastWhenClosed(t *testing.T) {
	testlog.Start(t)
	d := &fakeDialer{}
	s, err := newTestSession(d, nil)
	require.NoError(t, err)
	_, err = s.CallWithResult(context.Background(), "getFileinfo", "f123")
	require.ErrorIs(t, err, ErrSessionClosed)
}
