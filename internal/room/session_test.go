package room

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roomwire/roomwire/internal/bus"
	"github.com/roomwire/roomwire/internal/protocol"
	"github.com/roomwire/roomwire/internal/testutil/testlog"
	"github.com/roomwire/roomwire/internal/transport"
)

func TestLifecycleToConnected(t *testing.T) {
	testlog.Start(t)
	d := &fakeDialer{}
	s, err := newTestSession(d, nil)
	require.NoError(t, err)
	require.Equal(t, StateDisconnected, s.State())

	require.NoError(t, s.Connect(context.Background()))
	require.Equal(t, StateOpen, s.State())

	conn := d.lastConn()
	conn.deliver(`{"version":7,"session":"s1","ack":0}`)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.WaitSubscribed(ctx))
	require.Equal(t, StateSubscribed, s.State())
	require.Equal(t, "s1", s.Token())
	require.Equal(t, 7, s.Version())

	// The handshake must have produced exactly one outbound call: subscribe.
	frames := conn.sentFrames()
	require.Len(t, frames, 1)
	_, call, ack, err := protocol.DecodeCallFrame(frames[0])
	require.NoError(t, err)
	require.Equal(t, "subscribe", call.Fn)
	require.Equal(t, uint64(1), ack)

	conn.deliver(`[0,[[0,["files",{"files":[],"set":true}]],1]]`)
	require.NoError(t, s.WaitConnected(ctx))
	require.Equal(t, StateConnected, s.State())
	require.Empty(t, s.Files())
}

func TestConnectRetriesOnTransientOverload(t *testing.T) {
	testlog.Start(t)
	d := &fakeDialer{script: []error{
		&transport.DialError{StatusCode: 503, Err: errors.New("service unavailable")},
		&transport.DialError{StatusCode: 502, Err: errors.New("bad gateway")},
		nil,
	}}
	s, err := newTestSession(d, nil)
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, s.Connect(context.Background()))
	require.Equal(t, 3, d.dialAttempts())
	require.Equal(t, StateOpen, s.State())
	// Linear backoff: 1ms + 2ms at minimum.
	require.GreaterOrEqual(t, time.Since(start), 3*time.Millisecond)
}

func TestConnectFailsFastOnNonTransientError(t *testing.T) {
	testlog.Start(t)
	dialErr := &transport.DialError{StatusCode: 404, Err: errors.New("no such room")}
	d := &fakeDialer{script: []error{dialErr}}
	s, err := newTestSession(d, nil)
	require.NoError(t, err)

	err = s.Connect(context.Background())
	require.Error(t, err)
	require.False(t, transport.IsTransient(err))
	require.Equal(t, 1, d.dialAttempts())
	require.Equal(t, StateErrored, s.State())
}

func TestRemoteCloseWhileConnectedIsNotAnError(t *testing.T) {
	testlog.Start(t)
	d := &fakeDialer{}
	s, err := newTestSession(d, nil)
	require.NoError(t, err)
	conn, err := openConnected(s, d)
	require.NoError(t, err)

	var errorEvents, closedEvents int
	s.Subscribe(EventError, func(bus.Event) { errorEvents++ })
	s.Subscribe(EventClosed, func(bus.Event) { closedEvents++ })

	conn.deliver(`[1,[2]]`)
	require.Equal(t, StateClosed, s.State())
	require.Zero(t, errorEvents)
	require.Equal(t, 1, closedEvents)
}

func TestServerControlCodesAreFatal(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		raw  string
		want error
	}{
		{`[1,[[429]]]`, ErrRateLimited},
		{`[1,[[403]]]`, ErrPrivilegeRevoked},
	}
	for _, tc := range cases {
		d := &fakeDialer{}
		s, err := newTestSession(d, nil)
		require.NoError(t, err)
		conn, err := openConnected(s, d)
		require.NoError(t, err)

		var got error
		s.Subscribe(EventError, func(ev bus.Event) { got, _ = ev.Data.(error) })
		conn.deliver(tc.raw)
		require.Equal(t, StateClosed, s.State())
		require.ErrorIs(t, got, tc.want)
	}
}

func TestGracefulCloseSendsCloseFrame(t *testing.T) {
	testlog.Start(t)
	d := &fakeDialer{}
	s, err := newTestSession(d, nil)
	require.NoError(t, err)
	conn, err := openConnected(s, d)
	require.NoError(t, err)

	before := len(conn.sentFrames())
	done := make(chan struct{})
	go func() {
		_ = s.Close()
		close(done)
	}()
	// Server confirms teardown.
	time.Sleep(5 * time.Millisecond)
	conn.cb.OnClose(nil)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("close did not finish")
	}

	require.Equal(t, StateClosed, s.State())
	frames := conn.sentFrames()
	require.Greater(t, len(frames), before)
	require.Contains(t, string(frames[len(frames)-1]), "[[2],")

	require.ErrorIs(t, s.Chat("after close"), ErrSessionClosed)
}

func TestCloseDeadlineExpiryForcesTeardown(t *testing.T) {
	testlog.Start(t)
	d := &fakeDialer{}
	s, err := newTestSession(d, func(c *Config) { c.CloseTimeout = 10 * time.Millisecond })
	require.NoError(t, err)
	_, err = openConnected(s, d)
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, s.Close())
	require.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
	require.Equal(t, StateClosed, s.State())
}

func TestAckFlushAtBatchThreshold(t *testing.T) {
	testlog.Start(t)
	d := &fakeDialer{}
	s, err := newTestSession(d, nil)
	require.NoError(t, err)
	conn, err := openConnected(s, d)
	require.NoError(t, err)

	before := len(conn.sentFrames())
	// One batch of ten envelopes; the subscribe call already acknowledged
	// nothing, and the snapshot consumed seq 1.
	batch := `[0`
	for seq := 2; seq <= 11; seq++ {
		batch += `,[[0,["user_count",3]],` + itoa(seq) + `]`
	}
	batch += `]`
	conn.deliver(batch)

	frames := conn.sentFrames()
	require.Greater(t, len(frames), before)
	require.Equal(t, "[11]", string(frames[len(frames)-1]))
}

func TestPingFlushesPendingAck(t *testing.T) {
	testlog.Start(t)
	d := &fakeDialer{}
	s, err := newTestSession(d, nil)
	require.NoError(t, err)
	conn, err := openConnected(s, d)
	require.NoError(t, err)

	conn.deliver(`[0,[[0,["user_count",9]],2]]`)
	before := len(conn.sentFrames())
	conn.cb.OnPing()
	frames := conn.sentFrames()
	require.Equal(t, before+1, len(frames))
	require.Equal(t, "[2]", string(frames[len(frames)-1]))

	// Nothing new seen: a second ping stays quiet.
	conn.cb.OnPing()
	require.Equal(t, len(frames), len(conn.sentFrames()))
}

func TestDispatchIsolatesFailingEnvelope(t *testing.T) {
	testlog.Start(t)
	d := &fakeDialer{}
	s, err := newTestSession(d, nil)
	require.NoError(t, err)
	conn, err := openConnected(s, d)
	require.NoError(t, err)

	var msgs []*Message
	s.Subscribe(EventChat, func(ev bus.Event) { msgs = append(msgs, ev.Data.(*Message)) })

	// First chat payload is malformed; the second must still dispatch.
	conn.deliver(`[0,[[0,["chat",42]],2],[[0,["chat",{"nick":"momo","message":["hey"]}]],3]]`)
	require.Len(t, msgs, 1)
	require.Equal(t, "hey", msgs[0].Text)
}

func TestGenericRepostAndUserCount(t *testing.T) {
	testlog.Start(t)
	d := &fakeDialer{}
	s, err := newTestSession(d, nil)
	require.NoError(t, err)
	conn, err := openConnected(s, d)
	require.NoError(t, err)

	var reposts int
	s.Subscribe("user_count", func(bus.Event) { reposts++ })
	conn.deliver(`[0,[[0,["user_count",17]],2]]`)
	require.Equal(t, 1, reposts)
	require.Equal(t, 17, s.UserCount())

	// Unknown types still repost, just with a warning.
	var unknown int
	s.Subscribe("mystery", func(bus.Event) { unknown++ })
	conn.deliver(`[0,[[0,["mystery",{"x":1}]],3]]`)
	require.Equal(t, 1, unknown)
}

func TestRoleEnvelopesAndPrivilegePredicates(t *testing.T) {
	testlog.Start(t)
	d := &fakeDialer{}
	s, err := newTestSession(d, nil)
	require.NoError(t, err)
	conn, err := openConnected(s, d)
	require.NoError(t, err)

	require.False(t, s.Roles().JanitorLevel())
	conn.deliver(`[0,[[0,["janitor",{"janitor":true}]],2]]`)
	require.True(t, s.Roles().JanitorLevel())
	require.False(t, s.Roles().AdminLevel())

	conn.deliver(`[0,[[0,["admin",{"admin":true}]],3]]`)
	require.True(t, s.Roles().AdminLevel())
}

func TestConfigEnvelopeMergesSettings(t *testing.T) {
	testlog.Start(t)
	d := &fakeDialer{}
	s, err := newTestSession(d, nil)
	require.NoError(t, err)
	conn, err := openConnected(s, d)
	require.NoError(t, err)

	conn.deliver(`[0,[[0,["config",{"name":"den","max_message":120}]],2]]`)
	got := s.Settings()
	require.Equal(t, "den", got.Name)
	require.Equal(t, 120, got.MaxMessageLength)

	conn.deliver(`[0,[[0,["config",{"motd":"welcome"}]],3]]`)
	got = s.Settings()
	require.Equal(t, "den", got.Name)
	require.Equal(t, "welcome", got.MOTD)
}

func TestTimeEnvelopeSetsClockDelta(t *testing.T) {
	testlog.Start(t)
	d := &fakeDialer{}
	s, err := newTestSession(d, nil)
	require.NoError(t, err)
	conn, err := openConnected(s, d)
	require.NoError(t, err)

	future := time.Now().Add(time.Hour).UnixMilli()
	conn.deliver(`[0,[[0,["time",` + i64toa(future) + `]],2]]`)
	delta := s.TimeDelta()
	require.InDelta(t, time.Hour.Seconds(), delta.Seconds(), 5)
}

func itoa(n int) string { return strconv.Itoa(n) }

func i64toa(n int64) string { return strconv.FormatInt(n, 10) }
