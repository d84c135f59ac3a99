package room

import (
	"context"
	"sync"
	"time"

	"github.com/roomwire/roomwire/internal/transport"
)

// fakeConn records outbound frames and lets tests inject inbound traffic.
type fakeConn struct {
	mu     sync.Mutex
	sent   [][]byte
	closed bool
	cb     transport.Callbacks
}

func (c *fakeConn) Send(_ context.Context, raw []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return transport.ErrConnClosed
	}
	cp := make([]byte, len(raw))
	copy(cp, raw)
	c.sent = append(c.sent, cp)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) sentFrames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *fakeConn) deliver(raw string) {
	c.cb.OnMessage([]byte(raw))
}

// fakeDialer replays a scripted sequence of dial outcomes; a nil error
// yields a fresh fakeConn.
type fakeDialer struct {
	mu       sync.Mutex
	script   []error
	attempts int
	conns    []*fakeConn
}

func (d *fakeDialer) Dial(_ context.Context, _ string, cb transport.Callbacks) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	idx := d.attempts
	d.attempts++
	if idx < len(d.script) && d.script[idx] != nil {
		return nil, d.script[idx]
	}
	conn := &fakeConn{cb: cb}
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) lastConn() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func (d *fakeDialer) dialAttempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts
}

func newTestSession(dialer *fakeDialer, mutate func(*Config)) (*Session, error) {
	cfg := DefaultConfig()
	cfg.Room = "abc123"
	cfg.Nick = "tester"
	cfg.SocketURL = "wss://rooms.test/api/ws"
	cfg.Dialer = dialer
	cfg.ConnectRetryBase = time.Millisecond
	cfg.CloseTimeout = 50 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg)
}

// openSubscribed drives a fresh session to Subscribed over the fake
// transport.
func openSubscribed(s *Session, d *fakeDialer) (*fakeConn, error) {
	if err := s.Connect(context.Background()); err != nil {
		return nil, err
	}
	conn := d.lastConn()
	conn.deliver(`{"version":7,"session":"s1","ack":0}`)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.WaitSubscribed(ctx); err != nil {
		return nil, err
	}
	return conn, nil
}

// openConnected additionally delivers the empty full snapshot.
func openConnected(s *Session, d *fakeDialer) (*fakeConn, error) {
	conn, err := openSubscribed(s, d)
	if err != nil {
		return nil, err
	}
	conn.deliver(`[0,[[0,["files",{"files":[],"set":true}]],1]]`)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.WaitConnected(ctx); err != nil {
		return nil, err
	}
	return conn, nil
}
