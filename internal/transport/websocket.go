package transport

import (
	"context"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
)

// WSDialer opens websocket connections.
type WSDialer struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

func NewWSDialer() *WSDialer {
	return &WSDialer{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     15 * time.Second,
	}
}

func (d *WSDialer) Dial(ctx context.Context, url string, cb Callbacks) (Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: d.HandshakeTimeout,
	}
	ws, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		de := &DialError{Err: err}
		if resp != nil {
			de.StatusCode = resp.StatusCode
		}
		return nil, de
	}

	conn := &wsConn{
		ws:           ws,
		writeTimeout: d.WriteTimeout,
		done:         make(chan struct{}),
	}
	ws.SetPingHandler(func(appData string) error {
		if cb.OnPing != nil {
			cb.OnPing()
		}
		return ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(d.WriteTimeout))
	})
	go conn.readLoop(cb)
	return conn, nil
}

type wsConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// readLoop delivers messages in arrival order from a single goroutine.
func (c *wsConn) readLoop(cb Callbacks) {
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				// Locally initiated close; not an error.
				if cb.OnClose != nil {
					cb.OnClose(nil)
				}
			default:
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					if cb.OnClose != nil {
						cb.OnClose(nil)
					}
				} else if cb.OnError != nil {
					cb.OnError(err)
				}
			}
			return
		}
		if cb.OnMessage != nil {
			cb.OnMessage(raw)
		}
	}
}

func (c *wsConn) Send(ctx context.Context, raw []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Now().Add(c.writeTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, raw)
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.writeTimeout))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}
