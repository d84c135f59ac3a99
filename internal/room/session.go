package room

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/roomwire/roomwire/internal/bus"
	"github.com/roomwire/roomwire/internal/logging"
	"github.com/roomwire/roomwire/internal/observability"
	"github.com/roomwire/roomwire/internal/protocol"
	"github.com/roomwire/roomwire/internal/transport"
)

// State is the session's connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateSubscribed
	StateConnected
	StateClosing
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateSubscribed:
		return "subscribed"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Event kinds published on the session bus.
const (
	EventOpen        = "open"
	EventSubscribed  = "subscribed"
	EventConnected   = "connected"
	EventChat        = "chat"
	EventFile        = "file"
	EventFileDeleted = "file_deleted"
	EventConfig      = "config"
	EventError       = "error"
	EventClosed      = "closed"
)

type fileWaiter struct {
	ch chan *File
}

// Session is one live connection to a remote room.
type Session struct {
	cfg     Config
	log     zerolog.Logger
	seq     *protocol.Sequencer
	bus     *bus.Bus
	metrics *observability.SessionMetrics

	handlers map[string]func(payload []byte) error
	generic  map[string]struct{}

	mu        sync.Mutex
	state     State
	conn      transport.Conn
	handshook bool
	token     string
	version   int
	timeDelta time.Duration
	roles     RoleFlags
	settings  Settings
	nick      string
	userCount int
	files     map[string]*File
	fileWaits map[string][]*fileWaiter

	pending    map[uint64]*pendingCall
	nextCallID uint64

	openCh      chan struct{}
	subCh       chan struct{}
	connCh      chan struct{}
	closedCh    chan struct{}
	transportCh chan struct{} // signaled when the transport reports close/error

	openOnce      sync.Once
	subOnce       sync.Once
	connOnce      sync.Once
	closedOnce    sync.Once
	transportOnce sync.Once
}

func New(cfg Config) (*Session, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := logging.Component("room").With().Str("room", cfg.Room).Logger()
	s := &Session{
		cfg:         cfg,
		log:         log,
		seq:         protocol.NewSequencer(cfg.AckBatchThreshold),
		bus:         bus.New(log),
		metrics:     cfg.Metrics,
		nick:        cfg.Nick,
		settings:    Settings{MaxMessageLength: cfg.MaxMessageLength, MaxNickLength: cfg.MaxNickLength},
		files:       make(map[string]*File),
		fileWaits:   make(map[string][]*fileWaiter),
		pending:     make(map[uint64]*pendingCall),
		openCh:      make(chan struct{}),
		subCh:       make(chan struct{}),
		connCh:      make(chan struct{}),
		closedCh:    make(chan struct{}),
		transportCh: make(chan struct{}),
	}
	s.registerHandlers()
	return s, nil
}

// Connect dials the transport and retries the whole connect sequence with
// linear backoff while the server signals transient overload. It returns
// once the transport is open; handshake and subscription complete
// asynchronously (WaitSubscribed / WaitConnected).
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateDisconnected {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: state=%s", ErrAlreadyConnected, st)
	}
	s.state = StateConnecting
	s.mu.Unlock()

	url := fmt.Sprintf("%s?room=%s", s.cfg.SocketURL, s.cfg.Room)
	cb := transport.Callbacks{
		OnMessage: s.handleRaw,
		OnPing:    s.handlePing,
		OnError:   s.handleTransportError,
		OnClose:   s.handleTransportClose,
	}

	for attempt := 1; ; attempt++ {
		conn, err := s.cfg.Dialer.Dial(ctx, url, cb)
		if err == nil {
			s.mu.Lock()
			s.conn = conn
			s.state = StateOpen
			s.mu.Unlock()
			s.openOnce.Do(func() { close(s.openCh) })
			s.metrics.SessionOpened()
			s.log.Info().Int("attempt", attempt).Msg("transport open")
			s.bus.Publish(bus.Event{Kind: EventOpen})
			return nil
		}

		if !transport.IsTransient(err) || !s.shouldRetry(attempt) {
			s.mu.Lock()
			s.state = StateErrored
			s.mu.Unlock()
			return err
		}
		s.metrics.ConnectRetry()
		delay := time.Duration(attempt) * s.cfg.ConnectRetryBase
		s.log.Warn().
			Int("attempt", attempt).
			Dur("backoff", delay).
			Err(err).
			Msg("transient overload, retrying connect")
		if err := sleepCtx(ctx, delay); err != nil {
			s.mu.Lock()
			s.state = StateErrored
			s.mu.Unlock()
			return err
		}
	}
}

func (s *Session) shouldRetry(attempt int) bool {
	if s.cfg.MaxConnectAttempts <= 0 {
		return true
	}
	return attempt < s.cfg.MaxConnectAttempts
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Close performs the graceful two-phase shutdown: send the close frame,
// wait up to CloseTimeout for the transport to confirm, then tear down
// regardless. A deadline expiry is logged, not propagated.
func (s *Session) Close() error {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return nil
	case StateDisconnected, StateConnecting, StateErrored:
		s.mu.Unlock()
		s.teardown(nil)
		return nil
	}
	s.state = StateClosing
	conn := s.conn
	s.mu.Unlock()

	if raw, err := s.seq.CloseFrame(); err == nil {
		s.metrics.FrameOut("close")
		if err := conn.Send(context.Background(), raw); err != nil {
			s.log.Debug().Err(err).Msg("close frame send failed")
		}
	}

	select {
	case <-s.transportCh:
	case <-time.After(s.cfg.CloseTimeout):
		s.log.Warn().Dur("timeout", s.cfg.CloseTimeout).Msg("close deadline expired, forcing teardown")
	}
	s.teardown(nil)
	return nil
}

// teardown moves the session to Closed exactly once: the transport is shut,
// pending RPCs and file waits are rejected, observers are detached.
func (s *Session) teardown(cause error) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	wasOpen := s.state >= StateOpen && s.state <= StateClosing
	s.state = StateClosed
	conn := s.conn
	s.conn = nil
	pending := s.pending
	s.pending = make(map[uint64]*pendingCall)
	waits := s.fileWaits
	s.fileWaits = make(map[string][]*fileWaiter)
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	for _, pc := range pending {
		pc.stopTimer()
		pc.settle(nil, ErrSessionClosed)
	}
	for _, waiters := range waits {
		for _, w := range waiters {
			close(w.ch)
		}
	}
	if wasOpen {
		s.metrics.SessionClosed()
	}

	s.closedOnce.Do(func() { close(s.closedCh) })
	s.bus.Publish(bus.Event{Kind: EventClosed, Data: cause})
	s.bus.Reset()
	s.log.Info().Msg("session closed")
}

// fail handles a fatal session condition: emit the typed error, then close.
func (s *Session) fail(err error) {
	s.log.Error().Err(err).Msg("session failed")
	s.bus.Publish(bus.Event{Kind: EventError, Data: err})
	s.teardown(err)
}

func (s *Session) handleTransportError(err error) {
	s.transportOnce.Do(func() { close(s.transportCh) })
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()
	if st == StateClosing || st == StateClosed {
		return
	}
	s.fail(fmt.Errorf("room: transport error: %w", err))
}

func (s *Session) handleTransportClose(err error) {
	s.transportOnce.Do(func() { close(s.transportCh) })
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()
	if st == StateClosing || st == StateClosed {
		return
	}
	s.teardown(err)
}

// handlePing flushes any outstanding acknowledgment on transport liveness.
func (s *Session) handlePing() {
	s.flushAck()
}

func (s *Session) flushAck() {
	raw, ok := s.seq.AckFrame()
	if !ok {
		return
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	s.metrics.AckFlushed()
	s.metrics.FrameOut("ack")
	if err := conn.Send(context.Background(), raw); err != nil {
		s.log.Debug().Err(err).Msg("ack flush failed")
	}
}

// send serializes one call through the sequencer and writes it out.
func (s *Session) send(call protocol.CallPayload) error {
	s.mu.Lock()
	conn := s.conn
	st := s.state
	s.mu.Unlock()
	if conn == nil || st < StateOpen || st > StateConnected {
		return fmt.Errorf("%w: cannot call in state %s", ErrSessionClosed, st)
	}
	raw, err := s.seq.NextCallFrame(call)
	if err != nil {
		return err
	}
	s.metrics.FrameOut("call")
	return conn.Send(context.Background(), raw)
}

// Subscribe attaches an observer for one event kind. The returned token
// feeds Unsubscribe.
func (s *Session) Subscribe(kind string, fn bus.Handler) int {
	return s.bus.Subscribe(kind, fn)
}

func (s *Session) Unsubscribe(kind string, id int) {
	s.bus.Unsubscribe(kind, id)
}

// WaitOpen blocks until the transport is open.
func (s *Session) WaitOpen(ctx context.Context) error {
	return s.waitMilestone(ctx, s.openCh)
}

// WaitSubscribed blocks until the handshake completed and the subscribe
// call went out.
func (s *Session) WaitSubscribed(ctx context.Context) error {
	return s.waitMilestone(ctx, s.subCh)
}

// WaitConnected blocks until the first full file snapshot arrived. This,
// not WaitOpen, means "ready for use".
func (s *Session) WaitConnected(ctx context.Context) error {
	return s.waitMilestone(ctx, s.connCh)
}

func (s *Session) waitMilestone(ctx context.Context, ch chan struct{}) error {
	select {
	case <-ch:
		return nil
	default:
	}
	select {
	case <-ch:
		return nil
	case <-s.closedCh:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitForFile blocks until a file with the given id is live, the caller's
// context expires, or the session closes. Expiry of the wait fails only
// this wait, never the session.
func (s *Session) WaitForFile(ctx context.Context, id string) (*File, error) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if f, ok := s.files[id]; ok && !f.Expired() {
		s.mu.Unlock()
		return f, nil
	}
	w := &fileWaiter{ch: make(chan *File, 1)}
	s.fileWaits[id] = append(s.fileWaits[id], w)
	s.mu.Unlock()

	select {
	case f, ok := <-w.ch:
		if !ok {
			return nil, ErrSessionClosed
		}
		return f, nil
	case <-ctx.Done():
		s.dropFileWaiter(id, w)
		return nil, ctx.Err()
	}
}

func (s *Session) dropFileWaiter(id string, w *fileWaiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	waiters := s.fileWaits[id]
	for i, cand := range waiters {
		if cand == w {
			s.fileWaits[id] = append(waiters[:i:i], waiters[i+1:]...)
			break
		}
	}
	if len(s.fileWaits[id]) == 0 {
		delete(s.fileWaits, id)
	}
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Room() string { return s.cfg.Room }

func (s *Session) Nick() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nick
}

func (s *Session) Roles() RoleFlags {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roles
}

func (s *Session) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *Session) Version() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

func (s *Session) UserCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userCount
}

// TimeDelta is the server-minus-local clock correction captured from the
// time envelope.
func (s *Session) TimeDelta() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeDelta
}

// Files returns the live file set. Expired entries are swept before the
// snapshot is taken.
func (s *Session) Files() []*File {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepExpiredLocked()
	out := make([]*File, 0, len(s.files))
	for _, f := range s.files {
		out = append(out, f)
	}
	return out
}

// FileByID returns one live file, sweeping expired entries first.
func (s *Session) FileByID(id string) (*File, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepExpiredLocked()
	f, ok := s.files[id]
	return f, ok
}

func (s *Session) sweepExpiredLocked() {
	for id, f := range s.files {
		if f.Expired() {
			delete(s.files, id)
		}
	}
}

// PendingCalls reports the number of unsettled RPCs.
func (s *Session) PendingCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
