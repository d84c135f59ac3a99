// Package fleet runs one session per configured room and funnels their
// events into a single stream, tagged with the room they came from.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/roomwire/roomwire/internal/bus"
	"github.com/roomwire/roomwire/internal/config"
	"github.com/roomwire/roomwire/internal/logging"
	"github.com/roomwire/roomwire/internal/observability"
	"github.com/roomwire/roomwire/internal/room"
	"github.com/roomwire/roomwire/internal/transport"
)

var (
	ErrNoRooms    = errors.New("fleet: no rooms configured")
	ErrNotRunning = errors.New("fleet: not running")
	ErrNoSuchRoom = errors.New("fleet: no such room")
)

// Event is one session event annotated with its origin.
type Event struct {
	Room string
	Kind string
	Data any
}

// Member is one managed session.
type Member struct {
	// Handle identifies the member across restarts of the same room.
	Handle  string
	Session *room.Session
}

type Fleet struct {
	cfg    config.Config
	dialer transport.Dialer
	log    zerolog.Logger

	mu      sync.Mutex
	members map[string]*Member
	running bool

	events chan Event
}

// Option tweaks fleet construction; tests swap the dialer.
type Option func(*Fleet)

func WithDialer(d transport.Dialer) Option {
	return func(f *Fleet) { f.dialer = d }
}

func New(cfg config.Config, opts ...Option) (*Fleet, error) {
	if len(cfg.Rooms) == 0 {
		return nil, ErrNoRooms
	}
	f := &Fleet{
		cfg:     cfg,
		log:     logging.Component("fleet"),
		members: make(map[string]*Member, len(cfg.Rooms)),
		events:  make(chan Event, 64*len(cfg.Rooms)),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Events is the aggregated stream. It is closed when Run returns.
func (f *Fleet) Events() <-chan Event { return f.events }

// Run connects every configured room and blocks until ctx is cancelled or
// a session fails. On return all sessions are closed and the event stream
// is drained and closed.
func (f *Fleet) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return errors.New("fleet: already running")
	}
	f.running = true
	for _, rc := range f.cfg.Rooms {
		cfg := room.DefaultConfig()
		cfg.Room = rc.ID
		cfg.Nick = rc.Nick
		cfg.SocketURL = f.cfg.Service.SocketURL
		cfg.Dialer = f.dialer
		cfg.Metrics = observability.NewSessionMetrics(rc.ID)
		cfg.ConnectRetryBase = f.cfg.Tuning.ConnectRetryBase.Std()
		cfg.MaxConnectAttempts = f.cfg.Tuning.MaxConnectAttempts
		cfg.RPCTimeout = f.cfg.Tuning.RPCTimeout.Std()
		cfg.CloseTimeout = f.cfg.Tuning.CloseTimeout.Std()
		cfg.AckBatchThreshold = f.cfg.Tuning.AckBatchThreshold

		s, err := room.New(cfg)
		if err != nil {
			f.running = false
			f.members = make(map[string]*Member)
			f.mu.Unlock()
			return err
		}
		m := &Member{Handle: uuid.NewString(), Session: s}
		f.members[rc.ID] = m
		f.forward(m)
	}
	members := f.snapshotLocked()
	f.mu.Unlock()

	for _, m := range members {
		m := m
		g.Go(func() error {
			if err := m.Session.Connect(gctx); err != nil {
				return err
			}
			if err := m.Session.WaitConnected(gctx); err != nil {
				return err
			}
			f.log.Info().
				Str("room", m.Session.Room()).
				Str("handle", m.Handle).
				Msg("room connected")
			<-gctx.Done()
			return nil
		})
	}

	err := g.Wait()
	f.shutdown()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// forward subscribes to every event kind the session publishes and copies
// them onto the shared stream. Slow consumers drop rather than stall the
// dispatch goroutine.
func (f *Fleet) forward(m *Member) {
	kinds := []string{
		room.EventOpen, room.EventSubscribed, room.EventConnected,
		room.EventChat, room.EventFile, room.EventFileDeleted,
		room.EventConfig, room.EventError, room.EventClosed,
	}
	for _, kind := range kinds {
		kind := kind
		m.Session.Subscribe(kind, func(ev bus.Event) {
			select {
			case f.events <- Event{Room: m.Session.Room(), Kind: ev.Kind, Data: ev.Data}:
			default:
				f.log.Warn().
					Str("room", m.Session.Room()).
					Str("event", ev.Kind).
					Msg("event stream full, dropping")
			}
		})
	}
}

func (f *Fleet) shutdown() {
	f.mu.Lock()
	members := f.snapshotLocked()
	f.members = make(map[string]*Member)
	f.running = false
	f.mu.Unlock()

	for _, m := range members {
		if err := m.Session.Close(); err != nil {
			f.log.Warn().Err(err).Str("room", m.Session.Room()).Msg("close failed")
		}
	}
	close(f.events)
}

func (f *Fleet) snapshotLocked() []*Member {
	out := make([]*Member, 0, len(f.members))
	for _, m := range f.members {
		out = append(out, m)
	}
	return out
}

// Member returns the managed session for one room id.
func (f *Fleet) Member(roomID string) (*Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return nil, ErrNotRunning
	}
	m, ok := f.members[roomID]
	if !ok {
		return nil, ErrNoSuchRoom
	}
	return m, nil
}

// Broadcast sends one chat message to every connected room. Per-room
// failures are collected, not short-circuited.
func (f *Fleet) Broadcast(text string) error {
	f.mu.Lock()
	members := f.snapshotLocked()
	running := f.running
	f.mu.Unlock()
	if !running {
		return ErrNotRunning
	}

	var errs []error
	for _, m := range members {
		if err := m.Session.Chat(text); err != nil {
			errs = append(errs, fmt.Errorf("room %s: %w", m.Session.Room(), err))
		}
	}
	return errors.Join(errs...)
}
