package room

import (
	"errors"
	"time"

	"github.com/roomwire/roomwire/internal/observability"
	"github.com/roomwire/roomwire/internal/protocol"
	"github.com/roomwire/roomwire/internal/transport"
)

var (
	ErrRoomRequired      = errors.New("room: room id required")
	ErrSocketURLRequired = errors.New("room: socket url required")
)

// Config defines one session's endpoints and reliability knobs.
type Config struct {
	Room      string
	Nick      string
	SocketURL string

	Dialer  transport.Dialer
	Metrics *observability.SessionMetrics

	// ConnectRetryBase is the linear backoff base for transient-overload
	// connect retries: delay = base * attempt.
	ConnectRetryBase   time.Duration
	MaxConnectAttempts int // 0 = unbounded

	CloseTimeout      time.Duration
	RPCTimeout        time.Duration
	AckBatchThreshold uint64

	// MaxMessageLength applies until the server config envelope overrides it.
	MaxMessageLength int
	MaxNickLength    int
}

func DefaultConfig() Config {
	return Config{
		ConnectRetryBase:  500 * time.Millisecond,
		CloseTimeout:      5 * time.Second,
		RPCTimeout:        30 * time.Second,
		AckBatchThreshold: protocol.DefaultAckBatchThreshold,
		MaxMessageLength:  300,
		MaxNickLength:     12,
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectRetryBase <= 0 {
		c.ConnectRetryBase = def.ConnectRetryBase
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = def.CloseTimeout
	}
	if c.RPCTimeout <= 0 {
		c.RPCTimeout = def.RPCTimeout
	}
	if c.AckBatchThreshold == 0 {
		c.AckBatchThreshold = def.AckBatchThreshold
	}
	if c.MaxMessageLength <= 0 {
		c.MaxMessageLength = def.MaxMessageLength
	}
	if c.MaxNickLength <= 0 {
		c.MaxNickLength = def.MaxNickLength
	}
	if c.Dialer == nil {
		c.Dialer = transport.NewWSDialer()
	}
	return c
}

func (c Config) Validate() error {
	if c.Room == "" {
		return ErrRoomRequired
	}
	if c.SocketURL == "" {
		return ErrSocketURLRequired
	}
	return nil
}
