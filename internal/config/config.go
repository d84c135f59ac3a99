// Package config loads the client's TOML configuration: which service to
// talk to, which rooms to join, and the knobs for retries and diagnostics.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

var ErrNoRooms = errors.New("config: at least one room required")

type Account struct {
	Name     string `toml:"name"`
	Password string `toml:"password"`
}

type Room struct {
	ID   string `toml:"id"`
	Nick string `toml:"nick"`
}

type Service struct {
	BaseURL   string `toml:"base_url"`
	SocketURL string `toml:"socket_url"`
}

type Tuning struct {
	ConnectRetryBase   Duration `toml:"connect_retry_base"`
	MaxConnectAttempts int      `toml:"max_connect_attempts"`
	RPCTimeout         Duration `toml:"rpc_timeout"`
	CloseTimeout       Duration `toml:"close_timeout"`
	AckBatchThreshold  uint64   `toml:"ack_batch_threshold"`
}

type Config struct {
	Service  Service `toml:"service"`
	Account  Account `toml:"account"`
	Rooms    []Room  `toml:"rooms"`
	Tuning   Tuning  `toml:"tuning"`
	DiagAddr string  `toml:"diag_addr"`
}

func Default() Config {
	return Config{
		Tuning: Tuning{
			ConnectRetryBase:   Duration(500 * time.Millisecond),
			MaxConnectAttempts: 5,
			RPCTimeout:         Duration(30 * time.Second),
			CloseTimeout:       Duration(5 * time.Second),
			AckBatchThreshold:  10,
		},
	}
}

// Load reads a TOML file on top of the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Service.BaseURL == "" {
		return fmt.Errorf("config: service.base_url required")
	}
	if c.Service.SocketURL == "" {
		return fmt.Errorf("config: service.socket_url required")
	}
	if !strings.HasPrefix(c.Service.SocketURL, "ws://") && !strings.HasPrefix(c.Service.SocketURL, "wss://") {
		return fmt.Errorf("config: service.socket_url must be a ws:// or wss:// url")
	}
	if len(c.Rooms) == 0 {
		return ErrNoRooms
	}
	seen := make(map[string]bool, len(c.Rooms))
	for i, r := range c.Rooms {
		if r.ID == "" {
			return fmt.Errorf("config: rooms[%d]: id required", i)
		}
		if seen[r.ID] {
			return fmt.Errorf("config: rooms[%d]: duplicate room %q", i, r.ID)
		}
		seen[r.ID] = true
	}
	if c.Tuning.ConnectRetryBase <= 0 || c.Tuning.RPCTimeout <= 0 || c.Tuning.CloseTimeout <= 0 {
		return fmt.Errorf("config: tuning intervals must be positive")
	}
	if c.Tuning.MaxConnectAttempts < 1 {
		return fmt.Errorf("config: tuning.max_connect_attempts must be at least 1")
	}
	return nil
}

// Duration accepts Go duration strings ("750ms", "1m30s") in TOML.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }
