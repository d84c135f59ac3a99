package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roomwire/roomwire/internal/config"
	"github.com/roomwire/roomwire/internal/observability"
	"github.com/roomwire/roomwire/internal/room"
)

func init() {
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send <room> <message...>",
	Short: "Send one chat message to a room",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		s, err := openSession(ctx, cfg, args[0])
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.Chat(strings.Join(args[1:], " ")); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		return nil
	},
}

// openSession dials one configured room and waits until it is fully
// connected.
func openSession(ctx context.Context, cfg config.Config, roomID string) (*room.Session, error) {
	var nick string
	found := false
	for _, r := range cfg.Rooms {
		if r.ID == roomID {
			nick = r.Nick
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("room %q not in config", roomID)
	}

	rc := room.DefaultConfig()
	rc.Room = roomID
	rc.Nick = nick
	rc.SocketURL = cfg.Service.SocketURL
	rc.Metrics = observability.NewSessionMetrics(roomID)
	rc.ConnectRetryBase = cfg.Tuning.ConnectRetryBase.Std()
	rc.MaxConnectAttempts = cfg.Tuning.MaxConnectAttempts
	rc.RPCTimeout = cfg.Tuning.RPCTimeout.Std()
	rc.CloseTimeout = cfg.Tuning.CloseTimeout.Std()
	rc.AckBatchThreshold = cfg.Tuning.AckBatchThreshold

	s, err := room.New(rc)
	if err != nil {
		return nil, err
	}
	if err := s.Connect(ctx); err != nil {
		return nil, err
	}
	if err := s.WaitConnected(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}
