package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roomwire/roomwire/internal/fleet"
	"github.com/roomwire/roomwire/internal/logging"
	"github.com/roomwire/roomwire/internal/observability"
	"github.com/roomwire/roomwire/internal/room"
)

var diagAddr string

func init() {
	watchCmd.Flags().StringVar(&diagAddr, "diag-addr", "", "serve /health and /metrics on this address (overrides config)")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Connect every configured room and print events until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	observability.RegisterMetrics()
	addr := cfg.DiagAddr
	if diagAddr != "" {
		addr = diagAddr
	}
	if addr != "" {
		go func() {
			log := logging.Component("diag")
			if err := observability.ServeDiag(addr, log, version); err != nil {
				log.Error().Err(err).Msg("diag server stopped")
			}
		}()
	}

	f, err := fleet.New(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	for {
		select {
		case ev, ok := <-f.Events():
			if !ok {
				return <-done
			}
			printEvent(ev)
		case err := <-done:
			return err
		}
	}
}

func printEvent(ev fleet.Event) {
	switch ev.Kind {
	case room.EventChat:
		if msg, ok := ev.Data.(*room.Message); ok {
			fmt.Fprintf(os.Stdout, "[%s] %s\n", ev.Room, msg)
		}
	case room.EventFile:
		if f, ok := ev.Data.(*room.File); ok {
			fmt.Fprintf(os.Stdout, "[%s] file %s (%s, %d bytes) from %s\n",
				ev.Room, f.Name, f.Type, f.Size, f.Uploader.Nick)
		}
	case room.EventFileDeleted:
		fmt.Fprintf(os.Stdout, "[%s] file deleted: %v\n", ev.Room, ev.Data)
	case room.EventError:
		fmt.Fprintf(os.Stderr, "[%s] error: %v\n", ev.Room, ev.Data)
	case room.EventConnected, room.EventClosed:
		fmt.Fprintf(os.Stdout, "[%s] %s\n", ev.Room, ev.Kind)
	}
}
