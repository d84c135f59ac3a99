package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roomwire/roomwire/internal/rest"
)

func init() {
	rootCmd.AddCommand(infoCmd)
}

var infoCmd = &cobra.Command{
	Use:   "info <room>",
	Short: "Show a room's service-side configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client, err := rest.New(rest.Config{BaseURL: cfg.Service.BaseURL})
		if err != nil {
			return err
		}
		if cfg.Account.Name != "" {
			if _, err := client.Login(cmd.Context(), cfg.Account.Name, cfg.Account.Password); err != nil {
				return fmt.Errorf("login: %w", err)
			}
		}

		rc, err := client.RoomConfig(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "name:         %s\n", rc.Name)
		fmt.Fprintf(os.Stdout, "motd:         %s\n", rc.MOTD)
		fmt.Fprintf(os.Stdout, "owner:        %s\n", rc.Owner)
		fmt.Fprintf(os.Stdout, "max message:  %d\n", rc.MaxMessageLength)
		fmt.Fprintf(os.Stdout, "max nick:     %d\n", rc.MaxNickLength)
		fmt.Fprintf(os.Stdout, "file ttl:     %dh\n", rc.FileTTLHours)
		fmt.Fprintf(os.Stdout, "max files:    %d\n", rc.MaxFiles)
		fmt.Fprintf(os.Stdout, "disabled:     %v\n", rc.Disabled)
		fmt.Fprintf(os.Stdout, "adult:        %v\n", rc.Adult)
		return nil
	},
}
