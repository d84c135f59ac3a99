package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roomwire/roomwire/internal/config"
	"github.com/roomwire/roomwire/internal/logging"
)

const version = "0.1.0"

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "roomctl",
	Short:         "Room session client",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.ConfigureRuntime()
	},
}

func init() {
	defaultPath := filepath.Join(os.Getenv("HOME"), ".roomwire", "roomwire.toml")
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", defaultPath, "config file path")
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
