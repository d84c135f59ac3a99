package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/roomwire/roomwire/internal/upload"
)

func init() {
	rootCmd.AddCommand(uploadCmd)
}

var uploadCmd = &cobra.Command{
	Use:   "upload <room> <path>",
	Short: "Upload a local file to a room",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		f, err := os.Open(args[1])
		if err != nil {
			return err
		}
		defer f.Close()

		client, err := upload.New(upload.Config{
			BaseURL: cfg.Service.BaseURL,
			OnBlocked: func(wait time.Duration) {
				fmt.Fprintf(os.Stderr, "flood control: waiting %s\n", wait)
			},
		})
		if err != nil {
			return err
		}

		res, err := client.Upload(cmd.Context(), args[0], filepath.Base(args[1]), f)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "uploaded %s (%d bytes)\n", res.FileID, res.Size)
		fmt.Fprintf(os.Stdout, "sha256: %s\n", res.Checksum)
		return nil
	},
}
