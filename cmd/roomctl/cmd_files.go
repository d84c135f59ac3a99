package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(filesCmd)
}

var filesCmd = &cobra.Command{
	Use:   "files <room>",
	Short: "List the live files in a room",
	Args:  cobra.ExactArgs(1),
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

		files := s.Files()
		if len(files) == 0 {
			fmt.Fprintln(os.Stdout, "no files")
			return nil
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tTYPE\tSIZE\tEXPIRES IN\tUPLOADER\tURL")
		for _, f := range files {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
				f.ID, f.Name, f.Type, f.Size,
				f.ValidFor().Round(time.Minute),
				f.Uploader.Nick,
				f.URL(cfg.Service.BaseURL))
		}
		return tw.Flush()
	},
}
