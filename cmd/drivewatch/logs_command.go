package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"drivewatch/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	var grep []string
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the daemon log",
		Long:  "Print the last lines of the current daemon log (log_dir/drivewatch.log). With --follow, keep printing new lines until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := filepath.Join(cfg.Paths.LogDir, "drivewatch.log")
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && !follow {
				return fmt.Errorf("no log at %s; has the daemon run yet?", path)
			}
			keep := logs.Contains(grep...)
			out := cmd.OutOrStdout()

			tail, offset, err := logs.Last(path, lines, keep)
			if err != nil {
				return err
			}
			for _, line := range tail {
				fmt.Fprintln(out, line)
			}
			if !follow {
				return nil
			}
			return logs.Follow(cmd.Context(), path, offset, logs.DefaultPoll, keep, func(line string) error {
				_, err := fmt.Fprintln(out, line)
				return err
			})
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines")
	cmd.Flags().StringSliceVar(&grep, "grep", nil, "Only show lines containing these terms (case-insensitive)")
	return cmd
}
