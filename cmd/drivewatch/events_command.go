package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"drivewatch/internal/api"
	"drivewatch/internal/journal"
)

func newEventsCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List recent driveway crossings from the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cfg.Journal.Enabled {
				return errors.New("journal disabled; set journal.enabled = true to record crossings")
			}
			if _, err := os.Stat(cfg.Journal.Path); err != nil {
				return fmt.Errorf("journal %s not found; has the daemon run with the journal enabled?", cfg.Journal.Path)
			}
			store, err := journal.Open(cfg.Journal.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, api.EventListResponse{Events: api.FromEntries(entries)})
			}
			total, err := store.Count(cmd.Context())
			if err != nil {
				return err
			}
			renderEvents(cmd.OutOrStdout(), entries, total, time.Now())
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of crossings to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print crossings as JSON")
	return cmd
}

func renderEvents(w io.Writer, entries []journal.Entry, total int, now time.Time) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No crossings recorded yet")
		return
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		plate := e.Plate
		if !e.PlateRead() {
			plate = "Unknown"
		}
		crop := ""
		if e.CropPath != "" {
			crop = filepath.Base(e.CropPath)
		}
		rows = append(rows, []string{
			e.CrossedAt.Local().Format("2006-01-02 15:04:05"),
			humanize.RelTime(e.CrossedAt, now, "ago", "from now"),
			e.Action,
			e.Side,
			plate,
			strconv.FormatInt(e.TrackID, 10),
			strconv.Itoa(e.Samples),
			crop,
		})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"Crossed", "When", "Direction", "Side", "Plate", "Track", "Samples", "Crop"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	))
	fmt.Fprintf(w, "Showing %d of %s crossings\n", len(entries), humanize.Comma(int64(total)))
}
