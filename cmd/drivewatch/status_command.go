package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"drivewatch/internal/api"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the running daemon's pipeline and stream health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context())
			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)
			if errors.Is(err, api.ErrUnreachable) && !asJSON {
				printSection(stdout, "Daemon", colorize)
				fmt.Fprintln(stdout, renderStatusLine("Daemon", statusError, "Not running ("+cfg.API.Bind+")", colorize))
				return nil
			}
			if err != nil {
				return wrapAPIError(err, cfg.API.Bind)
			}
			if asJSON {
				return writeJSON(cmd, status)
			}
			renderDaemonStatus(stdout, status, time.Now(), colorize)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw status payload")
	return cmd
}

func renderDaemonStatus(w io.Writer, status api.DaemonStatus, now time.Time, colorize bool) {
	printSection(w, "Daemon", colorize)
	if status.Running {
		detail := fmt.Sprintf("Running (pid %d)", status.PID)
		if started, ok := api.ParseTime(status.StartedAt); ok {
			detail = fmt.Sprintf("Running (pid %d, started %s)", status.PID, humanize.RelTime(started, now, "ago", "from now"))
		}
		fmt.Fprintln(w, renderStatusLine("Daemon", statusOK, detail, colorize))
	} else {
		fmt.Fprintln(w, renderStatusLine("Daemon", statusWarn, "Stopped", colorize))
	}
	if status.RunID != "" {
		fmt.Fprintln(w, renderStatusLine("Run", statusInfo, status.RunID, colorize))
	}
	if status.LogPath != "" {
		fmt.Fprintln(w, renderStatusLine("Log", statusInfo, status.LogPath, colorize))
	}
	journal := "Disabled"
	if status.JournalPath != "" {
		journal = status.JournalPath
	}
	fmt.Fprintln(w, renderStatusLine("Journal", statusInfo, journal, colorize))
	fmt.Fprintln(w)

	p := status.Pipeline
	printSection(w, "Pipeline", colorize)
	fpsKind := statusOK
	if p.FPS <= 0 {
		fpsKind = statusWarn
	}
	fmt.Fprintln(w, renderStatusLine("Frame rate", fpsKind,
		fmt.Sprintf("%.1f fps (interval %.0fms, jitter %.0fms)", p.FPS, p.FrameIntervalMS, p.FrameJitterMS), colorize))
	fmt.Fprintln(w, renderStatusLine("Frames", statusInfo, humanize.Comma(int64(p.Frames)), colorize))
	fmt.Fprintln(w, renderStatusLine("Tracking", statusInfo,
		fmt.Sprintf("%d live, %d cached frames, %s evicted", p.Live, p.CachedFrames, humanize.Comma(int64(p.Evicted))), colorize))
	fmt.Fprintln(w, renderStatusLine("Crossings", statusInfo,
		fmt.Sprintf("%d (%d plates read)", p.Crossings, p.PlatesRead), colorize))
	queueKind := statusOK
	if p.DroppedEvictions > 0 {
		queueKind = statusWarn
	}
	fmt.Fprintln(w, renderStatusLine("Eviction queue", queueKind,
		fmt.Sprintf("%d/%d queued, %d dropped", p.Queued, p.QueueCapacity, p.DroppedEvictions), colorize))
	fmt.Fprintln(w, detectorLine(p, colorize))
	fmt.Fprintln(w)

	printSection(w, "Streams", colorize)
	fmt.Fprintln(w, renderTable(
		[]string{"Stream", "Frames", "Dropped", "Restarts", "Failures", "State", "Last frame"},
		streamRows(p.Streams, now),
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft, alignLeft},
	))
	fmt.Fprintln(w)

	printSection(w, "Dependencies", colorize)
	for _, line := range dependencyLines(status.Dependencies, colorize) {
		fmt.Fprintln(w, line)
	}
}

func detectorLine(p api.PipelineStatus, colorize bool) string {
	if p.ConsecutiveErrors == 0 {
		return renderStatusLine("Detector", statusOK, fmt.Sprintf("Responding (%d errors total)", p.DetectorErrors), colorize)
	}
	detail := fmt.Sprintf("%d consecutive errors", p.ConsecutiveErrors)
	if msg := strings.TrimSpace(p.LastError); msg != "" {
		detail += ": " + msg
	}
	return renderStatusLine("Detector", statusError, detail, colorize)
}

func streamRows(streams []api.StreamStatus, now time.Time) [][]string {
	rows := make([][]string, 0, len(streams))
	for _, s := range streams {
		state := "open"
		switch {
		case s.Closed:
			state = "closed"
		case s.ConsecutiveFailures > 0:
			state = "reconnecting"
		}
		last := "never"
		if at, ok := api.ParseTime(s.LastFrameAt); ok {
			last = humanize.RelTime(at, now, "ago", "from now")
		}
		rows = append(rows, []string{
			s.Name,
			humanize.Comma(int64(s.Frames)),
			humanize.Comma(int64(s.Dropped)),
			fmt.Sprintf("%d", s.Restarts),
			fmt.Sprintf("%d", s.ConsecutiveFailures),
			state,
			last,
		})
	}
	return rows
}

func dependencyLines(deps []api.DependencyStatus, colorize bool) []string {
	lines := make([]string, 0, len(deps)+1)
	var missing []string
	for _, dep := range deps {
		if dep.Available {
			message := "Ready"
			if dep.Version != "" {
				message = fmt.Sprintf("Ready (%s %s)", dep.Command, dep.Version)
			} else if dep.Command != "" {
				message = fmt.Sprintf("Ready (command: %s)", dep.Command)
			}
			lines = append(lines, renderStatusLine(dep.Name, statusOK, message, colorize))
			continue
		}
		detail := strings.TrimSpace(dep.Detail)
		if detail == "" {
			detail = "not available"
		}
		kind := statusError
		if dep.Optional {
			kind = statusWarn
		}
		lines = append(lines, renderStatusLine(dep.Name, kind, detail, colorize))
		missing = append(missing, dep.Name)
	}
	if len(missing) > 0 {
		lines = append(lines, renderStatusLine("Missing", statusWarn, strings.Join(missing, ", "), colorize))
	}
	return lines
}
