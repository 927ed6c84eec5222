package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"drivewatch/internal/config"
	"drivewatch/internal/media/ffprobe"
)

const probeTimeout = 20 * time.Second

type probeTarget struct {
	label  string
	source string
	width  int
	height int
}

func newProbeCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "probe [low|high|URL]",
		Short: "Inspect a camera stream with ffprobe",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			arg := "low"
			if len(args) == 1 {
				arg = args[0]
			}
			target, err := resolveProbeTarget(cfg, arg)
			if err != nil {
				return err
			}

			probeCtx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
			defer cancel()
			result, err := ffprobe.Inspect(probeCtx, cfg.Streams.FFprobeBinary, target.source, ffprobe.Options{
				RTSPTransport: cfg.Streams.RTSPTransport,
			})
			if err != nil {
				return fmt.Errorf("probe %s: %w", target.label, err)
			}
			if asJSON {
				_, err := cmd.OutOrStdout().Write(result.RawJSON())
				return err
			}
			renderProbe(cmd.OutOrStdout(), target, result, shouldColorize(cmd.OutOrStdout()))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print raw ffprobe JSON")
	return cmd
}

func resolveProbeTarget(cfg *config.Config, arg string) (probeTarget, error) {
	switch strings.ToLower(strings.TrimSpace(arg)) {
	case "low":
		return probeTarget{label: "low stream", source: cfg.Streams.LowURL, width: cfg.Streams.LowWidth, height: cfg.Streams.LowHeight}, nil
	case "high":
		if !cfg.Streams.HasHighStream() {
			return probeTarget{}, fmt.Errorf("streams.high_url is not configured")
		}
		return probeTarget{label: "high stream", source: cfg.Streams.HighURL, width: cfg.Streams.HighWidth, height: cfg.Streams.HighHeight}, nil
	case "":
		return probeTarget{}, fmt.Errorf("stream name or URL required")
	default:
		return probeTarget{label: ffprobe.Redact(arg), source: arg}, nil
	}
}

func renderProbe(w io.Writer, target probeTarget, result ffprobe.Result, colorize bool) {
	printSection(w, "Source", colorize)
	fmt.Fprintln(w, renderStatusLine("Stream", statusInfo, target.label, colorize))
	fmt.Fprintln(w, renderStatusLine("URL", statusInfo, ffprobe.Redact(target.source), colorize))
	if name := strings.TrimSpace(result.Format.FormatName); name != "" {
		fmt.Fprintln(w, renderStatusLine("Format", statusInfo, name, colorize))
	}
	if rate := result.BitRate(); rate > 0 {
		fmt.Fprintln(w, renderStatusLine("Bitrate", statusInfo, humanize.Bytes(uint64(rate/8))+"/s", colorize))
	}

	video, ok := result.PrimaryVideo()
	switch {
	case !ok:
		fmt.Fprintln(w, renderStatusLine("Video", statusError, "No video stream found", colorize))
	case target.width > 0 && (video.Width != target.width || video.Height != target.height):
		fmt.Fprintln(w, renderStatusLine("Video", statusWarn,
			fmt.Sprintf("%dx%d, configured %dx%d; frames would be misaligned", video.Width, video.Height, target.width, target.height), colorize))
	default:
		fmt.Fprintln(w, renderStatusLine("Video", statusOK, fmt.Sprintf("%dx%d @ %.2f fps", video.Width, video.Height, video.FrameRate()), colorize))
	}
	fmt.Fprintln(w)

	printSection(w, "Streams", colorize)
	rows := make([][]string, 0, len(result.Streams))
	for _, s := range result.Streams {
		size := ""
		if s.Width > 0 && s.Height > 0 {
			size = fmt.Sprintf("%dx%d", s.Width, s.Height)
		}
		fps := ""
		if rate := s.FrameRate(); rate > 0 {
			fps = fmt.Sprintf("%.2f", rate)
		}
		rows = append(rows, []string{fmt.Sprintf("%d", s.Index), s.CodecType, s.CodecName, s.Profile, size, fps, s.PixFmt})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"#", "Type", "Codec", "Profile", "Size", "FPS", "Pixel format"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	))
}
