package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	"drivewatch/internal/config"
	"drivewatch/internal/deps"
	"drivewatch/internal/logging"
	"drivewatch/internal/media/ffprobe"
	"drivewatch/internal/notifications"
	"drivewatch/internal/services/homeassistant"
	"drivewatch/internal/services/ollama"
)

const doctorTimeout = 10 * time.Second

type doctorReport struct {
	w        io.Writer
	colorize bool
	failures int
}

func (r *doctorReport) line(label string, kind statusKind, message string) {
	if kind == statusError {
		r.failures++
	}
	fmt.Fprintln(r.w, renderStatusLine(label, kind, message, r.colorize))
}

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check dependencies, directories and service connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			report := &doctorReport{w: stdout, colorize: shouldColorize(stdout)}

			printSection(stdout, "Configuration", report.colorize)
			report.line("Config", statusInfo, ctx.configPath)
			report.line("Low stream", statusOK, fmt.Sprintf("%s (%s)", redactedOrMissing(cfg.Streams.LowURL), sizeLabel(cfg.Streams.LowWidth, cfg.Streams.LowHeight)))
			if cfg.Streams.HasHighStream() {
				report.line("High stream", statusOK, fmt.Sprintf("%s (%s)", redactedOrMissing(cfg.Streams.HighURL), sizeLabel(cfg.Streams.HighWidth, cfg.Streams.HighHeight)))
			} else {
				report.line("High stream", statusInfo, "Not configured; crops use the low stream")
			}
			fmt.Fprintln(stdout)

			printSection(stdout, "Dependencies", report.colorize)
			statuses := deps.DetectVersions(cmd.Context(), deps.CheckBinaries(deps.Requirements(cfg)))
			fmt.Fprintln(stdout, renderTable(
				[]string{"Dependency", "Command", "Version", "Status", "Purpose"},
				dependencyRows(statuses),
				nil,
			))
			if missing := deps.MissingRequired(statuses); len(missing) > 0 {
				for _, dep := range missing {
					report.line(dep.Name, statusError, dep.Detail)
				}
			}
			fmt.Fprintln(stdout)

			printSection(stdout, "Directories", report.colorize)
			report.directory("State", cfg.Paths.StateDir)
			report.directory("Logs", cfg.Paths.LogDir)
			if cfg.Pipeline.SaveCrops {
				report.directory("Crops", cfg.Paths.CropsDir)
			}
			fmt.Fprintln(stdout)

			printSection(stdout, "Services", report.colorize)
			if offline {
				report.line("Network", statusInfo, "Skipped (--offline)")
			} else {
				checkServices(cmd.Context(), report, ctx, cfg)
			}

			if report.failures > 0 {
				return fmt.Errorf("%d check(s) failed", report.failures)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "Skip network checks")
	return cmd
}

func checkServices(ctx context.Context, report *doctorReport, cmdCtx *commandContext, cfg *config.Config) {
	if err := dialURL(ctx, cfg.Detector.URL); err != nil {
		report.line("Detector", statusError, err.Error())
	} else {
		report.line("Detector", statusOK, "Reachable at "+cfg.Detector.URL)
	}

	if !cfg.OCR.Enabled {
		report.line("OCR", statusWarn, "Disabled; plates are reported as unknown")
	} else if client, err := ollama.NewClient(ollama.Config{
		BaseURL:        cfg.OCR.BaseURL,
		Model:          cfg.OCR.Model,
		APIKey:         cfg.OCR.APIKey,
		TimeoutSeconds: cfg.OCR.TimeoutSeconds,
	}); err != nil {
		report.line("OCR", statusError, err.Error())
	} else {
		healthCtx, cancel := context.WithTimeout(ctx, doctorTimeout)
		err := client.HealthCheck(healthCtx)
		cancel()
		if err != nil {
			report.line("OCR", statusError, err.Error())
		} else {
			report.line("OCR", statusOK, fmt.Sprintf("Model %s available", client.Model()))
		}
	}

	if !cfg.MQTT.Enabled {
		report.line("MQTT", statusInfo, "Disabled")
	} else if err := checkMQTT(ctx, cfg); err != nil {
		report.line("MQTT", statusError, err.Error())
	} else {
		report.line("MQTT", statusOK, "Connected to "+cfg.MQTT.BrokerURL())
	}

	if notifications.Configured(notifications.NewService(cfg)) {
		report.line("Notifications", statusOK, "ntfy topic configured")
	} else {
		report.line("Notifications", statusInfo, "Disabled (notifications.ntfy_topic is empty)")
	}

	if cfg.API.Bind == "" {
		report.line("Daemon", statusInfo, "Status API disabled")
		return
	}
	client, err := cmdCtx.apiClient()
	if err != nil {
		report.line("Daemon", statusWarn, err.Error())
		return
	}
	if status, err := client.Status(ctx); err != nil {
		report.line("Daemon", statusWarn, wrapAPIError(err, cfg.API.Bind).Error())
	} else {
		report.line("Daemon", statusOK, fmt.Sprintf("Running (pid %d, %.1f fps)", status.PID, status.Pipeline.FPS))
	}
}

func (r *doctorReport) directory(label, path string) {
	info, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		r.line(label, statusWarn, path+" (created on first run)")
	case err != nil:
		r.line(label, statusError, err.Error())
	case !info.IsDir():
		r.line(label, statusError, path+" is not a directory")
	default:
		r.line(label, statusOK, path)
	}
}

func checkMQTT(ctx context.Context, cfg *config.Config) error {
	pub, err := newPublisher(cfg)
	if err != nil {
		return err
	}
	defer pub.Close()
	connectCtx, cancel := context.WithTimeout(ctx, doctorTimeout)
	defer cancel()
	return pub.Connect(connectCtx)
}

func newPublisher(cfg *config.Config) (*homeassistant.Publisher, error) {
	return homeassistant.New(homeassistant.Config{
		BrokerURL:       cfg.MQTT.BrokerURL(),
		Username:        cfg.MQTT.Username,
		Password:        cfg.MQTT.Password,
		ClientID:        cfg.MQTT.ClientID,
		DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
		DeviceID:        cfg.MQTT.DeviceID,
		DeviceName:      cfg.MQTT.DeviceName,
		QoS:             byte(cfg.MQTT.QoS),
		ConnectTimeout:  doctorTimeout,
	}, logging.NewNop())
}

// dialURL opens and closes a TCP connection to the URL's host.
func dialURL(ctx context.Context, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}
	host := u.Host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "https" {
			port = "443"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}
	dialer := net.Dialer{Timeout: doctorTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return fmt.Errorf("unreachable: %w", err)
	}
	return conn.Close()
}

func dependencyRows(statuses []deps.Status) [][]string {
	rows := make([][]string, 0, len(statuses))
	for _, st := range statuses {
		state := "ready"
		switch {
		case !st.Available && st.Optional:
			state = "missing (optional)"
		case !st.Available:
			state = "missing"
		}
		rows = append(rows, []string{st.Name, st.Command, st.Version, state, st.Description})
	}
	return rows
}

func redactedOrMissing(raw string) string {
	if raw == "" {
		return "missing"
	}
	return ffprobe.Redact(raw)
}

func sizeLabel(w, h int) string {
	if w > 0 && h > 0 {
		return fmt.Sprintf("%dx%d", w, h)
	}
	return "size probed at start"
}
