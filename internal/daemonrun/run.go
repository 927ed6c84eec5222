package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"drivewatch/internal/capture"
	"drivewatch/internal/config"
	"drivewatch/internal/daemon"
	"drivewatch/internal/deps"
	"drivewatch/internal/fileutil"
	"drivewatch/internal/journal"
	"drivewatch/internal/logging"
	"drivewatch/internal/notifications"
	"drivewatch/internal/pipeline"
	"drivewatch/internal/services/detector"
	"drivewatch/internal/services/homeassistant"
	"drivewatch/internal/services/ollama"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	Diagnostic  bool
}

// Run starts the drivewatch daemon and blocks until a signal arrives.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	stamp := time.Now().UTC().Format("20060102T150405.000Z")
	runID := uuid.NewString()
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("drivewatch-%s.log", stamp))

	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
		RunID:            runID,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	var debugLogPath string
	if opts.Diagnostic {
		debugDir := filepath.Join(cfg.Paths.LogDir, "debug")
		if err := os.MkdirAll(debugDir, 0o755); err != nil {
			return fmt.Errorf("create debug log directory: %w", err)
		}
		debugLogPath = filepath.Join(debugDir, fmt.Sprintf("drivewatch-%s.log", stamp))
		debugLogger, debugErr := logging.New(logging.Options{
			Level:            "debug",
			Format:           "json",
			OutputPaths:      []string{debugLogPath},
			ErrorOutputPaths: []string{debugLogPath},
			Development:      true,
			RunID:            runID,
		})
		if debugErr != nil {
			fmt.Fprintf(os.Stderr, "warn: unable to initialize debug logger: %v\n", debugErr)
		} else {
			logger = logging.TeeLogger(logger, debugLogger.Handler())
			if err := ensureCurrentLogPointer(debugDir, debugLogPath); err != nil {
				fmt.Fprintf(os.Stderr, "warn: unable to update debug/drivewatch.log link: %v\n", err)
			}
		}
		logger.Info("diagnostic mode enabled",
			logging.String(logging.FieldEventType, "diagnostic_mode_enabled"),
			logging.String("debug_log_path", debugLogPath),
		)
	}

	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update drivewatch.log link: %v\n", err)
	}
	targets := []logging.RetentionTarget{
		{Dir: cfg.Paths.LogDir, Pattern: "drivewatch-*.log", Keep: []string{logPath}},
		{Dir: filepath.Join(cfg.Paths.LogDir, "debug"), Pattern: "drivewatch-*.log", Keep: []string{debugLogPath}},
	}
	if cfg.Pipeline.SaveCrops {
		targets = append(targets, logging.RetentionTarget{Dir: cfg.Paths.CropsDir, Pattern: "*.jpg"})
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays, targets...)

	pidPath := filepath.Join(cfg.Paths.StateDir, "drivewatch.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	statuses := dependencySnapshot(signalCtx, logger, cfg)
	if missing := deps.MissingRequired(statuses); len(missing) > 0 {
		logging.ErrorWithContext(logger, "required dependency missing", "dependency_missing",
			logging.String("dependency", missing[0].Name),
			logging.String("command", missing[0].Command),
			logging.String(logging.FieldErrorHint, "install ffmpeg or set streams.ffmpeg_binary"),
		)
		return fmt.Errorf("required dependency %s (%s) not found", missing[0].Name, missing[0].Command)
	}

	notifier := notifications.NewService(cfg)
	svc, err := buildServices(signalCtx, cfg, logger)
	if err != nil {
		return err
	}

	pipe, err := pipeline.New(cfg, pipeline.Deps{
		NewSource: captureFactory(cfg, logger),
		Detector:  svc.detector,
		Reader:    svc.reader,
		Publisher: svc.publisher,
		Notifier:  notifier,
		Journal:   svc.recorder,
		Logger:    logger,
	})
	if err != nil {
		svc.close()
		return fmt.Errorf("create pipeline: %w", err)
	}

	daemonOpts := []daemon.Option{
		daemon.WithRunID(runID),
		daemon.WithLogPath(logPath),
		daemon.WithDependencies(statuses),
		daemon.WithNotifier(notifier),
	}
	daemonOpts = append(daemonOpts, svc.options...)
	if svc.store != nil {
		daemonOpts = append(daemonOpts, daemon.WithEvents(svc.store, svc.store.Path()))
	}
	d, err := daemon.New(cfg, logger, pipe, daemonOpts...)
	if err != nil {
		svc.close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer func() {
		if err := d.Close(); err != nil {
			logger.Warn("daemon close failed", logging.Error(err))
		}
	}()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check for another running daemon and state_dir permissions"),
			logging.String(logging.FieldImpact, "no frames are processed"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("drivewatch daemon shutting down")
	return nil
}

// services holds the collaborators built from configuration. Optional
// services stay as untyped nil interfaces when disabled.
type services struct {
	detector  detector.Detector
	reader    ollama.PlateReader
	publisher homeassistant.PlatePublisher
	recorder  journal.Recorder
	store     *journal.Store
	options   []daemon.Option
	closeFns  []func()
}

func (s *services) close() {
	for i := len(s.closeFns) - 1; i >= 0; i-- {
		s.closeFns[i]()
	}
}

func buildServices(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*services, error) {
	svc := &services{}

	det, err := detector.New(detector.Config{
		URL:            cfg.Detector.URL,
		TimeoutSeconds: cfg.Detector.TimeoutSeconds,
		JPEGQuality:    cfg.Detector.JPEGQuality,
	})
	if err != nil {
		return nil, fmt.Errorf("create detector client: %w", err)
	}
	svc.detector = det

	if cfg.OCR.Enabled {
		reader, err := ollama.NewClient(ollama.Config{
			BaseURL:        cfg.OCR.BaseURL,
			Model:          cfg.OCR.Model,
			APIKey:         cfg.OCR.APIKey,
			Prompt:         cfg.OCR.Prompt,
			TimeoutSeconds: cfg.OCR.TimeoutSeconds,
		})
		if err != nil {
			return nil, fmt.Errorf("create ocr client: %w", err)
		}
		if err := reader.HealthCheck(ctx); err != nil {
			logging.WarnWithContext(logger, "ocr endpoint not ready", "ocr_health_failed",
				logging.Error(err),
				logging.String("model", reader.Model()),
				logging.String(logging.FieldErrorHint, "start ollama and pull the vision model"),
				logging.String(logging.FieldImpact, "plates are reported as unknown until the model responds"),
			)
		}
		svc.reader = reader
	}

	if cfg.MQTT.Enabled {
		pub, err := homeassistant.New(homeassistant.Config{
			BrokerURL:       cfg.MQTT.BrokerURL(),
			Username:        cfg.MQTT.Username,
			Password:        cfg.MQTT.Password,
			ClientID:        cfg.MQTT.ClientID,
			DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
			DeviceID:        cfg.MQTT.DeviceID,
			DeviceName:      cfg.MQTT.DeviceName,
			QoS:             byte(cfg.MQTT.QoS),
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("create mqtt publisher: %w", err)
		}
		if err := pub.Connect(ctx); err != nil {
			logging.WarnWithContext(logger, "mqtt broker unreachable; retrying in background", "mqtt_connect_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check mqtt.broker, port and credentials"),
				logging.String(logging.FieldImpact, "plate reads are not published until connected"),
			)
		}
		svc.publisher = pub
		svc.closeFns = append(svc.closeFns, pub.Close)
		svc.options = append(svc.options, daemon.WithCloser(closerFunc(func() error {
			pub.Close()
			return nil
		})))
	}

	if cfg.Journal.Enabled {
		store, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			svc.close()
			return nil, fmt.Errorf("open journal: %w", err)
		}
		if days := cfg.Logging.RetentionDays; days > 0 {
			cutoff := time.Now().AddDate(0, 0, -days)
			if n, err := store.Prune(ctx, cutoff); err != nil {
				logger.Warn("journal prune failed", logging.Error(err))
			} else if n > 0 {
				logger.Info("journal pruned", logging.Int64("removed", n), logging.Int("retention_days", days))
			}
		}
		svc.store = store
		svc.recorder = store
		svc.closeFns = append(svc.closeFns, func() { _ = store.Close() })
		svc.options = append(svc.options, daemon.WithCloser(store))
	}
	return svc, nil
}

// captureFactory opens ffmpeg captures for the named stream.
func captureFactory(cfg *config.Config, logger *slog.Logger) pipeline.SourceFactory {
	return func(ctx context.Context, stream string) (pipeline.Source, error) {
		ccfg := capture.Config{
			Name:          stream,
			URL:           cfg.Streams.LowURL,
			Width:         cfg.Streams.LowWidth,
			Height:        cfg.Streams.LowHeight,
			MaxRetries:    cfg.Streams.MaxRetries,
			RetryDelay:    cfg.Streams.RetryDelay(),
			MaxRetryDelay: cfg.Streams.MaxRetryDelay(),
			Transport:     cfg.Streams.RTSPTransport,
			FFmpegBinary:  cfg.Streams.FFmpegBinary,
			FFprobeBinary: cfg.Streams.FFprobeBinary,
			ReadTimeout:   cfg.Streams.ReadTimeout(),
			StopGrace:     cfg.Streams.StopGrace(),
		}
		if stream == pipeline.StreamHigh {
			ccfg.URL = cfg.Streams.HighURL
			ccfg.Width = cfg.Streams.HighWidth
			ccfg.Height = cfg.Streams.HighHeight
		}
		src, err := capture.Open(ctx, ccfg, logger)
		if err != nil {
			return nil, err
		}
		return src, nil
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func dependencySnapshot(ctx context.Context, logger *slog.Logger, cfg *config.Config) []deps.Status {
	statuses := deps.DetectVersions(ctx, deps.CheckBinaries(deps.Requirements(cfg)))
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.Bool("high_stream", cfg.Streams.HasHighStream()),
		logging.Bool("ocr_enabled", cfg.OCR.Enabled),
		logging.Bool("mqtt_enabled", cfg.MQTT.Enabled),
		logging.Bool("journal_enabled", cfg.Journal.Enabled),
	}
	for _, st := range statuses {
		key := strings.ToLower(st.Name)
		attrs = append(attrs,
			logging.Bool(key+"_available", st.Available),
			logging.String(key+"_binary", st.Command),
			logging.String(key+"_version", st.Version),
		)
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
	return statuses
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "drivewatch.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return fileutil.WriteAtomic(path, []byte(value), 0o644)
}
