package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
	CropsDir string `toml:"crops_dir"`
}

// Streams describes the two camera feeds. The low stream drives detection;
// the high stream supplies frames for plate crops.
type Streams struct {
	LowURL               string `toml:"low_url"`
	HighURL              string `toml:"high_url"`
	LowWidth             int    `toml:"low_width"`
	LowHeight            int    `toml:"low_height"`
	HighWidth            int    `toml:"high_width"`
	HighHeight           int    `toml:"high_height"`
	RTSPTransport        string `toml:"rtsp_transport"`
	FFmpegBinary         string `toml:"ffmpeg_binary"`
	FFprobeBinary        string `toml:"ffprobe_binary"`
	MaxRetries           int    `toml:"max_retries"`
	RetryDelayMS         int    `toml:"retry_delay_ms"`
	MaxRetryDelaySeconds int    `toml:"max_retry_delay_seconds"`
	ReadTimeoutMS        int    `toml:"read_timeout_ms"`
	StopGraceSeconds     int    `toml:"stop_grace_seconds"`
}

// Tracking tunes the object ledger.
type Tracking struct {
	TargetClasses      []int   `toml:"target_classes"`
	FramesBeforePurge  int     `toml:"frames_before_purge"`
	MinClassPercentage float64 `toml:"min_class_percentage"`
	MaxHistory         int     `toml:"max_history"`
}

// Crossing positions the reference line.
type Crossing struct {
	LinePercent float64 `toml:"line_percent"`
}

// Detector points at the external detection/tracking service.
type Detector struct {
	URL            string `toml:"url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	JPEGQuality    int    `toml:"jpeg_quality"`
}

// OCR configures the vision model that reads plates.
type OCR struct {
	Enabled        bool   `toml:"enabled"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	Prompt         string `toml:"prompt"`
	MinCropWidth   int    `toml:"min_crop_width"`
}

// MQTT configures the Home Assistant publisher.
type MQTT struct {
	Enabled         bool   `toml:"enabled"`
	Broker          string `toml:"broker"`
	Port            int    `toml:"port"`
	Username        string `toml:"username"`
	Password        string `toml:"password"`
	ClientID        string `toml:"client_id"`
	DiscoveryPrefix string `toml:"discovery_prefix"`
	DeviceID        string `toml:"device_id"`
	DeviceName      string `toml:"device_name"`
	QoS             int    `toml:"qos"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	PlateReads     bool   `toml:"plate_reads"`
	StreamHealth   bool   `toml:"stream_health"`
	Errors         bool   `toml:"errors"`
}

// Journal configures the optional crossing-event database.
type Journal struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Pipeline contains loop timing and worker settings.
type Pipeline struct {
	IdleSleepMS          int  `toml:"idle_sleep_ms"`
	MaxConsecutiveErrors int  `toml:"max_consecutive_errors"`
	EvictionQueueSize    int  `toml:"eviction_queue_size"`
	EvictionWorkers      int  `toml:"eviction_workers"`
	FPSWindow            int  `toml:"fps_window"`
	StatsIntervalSeconds int  `toml:"stats_interval_seconds"`
	SaveCrops            bool `toml:"save_crops"`
}

// API configures the local status endpoint.
type API struct {
	Bind  string `toml:"bind"`
	Token string `toml:"token"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for drivewatch.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Streams       Streams       `toml:"streams"`
	Tracking      Tracking      `toml:"tracking"`
	Crossing      Crossing      `toml:"crossing"`
	Detector      Detector      `toml:"detector"`
	OCR           OCR           `toml:"ocr"`
	MQTT          MQTT          `toml:"mqtt"`
	Notifications Notifications `toml:"notifications"`
	Journal       Journal       `toml:"journal"`
	Pipeline      Pipeline      `toml:"pipeline"`
	API           API           `toml:"api"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and environment fallbacks applied.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file).DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			var strict *toml.StrictMissingError
			if errors.As(err, &strict) {
				return nil, "", false, fmt.Errorf("parse config: %s", strict.String())
			}
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("drivewatch.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the daemon writes to.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.StateDir, c.Paths.LogDir}
	if c.Pipeline.SaveCrops {
		dirs = append(dirs, c.Paths.CropsDir)
	}
	if c.Journal.Enabled {
		dirs = append(dirs, filepath.Dir(c.Journal.Path))
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LockPath is the single-instance lock file for the daemon.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "drivewatch.lock")
}

// RetryDelay is the initial reconnect backoff.
func (s Streams) RetryDelay() time.Duration {
	return time.Duration(s.RetryDelayMS) * time.Millisecond
}

// MaxRetryDelay caps the reconnect backoff.
func (s Streams) MaxRetryDelay() time.Duration {
	return time.Duration(s.MaxRetryDelaySeconds) * time.Second
}

// ReadTimeout bounds a single frame retrieval.
func (s Streams) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutMS) * time.Millisecond
}

// StopGrace is how long a decoder gets to exit before it is killed.
func (s Streams) StopGrace() time.Duration {
	return time.Duration(s.StopGraceSeconds) * time.Second
}

// HasHighStream reports whether a separate high resolution feed is configured.
func (s Streams) HasHighStream() bool {
	return strings.TrimSpace(s.HighURL) != ""
}

// Timeout is the per-request detector deadline.
func (d Detector) Timeout() time.Duration {
	return time.Duration(d.TimeoutSeconds) * time.Second
}

// Timeout is the per-request OCR deadline.
func (o OCR) Timeout() time.Duration {
	return time.Duration(o.TimeoutSeconds) * time.Second
}

// BrokerURL returns the paho broker address.
func (m MQTT) BrokerURL() string {
	broker := strings.TrimSpace(m.Broker)
	if strings.Contains(broker, "://") {
		return broker
	}
	return fmt.Sprintf("tcp://%s:%d", broker, m.Port)
}

// IdleSleep is the pause taken when no frame is ready.
func (p Pipeline) IdleSleep() time.Duration {
	return time.Duration(p.IdleSleepMS) * time.Millisecond
}

// StatsInterval is how often pipeline throughput is logged.
func (p Pipeline) StatsInterval() time.Duration {
	return time.Duration(p.StatsIntervalSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// SampleConfig returns the embedded sample configuration.
func SampleConfig() string {
	return sampleConfig
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
