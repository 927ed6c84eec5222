package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeStreams()
	c.normalizeTracking()
	c.normalizeOCR()
	c.normalizeMQTT()
	if err := c.normalizeJournal(); err != nil {
		return err
	}
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	c.API.Token = envFallback(c.API.Token, "DRIVEWATCH_API_TOKEN")
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.StateDir, err = expandPath(orDefault(c.Paths.StateDir, defaultStateDir)); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(orDefault(c.Paths.LogDir, defaultLogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.CropsDir, err = expandPath(orDefault(c.Paths.CropsDir, defaultCropsDir)); err != nil {
		return fmt.Errorf("paths.crops_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeStreams() {
	s := &c.Streams
	s.LowURL = envFallback(s.LowURL, "CAM_DRIVEWAY_LOW")
	s.HighURL = envFallback(s.HighURL, "CAM_DRIVEWAY_HIGH")
	s.RTSPTransport = strings.ToLower(orDefault(s.RTSPTransport, defaultRTSPTransport))
	s.FFmpegBinary = orDefault(s.FFmpegBinary, defaultFFmpegBinary)
	s.FFprobeBinary = orDefault(s.FFprobeBinary, defaultFFprobeBinary)
	if s.RetryDelayMS <= 0 {
		s.RetryDelayMS = defaultRetryDelayMS
	}
	if s.MaxRetryDelaySeconds <= 0 {
		s.MaxRetryDelaySeconds = defaultMaxRetryDelaySeconds
	}
	if s.ReadTimeoutMS <= 0 {
		s.ReadTimeoutMS = defaultReadTimeoutMS
	}
	if s.StopGraceSeconds <= 0 {
		s.StopGraceSeconds = defaultStopGraceSeconds
	}
}

func (c *Config) normalizeTracking() {
	if c.Tracking.FramesBeforePurge <= 0 {
		c.Tracking.FramesBeforePurge = defaultFramesBeforePurge
	}
	if c.Crossing.LinePercent == 0 {
		c.Crossing.LinePercent = defaultLinePercent
	}
	c.Detector.URL = envFallback(c.Detector.URL, "DETECTOR_URL")
	if c.Detector.TimeoutSeconds <= 0 {
		c.Detector.TimeoutSeconds = defaultDetectorTimeout
	}
	if c.Detector.JPEGQuality <= 0 {
		c.Detector.JPEGQuality = defaultDetectorJPEGQuality
	}
}

func (c *Config) normalizeOCR() {
	o := &c.OCR
	o.BaseURL = strings.TrimRight(envFallback(o.BaseURL, "OLLAMA_URL"), "/")
	o.Model = envFallback(o.Model, "OLLAMA_VISION_MODEL")
	if o.Model == "" {
		o.Model = defaultOCRModel
	}
	o.APIKey = envFallback(o.APIKey, "OLLAMA_API_KEY")
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = defaultOCRTimeoutSeconds
	}
	if strings.TrimSpace(o.Prompt) == "" {
		o.Prompt = DefaultPlatePrompt
	}
}

func (c *Config) normalizeMQTT() {
	m := &c.MQTT
	m.Broker = envFallback(m.Broker, "MQTT_BROKER")
	m.Username = envFallback(m.Username, "MQTT_USER")
	m.Password = envFallback(m.Password, "MQTT_PASSWORD")
	if m.Port <= 0 {
		m.Port = defaultMQTTPort
	}
	m.DiscoveryPrefix = strings.Trim(orDefault(m.DiscoveryPrefix, defaultMQTTDiscoveryPrefix), "/")
	m.DeviceID = orDefault(m.DeviceID, defaultMQTTDeviceID)
	m.DeviceName = orDefault(m.DeviceName, defaultMQTTDeviceName)
}

func (c *Config) normalizeJournal() error {
	path := strings.TrimSpace(c.Journal.Path)
	if path == "" {
		path = filepath.Join(c.Paths.StateDir, defaultJournalFileName)
	}
	expanded, err := expandPath(path)
	if err != nil {
		return fmt.Errorf("journal.path: %w", err)
	}
	c.Journal.Path = expanded
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(orDefault(c.Logging.Format, defaultLogFormat))
	c.Logging.Level = strings.ToLower(orDefault(c.Logging.Level, defaultLogLevel))
}

func orDefault(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}

func envFallback(value, key string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	if env, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(env)
	}
	return ""
}
