package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	for _, check := range []func() error{
		c.validateStreams,
		c.validateTracking,
		c.validateDetector,
		c.validateOCR,
		c.validateMQTT,
		c.validateNotifications,
		c.validatePipeline,
		c.validateAPI,
		c.validateLogging,
	} {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateStreams() error {
	s := c.Streams
	if s.LowURL == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		return fmt.Errorf("streams.low_url is required. Set CAM_DRIVEWAY_LOW env var or edit %s (create with 'drivewatch config init')", defaultPath)
	}
	if (s.LowWidth == 0) != (s.LowHeight == 0) || s.LowWidth < 0 || s.LowHeight < 0 {
		return errors.New("streams.low_width and streams.low_height must both be positive or both be 0")
	}
	if (s.HighWidth == 0) != (s.HighHeight == 0) || s.HighWidth < 0 || s.HighHeight < 0 {
		return errors.New("streams.high_width and streams.high_height must both be positive or both be 0")
	}
	switch s.RTSPTransport {
	case "tcp", "udp", "http", "udp_multicast":
	default:
		return fmt.Errorf("streams.rtsp_transport must be tcp, udp, http or udp_multicast (got %q)", s.RTSPTransport)
	}
	if s.MaxRetries < 0 {
		return errors.New("streams.max_retries must be 0 (unlimited) or positive")
	}
	if s.MaxRetryDelay() < s.RetryDelay() {
		return errors.New("streams.max_retry_delay_seconds must not be shorter than streams.retry_delay_ms")
	}
	return nil
}

func (c *Config) validateTracking() error {
	if len(c.Tracking.TargetClasses) == 0 {
		return errors.New("tracking.target_classes must list at least one class id")
	}
	for _, id := range c.Tracking.TargetClasses {
		if id < 0 {
			return fmt.Errorf("tracking.target_classes must not contain negative ids (got %d)", id)
		}
	}
	if c.Tracking.MinClassPercentage < 0 || c.Tracking.MinClassPercentage > 100 {
		return errors.New("tracking.min_class_percentage must be between 0 and 100")
	}
	if c.Tracking.MaxHistory < 0 {
		return errors.New("tracking.max_history must be 0 (unbounded) or positive")
	}
	if c.Tracking.MaxHistory > 0 && c.Tracking.MaxHistory < 2 {
		return errors.New("tracking.max_history must keep at least 2 samples")
	}
	if c.Crossing.LinePercent <= 0 || c.Crossing.LinePercent >= 1 {
		return errors.New("crossing.line_percent must be between 0 and 1 (exclusive)")
	}
	return nil
}

func (c *Config) validateDetector() error {
	if c.Detector.URL == "" {
		return errors.New("detector.url is required")
	}
	if err := validateHTTPURL(c.Detector.URL); err != nil {
		return fmt.Errorf("detector.url %w", err)
	}
	if c.Detector.JPEGQuality > 100 {
		return errors.New("detector.jpeg_quality must be between 1 and 100")
	}
	return nil
}

func (c *Config) validateOCR() error {
	if !c.OCR.Enabled {
		return nil
	}
	if c.OCR.BaseURL == "" {
		return errors.New("ocr.base_url is required when ocr.enabled is true (or set OLLAMA_URL)")
	}
	if err := validateHTTPURL(c.OCR.BaseURL); err != nil {
		return fmt.Errorf("ocr.base_url %w", err)
	}
	if c.OCR.MinCropWidth < 0 {
		return errors.New("ocr.min_crop_width must be 0 or positive")
	}
	return nil
}

func (c *Config) validateMQTT() error {
	if !c.MQTT.Enabled {
		return nil
	}
	if c.MQTT.Broker == "" {
		return errors.New("mqtt.broker is required when mqtt.enabled is true (or set MQTT_BROKER)")
	}
	if c.MQTT.Port > 65535 {
		return errors.New("mqtt.port must be a valid TCP port")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return errors.New("mqtt.qos must be 0, 1 or 2")
	}
	if strings.ContainsAny(c.MQTT.DeviceID, "/#+ ") {
		return errors.New("mqtt.device_id must not contain '/', '#', '+' or spaces")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout < 0 {
		return errors.New("notifications.request_timeout must be 0 or positive")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	p := c.Pipeline
	if p.IdleSleepMS < 0 {
		return errors.New("pipeline.idle_sleep_ms must be 0 or positive")
	}
	if p.MaxConsecutiveErrors <= 0 {
		return errors.New("pipeline.max_consecutive_errors must be positive")
	}
	if p.EvictionQueueSize <= 0 {
		return errors.New("pipeline.eviction_queue_size must be positive")
	}
	if p.EvictionWorkers <= 0 {
		return errors.New("pipeline.eviction_workers must be positive")
	}
	if p.FPSWindow < 2 {
		return errors.New("pipeline.fps_window must be at least 2")
	}
	if p.StatsIntervalSeconds < 0 {
		return errors.New("pipeline.stats_interval_seconds must be 0 (disabled) or positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json (got %q)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error (got %q)", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be 0 (keep forever) or positive")
	}
	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must use http or https (got %q)", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("must include a host (got %q)", raw)
	}
	return nil
}

func (c *Config) validateAPI() error {
	if c.API.Bind == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.API.Bind); err != nil {
		return fmt.Errorf("api.bind must be host:port or empty to disable (got %q)", c.API.Bind)
	}
	return nil
}
