package homeassistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"drivewatch/internal/logging"
	"drivewatch/internal/services"
)

// UnknownPlate is published when no plate could be read.
const UnknownPlate = "Unknown"

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second
	disconnectQuiesceMS   = 250
)

// Config configures the MQTT connection and discovery identity.
type Config struct {
	BrokerURL       string
	Username        string
	Password        string
	ClientID        string
	DiscoveryPrefix string
	DeviceID        string
	DeviceName      string
	QoS             byte
	ConnectTimeout  time.Duration
	PublishTimeout  time.Duration
}

// Reading is one crossing result to publish.
type Reading struct {
	Plate      string
	Direction  string
	DetectedAt time.Time
}

// PlatePublisher is the behaviour the pipeline needs.
type PlatePublisher interface {
	PublishPlate(ctx context.Context, reading Reading) error
}

// ClientFactory builds the underlying paho client.
type ClientFactory func(opts *mqtt.ClientOptions) mqtt.Client

// Option customizes the publisher.
type Option func(*Publisher)

// WithClientFactory replaces mqtt.NewClient (used by tests).
func WithClientFactory(factory ClientFactory) Option {
	return func(p *Publisher) {
		if factory != nil {
			p.factory = factory
		}
	}
}

// Publisher maintains the broker session and publishes readings.
type Publisher struct {
	cfg       Config
	logger    *slog.Logger
	factory   ClientFactory
	client    mqtt.Client
	connected atomic.Bool
	published atomic.Uint64
}

// New validates cfg and prepares a publisher. Call Connect to start the session.
func New(cfg Config, logger *slog.Logger, opts ...Option) (*Publisher, error) {
	cfg.BrokerURL = strings.TrimSpace(cfg.BrokerURL)
	if cfg.BrokerURL == "" {
		return nil, services.Wrap(services.ErrConfiguration, "homeassistant", "new publisher", "broker url required", nil)
	}
	if cfg.DiscoveryPrefix == "" {
		cfg.DiscoveryPrefix = "homeassistant"
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = "driveway_alpr"
	}
	if cfg.DeviceName == "" {
		cfg.DeviceName = "Driveway ALPR"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "drivewatch-" + uuid.NewString()[:8]
	}
	if cfg.QoS > 2 {
		cfg.QoS = 1
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	p := &Publisher{
		cfg:     cfg,
		logger:  logging.NewComponentLogger(logger, "homeassistant"),
		factory: mqtt.NewClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Connect opens the broker session. Discovery configs are published from the
// connect handler so they are re-announced after every reconnect. A failed
// initial connect is returned; paho keeps retrying in the background.
func (p *Publisher) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(p.cfg.BrokerURL)
	opts.SetClientID(p.cfg.ClientID)
	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username)
		opts.SetPassword(p.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetConnectTimeout(p.cfg.ConnectTimeout)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		p.connected.Store(true)
		p.logger.Info("mqtt connected", logging.String("broker", p.cfg.BrokerURL), logging.String("client_id", p.cfg.ClientID))
		if err := p.publishDiscovery(context.Background()); err != nil {
			logging.WarnWithContext(p.logger, "home assistant discovery failed", "mqtt_discovery_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check broker ACLs for the discovery prefix"),
				logging.String(logging.FieldImpact, "sensors may not appear in Home Assistant"),
			)
		}
	})
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		p.connected.Store(false)
		logging.WarnWithContext(p.logger, "mqtt connection lost; reconnecting", "mqtt_connection_lost",
			logging.Error(err),
			logging.String(logging.FieldImpact, "plate reads are not published until reconnected"),
		)
	})

	p.client = p.factory(opts)
	p.logger.Info("connecting to mqtt broker", logging.String("broker", p.cfg.BrokerURL))
	token := p.client.Connect()
	if err := waitToken(ctx, token, p.cfg.ConnectTimeout); err != nil {
		return services.Wrap(services.ErrUnavailable, "homeassistant", "connect", "broker connect failed", err)
	}
	return nil
}

// Connected reports whether the broker session is up.
func (p *Publisher) Connected() bool {
	return p.connected.Load() && p.client != nil && p.client.IsConnectionOpen()
}

// Published returns the number of readings published.
func (p *Publisher) Published() uint64 { return p.published.Load() }

// PublishPlate updates the plate, direction and timestamp sensors.
func (p *Publisher) PublishPlate(ctx context.Context, reading Reading) error {
	if !p.Connected() {
		return services.Wrap(services.ErrUnavailable, "homeassistant", "publish", "broker not connected", nil)
	}
	detectedAt := reading.DetectedAt
	if detectedAt.IsZero() {
		detectedAt = time.Now()
	}
	stamp := detectedAt.Format(time.RFC3339)
	plate := strings.TrimSpace(reading.Plate)
	value := plate
	if value == "" {
		value = UnknownPlate
	}
	attrs, err := json.Marshal(plateAttributes{
		Direction:  reading.Direction,
		DetectedAt: stamp,
		PlateRead:  plate != "",
	})
	if err != nil {
		return fmt.Errorf("homeassistant: encode attributes: %w", err)
	}

	messages := []struct {
		topic   string
		payload []byte
	}{
		{p.stateTopic("plate"), []byte(value)},
		{p.attributesTopic(), attrs},
		{p.stateTopic("direction"), []byte(reading.Direction)},
		{p.stateTopic("timestamp"), []byte(stamp)},
	}
	for _, msg := range messages {
		if err := p.publish(ctx, msg.topic, false, msg.payload); err != nil {
			return err
		}
	}
	p.published.Add(1)
	p.logger.Info("plate published",
		logging.String("plate", value),
		logging.String("direction", reading.Direction),
		logging.String("detected_at", stamp),
	)
	return nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	if p.client == nil {
		return
	}
	p.connected.Store(false)
	p.client.Disconnect(disconnectQuiesceMS)
}

type plateAttributes struct {
	Direction  string `json:"direction"`
	DetectedAt string `json:"detected_at"`
	PlateRead  bool   `json:"plate_read"`
}

type deviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Model        string   `json:"model"`
	Manufacturer string   `json:"manufacturer"`
}

// SensorConfig is a Home Assistant MQTT discovery payload.
type SensorConfig struct {
	Name                string     `json:"name"`
	UniqueID            string     `json:"unique_id"`
	StateTopic          string     `json:"state_topic"`
	JSONAttributesTopic string     `json:"json_attributes_topic,omitempty"`
	DeviceClass         string     `json:"device_class,omitempty"`
	Icon                string     `json:"icon"`
	Device              deviceInfo `json:"device"`
}

// DiscoveryConfigs returns the retained discovery payloads keyed by topic.
func (p *Publisher) DiscoveryConfigs() map[string]SensorConfig {
	device := deviceInfo{
		Identifiers:  []string{p.cfg.DeviceID},
		Name:         p.cfg.DeviceName,
		Model:        "License Plate Recognition",
		Manufacturer: "drivewatch",
	}
	id := p.cfg.DeviceID
	return map[string]SensorConfig{
		p.configTopic("plate"): {
			Name:                "Last License Plate",
			UniqueID:            id + "_last_plate",
			StateTopic:          p.stateTopic("plate"),
			JSONAttributesTopic: p.attributesTopic(),
			Icon:                "mdi:car",
			Device:              device,
		},
		p.configTopic("direction"): {
			Name:       "Last Car Direction",
			UniqueID:   id + "_direction",
			StateTopic: p.stateTopic("direction"),
			Icon:       "mdi:arrow-left-right",
			Device:     device,
		},
		p.configTopic("timestamp"): {
			Name:        "Last Car Detection",
			UniqueID:    id + "_last_detection",
			StateTopic:  p.stateTopic("timestamp"),
			DeviceClass: "timestamp",
			Icon:        "mdi:clock-outline",
			Device:      device,
		},
	}
}

func (p *Publisher) publishDiscovery(ctx context.Context) error {
	var errs []error
	for _, sensor := range []string{"plate", "direction", "timestamp"} {
		topic := p.configTopic(sensor)
		payload, err := json.Marshal(p.DiscoveryConfigs()[topic])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := p.publish(ctx, topic, true, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Publisher) publish(ctx context.Context, topic string, retained bool, payload []byte) error {
	token := p.client.Publish(topic, p.cfg.QoS, retained, payload)
	if err := waitToken(ctx, token, p.cfg.PublishTimeout); err != nil {
		return services.Wrap(services.ErrTransient, "homeassistant", "publish", topic, err)
	}
	return nil
}

func (p *Publisher) configTopic(sensor string) string {
	return fmt.Sprintf("%s/sensor/%s_%s/config", p.cfg.DiscoveryPrefix, p.cfg.DeviceID, sensor)
}

func (p *Publisher) stateTopic(sensor string) string {
	return fmt.Sprintf("%s/sensor/%s/%s/state", p.cfg.DiscoveryPrefix, p.cfg.DeviceID, sensor)
}

func (p *Publisher) attributesTopic() string {
	return fmt.Sprintf("%s/sensor/%s/plate/attributes", p.cfg.DiscoveryPrefix, p.cfg.DeviceID)
}

func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("timed out after %s", timeout)
	}
}
