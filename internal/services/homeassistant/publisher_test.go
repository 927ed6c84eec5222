package homeassistant

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drivewatch/internal/logging"
	"drivewatch/internal/services"
)

type doneToken struct {
	err  error
	done chan struct{}
}

func newDoneToken(err error) *doneToken {
	t := &doneToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Done() <-chan struct{}          { return t.done }
func (t *doneToken) Error() error                   { return t.err }

type message struct {
	topic    string
	qos      byte
	retained bool
	payload  string
}

type fakeClient struct {
	mqtt.Client
	opts       *mqtt.ClientOptions
	connectErr error
	mu         sync.Mutex
	open       bool
	messages   []message
	disconnect int
}

func (f *fakeClient) Connect() mqtt.Token {
	if f.connectErr != nil {
		return newDoneToken(f.connectErr)
	}
	f.mu.Lock()
	f.open = true
	f.mu.Unlock()
	if f.opts.OnConnect != nil {
		f.opts.OnConnect(f)
	}
	return newDoneToken(nil)
}

func (f *fakeClient) IsConnectionOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message{topic: topic, qos: qos, retained: retained, payload: string(payload.([]byte))})
	return newDoneToken(nil)
}

func (f *fakeClient) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	f.disconnect++
}

func (f *fakeClient) snapshot() []message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]message(nil), f.messages...)
}

func newTestPublisher(t *testing.T, fake *fakeClient) *Publisher {
	t.Helper()
	p, err := New(Config{BrokerURL: "tcp://broker:1883", ClientID: "test", QoS: 1}, logging.NewNop(),
		WithClientFactory(func(opts *mqtt.ClientOptions) mqtt.Client {
			fake.opts = opts
			return fake
		}))
	require.NoError(t, err)
	return p
}

func TestConnectPublishesRetainedDiscovery(t *testing.T) {
	fake := &fakeClient{}
	p := newTestPublisher(t, fake)
	require.NoError(t, p.Connect(context.Background()))
	assert.True(t, p.Connected())

	msgs := fake.snapshot()
	require.Len(t, msgs, 3)
	topics := []string{msgs[0].topic, msgs[1].topic, msgs[2].topic}
	assert.Equal(t, []string{
		"homeassistant/sensor/driveway_alpr_plate/config",
		"homeassistant/sensor/driveway_alpr_direction/config",
		"homeassistant/sensor/driveway_alpr_timestamp/config",
	}, topics)
	for _, m := range msgs {
		assert.True(t, m.retained, m.topic)
		assert.Equal(t, byte(1), m.qos)
	}

	var plate SensorConfig
	require.NoError(t, json.Unmarshal([]byte(msgs[0].payload), &plate))
	assert.Equal(t, "homeassistant/sensor/driveway_alpr/plate/state", plate.StateTopic)
	assert.Equal(t, "homeassistant/sensor/driveway_alpr/plate/attributes", plate.JSONAttributesTopic)
	assert.Equal(t, []string{"driveway_alpr"}, plate.Device.Identifiers)

	var stamp SensorConfig
	require.NoError(t, json.Unmarshal([]byte(msgs[2].payload), &stamp))
	assert.Equal(t, "timestamp", stamp.DeviceClass)
}

func TestPublishPlate(t *testing.T) {
	fake := &fakeClient{}
	p := newTestPublisher(t, fake)
	require.NoError(t, p.Connect(context.Background()))

	at := time.Date(2025, 3, 1, 8, 30, 0, 0, time.UTC)
	require.NoError(t, p.PublishPlate(context.Background(), Reading{Plate: "ABC123", Direction: "arriving", DetectedAt: at}))

	msgs := fake.snapshot()[3:]
	require.Len(t, msgs, 4)
	assert.Equal(t, message{topic: "homeassistant/sensor/driveway_alpr/plate/state", qos: 1, payload: "ABC123"}, msgs[0])
	assert.Equal(t, "homeassistant/sensor/driveway_alpr/plate/attributes", msgs[1].topic)
	assert.JSONEq(t, `{"direction":"arriving","detected_at":"2025-03-01T08:30:00Z","plate_read":true}`, msgs[1].payload)
	assert.Equal(t, message{topic: "homeassistant/sensor/driveway_alpr/direction/state", qos: 1, payload: "arriving"}, msgs[2])
	assert.Equal(t, message{topic: "homeassistant/sensor/driveway_alpr/timestamp/state", qos: 1, payload: "2025-03-01T08:30:00Z"}, msgs[3])
	assert.Equal(t, uint64(1), p.Published())
}

func TestPublishUnknownPlate(t *testing.T) {
	fake := &fakeClient{}
	p := newTestPublisher(t, fake)
	require.NoError(t, p.Connect(context.Background()))

	require.NoError(t, p.PublishPlate(context.Background(), Reading{Direction: "departing", DetectedAt: time.Unix(0, 0).UTC()}))
	msgs := fake.snapshot()[3:]
	assert.Equal(t, UnknownPlate, msgs[0].payload)
	assert.JSONEq(t, `{"direction":"departing","detected_at":"1970-01-01T00:00:00Z","plate_read":false}`, msgs[1].payload)
}

func TestPublishWhileDisconnected(t *testing.T) {
	fake := &fakeClient{}
	p := newTestPublisher(t, fake)
	err := p.PublishPlate(context.Background(), Reading{Plate: "X"})
	assert.True(t, errors.Is(err, services.ErrUnavailable))

	require.NoError(t, p.Connect(context.Background()))
	p.Close()
	assert.False(t, p.Connected())
	err = p.PublishPlate(context.Background(), Reading{Plate: "X"})
	assert.True(t, errors.Is(err, services.ErrUnavailable))
	assert.Equal(t, 1, fake.disconnect)
}

func TestConnectFailure(t *testing.T) {
	fake := &fakeClient{connectErr: errors.New("not authorized")}
	p := newTestPublisher(t, fake)
	err := p.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrUnavailable))
	assert.False(t, p.Connected())
}

func TestNewRequiresBroker(t *testing.T) {
	_, err := New(Config{}, logging.NewNop())
	assert.True(t, errors.Is(err, services.ErrConfiguration))
}

func TestCustomPrefixAndDevice(t *testing.T) {
	p, err := New(Config{BrokerURL: "tcp://b:1883", DiscoveryPrefix: "ha", DeviceID: "gate"}, logging.NewNop())
	require.NoError(t, err)
	configs := p.DiscoveryConfigs()
	require.Contains(t, configs, "ha/sensor/gate_plate/config")
	assert.Equal(t, "ha/sensor/gate/plate/state", configs["ha/sensor/gate_plate/config"].StateTopic)
	assert.Contains(t, p.cfg.ClientID, "drivewatch-")
}
