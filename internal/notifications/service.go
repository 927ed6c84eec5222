package notifications

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"drivewatch/internal/config"
)

const userAgent = "drivewatch/0.1.0"

// Event identifies a notification type.
type Event string

const (
	EventPlateRead       Event = "plate_read"
	EventStreamClosed    Event = "stream_closed"
	EventStreamRecovered Event = "stream_recovered"
	EventError           Event = "error"
	EventTest            Event = "test"
)

// Payload carries event fields. Values are formatted with fmt unless a
// handler expects a specific type.
type Payload map[string]any

// Service publishes events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventPlateRead:       cfg.Notifications.PlateReads,
			EventStreamClosed:    cfg.Notifications.StreamHealth,
			EventStreamRecovered: cfg.Notifications.StreamHealth,
			EventError:           cfg.Notifications.Errors,
			EventTest:            true,
		},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, data Payload) error {
	if !n.enabled[event] {
		return nil
	}
	var msg payload
	switch event {
	case EventPlateRead:
		msg = plateRead(data)
	case EventStreamClosed:
		msg = payload{
			title:    "Drivewatch - Stream Lost",
			message:  withReason(fmt.Sprintf("📷 Stream %s closed", text(data, "stream", "camera")), text(data, "reason", "")),
			tags:     []string{"drivewatch", "stream", "closed"},
			priority: "high",
		}
	case EventStreamRecovered:
		msg = payload{
			title:   "Drivewatch - Stream Recovered",
			message: fmt.Sprintf("📷 Stream %s recovered", text(data, "stream", "camera")),
			tags:    []string{"drivewatch", "stream", "recovered"},
		}
	case EventError:
		msg = errorPayload(data)
	case EventTest:
		msg = payload{
			title:    "Drivewatch - Test",
			message:  "🧪 Notification system test",
			tags:     []string{"drivewatch", "test"},
			priority: "low",
		}
	default:
		return fmt.Errorf("unknown notification event %q", event)
	}
	return n.send(ctx, msg)
}

func plateRead(data Payload) payload {
	plate := text(data, "plate", "")
	direction := text(data, "direction", "unknown")
	subject := "Unknown plate"
	if plate != "" {
		subject = plate
	}
	message := fmt.Sprintf("🚗 %s %s", subject, direction)
	if at, ok := data["detectedAt"].(time.Time); ok && !at.IsZero() {
		message = fmt.Sprintf("%s at %s", message, at.Local().Format("15:04:05"))
	}
	return payload{
		title:   "Drivewatch - Plate Read",
		message: message,
		tags:    []string{"drivewatch", "plate", direction},
	}
}

func errorPayload(data Payload) payload {
	var builder strings.Builder
	builder.WriteString("❌ Error")
	if label := text(data, "context", ""); label != "" {
		builder.WriteString(" with ")
		builder.WriteString(label)
	}
	builder.WriteString(": ")
	builder.WriteString(text(data, "error", "unknown"))
	return payload{
		title:    "Drivewatch - Error",
		message:  builder.String(),
		tags:     []string{"drivewatch", "error", "alert"},
		priority: "high",
	}
}

func withReason(message, reason string) string {
	if reason == "" {
		return message
	}
	return message + ": " + reason
}

func text(data Payload, key, fallback string) string {
	value, ok := data[key]
	if !ok || value == nil {
		return fallback
	}
	var out string
	switch v := value.(type) {
	case string:
		out = v
	case error:
		out = v.Error()
	case fmt.Stringer:
		out = v.String()
	default:
		out = fmt.Sprint(v)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return fallback
	}
	return out
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }

// ErrNotConfigured is returned by callers that require a real notifier.
var ErrNotConfigured = errors.New("notifications not configured")

// Configured reports whether svc delivers anywhere.
func Configured(svc Service) bool {
	_, noop := svc.(noopService)
	return svc != nil && !noop
}
