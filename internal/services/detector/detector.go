// Package detector talks to the external object detection and tracking
// service. Frames are posted as JPEG and the service answers with a
// parallel-list batch of boxes, track ids and class ids.
package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"drivewatch/internal/services"
	"drivewatch/internal/tracking"
	"drivewatch/internal/video"
)

const (
	defaultTimeout = 5 * time.Second
	maxBodyBytes   = 8 << 20
)

// Detector runs detection and tracking on one frame.
type Detector interface {
	Detect(ctx context.Context, frame video.Frame) (tracking.Batch, error)
}

// Config configures the HTTP detector.
type Config struct {
	URL            string
	TimeoutSeconds int
	JPEGQuality    int
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// Client posts frames to an HTTP detector.
type Client struct {
	url        string
	quality    int
	httpClient *http.Client
}

// New constructs an HTTP detector client.
func New(cfg Config, opts ...Option) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.URL)
	if endpoint == "" {
		return nil, services.Wrap(services.ErrConfiguration, "detector", "new client", "url required", nil)
	}
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	quality := cfg.JPEGQuality
	if quality <= 0 || quality > 100 {
		quality = video.DefaultJPEGQuality
	}
	c := &Client{
		url:        endpoint,
		quality:    quality,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Detect encodes frame and returns the detector's batch. A response body
// that is not a valid batch yields an error wrapping tracking.ErrMalformedBatch.
func (c *Client) Detect(ctx context.Context, frame video.Frame) (tracking.Batch, error) {
	img, err := frame.Image()
	if err != nil {
		return tracking.Batch{}, services.Wrap(services.ErrValidation, "detector", "detect", "invalid frame", err)
	}
	encoded, err := video.EncodeJPEG(img, c.quality)
	if err != nil {
		return tracking.Batch{}, services.Wrap(services.ErrValidation, "detector", "detect", "encode frame", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(encoded))
	if err != nil {
		return tracking.Batch{}, services.Wrap(services.ErrConfiguration, "detector", "detect", "build request", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Frame-Seq", strconv.FormatUint(frame.Seq, 10))
	if frame.Source != "" {
		req.Header.Set("X-Stream", frame.Source)
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		req.Header.Set("X-Request-ID", rid)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return tracking.Batch{}, ctx.Err()
		}
		return tracking.Batch{}, services.Wrap(services.ErrUnavailable, "detector", "detect", "request failed", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return tracking.Batch{}, services.Wrap(services.ErrTransient, "detector", "detect", "read body", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return tracking.Batch{}, services.Wrap(services.ErrExternalTool, "detector", "detect",
			fmt.Sprintf("http %d: %s", resp.StatusCode, snippet(body)), nil)
	}
	var batch tracking.Batch
	if err := json.Unmarshal(body, &batch); err != nil {
		return tracking.Batch{}, fmt.Errorf("detector: %w: %v", tracking.ErrMalformedBatch, err)
	}
	return batch, nil
}

func snippet(body []byte) string {
	const limit = 200
	text := strings.TrimSpace(string(body))
	if len(text) > limit {
		return text[:limit] + "..."
	}
	return text
}
