package ollama

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/width"

	"drivewatch/internal/services"
	"drivewatch/internal/video"
)

const (
	chatPath              = "/api/chat"
	tagsPath              = "/api/tags"
	defaultHTTPTimeout    = 60 * time.Second
	defaultRetryMaxDelay  = 10 * time.Second
	defaultRetryBaseDelay = 1 * time.Second
	defaultRetryAttempts  = 3
)

// Config captures the settings required to talk to the Ollama server.
type Config struct {
	BaseURL        string
	Model          string
	APIKey         string
	Prompt         string
	JPEGQuality    int
	TimeoutSeconds int
}

// PlateReader is the behaviour the pipeline needs from an OCR backend.
type PlateReader interface {
	ReadPlate(ctx context.Context, img image.Image) (string, error)
}

// Client wraps the Ollama chat API.
type Client struct {
	cfg        Config
	httpClient *http.Client

	retryMaxAttempts int
	retryBaseDelay   time.Duration
	retryMaxDelay    time.Duration
	sleeper          func(time.Duration)
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

// WithRetryMaxAttempts overrides the default retry count (defaults to 3).
func WithRetryMaxAttempts(attempts int) Option {
	return func(c *Client) {
		c.retryMaxAttempts = attempts
	}
}

// WithRetryBackoff overrides the retry backoff delays.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.retryBaseDelay = baseDelay
		c.retryMaxDelay = maxDelay
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

// NewClient constructs a plate reader client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	cfg.Model = strings.TrimSpace(cfg.Model)
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.Prompt = strings.TrimSpace(cfg.Prompt)
	if cfg.BaseURL == "" {
		return nil, services.Wrap(services.ErrConfiguration, "ollama", "new client", "base url required", nil)
	}
	if cfg.Model == "" {
		return nil, services.Wrap(services.ErrConfiguration, "ollama", "new client", "model required", nil)
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = video.DefaultJPEGQuality
	}
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg:              cfg,
		httpClient:       &http.Client{Timeout: timeout},
		retryMaxAttempts: defaultRetryAttempts,
		retryBaseDelay:   defaultRetryBaseDelay,
		retryMaxDelay:    defaultRetryMaxDelay,
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: timeout}
	}
	return client, nil
}

type httpStatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("ollama request: http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

type chatRequest struct {
	Model    string        `json:"model"`
	Stream   bool          `json:"stream"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type chatResponse struct {
	Model   string      `json:"model"`
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
	Error   string      `json:"error"`
}

// ReadPlate asks the model for the plate text in img. It returns "" when the
// model answered but no letters or digits remained after normalisation.
func (c *Client) ReadPlate(ctx context.Context, img image.Image) (string, error) {
	if img == nil || img.Bounds().Empty() {
		return "", services.Wrap(services.ErrValidation, "ollama", "read plate", "empty image", nil)
	}
	encoded, err := video.EncodeJPEG(img, c.cfg.JPEGQuality)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "ollama", "read plate", "encode crop", err)
	}
	payload := chatRequest{
		Model:  c.cfg.Model,
		Stream: false,
		Messages: []chatMessage{{
			Role:    "user",
			Content: c.prompt(),
			Images:  []string{base64.StdEncoding.EncodeToString(encoded)},
		}},
	}
	content, err := c.chatWithRetry(ctx, payload)
	if err != nil {
		return "", err
	}
	return NormalizePlate(content), nil
}

// HealthCheck verifies the server is reachable and the model is installed.
func (c *Client) HealthCheck(ctx context.Context) error {
	endpoint, err := c.endpoint(tagsPath)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("ollama health: new request: %w", err)
	}
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.Wrap(services.ErrUnavailable, "ollama", "health", "request failed", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("ollama health: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return services.Wrap(services.ErrUnavailable, "ollama", "health", fmt.Sprintf("http %d", resp.StatusCode), nil)
	}
	var tags struct {
		Models []struct {
			Name  string `json:"name"`
			Model string `json:"model"`
		} `json:"models"`
	}
	if err := json.Unmarshal(body, &tags); err != nil {
		return fmt.Errorf("ollama health: decode tags: %w", err)
	}
	for _, m := range tags.Models {
		if modelMatches(c.cfg.Model, m.Name) || modelMatches(c.cfg.Model, m.Model) {
			return nil
		}
	}
	return services.Wrap(services.ErrNotFound, "ollama", "health", fmt.Sprintf("model %q not installed", c.cfg.Model), nil)
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.cfg.Model }

// modelMatches treats an untagged model name as ":latest".
func modelMatches(want, have string) bool {
	have = strings.TrimSpace(have)
	if have == "" {
		return false
	}
	if strings.EqualFold(want, have) {
		return true
	}
	if !strings.Contains(want, ":") {
		return strings.EqualFold(want+":latest", have)
	}
	return false
}

var upper = cases.Upper(language.Und)

// NormalizePlate folds full-width characters, drops everything but letters
// and digits and upper-cases the result.
func NormalizePlate(raw string) string {
	folded := width.Fold.String(strings.TrimSpace(raw))
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return upper.String(b.String())
}

func (c *Client) prompt() string {
	if c.cfg.Prompt != "" {
		return c.cfg.Prompt
	}
	return DefaultPrompt
}

// DefaultPrompt is used when no prompt is configured.
const DefaultPrompt = "This is a license plate image. Please read the license plate number/text. Return ONLY the alphanumeric characters you see on the plate, with no spaces, punctuation, or explanation. Just the plate number."

// endpoint resolves path against BaseURL. A BaseURL that already carries a
// path is treated as the full chat endpoint.
func (c *Client) endpoint(path string) (string, error) {
	parsed, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, "ollama", "build url", "invalid base url", err)
	}
	trimmed := strings.TrimRight(parsed.Path, "/")
	if trimmed == "" {
		return url.JoinPath(c.cfg.BaseURL, path)
	}
	if path == chatPath {
		return c.cfg.BaseURL, nil
	}
	// Full chat URL configured; derive sibling endpoints from its root.
	root := strings.TrimSuffix(trimmed, chatPath)
	parsed.Path = root + path
	return parsed.String(), nil
}

func (c *Client) authorize(req *http.Request) {
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if rid, ok := services.RequestIDFromContext(req.Context()); ok {
		req.Header.Set("X-Request-ID", rid)
	}
}

func (c *Client) chatWithRetry(ctx context.Context, payload chatRequest) (string, error) {
	attempts := c.retryAttempts()
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := c.sendChatOnce(ctx, payload)
		if err == nil {
			return resp.Message.Content, nil
		}

		delay, retry := c.retryDelay(ctx, err, attempt, attempts)
		if !retry {
			return "", classify(err)
		}
		if err := c.sleep(ctx, delay); err != nil {
			return "", err
		}
		lastErr = err
	}

	if lastErr == nil {
		lastErr = errors.New("unknown retry failure")
	}
	return "", classify(fmt.Errorf("ollama chat: failed after %d attempts: %w", attempts, lastErr))
}

// classify tags err with the services marker that best describes it.
func classify(err error) error {
	var statusErr *httpStatusError
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded) || isTimeout(err):
		return services.Wrap(services.ErrTimeout, "ollama", "chat", "request timed out", err)
	case errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound:
		return services.Wrap(services.ErrNotFound, "ollama", "chat", "model or endpoint not found", err)
	case errors.As(err, &statusErr) && statusErr.StatusCode < http.StatusInternalServerError &&
		statusErr.StatusCode != http.StatusRequestTimeout && statusErr.StatusCode != http.StatusTooManyRequests:
		return services.Wrap(services.ErrValidation, "ollama", "chat", "request rejected", err)
	default:
		return services.Wrap(services.ErrExternalTool, "ollama", "chat", "request failed", err)
	}
}

func (c *Client) sendChatOnce(ctx context.Context, payload chatRequest) (chatResponse, error) {
	var completion chatResponse
	endpoint, err := c.endpoint(chatPath)
	if err != nil {
		return completion, err
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return completion, fmt.Errorf("ollama request: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return completion, fmt.Errorf("ollama request: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return completion, fmt.Errorf("ollama request: http error (timeout=%s): %w", c.timeoutDuration(), err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return completion, fmt.Errorf("ollama request: read body (timeout=%s): %w", c.timeoutDuration(), err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		return completion, &httpStatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			RetryAfter: retryAfter,
		}
	}
	if err := json.Unmarshal(body, &completion); err != nil {
		return completion, fmt.Errorf("ollama request: decode response: %w", err)
	}
	if completion.Error != "" {
		return completion, fmt.Errorf("ollama request: api error: %s", strings.TrimSpace(completion.Error))
	}
	return completion, nil
}

func (c *Client) timeoutDuration() time.Duration {
	if c.httpClient == nil || c.httpClient.Timeout <= 0 {
		return defaultHTTPTimeout
	}
	return c.httpClient.Timeout
}

func (c *Client) retryAttempts() int {
	if c.retryMaxAttempts <= 0 {
		return 1
	}
	return c.retryMaxAttempts
}

func (c *Client) retryDelay(ctx context.Context, err error, attempt, maxAttempts int) (time.Duration, bool) {
	if attempt >= maxAttempts || err == nil {
		return 0, false
	}
	if ctx.Err() != nil {
		return 0, false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, false
	}

	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusRequestTimeout,
			statusErr.StatusCode == http.StatusTooManyRequests,
			statusErr.StatusCode >= http.StatusInternalServerError:
			if statusErr.RetryAfter > 0 {
				return c.capDelay(statusErr.RetryAfter), true
			}
			return c.backoffDelay(attempt), true
		default:
			return 0, false
		}
	}

	if isTimeout(err) {
		return c.backoffDelay(attempt), true
	}
	return 0, false
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr) && urlErr.Timeout()
}

func (c *Client) backoffDelay(attempt int) time.Duration {
	base := c.retryBaseDelay
	if base <= 0 {
		return 0
	}
	maxDelay := c.retryMaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultRetryMaxDelay
	}
	if attempt <= 0 {
		attempt = 1
	}
	// attempt 1 -> base, attempt 2 -> base*2, attempt 3 -> base*4, ...
	delay := base
	for i := 1; i < attempt; i++ {
		if delay > maxDelay/2 {
			delay = maxDelay
			break
		}
		delay *= 2
	}
	return c.capDelay(delay)
}

func (c *Client) capDelay(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	maxDelay := c.retryMaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultRetryMaxDelay
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func (c *Client) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if c.sleeper != nil {
		c.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}
