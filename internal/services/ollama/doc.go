// Package ollama reads licence plates from cropped images using an Ollama
// vision model.
//
// # Request
//
// ReadPlate JPEG-encodes the crop, base64-encodes it and sends a single
// non-streaming /api/chat message carrying the configured prompt and the
// image. The reply is folded to narrow width, stripped of everything except
// letters and digits and upper-cased. An empty result means the model could
// not read a plate.
//
// # Configuration
//
// BaseURL may be the server root (http://host:11434), in which case
// /api/chat is appended, or a full chat endpoint URL which is used as-is.
// APIKey is optional and sent as a bearer token for proxied deployments.
//
// # Retry Behaviour
//
// The client retries on HTTP 408/429/5xx errors and network timeouts with
// exponential backoff (base 1s, max 10s, up to 3 attempts by default).
// Context cancellation aborts retries immediately.
//
// # Health
//
// HealthCheck lists the server's installed models and fails when the
// configured model is missing.
package ollama
