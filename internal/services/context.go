package services

import "context"

type contextKey string

const (
	trackIDKey   contextKey = "track_id"
	streamKey    contextKey = "stream"
	requestIDKey contextKey = "request_id"
)

// WithTrackID annotates context with the tracked object's identifier.
func WithTrackID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, trackIDKey, id)
}

// TrackIDFromContext extracts the track identifier if present.
func TrackIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(trackIDKey).(int64)
	return id, ok
}

// WithStream annotates context with the capture stream name (low/high).
func WithStream(ctx context.Context, stream string) context.Context {
	if stream == "" {
		return ctx
	}
	return context.WithValue(ctx, streamKey, stream)
}

// StreamFromContext returns the stream name if present.
func StreamFromContext(ctx context.Context) (string, bool) {
	if str, ok := ctx.Value(streamKey).(string); ok && str != "" {
		return str, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
