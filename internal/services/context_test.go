package services_test

import (
	"context"
	"testing"

	"drivewatch/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithTrackID(ctx, 42)
	ctx = services.WithStream(ctx, "low")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.TrackIDFromContext(ctx); !ok || id != 42 {
		t.Fatalf("unexpected track id: %v %v", id, ok)
	}
	if stream, ok := services.StreamFromContext(ctx); !ok || stream != "low" {
		t.Fatalf("unexpected stream: %v %v", stream, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithStream(ctx, "")
	ctx = services.WithRequestID(ctx, "")
	if _, ok := services.StreamFromContext(ctx); ok {
		t.Fatal("expected no stream value")
	}
	if _, ok := services.RequestIDFromContext(ctx); ok {
		t.Fatal("expected no request id value")
	}
	if _, ok := services.TrackIDFromContext(ctx); ok {
		t.Fatal("expected no track id value")
	}
}
