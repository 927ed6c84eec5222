package deps

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"drivewatch/internal/config"
)

func writeStub(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

func TestCheckBinaries(t *testing.T) {
	present := writeStub(t, t.TempDir(), "present", "exit 0")
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Unset", Command: "  "},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available || results[0].Path != present || results[0].Detail != "" {
		t.Fatalf("unexpected status for present binary: %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary to be unavailable with detail: %#v", results[1])
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}
	if results[2].Detail != "command not configured" {
		t.Fatalf("unexpected detail for unset command: %q", results[2].Detail)
	}

	missing := MissingRequired(results)
	if len(missing) != 2 {
		t.Fatalf("expected 2 missing requirements, got %d", len(missing))
	}
}

func TestRequirementsFollowConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Streams.FFmpegBinary = "/opt/ffmpeg"
	cfg.Streams.FFprobeBinary = "/opt/ffprobe"
	cfg.Streams.LowWidth, cfg.Streams.LowHeight = 0, 0

	reqs := Requirements(&cfg)
	if len(reqs) != 2 || reqs[0].Command != "/opt/ffmpeg" || reqs[1].Command != "/opt/ffprobe" {
		t.Fatalf("unexpected requirements %#v", reqs)
	}
	if reqs[1].Optional {
		t.Fatal("ffprobe must be required when the stream size is probed")
	}

	cfg.Streams.LowWidth, cfg.Streams.LowHeight = 640, 360
	if !Requirements(&cfg)[1].Optional {
		t.Fatal("ffprobe should be optional with a fixed stream size")
	}
}

func TestDetectVersions(t *testing.T) {
	dir := t.TempDir()
	ffmpeg := writeStub(t, dir, "ffmpeg", `echo "ffmpeg version 6.1.1-3ubuntu5 Copyright (c) 2000-2023"`)
	broken := writeStub(t, dir, "broken", "exit 1")

	statuses := DetectVersions(context.Background(), []Status{
		{Name: "FFmpeg", Available: true, Path: ffmpeg},
		{Name: "Broken", Available: true, Path: broken},
		{Name: "Missing"},
	})
	if statuses[0].Version != "6.1.1-3ubuntu5" {
		t.Fatalf("unexpected version %q", statuses[0].Version)
	}
	if statuses[1].Version != "" || statuses[2].Version != "" {
		t.Fatalf("expected empty versions, got %#v", statuses[1:])
	}
}

func TestParseVersion(t *testing.T) {
	if v, ok := parseVersion("ffprobe version n7.0 Copyright\nbuilt with gcc"); !ok || v != "n7.0" {
		t.Fatalf("parseVersion = %q, %v", v, ok)
	}
	if _, ok := parseVersion("garbage"); ok {
		t.Fatal("expected no version")
	}
}
