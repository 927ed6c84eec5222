package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"drivewatch/internal/config"
	"drivewatch/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	base := testsupport.BaseDir(cfg)
	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, cfg)
	return &cliTestEnv{cfg: cfg, configPath: configPath, baseDir: base}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	var b strings.Builder
	fmt.Fprintf(&b, "[paths]\nstate_dir = %q\nlog_dir = %q\ncrops_dir = %q\n\n", cfg.Paths.StateDir, cfg.Paths.LogDir, cfg.Paths.CropsDir)
	fmt.Fprintf(&b, "[streams]\nlow_url = %q\nlow_width = %d\nlow_height = %d\n", cfg.Streams.LowURL, cfg.Streams.LowWidth, cfg.Streams.LowHeight)
	fmt.Fprintf(&b, "ffmpeg_binary = %q\nffprobe_binary = %q\n\n", cfg.Streams.FFmpegBinary, cfg.Streams.FFprobeBinary)
	fmt.Fprintf(&b, "[ocr]\nenabled = %t\n\n", cfg.OCR.Enabled)
	fmt.Fprintf(&b, "[mqtt]\nenabled = %t\n\n", cfg.MQTT.Enabled)
	fmt.Fprintf(&b, "[notifications]\nntfy_topic = %q\n\n", cfg.Notifications.NtfyTopic)
	fmt.Fprintf(&b, "[journal]\nenabled = %t\npath = %q\n\n", cfg.Journal.Enabled, cfg.Journal.Path)
	fmt.Fprintf(&b, "[api]\nbind = %q\ntoken = %q\n", cfg.API.Bind, cfg.API.Token)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
