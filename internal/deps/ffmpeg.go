package deps

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

const versionTimeout = 5 * time.Second

// DetectVersions fills Version on available statuses by running
// "<binary> -version". FFmpeg and FFprobe both print
// "<name> version <ver> ..." on the first line.
func DetectVersions(ctx context.Context, statuses []Status) []Status {
	out := make([]Status, len(statuses))
	for i, s := range statuses {
		out[i] = s
		if !s.Available {
			continue
		}
		if version, ok := binaryVersion(ctx, s.Path); ok {
			out[i].Version = version
		}
	}
	return out
}

func binaryVersion(ctx context.Context, binary string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()
	output, err := exec.CommandContext(ctx, binary, "-version").Output() //nolint:gosec
	if err != nil {
		return "", false
	}
	return parseVersion(string(output))
}

func parseVersion(output string) (string, bool) {
	first, _, _ := strings.Cut(output, "\n")
	fields := strings.Fields(first)
	for i := 0; i+1 < len(fields); i++ {
		if fields[i] == "version" {
			return fields[i+1], true
		}
	}
	return "", false
}
