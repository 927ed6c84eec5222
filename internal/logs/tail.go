package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const (
	maxLineBytes = 1024 * 1024
	// DefaultPoll is the follow interval used when callers pass zero.
	DefaultPoll = 250 * time.Millisecond
)

// Filter selects lines. A nil Filter keeps everything.
type Filter func(line string) bool

// Contains keeps lines containing every non-empty term, case-insensitively.
func Contains(terms ...string) Filter {
	var needles []string
	for _, term := range terms {
		if term = strings.ToLower(strings.TrimSpace(term)); term != "" {
			needles = append(needles, term)
		}
	}
	if len(needles) == 0 {
		return nil
	}
	return func(line string) bool {
		lower := strings.ToLower(line)
		for _, needle := range needles {
			if !strings.Contains(lower, needle) {
				return false
			}
		}
		return true
	}
}

// Last returns up to limit matching lines from the end of path and the file
// size, which is where a follow should resume. A missing file yields no lines.
func Last(path string, limit int, keep Filter) ([]string, int64, error) {
	file, err := openLog(path)
	if err != nil || file == nil {
		return nil, 0, err
	}
	defer file.Close()

	if limit <= 0 {
		size, err := file.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, 0, fmt.Errorf("seek log file: %w", err)
		}
		return nil, size, nil
	}

	ring := make([]string, 0, limit)
	start := 0
	end, err := scan(file, keep, func(line string) error {
		if len(ring) < limit {
			ring = append(ring, line)
			return nil
		}
		ring[start] = line
		start = (start + 1) % limit
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return append(ring[start:], ring[:start]...), end, nil
}

// Follow reads matching lines appended after offset and passes them to emit
// until ctx is done. A file that shrinks below offset is read from the start.
func Follow(ctx context.Context, path string, offset int64, poll time.Duration, keep Filter, emit func(string) error) error {
	if poll <= 0 {
		poll = DefaultPoll
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		next, err := readFrom(path, offset, keep, emit)
		if err != nil {
			return err
		}
		offset = next
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func readFrom(path string, offset int64, keep Filter, emit func(string) error) (int64, error) {
	file, err := openLog(path)
	if err != nil || file == nil {
		return 0, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return offset, fmt.Errorf("stat log file: %w", err)
	}
	if offset < 0 || offset > info.Size() {
		offset = 0
	}
	if offset == info.Size() {
		return offset, nil
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return offset, fmt.Errorf("seek log file: %w", err)
	}
	end, err := scan(file, keep, emit)
	if err != nil {
		return offset, err
	}
	return offset + end, nil
}

// scan feeds complete lines to fn and returns the bytes consumed. A trailing
// partial line is left for the next read.
func scan(r io.Reader, keep Filter, fn func(string) error) (int64, error) {
	reader := bufio.NewReaderSize(r, 64*1024)
	var consumed int64
	for {
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return consumed, fmt.Errorf("read log file: %w", err)
		}
		if !strings.HasSuffix(line, "\n") {
			return consumed, nil
		}
		consumed += int64(len(line))
		text := strings.TrimRight(line, "\r\n")
		if len(text) > maxLineBytes {
			text = text[:maxLineBytes]
		}
		if keep == nil || keep(text) {
			if err := fn(text); err != nil {
				return consumed, err
			}
		}
	}
}

func openLog(path string) (*os.File, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		file.Close()
		return nil, fmt.Errorf("log path %q is a directory", path)
	}
	return file, nil
}
