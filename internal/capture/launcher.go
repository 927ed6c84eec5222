package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// LaunchSpec describes one decoder invocation.
type LaunchSpec struct {
	Binary    string
	URL       string
	Transport string
	Width     int
	Height    int
	StopGrace time.Duration
	// Stderr receives decoder diagnostic output line by line. May be nil.
	Stderr func(line string)
}

// Process is a running decoder whose stdout carries raw frames.
type Process interface {
	Stdout() io.Reader
	// Alive reports whether the decoder has not yet exited. Safe for concurrent use.
	Alive() bool
	// Terminate stops the decoder and waits for it to exit. Idempotent.
	Terminate() error
}

// Launcher starts decoder processes.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (Process, error)
}

// FFmpegLauncher starts ffmpeg in its own process group.
type FFmpegLauncher struct{}

// FFmpegArgs returns the ffmpeg argument list for spec.
func FFmpegArgs(spec LaunchSpec) []string {
	var args []string
	lower := strings.ToLower(spec.URL)
	if strings.HasPrefix(lower, "rtsp://") || strings.HasPrefix(lower, "rtsps://") {
		transport := strings.TrimSpace(spec.Transport)
		if transport == "" {
			transport = "tcp"
		}
		args = append(args, "-rtsp_transport", transport)
	}
	args = append(args,
		"-hide_banner", "-loglevel", "warning", "-nostdin",
		"-i", spec.URL,
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-an",
	)
	if spec.Width > 0 && spec.Height > 0 {
		args = append(args, "-s", strconv.Itoa(spec.Width)+"x"+strconv.Itoa(spec.Height))
	}
	return append(args, "pipe:1")
}

// Launch starts ffmpeg. The returned process is bound to a child of ctx;
// cancelling ctx terminates it.
func (FFmpegLauncher) Launch(ctx context.Context, spec LaunchSpec) (Process, error) {
	binary := strings.TrimSpace(spec.Binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	procCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(procCtx, binary, FFmpegArgs(spec)...) //nolint:gosec
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// Negative pid addresses the whole process group.
		err := unix.Kill(-cmd.Process.Pid, unix.SIGTERM)
		if errors.Is(err, unix.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
	cmd.WaitDelay = spec.StopGrace
	if spec.Stderr != nil {
		cmd.Stderr = &lineWriter{emit: spec.Stderr}
	}

	reader, writer, err := os.Pipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stdout = writer
	if err := cmd.Start(); err != nil {
		cancel()
		_ = reader.Close()
		_ = writer.Close()
		return nil, fmt.Errorf("start %s: %w", binary, err)
	}
	_ = writer.Close()

	p := &execProcess{
		cmd:    cmd,
		cancel: cancel,
		stdout: reader,
		exited: make(chan struct{}),
	}
	go p.wait()
	return p, nil
}

type execProcess struct {
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	stdout  *os.File
	exited  chan struct{}
	waitErr error
	once    sync.Once
}

func (p *execProcess) wait() {
	p.waitErr = p.cmd.Wait()
	close(p.exited)
}

func (p *execProcess) Stdout() io.Reader { return p.stdout }

func (p *execProcess) Alive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

func (p *execProcess) Terminate() error {
	p.once.Do(func() {
		p.cancel()
		<-p.exited
		_ = p.stdout.Close()
	})
	<-p.exited
	var exitErr *exec.ExitError
	if p.waitErr == nil || errors.As(p.waitErr, &exitErr) {
		// Exit status after SIGTERM is expected.
		return nil
	}
	return p.waitErr
}

// lineWriter splits decoder stderr into lines.
type lineWriter struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	emit func(string)
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Incomplete line stays buffered.
			w.buf.Reset()
			w.buf.WriteString(line)
			break
		}
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			w.emit(trimmed)
		}
	}
	const maxPartial = 64 << 10
	if w.buf.Len() > maxPartial {
		w.emit(strings.TrimSpace(w.buf.String()))
		w.buf.Reset()
	}
	return len(p), nil
}
