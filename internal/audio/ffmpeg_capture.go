package audio

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
	"time"

	"voxareflect/internal/domain"
	"voxareflect/internal/ports"
)

const (
	captureStartGrace = 250 * time.Millisecond
	captureStopGrace  = 1200 * time.Millisecond
)

// FFMPEGCapture records raw s16le PCM from the system input through ffmpeg.
type FFMPEGCapture struct {
	command string

	// startGrace is how long ffmpeg must survive before the device counts as
	// opened; stopGrace bounds the wait after an interrupt before a kill.
	startGrace time.Duration
	stopGrace  time.Duration
}

func NewFFMPEGCapture(command string) *FFMPEGCapture {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFMPEGCapture{command: command, startGrace: captureStartGrace, stopGrace: captureStopGrace}
}

// Start launches ffmpeg. A missing binary is reported as ErrCaptureUnsupported,
// an input device that refuses to open as ErrPermissionDenied.
func (c *FFMPEGCapture) Start(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	binary, err := exec.LookPath(c.command)
	if err != nil {
		return nil, fmt.Errorf("%w: %s not found: %v", domain.ErrCaptureUnsupported, c.command, err)
	}

	cmd := exec.CommandContext(ctx, binary, captureArgs(withCaptureDefaults(cfg))...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	// Orphaned children may keep stderr open after ffmpeg itself is gone.
	cmd.WaitDelay = time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffmpeg: %v", domain.ErrCaptureUnsupported, err)
	}

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	timer := time.NewTimer(c.startGrace)
	defer timer.Stop()
	select {
	case err := <-exited:
		return nil, deviceRefused(err, stderr)
	case <-timer.C:
	}

	return &ffmpegSession{
		stdout:    stdout,
		stderr:    stderr,
		process:   cmd.Process,
		exited:    exited,
		stopGrace: c.stopGrace,
	}, nil
}

func captureArgs(cfg ports.AudioConfig) []string {
	return []string{
		"-nostdin", "-hide_banner", "-loglevel", "warning",
		"-f", cfg.InputFormat, "-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le", "-",
	}
}

func withCaptureDefaults(cfg ports.AudioConfig) ports.AudioConfig {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	return cfg
}

// deviceRefused describes an ffmpeg that exited before the start grace ran out.
func deviceRefused(waitErr error, stderr *bytes.Buffer) error {
	msg := "ffmpeg exited before capture started"
	if waitErr != nil {
		msg += ": " + waitErr.Error()
	}
	if detail := strings.TrimSpace(stderr.String()); detail != "" {
		msg += ": " + detail
	}
	return fmt.Errorf("%w: %s", domain.ErrPermissionDenied, msg)
}

// ignoreExitStatus drops the non-zero exit status ffmpeg reports when it is
// interrupted or killed; other wait failures are kept.
func ignoreExitStatus(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

type ffmpegSession struct {
	stdout    io.ReadCloser
	stderr    *bytes.Buffer
	process   *os.Process
	exited    <-chan error
	stopGrace time.Duration

	stopOnce sync.Once
	stopErr  error
}

func (s *ffmpegSession) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *ffmpegSession) Close() error {
	return s.Stop()
}

// Stop interrupts ffmpeg so it flushes, kills it after stopGrace and closes
// the pipe. Only the first call does any work.
func (s *ffmpegSession) Stop() error {
	s.stopOnce.Do(func() {
		s.stopErr = s.shutdown()
	})
	return s.stopErr
}

func (s *ffmpegSession) shutdown() error {
	_ = s.process.Signal(os.Interrupt)
	err := ignoreExitStatus(s.awaitExit())

	if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) && err == nil {
		err = closeErr
	}
	if err == nil {
		return nil
	}
	if detail := strings.TrimSpace(s.stderr.String()); detail != "" {
		return fmt.Errorf("%w: %s", err, detail)
	}
	return err
}

func (s *ffmpegSession) awaitExit() error {
	timer := time.NewTimer(s.stopGrace)
	defer timer.Stop()
	select {
	case err := <-s.exited:
		return err
	case <-timer.C:
	}
	_ = s.process.Kill()
	return <-s.exited
}
