package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"voxareflect/internal/ports"
)

// ErrLiveRateUnsupported is returned when a running clip cannot change speed.
var ErrLiveRateUnsupported = errors.New("player cannot change rate while playing")

// FFPlayPlayer plays synthesized clips with ffplay.
type FFPlayPlayer struct {
	command string
}

func NewFFPlayPlayer(command string) *FFPlayPlayer {
	if command == "" {
		command = "ffplay"
	}
	return &FFPlayPlayer{command: command}
}

func (p *FFPlayPlayer) Play(ctx context.Context, url string, rate float64) (ports.Playback, error) {
	if rate <= 0 {
		rate = 1
	}
	args := []string{
		"-nodisp",
		"-autoexit",
		"-hide_banner",
		"-loglevel", "error",
		"-af", "atempo=" + strconv.FormatFloat(rate, 'f', 2, 64),
		url,
	}

	cmd := exec.CommandContext(context.WithoutCancel(ctx), p.command, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", p.command, err)
	}

	playback := &ffplayPlayback{process: cmd.Process, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		playback.finish(err)
	}()
	return playback, nil
}

type ffplayPlayback struct {
	process *os.Process
	done    chan struct{}

	mu      sync.Mutex
	err     error
	stopped bool

	stopOnce sync.Once
	doneOnce sync.Once
}

func (p *ffplayPlayback) SetRate(_ float64) error {
	return ErrLiveRateUnsupported
}

func (p *ffplayPlayback) Stop() error {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		p.mu.Unlock()

		_ = p.process.Signal(os.Interrupt)
		select {
		case <-p.done:
		case <-time.After(500 * time.Millisecond):
			_ = p.process.Kill()
			<-p.done
		}
	})
	return nil
}

func (p *ffplayPlayback) Done() <-chan struct{} { return p.done }

func (p *ffplayPlayback) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *ffplayPlayback) finish(err error) {
	p.doneOnce.Do(func() {
		p.mu.Lock()
		if !p.stopped && err != nil {
			p.err = err
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				p.err = fmt.Errorf("playback exited: %w", err)
			}
		}
		p.mu.Unlock()
		close(p.done)
	})
}
