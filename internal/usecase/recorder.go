package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"voxareflect/internal/audio"
	"voxareflect/internal/domain"
	"voxareflect/internal/ports"
)

// CaptureConfig controls microphone recording.
type CaptureConfig struct {
	Audio         ports.AudioConfig
	ChunkSize     int
	LevelInterval time.Duration
	LevelGain     float64
	DrainTimeout  time.Duration
}

// CaptureController records microphone audio for the chat or the editor.
type CaptureController struct {
	mic      ports.Microphone
	events   ports.EventSink
	observer ports.CaptureObserver
	logger   zerolog.Logger
	cfg      CaptureConfig

	mu      sync.Mutex
	stream  ports.LiveStream
	current *activeRecording
	closed  bool
}

func NewCaptureController(
	mic ports.Microphone,
	events ports.EventSink,
	observer ports.CaptureObserver,
	logger zerolog.Logger,
	cfg CaptureConfig,
) *CaptureController {
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = 4096
	}
	if cfg.LevelInterval <= 0 {
		cfg.LevelInterval = 33 * time.Millisecond
	}
	if cfg.LevelGain <= 0 {
		cfg.LevelGain = audio.DefaultLevelGain
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 2 * time.Second
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	return &CaptureController{
		mic:      mic,
		events:   events,
		observer: observer,
		logger:   logger.With().Str("component", "capture").Logger(),
		cfg:      cfg,
	}
}

// RequestAccess acquires the microphone and keeps it for later recordings. A
// stream whose capture has ended is released and acquired again.
func (c *CaptureController) RequestAccess(ctx context.Context) error {
	c.mu.Lock()
	if c.stream != nil {
		if !streamEnded(c.stream) {
			c.mu.Unlock()
			return nil
		}
		c.dropStreamLocked()
	}
	c.mu.Unlock()

	stream, err := c.mic.RequestAccess(ctx, c.cfg.Audio)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.stream != nil {
		_ = stream.Close()
		if c.closed {
			return fmt.Errorf("%w: capture controller closed", domain.ErrDeviceNotReady)
		}
		return nil
	}
	c.stream = stream
	c.logger.Debug().Msg("microphone access granted")
	return nil
}

// StartRecording begins buffering audio for target and starts the level meter.
func (c *CaptureController) StartRecording(target domain.Target) error {
	if !target.Valid() {
		return fmt.Errorf("%w: recording target %q", domain.ErrInvalidSetting, target)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return domain.ErrDeviceNotReady
	}
	if c.current != nil {
		return fmt.Errorf("%w: %s", domain.ErrRecordingInProgress, c.current.target)
	}

	recorder, err := c.stream.Tap()
	if err != nil {
		c.dropEndedLocked(err)
		return err
	}
	meter, err := c.stream.Tap()
	if err != nil {
		_ = recorder.Close()
		c.dropEndedLocked(err)
		return err
	}

	active := &activeRecording{
		id:           uuid.NewString(),
		target:       target,
		recorder:     recorder,
		meter:        meter,
		recorderDone: make(chan struct{}),
		meterDone:    make(chan struct{}),
	}
	c.current = active

	go pumpAudioChunks(recorder, active.append, c.cfg.ChunkSize, c.events, active.recorderDone)
	go pumpLevels(meter, c.cfg.LevelGain, c.cfg.LevelInterval, c.events, active.meterDone)

	c.events.RecordingStateChanged(domain.RecordingStateFor(target))
	c.logger.Debug().Str("recording_id", active.id).Str("target", string(target)).Msg("recording started")
	return nil
}

// StopRecording finalizes the recording for target. A recording that captured
// nothing yields ErrEmptyRecording and no audio.
func (c *CaptureController) StopRecording(target domain.Target) (domain.Recording, error) {
	c.mu.Lock()
	active := c.current
	if active == nil || active.target != target {
		c.mu.Unlock()
		return domain.Recording{}, fmt.Errorf("%w: %s", domain.ErrNoActiveRecording, target)
	}
	c.current = nil
	c.mu.Unlock()

	c.finish(active)

	pcm, chunks := active.snapshot()
	if chunks == 0 || len(pcm) == 0 {
		c.observe(target, "empty", 0)
		return domain.Recording{}, domain.ErrEmptyRecording
	}
	wav, err := audio.EncodeWAV(pcm, c.cfg.Audio.SampleRate, c.cfg.Audio.Channels)
	if err != nil {
		c.observe(target, "empty", 0)
		return domain.Recording{}, fmt.Errorf("%w: %v", domain.ErrEmptyRecording, err)
	}

	c.observe(target, "ok", len(wav))
	c.logger.Debug().
		Str("recording_id", active.id).
		Int("chunks", chunks).
		Int("bytes", len(wav)).
		Msg("recording finished")
	return domain.Recording{
		ID:       active.id,
		Target:   target,
		Audio:    wav,
		MIMEType: audio.WAVMimeType,
		Chunks:   chunks,
	}, nil
}

// State reports the current recording state.
func (c *CaptureController) State() domain.RecordingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return domain.RecordingStateInactive
	}
	return domain.RecordingStateFor(c.current.target)
}

// Close discards any recording in progress and releases the microphone.
func (c *CaptureController) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	active := c.current
	c.current = nil
	stream := c.stream
	c.stream = nil
	c.mu.Unlock()

	if active != nil {
		c.finish(active)
		c.observe(active.target, "discarded", 0)
	}
	if stream != nil {
		return stream.Close()
	}
	return nil
}

func (c *CaptureController) finish(active *activeRecording) {
	_ = active.recorder.Close()
	waitForPump(active.recorderDone, c.cfg.DrainTimeout, func() {
		c.events.SessionError(domain.ErrorCodeAudioStop, "recorder did not drain in time")
	})
	active.stopMeter()
	c.events.RecordingStateChanged(domain.RecordingStateInactive)
}

func (c *CaptureController) observe(target domain.Target, outcome string, size int) {
	if c.observer != nil {
		c.observer.RecordingFinished(target, outcome, size)
	}
}

func streamEnded(stream ports.LiveStream) bool {
	select {
	case <-stream.Done():
		return true
	default:
		return false
	}
}

// dropEndedLocked forgets the stream after a failed tap so the next
// RequestAccess starts a fresh capture.
func (c *CaptureController) dropEndedLocked(err error) {
	if errors.Is(err, domain.ErrDeviceNotReady) || streamEnded(c.stream) {
		c.dropStreamLocked()
	}
}

func (c *CaptureController) dropStreamLocked() {
	stream := c.stream
	c.stream = nil
	event := c.logger.Warn()
	if err := stream.Err(); err != nil {
		event = event.Err(err)
	}
	event.Msg("microphone stream ended")
	if err := stream.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("closing ended microphone stream")
	}
}
