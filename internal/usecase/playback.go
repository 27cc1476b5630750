package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"voxareflect/internal/audio"
	"voxareflect/internal/domain"
	"voxareflect/internal/ports"
)

const (
	DefaultPlaybackRate = 1.0
	MinPlaybackRate     = 0.85
	MaxPlaybackRate     = 1.35
	PlaybackRateStep    = 0.05
)

// PlaybackConfig controls the synthesized-speech player.
type PlaybackConfig struct {
	DefaultRate float64
	MinRate     float64
	MaxRate     float64
	Step        float64
	Output      domain.VoiceOutput
}

func (c PlaybackConfig) withDefaults() PlaybackConfig {
	if c.MinRate <= 0 || c.MaxRate <= 0 || c.MinRate > c.MaxRate {
		c.MinRate, c.MaxRate = MinPlaybackRate, MaxPlaybackRate
	}
	if c.Step <= 0 {
		c.Step = PlaybackRateStep
	}
	if c.DefaultRate <= 0 {
		c.DefaultRate = DefaultPlaybackRate
	}
	if c.Output == "" {
		c.Output = domain.VoiceOutputText
	}
	c.DefaultRate = c.snap(c.DefaultRate)
	return c
}

// snap clamps rate into range and rounds it to the nearest step.
func (c PlaybackConfig) snap(rate float64) float64 {
	if math.IsNaN(rate) || rate <= 0 {
		rate = c.DefaultRate
	}
	rate = math.Max(c.MinRate, math.Min(c.MaxRate, rate))
	steps := math.Round((rate - c.MinRate) / c.Step)
	rate = math.Min(c.MaxRate, c.MinRate+steps*c.Step)
	return math.Round(rate*100) / 100
}

// PlaybackController plays at most one synthesized clip at a time.
type PlaybackController struct {
	player   ports.AudioPlayer
	resolve  func(string) string
	events   ports.EventSink
	observer ports.PlaybackObserver
	logger   zerolog.Logger
	cfg      PlaybackConfig

	// playMu orders Play and Stop so a new clip starts only after the
	// previous one is released.
	playMu sync.Mutex

	mu         sync.Mutex
	current    ports.Playback
	generation uint64
	rate       float64
	output     domain.VoiceOutput
	lastTTS    *domain.TTSPayload
	closed     bool
	watchers   sync.WaitGroup
}

func NewPlaybackController(
	player ports.AudioPlayer,
	resolve func(string) string,
	events ports.EventSink,
	observer ports.PlaybackObserver,
	logger zerolog.Logger,
	cfg PlaybackConfig,
) *PlaybackController {
	cfg = cfg.withDefaults()
	if resolve == nil {
		resolve = func(ref string) string { return ref }
	}
	return &PlaybackController{
		player:   player,
		resolve:  resolve,
		events:   events,
		observer: observer,
		logger:   logger.With().Str("component", "playback").Logger(),
		cfg:      cfg,
		rate:     cfg.DefaultRate,
		output:   cfg.Output,
	}
}

// Play interrupts any playing clip and starts ref at the current rate.
func (p *PlaybackController) Play(ctx context.Context, ref string) error {
	if ref == "" {
		return fmt.Errorf("%w: empty audio reference", domain.ErrPlayback)
	}

	p.playMu.Lock()
	defer p.playMu.Unlock()
	return p.playLocked(ctx, ref)
}

// playLocked must be called with playMu held.
func (p *PlaybackController) playLocked(ctx context.Context, ref string) error {
	p.release("interrupted")

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("%w: player closed", domain.ErrPlayback)
	}
	rate := p.rate
	p.mu.Unlock()

	url := p.resolve(ref)
	playback, err := p.player.Play(ctx, url, rate)
	if err != nil {
		p.logger.Warn().Err(err).Str("url", url).Msg("playback failed to start")
		p.finished("error")
		return fmt.Errorf("%w: %v", domain.ErrPlayback, err)
	}

	p.mu.Lock()
	p.generation++
	gen := p.generation
	p.current = playback
	p.mu.Unlock()

	p.watchers.Add(1)
	go p.watch(playback, gen)

	if p.observer != nil {
		p.observer.PlaybackStarted()
	}
	p.events.PlaybackChanged(true, rate)
	p.logger.Debug().Str("url", url).Float64("rate", rate).Msg("playback started")
	return nil
}

// HandleTTS records the reply's speech metadata and plays its clip when voice
// output is enabled. The preference is read under playMu so a concurrent
// switch to text either prevents the clip or stops it.
func (p *PlaybackController) HandleTTS(ctx context.Context, payload *domain.TTSPayload) error {
	if payload == nil {
		return nil
	}
	meta := *payload
	meta.AllowedVoices = nil
	p.mu.Lock()
	p.lastTTS = &meta
	p.mu.Unlock()

	if !payload.Enabled || payload.AudioURL == "" {
		return nil
	}

	p.playMu.Lock()
	defer p.playMu.Unlock()
	if p.Output() != domain.VoiceOutputVoice {
		return nil
	}
	return p.playLocked(ctx, payload.AudioURL)
}

// SetRate snaps rate into range and applies it to the playing clip. It
// returns the effective rate.
func (p *PlaybackController) SetRate(rate float64) float64 {
	rate = p.cfg.snap(rate)

	p.mu.Lock()
	p.rate = rate
	current := p.current
	p.mu.Unlock()

	playing := current != nil
	if playing {
		if err := current.SetRate(rate); err != nil {
			if errors.Is(err, audio.ErrLiveRateUnsupported) {
				p.logger.Debug().Float64("rate", rate).Msg("rate applies to the next clip")
			} else {
				p.logger.Warn().Err(err).Msg("failed to change playback rate")
			}
		}
	}
	p.events.PlaybackChanged(playing, rate)
	return rate
}

// Stop pauses, rewinds and releases the current clip. Calling it when nothing
// plays is a no-op.
func (p *PlaybackController) Stop() {
	p.playMu.Lock()
	defer p.playMu.Unlock()
	p.release("stopped")
}

// SetVoiceOutput changes the reply preference; switching to text stops any
// clip that is playing.
func (p *PlaybackController) SetVoiceOutput(output domain.VoiceOutput) {
	p.mu.Lock()
	p.output = output
	p.mu.Unlock()
	if output == domain.VoiceOutputText {
		p.Stop()
	}
}

func (p *PlaybackController) Rate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rate
}

func (p *PlaybackController) Output() domain.VoiceOutput {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.output
}

func (p *PlaybackController) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current != nil
}

// LastTTS returns the speech metadata of the most recent reply, if any.
func (p *PlaybackController) LastTTS() (domain.TTSPayload, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastTTS == nil {
		return domain.TTSPayload{}, false
	}
	return *p.lastTTS, true
}

// Close stops playback and waits for the clip watcher to exit.
func (p *PlaybackController) Close() error {
	p.playMu.Lock()
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.release("stopped")
	p.playMu.Unlock()
	p.watchers.Wait()
	return nil
}

// release must be called with playMu held.
func (p *PlaybackController) release(outcome string) {
	p.mu.Lock()
	current := p.current
	p.current = nil
	p.generation++
	p.mu.Unlock()
	if current == nil {
		return
	}
	if err := current.Stop(); err != nil {
		p.logger.Warn().Err(err).Msg("failed to stop playback")
	}
	p.finished(outcome)
}

// watch leaves the controller in the stopped state when the clip ends on
// its own. A stale generation means Stop or Play already released it.
func (p *PlaybackController) watch(playback ports.Playback, gen uint64) {
	defer p.watchers.Done()
	<-playback.Done()

	p.mu.Lock()
	if p.generation != gen || p.current != playback {
		p.mu.Unlock()
		return
	}
	p.current = nil
	p.generation++
	p.mu.Unlock()

	outcome := "completed"
	if err := playback.Err(); err != nil {
		outcome = "error"
		p.logger.Warn().Err(err).Msg("playback ended with error")
	}
	p.finished(outcome)
}

func (p *PlaybackController) finished(outcome string) {
	if p.observer != nil {
		p.observer.PlaybackFinished(outcome)
	}
	p.events.PlaybackChanged(false, p.Rate())
}
