package bootstrap

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/rs/zerolog"

	"voxareflect/internal/audio"
	"voxareflect/internal/backend"
	"voxareflect/internal/config"
	"voxareflect/internal/conversation"
	"voxareflect/internal/domain"
	"voxareflect/internal/logging"
	"voxareflect/internal/metrics"
	"voxareflect/internal/ports"
	"voxareflect/internal/usecase"
)

// Options supplies the pieces that differ between the desktop shell and the CLI.
type Options struct {
	Events ports.EventSink
	// Player plays synthesized clips. Nil uses ffplay.
	Player ports.AudioPlayer
	// Microphone overrides ffmpeg capture.
	Microphone ports.Microphone
	// LogOutput receives log lines when no log file is configured. Nil means stderr.
	LogOutput io.Writer
}

// Services is the assembled runtime graph.
type Services struct {
	Coach    *usecase.Coach
	Backend  *backend.Client
	Machine  *conversation.Machine
	Playback *usecase.PlaybackController
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
	Config   config.Config

	closeLog func() error
}

// Build loads configuration and wires all dependencies for the current runtime.
func Build(opts Options) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}
	return BuildWithConfig(cfg, opts)
}

// BuildWithConfig wires the runtime from an already resolved configuration.
func BuildWithConfig(cfg config.Config, opts Options) (Services, error) {
	if opts.Events == nil {
		return Services{}, errors.New("event sink is required")
	}
	out := opts.LogOutput
	if out == nil {
		out = os.Stderr
	}
	logger, closeLog, err := logging.New(cfg.Logging, out)
	if err != nil {
		return Services{}, err
	}

	m := metrics.NewMetrics()
	client, err := backend.NewClient(backend.Config{
		BaseURL: cfg.Server.BaseURL,
		Timeout: cfg.Server.Timeout(),
	}, logger, m)
	if err != nil {
		_ = closeLog()
		return Services{}, err
	}

	mic := opts.Microphone
	if mic == nil {
		mic = audio.NewMicrophone(audio.NewFFMPEGCapture(cfg.Audio.RecorderCommand), cfg.Audio.ChunkSize)
	}
	player := opts.Player
	if player == nil {
		player = audio.NewFFPlayPlayer(cfg.Playback.PlayerCommand)
	}

	capture := usecase.NewCaptureController(mic, opts.Events, m, logger, usecase.CaptureConfig{
		Audio: ports.AudioConfig{
			SampleRate:  cfg.Audio.SampleRate,
			Channels:    cfg.Audio.Channels,
			InputFormat: cfg.Audio.InputFormat,
			InputDevice: cfg.Audio.InputDevice,
		},
		ChunkSize:     cfg.Audio.ChunkSize,
		LevelInterval: cfg.Audio.LevelInterval(),
	})
	jobs := usecase.NewVoiceJobOrchestrator(client, m, logger, usecase.JobConfig{
		PollInterval: cfg.Jobs.PollInterval(),
		MaxPolls:     cfg.Jobs.MaxPolls,
	})
	playback := usecase.NewPlaybackController(player, client.ResolveURL, opts.Events, m, logger, usecase.PlaybackConfig{
		DefaultRate: cfg.Playback.DefaultRate,
		MinRate:     cfg.Playback.MinRate,
		MaxRate:     cfg.Playback.MaxRate,
		Step:        cfg.Playback.Step,
		Output:      domain.ParseVoiceOutput(cfg.Playback.Output),
	})
	machine := conversation.NewMachine(conversation.Options{
		Language:   cfg.Session.Language,
		StudyGroup: cfg.Session.StudyGroup,
	})

	coach := usecase.NewCoach(usecase.CoachDeps{
		Backend:  client,
		Machine:  machine,
		Capture:  capture,
		Jobs:     jobs,
		Playback: playback,
		Events:   opts.Events,
		Logger:   logger,
	})

	return Services{
		Coach:    coach,
		Backend:  client,
		Machine:  machine,
		Playback: playback,
		Metrics:  m,
		Logger:   logger,
		Config:   cfg,
		closeLog: closeLog,
	}, nil
}

// Session returns the session configured for unattended use.
func (s Services) Session() usecase.Session {
	return usecase.Session{
		Username:   s.Config.Session.Username,
		Language:   s.Config.Session.Language,
		StudyGroup: s.Config.Session.StudyGroup,
		Mic:        s.Config.Session.Mic,
		Avatar:     s.Config.Session.Avatar,
	}
}

// ServeMetrics exposes Prometheus metrics until ctx ends. Without a configured
// address it returns immediately.
func (s Services) ServeMetrics(ctx context.Context) error {
	if s.Config.Metrics.Address == "" {
		return nil
	}
	s.Logger.Info().Str("addr", s.Config.Metrics.Address).Msg("serving metrics")
	return s.Metrics.Serve(ctx, s.Config.Metrics.Address)
}

// Close stops all background work and flushes the log file.
func (s Services) Close() error {
	var errs []error
	if s.Coach != nil {
		errs = append(errs, s.Coach.Close())
	}
	if s.closeLog != nil {
		errs = append(errs, s.closeLog())
	}
	return errors.Join(errs...)
}
