package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"voxareflect/internal/domain"
	"voxareflect/internal/ports"
)

const (
	DefaultPollInterval = 1500 * time.Millisecond
	DefaultMaxPolls     = 60
)

// JobConfig controls voice-job polling.
type JobConfig struct {
	PollInterval time.Duration
	MaxPolls     int
}

// waitFunc blocks for d or until ctx ends.
type waitFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// VoiceJobOrchestrator uploads recordings and drives voice jobs to a result.
type VoiceJobOrchestrator struct {
	backend  ports.VoiceBackend
	observer ports.JobObserver
	logger   zerolog.Logger
	cfg      JobConfig
	wait     waitFunc

	mu      sync.Mutex
	cancels map[int64]context.CancelFunc
	nextID  int64
	closed  bool
	wg      sync.WaitGroup
}

func NewVoiceJobOrchestrator(
	backend ports.VoiceBackend,
	observer ports.JobObserver,
	logger zerolog.Logger,
	cfg JobConfig,
) *VoiceJobOrchestrator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = DefaultMaxPolls
	}
	return &VoiceJobOrchestrator{
		backend:  backend,
		observer: observer,
		logger:   logger.With().Str("component", "voice_jobs").Logger(),
		cfg:      cfg,
		wait:     sleepContext,
		cancels:  make(map[int64]context.CancelFunc),
	}
}

// Transcribe sends a dictation recording to the synchronous transcription
// endpoint.
func (o *VoiceJobOrchestrator) Transcribe(ctx context.Context, rec domain.Recording, language string) (string, error) {
	if len(rec.Audio) == 0 {
		return "", domain.ErrEmptyRecording
	}
	ctx, done, err := o.register(ctx)
	if err != nil {
		return "", err
	}
	defer done()

	text, err := o.backend.Transcribe(ctx, rec.Audio, language)
	if err != nil {
		return "", o.cancelled(ctx, err)
	}
	return text, nil
}

// Run submits a chat recording as a voice job and polls until it completes,
// fails, times out or is cancelled.
func (o *VoiceJobOrchestrator) Run(ctx context.Context, rec domain.Recording, meta ports.ChatContext) (domain.Reply, error) {
	if len(rec.Audio) == 0 {
		return domain.Reply{}, domain.ErrEmptyRecording
	}
	ctx, done, err := o.register(ctx)
	if err != nil {
		return domain.Reply{}, err
	}
	defer done()

	started := time.Now()
	jobID, err := o.backend.SubmitVoiceJob(ctx, rec.Audio, meta)
	if err != nil {
		err = o.cancelled(ctx, err)
		o.finish(outcomeFor(err), started)
		return domain.Reply{}, err
	}
	if o.observer != nil {
		o.observer.JobSubmitted()
	}
	logger := o.logger.With().Str("job_id", jobID).Str("recording_id", rec.ID).Logger()
	logger.Debug().Msg("voice job submitted")

	reply, err := o.poll(ctx, jobID, logger)
	o.finish(outcomeFor(err), started)
	if err != nil {
		logger.Warn().Err(err).Msg("voice job did not complete")
		return domain.Reply{}, err
	}
	logger.Debug().Dur("elapsed", time.Since(started)).Msg("voice job completed")
	return reply, nil
}

// The first status request is issued immediately after submission; later ones
// are spaced by PollInterval.
func (o *VoiceJobOrchestrator) poll(ctx context.Context, jobID string, logger zerolog.Logger) (domain.Reply, error) {
	for attempt := 0; attempt < o.cfg.MaxPolls; attempt++ {
		if attempt > 0 {
			if err := o.wait(ctx, o.cfg.PollInterval); err != nil {
				return domain.Reply{}, o.cancelled(ctx, err)
			}
		}

		report, err := o.backend.VoiceJobStatus(ctx, jobID)
		if err != nil {
			return domain.Reply{}, o.cancelled(ctx, err)
		}
		if o.observer != nil {
			o.observer.JobPolled(report.Status)
		}

		switch report.Status {
		case domain.JobStatusCompleted:
			if report.Result == nil {
				return domain.Reply{}, fmt.Errorf("%w: completed job %s has no result", domain.ErrMalformedResponse, jobID)
			}
			return *report.Result, nil
		case domain.JobStatusFailed:
			return domain.Reply{}, &domain.JobFailedError{JobID: jobID, Message: report.Error}
		case domain.JobStatusUnknown:
			logger.Warn().Str("status", report.RawStatus).Msg("unrecognized voice job status, still polling")
		}
	}
	return domain.Reply{}, fmt.Errorf("%w after %d polls", domain.ErrJobTimeout, o.cfg.MaxPolls)
}

// Close cancels outstanding jobs and waits for them to return.
func (o *VoiceJobOrchestrator) Close() error {
	o.mu.Lock()
	o.closed = true
	for _, cancel := range o.cancels {
		cancel()
	}
	o.mu.Unlock()
	o.wg.Wait()
	return nil
}

func (o *VoiceJobOrchestrator) register(ctx context.Context) (context.Context, func(), error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, nil, domain.ErrJobCancelled
	}
	ctx, cancel := context.WithCancel(ctx)
	o.nextID++
	id := o.nextID
	o.cancels[id] = cancel
	o.wg.Add(1)
	return ctx, func() {
		o.mu.Lock()
		delete(o.cancels, id)
		o.mu.Unlock()
		cancel()
		o.wg.Done()
	}, nil
}

func (o *VoiceJobOrchestrator) cancelled(ctx context.Context, err error) error {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", domain.ErrJobTimeout, ctx.Err())
		}
		return domain.ErrJobCancelled
	}
	return err
}

func (o *VoiceJobOrchestrator) finish(outcome string, started time.Time) {
	if o.observer != nil {
		o.observer.JobFinished(outcome, time.Since(started))
	}
}

func outcomeFor(err error) string {
	switch {
	case err == nil:
		return "completed"
	case errors.Is(err, domain.ErrJobCancelled):
		return "cancelled"
	case errors.Is(err, domain.ErrJobTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrJobFailed):
		return "failed"
	case errors.Is(err, domain.ErrServerRejected), errors.Is(err, domain.ErrMalformedResponse):
		return "rejected"
	default:
		return "transport"
	}
}
