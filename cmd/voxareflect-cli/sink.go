package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"voxareflect/internal/domain"
)

// logSink renders coach events as log lines. Errors are also printed for the user.
type logSink struct {
	errOut io.Writer

	mu     sync.Mutex
	logger zerolog.Logger
	errors []domain.ErrorCode
}

func newLogSink(errOut io.Writer) *logSink {
	return &logSink{errOut: errOut, logger: zerolog.Nop()}
}

func (s *logSink) setLogger(logger zerolog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger.With().Str("component", "cli").Logger()
}

func (s *logSink) log() *zerolog.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	logger := s.logger
	return &logger
}

func (s *logSink) RecordingStateChanged(state domain.RecordingState) {
	s.log().Info().Str("state", string(state)).Msg("recording state")
}

func (s *logSink) AudioLevel(level float64) {
	s.log().Trace().Float64("level", level).Msg("audio level")
}

func (s *logSink) LoadingChanged(loading bool) {
	s.log().Debug().Bool("loading", loading).Msg("loading")
}

func (s *logSink) ConversationUpdated(view domain.ConversationView) {
	s.log().Debug().
		Int("id", view.Conversation.ID).
		Str("stage", view.Conversation.Stage).
		Int("messages", len(view.Conversation.Messages)).
		Msg("conversation updated")
}

func (s *logSink) ConversationsChanged(list []domain.Conversation) {
	s.log().Debug().Int("count", len(list)).Msg("conversations changed")
}

func (s *logSink) DraftTranscript(text string) {
	s.log().Debug().Int("chars", len(text)).Msg("draft updated")
}

func (s *logSink) FeedbackChanged(html string) {
	s.log().Debug().Int("chars", len(html)).Msg("feedback changed")
}

func (s *logSink) PlaybackChanged(playing bool, rate float64) {
	s.log().Info().Bool("playing", playing).Float64("rate", rate).Msg("playback")
}

func (s *logSink) VoicesChanged(voices []string) {
	s.log().Debug().Strs("voices", voices).Msg("voices changed")
}

func (s *logSink) SessionError(code domain.ErrorCode, detail string) {
	s.mu.Lock()
	s.errors = append(s.errors, code)
	s.mu.Unlock()
	fmt.Fprintf(s.errOut, "error [%s]: %s\n", code, detail)
}

func (s *logSink) errorCodes() []domain.ErrorCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ErrorCode(nil), s.errors...)
}
