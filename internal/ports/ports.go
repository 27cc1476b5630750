package ports

import (
	"context"
	"io"
	"time"

	"voxareflect/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live capture session.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// AudioTap is an independent reader on a live stream. Close releases it.
type AudioTap interface {
	io.ReadCloser
}

// LiveStream is a granted microphone stream shared by independent taps.
// Done is closed once the underlying capture has ended; Err then reports why.
type LiveStream interface {
	Tap() (AudioTap, error)
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Microphone grants access to a live input stream.
type Microphone interface {
	RequestAccess(ctx context.Context, cfg AudioConfig) (LiveStream, error)
}

// ChatContext is the envelope carried by chat requests and voice-job uploads.
type ChatContext struct {
	Username       string `json:"username"`
	ConversationID int    `json:"conversationID"`
	CurrentText    string `json:"currentText"`
	StudyGroup     string `json:"studyGroup"`
	Language       string `json:"language"`
	Mic            string `json:"mic"`
	Avatar         string `json:"avatar"`
	StylePreset    string `json:"stylePreset"`
	TTSVoice       string `json:"ttsVoice"`
	TurnPreset     string `json:"turnPreset"`
}

// ChatRequest is the newChat body.
type ChatRequest struct {
	ChatContext
	NewMessage string `json:"newMessage"`
}

// FeedbackRequest is the addChatToConversation body.
type FeedbackRequest struct {
	Username         string   `json:"username"`
	ConversationID   int      `json:"conversationID"`
	NewMessageUser   string   `json:"newMessageUser"`
	NewMessageSystem string   `json:"newMessageSystem"`
	Buttons          []string `json:"buttons"`
	Language         string   `json:"language"`
}

// ReviewRequest is the getFeedbackOnReflection body.
type ReviewRequest struct {
	Username       string `json:"username"`
	Text           string `json:"text"`
	Stage          string `json:"stage"`
	ConversationID int    `json:"conversationID"`
	StudyGroup     string `json:"studyGroup"`
	Language       string `json:"language"`
}

// Review is the coach's assessment of a draft.
type Review struct {
	Result     string
	Buttons    []string
	NewTitle   string
	IsFinished bool
}

// ConversationBackend covers the conversation endpoints.
type ConversationBackend interface {
	GetConversations(ctx context.Context, username string, language string) ([]domain.Conversation, error)
	NewChat(ctx context.Context, req ChatRequest) (domain.Reply, error)
	ReviewDraft(ctx context.Context, req ReviewRequest) (Review, error)
	AddChatToConversation(ctx context.Context, req FeedbackRequest) (domain.Reply, error)
	UpdateTurnPreset(ctx context.Context, username string, conversationID int, preset domain.TurnPreset) error
	TTSConfig(ctx context.Context) ([]string, error)
}

// VoiceBackend covers audio upload and job polling.
type VoiceBackend interface {
	Transcribe(ctx context.Context, audio []byte, language string) (string, error)
	SubmitVoiceJob(ctx context.Context, audio []byte, meta ChatContext) (string, error)
	VoiceJobStatus(ctx context.Context, jobID string) (domain.JobReport, error)
}

// Backend is the full HTTP contract.
type Backend interface {
	ConversationBackend
	VoiceBackend
	ResolveURL(ref string) string
}

// Playback is a handle on one playing clip.
type Playback interface {
	SetRate(rate float64) error
	// Stop pauses, rewinds and releases the clip. It is idempotent.
	Stop() error
	// Done is closed when the clip ends, errors or is stopped.
	Done() <-chan struct{}
	Err() error
}

// AudioPlayer starts clip playback.
type AudioPlayer interface {
	Play(ctx context.Context, url string, rate float64) (Playback, error)
}

// JobObserver receives voice-job lifecycle measurements.
type JobObserver interface {
	JobSubmitted()
	JobPolled(status domain.JobStatus)
	JobFinished(outcome string, elapsed time.Duration)
}

// CaptureObserver receives recording measurements.
type CaptureObserver interface {
	RecordingFinished(target domain.Target, outcome string, size int)
}

// PlaybackObserver receives playback measurements.
type PlaybackObserver interface {
	PlaybackStarted()
	PlaybackFinished(outcome string)
}

// EventSink emits backend state/events to the UI.
type EventSink interface {
	RecordingStateChanged(state domain.RecordingState)
	AudioLevel(level float64)
	LoadingChanged(loading bool)
	ConversationUpdated(view domain.ConversationView)
	ConversationsChanged(list []domain.Conversation)
	DraftTranscript(text string)
	FeedbackChanged(html string)
	PlaybackChanged(playing bool, rate float64)
	VoicesChanged(voices []string)
	SessionError(code domain.ErrorCode, detail string)
}
