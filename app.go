package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"voxareflect/internal/bootstrap"
	"voxareflect/internal/domain"
	"voxareflect/internal/usecase"
)

const (
	eventRecording     = "voxareflect:recording"
	eventLevel         = "voxareflect:level"
	eventLoading       = "voxareflect:loading"
	eventConversation  = "voxareflect:conversation"
	eventConversations = "voxareflect:conversations"
	eventDraft         = "voxareflect:draft"
	eventFeedback      = "voxareflect:feedback"
	eventPlayback      = "voxareflect:playback"
	eventVoices        = "voxareflect:voices"
	eventError         = "voxareflect:error"
)

type emitFunc func(ctx context.Context, name string, data ...interface{})

// App is the Wails application root.
type App struct {
	ctx  context.Context
	emit emitFunc

	services bootstrap.Services
	coach    *usecase.Coach
	bootErr  error
}

func NewApp() *App {
	return &App{emit: runtime.EventsEmit}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	player := newWebviewPlayer(func(name string, data interface{}) { a.send(name, data) })
	runtime.EventsOn(ctx, eventAudioEnded, player.handleEnded)

	services, err := bootstrap.Build(bootstrap.Options{Events: a, Player: player})
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}
	a.services = services
	a.coach = services.Coach

	go func() {
		if err := services.ServeMetrics(ctx); err != nil {
			services.Logger.Warn().Err(err).Msg("metrics endpoint stopped")
		}
	}()
	a.RecordingStateChanged(domain.RecordingStateInactive)
}

func (a *App) shutdown(_ context.Context) {
	if a.coach == nil {
		return
	}
	if err := a.services.Close(); err != nil {
		a.services.Logger.Warn().Err(err).Msg("shutdown incomplete")
	}
}

// Login starts a session and returns the user's conversations, newest first.
func (a *App) Login(username string, language string, studyGroup string, mic bool, avatar bool) ([]domain.Conversation, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	return a.coach.Login(a.ctx, usecase.Session{
		Username:   username,
		Language:   language,
		StudyGroup: studyGroup,
		Mic:        mic,
		Avatar:     avatar,
	})
}

// DefaultSession returns the session prefilled from configuration.
func (a *App) DefaultSession() usecase.Session {
	if a.coach == nil {
		return usecase.Session{Language: "en"}
	}
	return a.services.Session()
}

func (a *App) LoadVoices() ([]string, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	return a.coach.LoadVoices(a.ctx), nil
}

func (a *App) NewConversation() (domain.ConversationView, error) {
	if err := a.requireReady(); err != nil {
		return domain.ConversationView{}, err
	}
	return a.coach.NewConversation(), nil
}

func (a *App) SelectConversation(id int) (domain.ConversationView, error) {
	if err := a.requireReady(); err != nil {
		return domain.ConversationView{}, err
	}
	return a.coach.SelectConversation(id)
}

// SetDraft stores the editor text for the next feedback request.
func (a *App) SetDraft(text string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.coach.SetDraft(text)
	return nil
}

func (a *App) SendMessage(text string) (domain.ConversationView, error) {
	if err := a.requireReady(); err != nil {
		return domain.ConversationView{}, err
	}
	return a.coach.SendMessage(a.ctx, text)
}

// RequestFeedback sends the editor draft for review.
func (a *App) RequestFeedback() (domain.ConversationView, error) {
	if err := a.requireReady(); err != nil {
		return domain.ConversationView{}, err
	}
	return a.coach.RequestFeedback(a.ctx)
}

// StartRecording opens the microphone for the chat or the editor.
func (a *App) StartRecording(target string) (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.coach.StartRecording(a.ctx, domain.Target(target)); err != nil {
		return domain.Status{}, err
	}
	return a.coach.Status(), nil
}

// StopRecording finishes the capture and delivers it to its target.
func (a *App) StopRecording(target string) (usecase.StopResult, error) {
	if err := a.requireReady(); err != nil {
		return usecase.StopResult{}, err
	}
	result, err := a.coach.StopRecording(a.ctx, domain.Target(target))
	if errors.Is(err, domain.ErrJobCancelled) {
		return usecase.StopResult{}, nil
	}
	return result, err
}

func (a *App) SetTurnPreset(preset string) (domain.ConversationView, error) {
	if err := a.requireReady(); err != nil {
		return domain.ConversationView{}, err
	}
	return a.coach.SetTurnPreset(a.ctx, preset)
}

func (a *App) SetStylePreset(preset string) (domain.TTSSettings, error) {
	if err := a.requireReady(); err != nil {
		return domain.TTSSettings{}, err
	}
	return a.coach.SetStylePreset(preset)
}

func (a *App) SetVoice(voice string) (domain.TTSSettings, error) {
	if err := a.requireReady(); err != nil {
		return domain.TTSSettings{}, err
	}
	return a.coach.SetVoice(voice)
}

// SetVoiceOutput switches between "text" and "voice" replies.
func (a *App) SetVoiceOutput(output string) (string, error) {
	if err := a.requireReady(); err != nil {
		return "", err
	}
	return string(a.coach.SetVoiceOutput(output)), nil
}

// SetPlaybackRate returns the rate actually applied after clamping.
func (a *App) SetPlaybackRate(rate float64) (float64, error) {
	if err := a.requireReady(); err != nil {
		return 0, err
	}
	return a.coach.SetPlaybackRate(rate), nil
}

func (a *App) StopPlayback() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.coach.StopPlayback()
	return nil
}

// GetStatus returns the current recording, loading and playback status.
func (a *App) GetStatus() domain.Status {
	if a.coach == nil {
		if a.bootErr != nil {
			return domain.Status{Recording: domain.RecordingStateInactive, Message: a.bootErr.Error()}
		}
		return domain.Status{Recording: domain.RecordingStateInactive}
	}
	return a.coach.Status()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}
	if a.coach == nil {
		return map[string]string{}
	}

	cfg := a.services.Config
	return map[string]string{
		"server":       cfg.Server.BaseURL,
		"language":     cfg.Session.Language,
		"studyGroup":   cfg.Session.StudyGroup,
		"audioInput":   cfg.Audio.InputDevice,
		"voiceOutput":  cfg.Playback.Output,
		"playbackRate": strconv.FormatFloat(cfg.Playback.DefaultRate, 'f', 2, 64),
		"configFile":   cfg.Path,
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.coach == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

func (a *App) language() string {
	if a.coach == nil {
		return "en"
	}
	return a.coach.Session().Language
}

func (a *App) send(name string, data interface{}) {
	if a.ctx == nil || a.emit == nil {
		return
	}
	a.emit(a.ctx, name, data)
}

// RecordingStateChanged emits capture lifecycle updates to the frontend.
func (a *App) RecordingStateChanged(state domain.RecordingState) {
	a.send(eventRecording, map[string]string{
		"state":   string(state),
		"message": recordingStateMessage(state, a.language()),
	})
}

// AudioLevel emits the live microphone level in [0, 1].
func (a *App) AudioLevel(level float64) {
	a.send(eventLevel, level)
}

func (a *App) LoadingChanged(loading bool) {
	a.send(eventLoading, loading)
}

func (a *App) ConversationUpdated(view domain.ConversationView) {
	a.send(eventConversation, view)
}

func (a *App) ConversationsChanged(list []domain.Conversation) {
	a.send(eventConversations, list)
}

// DraftTranscript emits the editor text after dictation was appended.
func (a *App) DraftTranscript(text string) {
	a.send(eventDraft, map[string]string{"text": text})
}

func (a *App) FeedbackChanged(html string) {
	a.send(eventFeedback, map[string]string{"html": html})
}

func (a *App) PlaybackChanged(playing bool, rate float64) {
	a.send(eventPlayback, map[string]interface{}{"playing": playing, "rate": rate})
}

func (a *App) VoicesChanged(voices []string) {
	a.send(eventVoices, voices)
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	a.send(eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail, a.language()),
		"detail":  detail,
	})
}

func recordingStateMessage(state domain.RecordingState, language string) string {
	de := language == "de"
	switch state {
	case domain.RecordingStateInactive:
		if de {
			return "Mikrofon aus"
		}
		return "Microphone off"
	case domain.RecordingStateRecordingChat:
		if de {
			return "Aufnahme für den Chat"
		}
		return "Recording for chat"
	case domain.RecordingStateRecordingEditor:
		if de {
			return "Diktat läuft"
		}
		return "Dictating into the editor"
	default:
		return ""
	}
}

var errorMessages = map[string]map[domain.ErrorCode]string{
	"en": {
		domain.ErrorCodeStartup:             "Startup failed",
		domain.ErrorCodePermissionDenied:    "Microphone access was denied",
		domain.ErrorCodeCaptureUnsupported:  "Audio recording is not supported on this system",
		domain.ErrorCodeDeviceNotReady:      "Microphone is not ready",
		domain.ErrorCodeEmptyRecording:      "No audio was recorded",
		domain.ErrorCodeTranscriptionFailed: "Transcription failed",
		domain.ErrorCodeTransport:           "Could not reach the server",
		domain.ErrorCodeJobTimeout:          "The server took too long to answer",
		domain.ErrorCodeJobFailed:           "Voice message could not be processed",
		domain.ErrorCodeServerRejected:      "The server rejected the request",
		domain.ErrorCodeMalformedResponse:   "The server sent an unexpected answer",
		domain.ErrorCodeAudioStop:           "Audio stop issue",
		domain.ErrorCodePlayback:            "Audio playback failed",
		domain.ErrorCodeInvalidInput:        "Invalid input",
	},
	"de": {
		domain.ErrorCodeStartup:             "Start fehlgeschlagen",
		domain.ErrorCodePermissionDenied:    "Zugriff auf das Mikrofon verweigert",
		domain.ErrorCodeCaptureUnsupported:  "Audioaufnahme wird auf diesem System nicht unterstützt",
		domain.ErrorCodeDeviceNotReady:      "Mikrofon ist nicht bereit",
		domain.ErrorCodeEmptyRecording:      "Es wurde kein Ton aufgenommen",
		domain.ErrorCodeTranscriptionFailed: "Transkription fehlgeschlagen",
		domain.ErrorCodeTransport:           "Server nicht erreichbar",
		domain.ErrorCodeJobTimeout:          "Der Server hat zu lange gebraucht",
		domain.ErrorCodeJobFailed:           "Sprachnachricht konnte nicht verarbeitet werden",
		domain.ErrorCodeServerRejected:      "Der Server hat die Anfrage abgelehnt",
		domain.ErrorCodeMalformedResponse:   "Unerwartete Antwort vom Server",
		domain.ErrorCodeAudioStop:           "Problem beim Beenden der Aufnahme",
		domain.ErrorCodePlayback:            "Audiowiedergabe fehlgeschlagen",
		domain.ErrorCodeInvalidInput:        "Ungültige Eingabe",
	},
}

// errorMessage localizes a code. Job failures prefer the server's reason.
func errorMessage(code domain.ErrorCode, detail string, language string) string {
	if code == domain.ErrorCodeJobFailed && detail != "" {
		return detail
	}
	table, ok := errorMessages[language]
	if !ok {
		table = errorMessages["en"]
	}
	if msg, ok := table[code]; ok {
		return msg
	}
	if detail != "" {
		return detail
	}
	if language == "de" {
		return "Unbekannter Fehler"
	}
	return "Unknown error"
}
