package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"voxareflect/internal/conversation"
	"voxareflect/internal/domain"
	"voxareflect/internal/ports"
)

// noConversationID is sent when no conversation is selected.
const noConversationID = -1

// Session identifies the signed-in writer.
type Session struct {
	Username   string `json:"username"`
	Language   string `json:"language"`
	StudyGroup string `json:"studyGroup"`
	Mic        bool   `json:"mic"`
	Avatar     bool   `json:"avatar"`
}

// StopResult is what a finished recording produced.
type StopResult struct {
	Target     domain.Target           `json:"target"`
	View       domain.ConversationView `json:"view"`
	Transcript string                  `json:"transcript,omitempty"`
	Draft      string                  `json:"draft,omitempty"`
}

// CoachDeps are the collaborators of a Coach.
type CoachDeps struct {
	Backend  ports.ConversationBackend
	Machine  *conversation.Machine
	Capture  *CaptureController
	Jobs     *VoiceJobOrchestrator
	Playback *PlaybackController
	Events   ports.EventSink
	Logger   zerolog.Logger
}

type stopHandler func(ctx context.Context, rec domain.Recording) (StopResult, error)

// Coach ties recording, voice jobs, conversation folding and playback into
// the ordered interaction of one session.
type Coach struct {
	backend  ports.ConversationBackend
	machine  *conversation.Machine
	capture  *CaptureController
	jobs     *VoiceJobOrchestrator
	playback *PlaybackController
	events   ports.EventSink
	logger   zerolog.Logger
	handlers map[domain.Target]stopHandler

	mu       sync.Mutex
	session  Session
	draft    string
	feedback string
	inFlight bool
}

func NewCoach(deps CoachDeps) *Coach {
	c := &Coach{
		backend:  deps.Backend,
		machine:  deps.Machine,
		capture:  deps.Capture,
		jobs:     deps.Jobs,
		playback: deps.Playback,
		events:   deps.Events,
		logger:   deps.Logger.With().Str("component", "coach").Logger(),
	}
	c.handlers = map[domain.Target]stopHandler{
		domain.TargetChat:   c.finishChatRecording,
		domain.TargetEditor: c.finishDictation,
	}
	return c
}

// Login stores the session and loads its conversations.
func (c *Coach) Login(ctx context.Context, session Session) ([]domain.Conversation, error) {
	session.Username = strings.TrimSpace(session.Username)
	if session.Username == "" {
		return nil, c.fail(fmt.Errorf("%w: username is required", domain.ErrInvalidSetting))
	}
	if session.Language == "" {
		session.Language = "en"
	}

	c.events.LoadingChanged(true)
	defer c.events.LoadingChanged(false)

	list, err := c.backend.GetConversations(ctx, session.Username, session.Language)
	if err != nil {
		return nil, c.fail(err)
	}

	c.mu.Lock()
	c.session = session
	c.draft = ""
	c.feedback = ""
	c.mu.Unlock()

	c.machine.SetSession(session.Language, session.StudyGroup)
	list = c.machine.Load(list)
	c.events.ConversationsChanged(list)
	c.logger.Info().Str("username", session.Username).Int("conversations", len(list)).Msg("session started")
	return list, nil
}

func (c *Coach) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// LoadVoices fetches the advertised voices. On failure the current list stays.
func (c *Coach) LoadVoices(ctx context.Context) []string {
	voices, err := c.backend.TTSConfig(ctx)
	if err != nil {
		c.logger.Debug().Err(err).Msg("tts config unavailable, keeping default voices")
		return c.machine.Settings().AllowedVoices()
	}
	c.applyVoices(voices)
	return c.machine.Settings().AllowedVoices()
}

// NewConversation starts a provisional conversation and clears the draft.
func (c *Coach) NewConversation() domain.ConversationView {
	view, created := c.machine.NewConversation()
	if created {
		c.mu.Lock()
		c.draft = ""
		c.feedback = ""
		c.mu.Unlock()
		c.events.FeedbackChanged("")
	}
	c.events.ConversationsChanged(c.machine.Conversations())
	c.events.ConversationUpdated(view)
	return view
}

// SelectConversation resumes a past conversation and loads its draft.
func (c *Coach) SelectConversation(id int) (domain.ConversationView, error) {
	view, err := c.machine.Select(id)
	if err != nil {
		return domain.ConversationView{}, c.fail(err)
	}
	c.mu.Lock()
	c.draft = view.Conversation.Text
	c.feedback = ""
	c.mu.Unlock()
	c.events.FeedbackChanged("")
	c.events.ConversationUpdated(view)
	return view, nil
}

func (c *Coach) SetDraft(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft = text
}

func (c *Coach) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

func (c *Coach) Feedback() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.feedback
}

// SendMessage posts a typed message and folds the reply.
func (c *Coach) SendMessage(ctx context.Context, text string) (domain.ConversationView, error) {
	if strings.TrimSpace(text) == "" {
		return domain.ConversationView{}, c.fail(domain.ErrEmptyMessage)
	}
	release, err := c.begin()
	if err != nil {
		return domain.ConversationView{}, c.fail(err)
	}
	defer release()

	meta, baseID := c.chatContext()
	reply, err := c.backend.NewChat(ctx, ports.ChatRequest{ChatContext: meta, NewMessage: text})
	if err != nil {
		return domain.ConversationView{}, c.fail(err)
	}
	return c.complete(ctx, baseID, reply, text, release), nil
}

// RequestFeedback asks the coach to review the draft and records the exchange
// in the selected conversation.
func (c *Coach) RequestFeedback(ctx context.Context) (domain.ConversationView, error) {
	conv, ok := c.machine.Selected()
	if !ok {
		return domain.ConversationView{}, c.fail(domain.ErrNoConversation)
	}
	draft := c.Draft()
	if strings.TrimSpace(draft) == "" {
		return domain.ConversationView{}, c.fail(domain.ErrEmptyMessage)
	}
	release, err := c.begin()
	if err != nil {
		return domain.ConversationView{}, c.fail(err)
	}
	defer release()

	session := c.Session()
	review, err := c.backend.ReviewDraft(ctx, ports.ReviewRequest{
		Username:       session.Username,
		Text:           draft,
		Stage:          conv.Stage,
		ConversationID: conv.ID,
		StudyGroup:     session.StudyGroup,
		Language:       session.Language,
	})
	if err != nil {
		return domain.ConversationView{}, c.fail(err)
	}

	html := strings.ReplaceAll(review.Result, "\n", "<br />")
	c.mu.Lock()
	c.feedback = html
	c.mu.Unlock()
	c.events.FeedbackChanged(html)

	userMsg, systemMsg := conversation.FeedbackMessages(session.Language, draft, review.Result)
	reply, err := c.backend.AddChatToConversation(ctx, ports.FeedbackRequest{
		Username:         session.Username,
		ConversationID:   conv.ID,
		NewMessageUser:   userMsg,
		NewMessageSystem: systemMsg,
		Buttons:          review.Buttons,
		Language:         session.Language,
	})
	if err != nil {
		return domain.ConversationView{}, c.fail(err)
	}
	if reply.Title == "" && review.NewTitle != "" {
		reply.Title = review.NewTitle
	}
	return c.complete(ctx, conv.ID, reply, userMsg, release), nil
}

// StartRecording opens the microphone if needed and records for target.
func (c *Coach) StartRecording(ctx context.Context, target domain.Target) error {
	if err := c.capture.RequestAccess(ctx); err != nil {
		return c.fail(err)
	}
	if err := c.capture.StartRecording(target); err != nil {
		return c.fail(err)
	}
	return nil
}

// StopRecording finishes the recording for target and delivers it: chat
// recordings become voice jobs, editor recordings are dictated into the draft.
func (c *Coach) StopRecording(ctx context.Context, target domain.Target) (StopResult, error) {
	handler, ok := c.handlers[target]
	if !ok {
		return StopResult{}, c.fail(fmt.Errorf("%w: recording target %q", domain.ErrInvalidSetting, target))
	}
	rec, err := c.capture.StopRecording(target)
	if err != nil {
		return StopResult{}, c.fail(err)
	}
	return handler(ctx, rec)
}

func (c *Coach) finishChatRecording(ctx context.Context, rec domain.Recording) (StopResult, error) {
	release, err := c.begin()
	if err != nil {
		return StopResult{}, c.fail(err)
	}
	defer release()

	meta, baseID := c.chatContext()
	reply, err := c.jobs.Run(ctx, rec, meta)
	if err != nil {
		if errors.Is(err, domain.ErrJobCancelled) {
			return StopResult{}, err
		}
		return StopResult{}, c.fail(err)
	}
	view := c.complete(ctx, baseID, reply, "", release)
	return StopResult{Target: rec.Target, View: view, Transcript: conversation.UserText(reply, "")}, nil
}

func (c *Coach) finishDictation(ctx context.Context, rec domain.Recording) (StopResult, error) {
	c.events.LoadingChanged(true)
	defer c.events.LoadingChanged(false)

	text, err := c.jobs.Transcribe(ctx, rec, c.Session().Language)
	if err != nil {
		if errors.Is(err, domain.ErrJobCancelled) {
			return StopResult{}, err
		}
		return StopResult{}, c.fail(err)
	}

	c.mu.Lock()
	c.draft = appendDictation(c.draft, text)
	draft := c.draft
	c.mu.Unlock()
	c.events.DraftTranscript(draft)

	result := StopResult{Target: rec.Target, Transcript: text, Draft: draft}
	if conv, ok := c.machine.Selected(); ok {
		if view, err := c.machine.View(conv.ID); err == nil {
			view.WordCount = len(strings.Fields(draft))
			result.View = view
		}
	}
	return result, nil
}

func appendDictation(draft string, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return draft
	}
	if draft == "" {
		return text
	}
	return draft + " " + text
}

// SetTurnPreset changes the selected conversation's preset locally, then
// confirms it with the backend. A failed confirmation is only logged.
func (c *Coach) SetTurnPreset(ctx context.Context, raw string) (domain.ConversationView, error) {
	conv, ok := c.machine.Selected()
	if !ok {
		return domain.ConversationView{}, c.fail(domain.ErrNoConversation)
	}
	view, err := c.machine.SetTurnPreset(conv.ID, raw)
	if err != nil {
		return domain.ConversationView{}, c.fail(err)
	}
	c.events.ConversationUpdated(view)

	if err := c.backend.UpdateTurnPreset(ctx, c.Session().Username, conv.ID, view.TurnPreset); err != nil {
		c.logger.Warn().Err(err).Int("conversation_id", conv.ID).Str("turn_preset", string(view.TurnPreset)).
			Msg("turn preset not confirmed by backend")
	}
	return view, nil
}

func (c *Coach) SetStylePreset(raw string) (domain.TTSSettings, error) {
	id := c.selectedID()
	settings, err := c.machine.Settings().SetStyle(id, raw)
	if err != nil {
		return domain.TTSSettings{}, c.fail(err)
	}
	c.emitSelected()
	return settings, nil
}

func (c *Coach) SetVoice(voice string) (domain.TTSSettings, error) {
	id := c.selectedID()
	settings, err := c.machine.Settings().SetVoice(id, voice)
	if err != nil {
		return domain.TTSSettings{}, c.fail(err)
	}
	c.emitSelected()
	return settings, nil
}

func (c *Coach) SetVoiceOutput(raw string) domain.VoiceOutput {
	output := domain.ParseVoiceOutput(raw)
	c.playback.SetVoiceOutput(output)
	return output
}

func (c *Coach) SetPlaybackRate(rate float64) float64 {
	return c.playback.SetRate(rate)
}

func (c *Coach) StopPlayback() {
	c.playback.Stop()
}

// Status summarizes recording, loading and playback state.
func (c *Coach) Status() domain.Status {
	c.mu.Lock()
	loading := c.inFlight
	c.mu.Unlock()
	return domain.Status{
		Recording: c.capture.State(),
		Loading:   loading,
		Playing:   c.playback.Playing(),
	}
}

// Close cancels outstanding jobs, stops playback and releases the microphone.
func (c *Coach) Close() error {
	errs := []error{c.jobs.Close(), c.playback.Close(), c.capture.Close()}
	return errors.Join(errs...)
}

// complete applies a reply to the state machine and publishes the result.
// Playback starts only after the view is updated and loading has cleared.
func (c *Coach) complete(ctx context.Context, baseID int, reply domain.Reply, sent string, release func()) domain.ConversationView {
	view := c.machine.ApplyReply(baseID, reply, sent)
	c.events.ConversationUpdated(view)
	c.events.ConversationsChanged(c.machine.Conversations())
	release()

	if reply.TTS != nil {
		if len(reply.TTS.AllowedVoices) > 0 {
			c.applyVoices(reply.TTS.AllowedVoices)
		}
		if err := c.playback.HandleTTS(ctx, reply.TTS); err != nil {
			c.logger.Warn().Err(err).Msg("reply audio not played")
			c.events.SessionError(domain.CodeOf(err), err.Error())
		}
	}
	return view
}

func (c *Coach) applyVoices(raw []string) {
	voices, changed := c.machine.Settings().ApplyAllowedVoices(raw)
	if !changed {
		return
	}
	c.events.VoicesChanged(voices)
	c.emitSelected()
}

func (c *Coach) emitSelected() {
	conv, ok := c.machine.Selected()
	if !ok {
		return
	}
	if view, err := c.machine.View(conv.ID); err == nil {
		c.events.ConversationUpdated(view)
	}
}

func (c *Coach) selectedID() int {
	if conv, ok := c.machine.Selected(); ok {
		return conv.ID
	}
	return noConversationID
}

// chatContext builds the envelope for the selected conversation and returns
// the id replies should be folded into.
func (c *Coach) chatContext() (ports.ChatContext, int) {
	c.mu.Lock()
	session := c.session
	draft := c.draft
	c.mu.Unlock()

	id := c.selectedID()
	settings := c.machine.Settings()
	tts := settings.TTS(id)
	return ports.ChatContext{
		Username:       session.Username,
		ConversationID: id,
		CurrentText:    draft,
		StudyGroup:     session.StudyGroup,
		Language:       session.Language,
		Mic:            flag(session.Mic),
		Avatar:         flag(session.Avatar),
		StylePreset:    string(tts.StylePreset),
		TTSVoice:       tts.Voice,
		TurnPreset:     string(settings.TurnPreset(id)),
	}, id
}

// begin claims the single request slot and raises the loading indicator.
func (c *Coach) begin() (func(), error) {
	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return nil, domain.ErrRequestInFlight
	}
	c.inFlight = true
	c.mu.Unlock()
	c.events.LoadingChanged(true)

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.inFlight = false
			c.mu.Unlock()
			c.events.LoadingChanged(false)
		})
	}, nil
}

func (c *Coach) fail(err error) error {
	c.events.SessionError(domain.CodeOf(err), err.Error())
	return err
}

func flag(on bool) string {
	if on {
		return "1"
	}
	return "0"
}
