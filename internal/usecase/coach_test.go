package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"voxareflect/internal/conversation"
	"voxareflect/internal/domain"
	"voxareflect/internal/ports"
)

type coachHarness struct {
	coach    *Coach
	backend  *fakeConversationBackend
	voice    *fakeVoiceBackend
	mic      *fakeMicrophone
	player   *fakePlayer
	events   *fakeEventSink
	playback *PlaybackController
}

func newCoachHarness(t *testing.T) *coachHarness {
	t.Helper()

	h := &coachHarness{
		backend: &fakeConversationBackend{conversations: []domain.Conversation{
			{ID: 3, Title: "Internship", Messages: []domain.Message{}},
			{ID: 7, Title: "Lab report", Text: "First draft", Stage: "Feelings", Messages: []domain.Message{
				{Sender: domain.SenderSystem, Content: "What happened?"},
			}},
			{ID: 5, Title: "Exam", Messages: []domain.Message{}},
		}},
		voice:  &fakeVoiceBackend{},
		mic:    &fakeMicrophone{chunks: [][]byte{{1, 0, 2, 0}}},
		player: &fakePlayer{},
		events: &fakeEventSink{},
	}

	logger := zerolog.Nop()
	jobs := NewVoiceJobOrchestrator(h.voice, nil, logger, JobConfig{})
	jobs.wait = noWait
	h.playback = NewPlaybackController(h.player, nil, h.events, nil, logger, PlaybackConfig{})
	h.coach = NewCoach(CoachDeps{
		Backend:  h.backend,
		Machine:  conversation.NewMachine(conversation.Options{}),
		Capture:  NewCaptureController(h.mic, h.events, nil, logger, CaptureConfig{}),
		Jobs:     jobs,
		Playback: h.playback,
		Events:   h.events,
		Logger:   logger,
	})
	t.Cleanup(func() { _ = h.coach.Close() })

	if _, err := h.coach.Login(context.Background(), Session{Username: "ana", Language: "en", StudyGroup: "1", Mic: true}); err != nil {
		t.Fatalf("login: %v", err)
	}
	return h
}

func TestCoachLoginSortsConversations(t *testing.T) {
	t.Parallel()

	h := newCoachHarness(t)
	list := h.coach.machine.Conversations()
	if len(list) != 3 || list[0].ID != 7 || list[1].ID != 5 || list[2].ID != 3 {
		t.Fatalf("expected conversations sorted by id desc, got %+v", list)
	}
	if _, err := h.coach.Login(context.Background(), Session{}); !errors.Is(err, domain.ErrInvalidSetting) {
		t.Fatalf("expected missing username to be rejected, got %v", err)
	}
}

func TestCoachSendMessageFoldsReplyAndPlaysSpeech(t *testing.T) {
	t.Parallel()

	h := newCoachHarness(t)
	h.coach.SetVoiceOutput("voice")
	h.backend.chatReply = domain.Reply{
		ID: 7, Title: "Lab report", Text: "First draft", Stage: "Evaluation", Result: "How did you feel?",
		TurnPreset: "long",
		TTS:        &domain.TTSPayload{Enabled: true, AudioURL: "tts/7.mp3", AllowedVoices: []string{"verse", "alloy"}},
	}

	if _, err := h.coach.SelectConversation(7); err != nil {
		t.Fatalf("select: %v", err)
	}
	if h.coach.Draft() != "First draft" {
		t.Fatalf("expected draft from conversation, got %q", h.coach.Draft())
	}

	view, err := h.coach.SendMessage(context.Background(), "I was nervous")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	msgs := view.Conversation.Messages
	if len(msgs) != 3 || msgs[1].Content != "I was nervous" || msgs[2].Content != "How did you feel?" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
	if view.TurnPreset != domain.TurnPresetLong {
		t.Fatalf("expected preset from reply, got %s", view.TurnPreset)
	}

	req := h.backend.chats[0]
	if req.ConversationID != 7 || req.Username != "ana" || req.Mic != "1" || req.Avatar != "0" ||
		req.CurrentText != "First draft" || req.StudyGroup != "1" || req.TurnPreset != "standard" {
		t.Fatalf("unexpected chat envelope: %+v", req)
	}
	if len(h.player.snapshotClips()) != 1 {
		t.Fatalf("expected reply audio to play")
	}
	if voices := h.events.snapshotVoices(); len(voices) != 1 || voices[0][0] != "verse" {
		t.Fatalf("expected allowed voices from reply, got %v", voices)
	}
	loading := h.events.snapshotLoading()
	if len(loading) == 0 || loading[len(loading)-1] {
		t.Fatalf("expected loading to end false, got %v", loading)
	}
	if list := h.coach.machine.Conversations(); list[0].ID != 7 {
		t.Fatalf("expected conversation 7 first, got %d", list[0].ID)
	}
}

func TestCoachSendWithoutSelectionUsesNoConversationID(t *testing.T) {
	t.Parallel()

	h := newCoachHarness(t)
	h.backend.chatReply = domain.Reply{ID: 12, Result: "Welcome"}

	if _, err := h.coach.SendMessage(context.Background(), "hi"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := h.backend.chats[0].ConversationID; got != -1 {
		t.Fatalf("expected conversationID -1, got %d", got)
	}
	if conv, ok := h.coach.machine.Selected(); !ok || conv.ID != 12 {
		t.Fatalf("expected new conversation 12 selected")
	}
}

func TestCoachSendRejectsEmptyAndReportsErrors(t *testing.T) {
	t.Parallel()

	h := newCoachHarness(t)
	if _, err := h.coach.SendMessage(context.Background(), "   "); !errors.Is(err, domain.ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if len(h.backend.chats) != 0 {
		t.Fatalf("expected no request for empty message")
	}

	h.backend.chatErr = domain.ErrTransport
	if _, err := h.coach.SendMessage(context.Background(), "hello"); !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	errs := h.events.snapshotErrors()
	if len(errs) != 2 || errs[0].code != domain.ErrorCodeInvalidInput || errs[1].code != domain.ErrorCodeTransport {
		t.Fatalf("unexpected error events: %+v", errs)
	}
	if loading := h.events.snapshotLoading(); loading[len(loading)-1] {
		t.Fatalf("expected loading cleared after failure")
	}
	if h.coach.Status().Loading {
		t.Fatalf("expected request slot released after failure")
	}
}

func TestCoachAllowsOneRequestInFlight(t *testing.T) {
	t.Parallel()

	h := newCoachHarness(t)
	gate := make(chan struct{})
	h.backend.mu.Lock()
	h.backend.chatReply = domain.Reply{ID: 12, Result: "Welcome"}
	h.backend.chatGate = gate
	h.backend.chatEntered = make(chan struct{}, 1)
	h.backend.mu.Unlock()

	type sendResult struct {
		view domain.ConversationView
		err  error
	}
	done := make(chan sendResult, 1)
	go func() {
		view, err := h.coach.SendMessage(context.Background(), "first")
		done <- sendResult{view: view, err: err}
	}()

	select {
	case <-h.backend.chatEntered:
	case <-time.After(2 * time.Second):
		t.Fatalf("first request never reached the backend")
	}
	if !h.coach.Status().Loading {
		t.Fatalf("expected loading while the first request is outstanding")
	}

	if _, err := h.coach.SendMessage(context.Background(), "second"); !errors.Is(err, domain.ErrRequestInFlight) {
		t.Fatalf("expected ErrRequestInFlight for concurrent send, got %v", err)
	}
	if err := h.coach.StartRecording(context.Background(), domain.TargetChat); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := h.coach.StopRecording(context.Background(), domain.TargetChat); !errors.Is(err, domain.ErrRequestInFlight) {
		t.Fatalf("expected ErrRequestInFlight for concurrent voice message, got %v", err)
	}
	if h.backend.chatCount() != 1 || h.voice.uploads() != 0 {
		t.Fatalf("rejected requests must not reach the server: %d chats, %d uploads", h.backend.chatCount(), h.voice.uploads())
	}

	close(gate)
	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("first send: %v", res.err)
		}
		if res.view.Conversation.ID != 12 {
			t.Fatalf("expected reply for conversation 12, got %d", res.view.Conversation.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("first request did not finish")
	}

	if h.coach.Status().Loading {
		t.Fatalf("expected loading cleared after the request finished")
	}
	loading := h.events.snapshotLoading()
	if len(loading) == 0 || loading[len(loading)-1] {
		t.Fatalf("expected loading to end false, got %v", loading)
	}
	var on, off int
	for _, l := range loading {
		if l {
			on++
		} else {
			off++
		}
	}
	if on != off {
		t.Fatalf("unbalanced loading events: %v", loading)
	}
	errs := h.events.snapshotErrors()
	if len(errs) != 2 || errs[0].code != domain.CodeOf(domain.ErrRequestInFlight) || errs[1].code != errs[0].code {
		t.Fatalf("expected two in-flight errors, got %+v", errs)
	}

	if _, err := h.coach.SendMessage(context.Background(), "third"); err != nil {
		t.Fatalf("send after release: %v", err)
	}
}

func TestCoachEmptyRecordingNeverUploads(t *testing.T) {
	t.Parallel()

	for _, target := range []domain.Target{domain.TargetChat, domain.TargetEditor} {
		target := target
		t.Run(string(target), func(t *testing.T) {
			t.Parallel()

			h := newCoachHarness(t)
			h.mic.mu.Lock()
			h.mic.chunks = nil
			h.mic.mu.Unlock()
			if _, err := h.coach.SelectConversation(7); err != nil {
				t.Fatalf("select: %v", err)
			}
			loadingBefore := len(h.events.snapshotLoading())

			if err := h.coach.StartRecording(context.Background(), target); err != nil {
				t.Fatalf("start: %v", err)
			}
			if _, err := h.coach.StopRecording(context.Background(), target); !errors.Is(err, domain.ErrEmptyRecording) {
				t.Fatalf("expected ErrEmptyRecording, got %v", err)
			}

			if n := h.voice.uploads(); n != 0 {
				t.Fatalf("expected no upload for an empty recording, got %d", n)
			}
			if n := h.voice.calls(); n != 0 {
				t.Fatalf("expected no job polling, got %d", n)
			}
			errs := h.events.snapshotErrors()
			if len(errs) != 1 || errs[0].code != domain.ErrorCodeEmptyRecording {
				t.Fatalf("expected one empty_recording error, got %+v", errs)
			}
			if got := len(h.events.snapshotLoading()); got != loadingBefore {
				t.Fatalf("empty recording must not toggle loading, got %d new events", got-loadingBefore)
			}
			if h.coach.Status().Recording != domain.RecordingStateInactive {
				t.Fatalf("expected recording inactive, got %s", h.coach.Status().Recording)
			}
		})
	}
}

func TestCoachNewConversationClearsDraft(t *testing.T) {
	t.Parallel()

	h := newCoachHarness(t)
	h.coach.SetDraft("old text")

	first := h.coach.NewConversation()
	second := h.coach.NewConversation()
	if first.Conversation.ID != 8 || second.Conversation.ID != 8 {
		t.Fatalf("expected one provisional conversation 8, got %d and %d", first.Conversation.ID, second.Conversation.ID)
	}
	if h.coach.Draft() != "" {
		t.Fatalf("expected draft cleared, got %q", h.coach.Draft())
	}
	if first.Conversation.Title != "Ongoing Reflection" {
		t.Fatalf("unexpected provisional title %q", first.Conversation.Title)
	}
}

func TestCoachVoiceRecordingRunsJob(t *testing.T) {
	t.Parallel()

	h := newCoachHarness(t)
	spoken := "I felt proud"
	h.voice.reports = []domain.JobReport{
		{Status: domain.JobStatusPending},
		{Status: domain.JobStatusCompleted, Result: &domain.Reply{ID: 7, Result: "Why proud?", UserMessage: &spoken}},
	}
	if _, err := h.coach.SelectConversation(7); err != nil {
		t.Fatalf("select: %v", err)
	}

	if err := h.coach.StartRecording(context.Background(), domain.TargetChat); err != nil {
		t.Fatalf("start: %v", err)
	}
	result, err := h.coach.StopRecording(context.Background(), domain.TargetChat)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if result.Transcript != spoken {
		t.Fatalf("expected transcript %q, got %q", spoken, result.Transcript)
	}
	msgs := result.View.Conversation.Messages
	if msgs[len(msgs)-2].Content != spoken || msgs[len(msgs)-1].Content != "Why proud?" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
	if meta := h.voice.metas[0]; meta.ConversationID != 7 || meta.Username != "ana" {
		t.Fatalf("unexpected job metadata: %+v", meta)
	}
}

func TestCoachVoiceJobFailureIsReported(t *testing.T) {
	t.Parallel()

	h := newCoachHarness(t)
	h.voice.reports = []domain.JobReport{{Status: domain.JobStatusFailed, Error: "Audio too short"}}

	if err := h.coach.StartRecording(context.Background(), domain.TargetChat); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, err := h.coach.StopRecording(context.Background(), domain.TargetChat)
	if !errors.Is(err, domain.ErrJobFailed) {
		t.Fatalf("expected job failure, got %v", err)
	}
	errs := h.events.snapshotErrors()
	if len(errs) != 1 || errs[0].code != domain.ErrorCodeJobFailed || errs[0].detail != "Audio too short" {
		t.Fatalf("unexpected error events: %+v", errs)
	}
	if h.coach.Status().Loading {
		t.Fatalf("expected loading cleared")
	}
}

func TestCoachDictationAppendsToDraft(t *testing.T) {
	t.Parallel()

	h := newCoachHarness(t)
	h.voice.transcript = "I learned a lot."
	h.coach.SetDraft("Today")

	if err := h.coach.StartRecording(context.Background(), domain.TargetEditor); err != nil {
		t.Fatalf("start: %v", err)
	}
	result, err := h.coach.StopRecording(context.Background(), domain.TargetEditor)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if result.Draft != "Today I learned a lot." || h.coach.Draft() != result.Draft {
		t.Fatalf("unexpected draft %q", result.Draft)
	}
	if drafts := h.events.snapshotDrafts(); len(drafts) != 1 || drafts[0] != result.Draft {
		t.Fatalf("expected draft event, got %v", drafts)
	}
	if h.voice.languages[0] != "en" {
		t.Fatalf("expected session language, got %v", h.voice.languages)
	}
}

func TestCoachStopWithoutRecording(t *testing.T) {
	t.Parallel()

	h := newCoachHarness(t)
	if _, err := h.coach.StopRecording(context.Background(), domain.TargetChat); !errors.Is(err, domain.ErrNoActiveRecording) {
		t.Fatalf("expected ErrNoActiveRecording, got %v", err)
	}
	if _, err := h.coach.StopRecording(context.Background(), domain.Target("x")); !errors.Is(err, domain.ErrInvalidSetting) {
		t.Fatalf("expected ErrInvalidSetting, got %v", err)
	}
}

func TestCoachRequestFeedback(t *testing.T) {
	t.Parallel()

	h := newCoachHarness(t)
	h.backend.review = ports.Review{Result: "Good start.\nAdd detail.", Buttons: []string{"Thanks"}}
	h.backend.feedbackReply = domain.Reply{
		ID: 7, Title: "Lab report", Text: "First draft", Stage: "Feelings",
		Result: "Feedback on your text:\nGood start.\nAdd detail.",
	}

	if _, err := h.coach.RequestFeedback(context.Background()); !errors.Is(err, domain.ErrNoConversation) {
		t.Fatalf("expected ErrNoConversation without selection, got %v", err)
	}
	if _, err := h.coach.SelectConversation(7); err != nil {
		t.Fatalf("select: %v", err)
	}

	view, err := h.coach.RequestFeedback(context.Background())
	if err != nil {
		t.Fatalf("feedback: %v", err)
	}
	if got := h.coach.Feedback(); got != "Good start.<br />Add detail." {
		t.Fatalf("unexpected feedback html %q", got)
	}
	review := h.backend.reviews[0]
	if review.Text != "First draft" || review.Stage != "Feelings" || review.ConversationID != 7 {
		t.Fatalf("unexpected review request: %+v", review)
	}
	added := h.backend.feedbacks[0]
	if !strings.HasPrefix(added.NewMessageUser, "Can you give me feedback on my text? It is:\n") ||
		!strings.HasPrefix(added.NewMessageSystem, "Feedback on your text:\n") {
		t.Fatalf("unexpected feedback messages: %+v", added)
	}
	if len(added.Buttons) != 1 || added.Buttons[0] != "Thanks" {
		t.Fatalf("expected review buttons forwarded, got %v", added.Buttons)
	}
	msgs := view.Conversation.Messages
	if msgs[len(msgs)-2].Content != added.NewMessageUser {
		t.Fatalf("expected user feedback request folded, got %+v", msgs)
	}
	if fb := h.events.snapshotFeedback(); fb[len(fb)-1] != "Good start.<br />Add detail." {
		t.Fatalf("expected feedback event, got %v", fb)
	}
}

func TestCoachTurnPresetFailureIsOnlyLogged(t *testing.T) {
	t.Parallel()

	h := newCoachHarness(t)
	h.backend.presetErr = domain.ErrTransport
	if _, err := h.coach.SelectConversation(5); err != nil {
		t.Fatalf("select: %v", err)
	}

	view, err := h.coach.SetTurnPreset(context.Background(), "short")
	if err != nil {
		t.Fatalf("set preset: %v", err)
	}
	if view.TurnPreset != domain.TurnPresetShort || h.coach.machine.Settings().TurnPreset(5) != domain.TurnPresetShort {
		t.Fatalf("expected optimistic preset change")
	}
	if errs := h.events.snapshotErrors(); len(errs) != 0 {
		t.Fatalf("expected no user-visible error, got %+v", errs)
	}
	if _, err := h.coach.SetTurnPreset(context.Background(), "huge"); !errors.Is(err, domain.ErrInvalidSetting) {
		t.Fatalf("expected invalid preset error, got %v", err)
	}
}

func TestCoachVoicesAndSpeechSettings(t *testing.T) {
	t.Parallel()

	h := newCoachHarness(t)
	h.backend.voicesErr = domain.ErrTransport
	if voices := h.coach.LoadVoices(context.Background()); len(voices) != 3 || voices[0] != "alloy" {
		t.Fatalf("expected default voices on failure, got %v", voices)
	}

	h.backend.voicesErr = nil
	h.backend.voices = []string{"lumen", "nova"}
	if voices := h.coach.LoadVoices(context.Background()); len(voices) != 2 || voices[1] != "nova" {
		t.Fatalf("expected advertised voices, got %v", voices)
	}

	if _, err := h.coach.SelectConversation(3); err != nil {
		t.Fatalf("select: %v", err)
	}
	settings, err := h.coach.SetVoice("nova")
	if err != nil || settings.Voice != "nova" {
		t.Fatalf("expected voice nova, got %+v (%v)", settings, err)
	}
	if _, err := h.coach.SetVoice("alloy"); !errors.Is(err, domain.ErrInvalidSetting) {
		t.Fatalf("expected disallowed voice to fail, got %v", err)
	}
	settings, err = h.coach.SetStylePreset("warm")
	if err != nil || settings.StylePreset != domain.StyleWarm {
		t.Fatalf("expected warm style, got %+v (%v)", settings, err)
	}

	if rate := h.coach.SetPlaybackRate(9); rate != MaxPlaybackRate {
		t.Fatalf("expected clamped rate, got %v", rate)
	}
}
