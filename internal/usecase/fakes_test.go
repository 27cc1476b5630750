package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"voxareflect/internal/domain"
	"voxareflect/internal/ports"
)

type fakeEventSink struct {
	mu sync.Mutex

	states   []domain.RecordingState
	levels   []float64
	loading  []bool
	views    []domain.ConversationView
	lists    [][]domain.Conversation
	drafts   []string
	feedback []string
	playback []playbackEvent
	voices   [][]string
	errors   []errEvent
}

type playbackEvent struct {
	playing bool
	rate    float64
}

type errEvent struct {
	code   domain.ErrorCode
	detail string
}

func (f *fakeEventSink) RecordingStateChanged(state domain.RecordingState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, state)
}

func (f *fakeEventSink) AudioLevel(level float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.levels = append(f.levels, level)
}

func (f *fakeEventSink) LoadingChanged(loading bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loading = append(f.loading, loading)
}

func (f *fakeEventSink) ConversationUpdated(view domain.ConversationView) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.views = append(f.views, view)
}

func (f *fakeEventSink) ConversationsChanged(list []domain.Conversation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists = append(f.lists, list)
}

func (f *fakeEventSink) DraftTranscript(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drafts = append(f.drafts, text)
}

func (f *fakeEventSink) FeedbackChanged(html string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feedback = append(f.feedback, html)
}

func (f *fakeEventSink) PlaybackChanged(playing bool, rate float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playback = append(f.playback, playbackEvent{playing: playing, rate: rate})
}

func (f *fakeEventSink) VoicesChanged(voices []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.voices = append(f.voices, voices)
}

func (f *fakeEventSink) SessionError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, errEvent{code: code, detail: detail})
}

func (f *fakeEventSink) snapshotStates() []domain.RecordingState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.RecordingState(nil), f.states...)
}

func (f *fakeEventSink) snapshotLevels() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float64(nil), f.levels...)
}

func (f *fakeEventSink) snapshotErrors() []errEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]errEvent(nil), f.errors...)
}

func (f *fakeEventSink) snapshotPlayback() []playbackEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]playbackEvent(nil), f.playback...)
}

func (f *fakeEventSink) snapshotLoading() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.loading...)
}

func (f *fakeEventSink) snapshotDrafts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.drafts...)
}

func (f *fakeEventSink) snapshotFeedback() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.feedback...)
}

func (f *fakeEventSink) snapshotVoices() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.voices...)
}

// fakeMicrophone hands out a stream whose taps replay the configured chunks
// and then block until closed.
type fakeMicrophone struct {
	mu       sync.Mutex
	chunks   [][]byte
	err      error
	requests int
	streams  []*fakeStream
}

func (f *fakeMicrophone) RequestAccess(_ context.Context, _ ports.AudioConfig) (ports.LiveStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	if f.err != nil {
		return nil, f.err
	}
	stream := &fakeStream{chunks: f.chunks, done: make(chan struct{})}
	f.streams = append(f.streams, stream)
	return stream, nil
}

type fakeStream struct {
	mu     sync.Mutex
	chunks [][]byte
	taps   []*fakeTap
	tapErr error
	closed int

	done    chan struct{}
	endOnce sync.Once
	err     error
}

func (s *fakeStream) Tap() (ports.AudioTap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tapErr != nil {
		return nil, s.tapErr
	}
	select {
	case <-s.done:
		return nil, fmt.Errorf("%w: %v", domain.ErrDeviceNotReady, s.err)
	default:
	}
	tap := newFakeTap(s.chunks)
	s.taps = append(s.taps, tap)
	return tap, nil
}

func (s *fakeStream) Done() <-chan struct{} { return s.done }

func (s *fakeStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// end simulates the capture dying underneath the stream.
func (s *fakeStream) end(err error) {
	s.endOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

type fakeTap struct {
	chunks  chan []byte
	closed  chan struct{}
	once    sync.Once
	readErr error
}

func newFakeTap(chunks [][]byte) *fakeTap {
	tap := &fakeTap{chunks: make(chan []byte, len(chunks)), closed: make(chan struct{})}
	for _, chunk := range chunks {
		tap.chunks <- chunk
	}
	return tap
}

func (t *fakeTap) Read(p []byte) (int, error) {
	if t.readErr != nil {
		return 0, t.readErr
	}
	select {
	case chunk := <-t.chunks:
		return copy(p, chunk), nil
	case <-t.closed:
		select {
		case chunk := <-t.chunks:
			return copy(p, chunk), nil
		default:
			return 0, io.EOF
		}
	}
}

func (t *fakeTap) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

type fakeCaptureObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (f *fakeCaptureObserver) RecordingFinished(_ domain.Target, outcome string, _ int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, outcome)
}

func (f *fakeCaptureObserver) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.outcomes...)
}

// fakeVoiceBackend serves job status reports from a script.
type fakeVoiceBackend struct {
	mu sync.Mutex

	transcript    string
	transcribeErr error
	languages     []string

	jobID     string
	submitErr error
	metas     []ports.ChatContext

	reports    []domain.JobReport
	statusErr  error
	statusCall int
}

func (f *fakeVoiceBackend) Transcribe(ctx context.Context, _ []byte, language string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.languages = append(f.languages, language)
	if f.transcribeErr != nil {
		return "", f.transcribeErr
	}
	return f.transcript, ctx.Err()
}

func (f *fakeVoiceBackend) SubmitVoiceJob(_ context.Context, _ []byte, meta ports.ChatContext) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metas = append(f.metas, meta)
	if f.submitErr != nil {
		return "", f.submitErr
	}
	if f.jobID == "" {
		return "job-1", nil
	}
	return f.jobID, nil
}

func (f *fakeVoiceBackend) VoiceJobStatus(ctx context.Context, _ string) (domain.JobReport, error) {
	f.mu.Lock()
	f.statusCall++
	if f.statusErr != nil {
		err := f.statusErr
		f.mu.Unlock()
		return domain.JobReport{}, err
	}
	if len(f.reports) > 0 {
		report := f.reports[0]
		if len(f.reports) > 1 {
			f.reports = f.reports[1:]
		}
		f.mu.Unlock()
		return report, ctx.Err()
	}
	f.mu.Unlock()
	return domain.JobReport{Status: domain.JobStatusPending, RawStatus: "pending"}, nil
}

// uploads counts every request that carried recorded audio.
func (f *fakeVoiceBackend) uploads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.metas) + len(f.languages)
}

func (f *fakeVoiceBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCall
}

type fakeJobObserver struct {
	mu        sync.Mutex
	submitted int
	polled    []domain.JobStatus
	outcomes  []string
}

func (f *fakeJobObserver) JobSubmitted() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted++
}

func (f *fakeJobObserver) JobPolled(status domain.JobStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polled = append(f.polled, status)
}

func (f *fakeJobObserver) JobFinished(outcome string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, outcome)
}

func (f *fakeJobObserver) snapshotOutcomes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.outcomes...)
}

// fakePlayer starts clips that play until stopped or finished by the test.
type fakePlayer struct {
	mu    sync.Mutex
	err   error
	urls  []string
	rates []float64
	clips []*fakeClip
}

func (f *fakePlayer) Play(_ context.Context, url string, rate float64) (ports.Playback, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	clip := &fakeClip{done: make(chan struct{})}
	f.urls = append(f.urls, url)
	f.rates = append(f.rates, rate)
	f.clips = append(f.clips, clip)
	return clip, nil
}

func (f *fakePlayer) snapshotClips() []*fakeClip {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeClip(nil), f.clips...)
}

func (f *fakePlayer) snapshotURLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.urls...)
}

type fakeClip struct {
	mu      sync.Mutex
	done    chan struct{}
	once    sync.Once
	err     error
	stops   int
	rates   []float64
	rateErr error
}

func (c *fakeClip) SetRate(rate float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rates = append(c.rates, rate)
	return c.rateErr
}

func (c *fakeClip) Stop() error {
	c.mu.Lock()
	c.stops++
	c.mu.Unlock()
	c.finish(nil)
	return nil
}

func (c *fakeClip) Done() <-chan struct{} { return c.done }

func (c *fakeClip) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeClip) finish(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *fakeClip) stopCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stops
}

type fakePlaybackObserver struct {
	mu       sync.Mutex
	started  int
	outcomes []string
}

func (f *fakePlaybackObserver) PlaybackStarted() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
}

func (f *fakePlaybackObserver) PlaybackFinished(outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, outcome)
}

func (f *fakePlaybackObserver) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.outcomes...)
}

// fakeConversationBackend records requests and replies from configured values.
type fakeConversationBackend struct {
	mu sync.Mutex

	conversations []domain.Conversation
	listErr       error

	chatReply domain.Reply
	chatErr   error
	chats     []ports.ChatRequest
	// chatGate, when set, holds NewChat until closed; chatEntered is
	// signalled once the call is waiting.
	chatGate    chan struct{}
	chatEntered chan struct{}

	review    ports.Review
	reviewErr error
	reviews   []ports.ReviewRequest

	feedbackReply domain.Reply
	feedbackErr   error
	feedbacks     []ports.FeedbackRequest

	presetErr error
	presets   []domain.TurnPreset

	voices    []string
	voicesErr error
}

func (f *fakeConversationBackend) GetConversations(_ context.Context, _ string, _ string) ([]domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]domain.Conversation, 0, len(f.conversations))
	for _, conv := range f.conversations {
		out = append(out, conv.Clone())
	}
	return out, nil
}

func (f *fakeConversationBackend) NewChat(ctx context.Context, req ports.ChatRequest) (domain.Reply, error) {
	f.mu.Lock()
	f.chats = append(f.chats, req)
	gate, entered := f.chatGate, f.chatEntered
	f.mu.Unlock()

	if gate != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.Reply{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chatReply, f.chatErr
}

func (f *fakeConversationBackend) chatCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chats)
}

func (f *fakeConversationBackend) ReviewDraft(_ context.Context, req ports.ReviewRequest) (ports.Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reviews = append(f.reviews, req)
	return f.review, f.reviewErr
}

func (f *fakeConversationBackend) AddChatToConversation(_ context.Context, req ports.FeedbackRequest) (domain.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feedbacks = append(f.feedbacks, req)
	return f.feedbackReply, f.feedbackErr
}

func (f *fakeConversationBackend) UpdateTurnPreset(_ context.Context, _ string, _ int, preset domain.TurnPreset) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presets = append(f.presets, preset)
	return f.presetErr
}

func (f *fakeConversationBackend) TTSConfig(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.voices, f.voicesErr
}

var errFake = errors.New("fake failure")

func noWait(ctx context.Context, _ time.Duration) error { return ctx.Err() }
