package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"voxareflect/internal/domain"
	"voxareflect/internal/ports"
)

const (
	DefaultBaseURL = "http://localhost:5001/"
	DefaultTimeout = 30 * time.Second

	requestIDHeader = "X-Request-ID"
	maxErrorBody    = 512
)

// Config contains backend client configuration.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// RequestObserver receives one measurement per backend call.
type RequestObserver interface {
	BackendRequest(endpoint string, outcome string, elapsed time.Duration)
}

// Client talks to the coaching backend over HTTP.
type Client struct {
	base       *url.URL
	httpClient *http.Client
	userAgent  string
	logger     zerolog.Logger
	observer   RequestObserver
}

var _ ports.Backend = (*Client)(nil)

// NewClient creates a backend client. observer may be nil.
func NewClient(cfg Config, logger zerolog.Logger, observer RequestObserver) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		raw = DefaultBaseURL
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid backend url %q: %w", raw, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("backend url %q must use http or https", raw)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "voxareflect/1.0"
	}

	return &Client{
		base: base,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        16,
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		userAgent: cfg.UserAgent,
		logger:    logger.With().Str("component", "backend").Logger(),
		observer:  observer,
	}, nil
}

// BaseURL returns the configured server base.
func (c *Client) BaseURL() string { return c.base.String() }

// ResolveURL turns a relative audio reference into an absolute URL.
func (c *Client) ResolveURL(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "http") {
		return ref
	}
	return strings.TrimRight(c.base.String(), "/") + "/" + strings.TrimLeft(ref, "/")
}

func (c *Client) GetConversations(ctx context.Context, username string, language string) ([]domain.Conversation, error) {
	var resp ConversationsResponse
	err := c.postJSON(ctx, "getConversations", ConversationsRequest{Username: username, Language: language}, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, c.rejected("getConversations", "")
	}

	out := make([]domain.Conversation, 0, len(resp.Result))
	for _, wire := range resp.Result {
		out = append(out, wire.toDomain())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (c *Client) NewChat(ctx context.Context, req ports.ChatRequest) (domain.Reply, error) {
	var resp ChatResponse
	if err := c.postJSON(ctx, "newChat", req, &resp); err != nil {
		return domain.Reply{}, err
	}
	if !resp.Success {
		return domain.Reply{}, c.rejected("newChat", "")
	}
	return resp.toDomain(), nil
}

// ReviewDraft asks the coach to assess the current draft text.
func (c *Client) ReviewDraft(ctx context.Context, req ports.ReviewRequest) (ports.Review, error) {
	var resp ReviewResponse
	if err := c.postJSON(ctx, "getFeedbackOnReflection", req, &resp); err != nil {
		return ports.Review{}, err
	}
	if !resp.Success {
		return ports.Review{}, c.rejected("getFeedbackOnReflection", "")
	}
	return ports.Review{
		Result:     resp.Result,
		Buttons:    nonNilStrings(resp.Buttons),
		NewTitle:   resp.NewTitle,
		IsFinished: resp.IsFinished,
	}, nil
}

func (c *Client) AddChatToConversation(ctx context.Context, req ports.FeedbackRequest) (domain.Reply, error) {
	if req.Buttons == nil {
		req.Buttons = []string{}
	}
	var resp ChatResponse
	if err := c.postJSON(ctx, "addChatToConversation", req, &resp); err != nil {
		return domain.Reply{}, err
	}
	if !resp.Success {
		return domain.Reply{}, c.rejected("addChatToConversation", "")
	}
	reply := resp.toDomain()
	reply.TTS = nil
	return reply, nil
}

func (c *Client) UpdateTurnPreset(ctx context.Context, username string, conversationID int, preset domain.TurnPreset) error {
	var resp SuccessResponse
	req := TurnPresetRequest{Username: username, ConversationID: conversationID, TurnPreset: string(preset)}
	if err := c.postJSON(ctx, "updateTurnPreset", req, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return c.rejected("updateTurnPreset", "")
	}
	return nil
}

// TTSConfig returns the advertised voices, trimmed and de-duplicated.
func (c *Client) TTSConfig(ctx context.Context) ([]string, error) {
	var resp TTSConfigResponse
	if err := c.getJSON(ctx, "tts/config", nil, &resp); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(resp.AllowedVoices))
	voices := make([]string, 0, len(resp.AllowedVoices))
	for _, voice := range resp.AllowedVoices {
		voice = strings.TrimSpace(voice)
		if voice == "" {
			continue
		}
		if _, ok := seen[voice]; ok {
			continue
		}
		seen[voice] = struct{}{}
		voices = append(voices, voice)
	}
	return voices, nil
}

// Transcribe uploads audio for immediate transcription.
func (c *Client) Transcribe(ctx context.Context, audio []byte, language string) (string, error) {
	var resp TranscriptResponse
	err := c.postMultipart(ctx, "uploadAudio", audio, map[string]string{"language": language}, &resp)
	if err != nil {
		return "", err
	}
	if !resp.Success {
		detail := strings.TrimSpace(resp.Error)
		if detail == "" {
			detail = "server returned success=false"
		}
		return "", fmt.Errorf("%w: %s", domain.ErrTranscriptionFailed, detail)
	}
	return resp.Result, nil
}

// SubmitVoiceJob uploads audio with its chat context and returns the job id.
func (c *Client) SubmitVoiceJob(ctx context.Context, audio []byte, meta ports.ChatContext) (string, error) {
	metadata, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("failed to encode voice job metadata: %w", err)
	}

	var resp UploadJobResponse
	err = c.postMultipart(ctx, "uploadAudio", audio, map[string]string{"metadata": string(metadata)}, &resp)
	if err != nil {
		return "", err
	}
	jobID := strings.TrimSpace(resp.JobID)
	if !resp.Success || jobID == "" {
		return "", c.rejected("uploadAudio", resp.Error)
	}
	return jobID, nil
}

// VoiceJobStatus fetches one status report for a job.
func (c *Client) VoiceJobStatus(ctx context.Context, jobID string) (domain.JobReport, error) {
	var resp JobStatusResponse
	if err := c.getJSON(ctx, "voiceJobStatus", url.Values{"jobId": {jobID}}, &resp); err != nil {
		return domain.JobReport{}, err
	}
	if !resp.Success {
		return domain.JobReport{}, c.rejected("voiceJobStatus", resp.Error)
	}

	report := domain.JobReport{
		Status:    domain.NormalizeJobStatus(resp.Status),
		RawStatus: resp.Status,
		Error:     strings.TrimSpace(resp.Error),
	}
	if report.Status == domain.JobStatusCompleted {
		if resp.Result == nil {
			return domain.JobReport{}, fmt.Errorf("%w: completed job %s has no result", domain.ErrMalformedResponse, jobID)
		}
		if !resp.Result.Success {
			return domain.JobReport{}, c.rejected("voiceJobStatus", "job result reported success=false")
		}
		reply := resp.Result.toDomain()
		if reply.UserMessage == nil {
			empty := ""
			reply.UserMessage = &empty
		}
		report.Result = &reply
	}
	return report, nil
}

func (c *Client) rejected(endpoint string, detail string) error {
	detail = strings.TrimSpace(detail)
	if detail == "" {
		return fmt.Errorf("%w: %s", domain.ErrServerRejected, endpoint)
	}
	return fmt.Errorf("%w: %s: %s", domain.ErrServerRejected, endpoint, detail)
}

func (c *Client) endpoint(name string, query url.Values) string {
	u := c.base.JoinPath(name)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) postJSON(ctx context.Context, name string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(name, nil), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	return c.do(req, name, out)
}

func (c *Client) getJSON(ctx context.Context, name string, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(name, query), nil)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", name, err)
	}
	return c.do(req, name, out)
}

func (c *Client) postMultipart(ctx context.Context, name string, audio []byte, fields map[string]string, out any) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", "file")
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(audio); err != nil {
		return fmt.Errorf("failed to write audio data: %w", err)
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(name, nil), &buf)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", name, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return c.do(req, name, out)
}

func (c *Client) do(req *http.Request, name string, out any) error {
	requestID := uuid.NewString()
	req.Header.Set(requestIDHeader, requestID)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	log := c.logger.With().Str("endpoint", name).Str("request_id", requestID).Logger()
	started := time.Now()
	outcome := "ok"
	defer func() {
		elapsed := time.Since(started)
		if c.observer != nil {
			c.observer.BackendRequest(name, outcome, elapsed)
		}
		log.Debug().Str("outcome", outcome).Dur("elapsed", elapsed).Msg("backend request finished")
	}()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		outcome = "transport"
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: %s: %v", domain.ErrTransport, name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		outcome = "transport"
		return fmt.Errorf("%w: failed to read %s response: %v", domain.ErrTransport, name, err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			outcome = "transport"
			return fmt.Errorf("%w: %s: HTTP %d: %s", domain.ErrTransport, name, resp.StatusCode, truncate(body))
		}
		outcome = "malformed"
		log.Warn().Err(err).Msg("backend returned invalid json")
		return fmt.Errorf("%w: %s: %v", domain.ErrMalformedResponse, name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Warn().Int("status", resp.StatusCode).Msg("backend returned non-2xx with json body")
	}
	return nil
}

func truncate(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBody {
		return text[:maxErrorBody] + "..."
	}
	return text
}
