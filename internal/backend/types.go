package backend

import (
	"strings"

	"voxareflect/internal/domain"
)

// WireMessage is a message as stored by the backend.
type WireMessage struct {
	Sender    string   `json:"sender"`
	Content   string   `json:"content"`
	Buttons   []string `json:"buttons"`
	Video     string   `json:"video"`
	IsSummary bool     `json:"isSummary,omitempty"`
}

// WireConversation is one entry of getConversations.
type WireConversation struct {
	ID         int           `json:"id"`
	Title      string        `json:"title"`
	Text       string        `json:"text"`
	Stage      string        `json:"stage"`
	Time       string        `json:"time"`
	TurnPreset string        `json:"turnPreset,omitempty"`
	Phase      *domain.Phase `json:"phase,omitempty"`
	Summary    *string       `json:"summary,omitempty"`
	Messages   []WireMessage `json:"messages"`
}

// ConversationsRequest is the getConversations body.
type ConversationsRequest struct {
	Username string `json:"username"`
	Language string `json:"language"`
}

// ConversationsResponse is the getConversations reply.
type ConversationsResponse struct {
	Success bool               `json:"success"`
	Result  []WireConversation `json:"result"`
}

// ChatResponse is shared by newChat, addChatToConversation and completed voice jobs.
type ChatResponse struct {
	Success           bool               `json:"success"`
	ID                int                `json:"id"`
	Title             string             `json:"title"`
	Text              string             `json:"text"`
	Stage             string             `json:"stage"`
	Time              string             `json:"time"`
	Phase             *domain.Phase      `json:"phase,omitempty"`
	TurnPreset        string             `json:"turnPreset,omitempty"`
	ReflectionSummary *string            `json:"reflectionSummary,omitempty"`
	Result            string             `json:"result"`
	Buttons           []string           `json:"buttons"`
	Video             string             `json:"video"`
	TTS               *domain.TTSPayload `json:"tts,omitempty"`
	UserMessage       *string            `json:"userMessage,omitempty"`
	Transcript        *string            `json:"transcript,omitempty"`
}

// ReviewResponse is the getFeedbackOnReflection reply.
type ReviewResponse struct {
	Success    bool     `json:"success"`
	Result     string   `json:"result"`
	Buttons    []string `json:"buttons"`
	NewTitle   string   `json:"new_title"`
	IsFinished bool     `json:"is_finished"`
}

// TranscriptResponse is the synchronous uploadAudio reply.
type TranscriptResponse struct {
	Success bool   `json:"success"`
	Result  string `json:"result"`
	Error   string `json:"error,omitempty"`
}

// UploadJobResponse is the asynchronous uploadAudio reply.
type UploadJobResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"jobId"`
	Error   string `json:"error,omitempty"`
}

// JobStatusResponse is the voiceJobStatus reply.
type JobStatusResponse struct {
	Success bool          `json:"success"`
	Status  string        `json:"status"`
	Result  *ChatResponse `json:"result,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// TTSConfigResponse is the tts/config reply.
type TTSConfigResponse struct {
	AllowedVoices []string `json:"allowedVoices"`
}

// TurnPresetRequest is the updateTurnPreset body.
type TurnPresetRequest struct {
	Username       string `json:"username"`
	ConversationID int    `json:"conversationID"`
	TurnPreset     string `json:"turnPreset"`
}

// SuccessResponse is the minimal acknowledgement shape.
type SuccessResponse struct {
	Success bool `json:"success"`
}

func (w WireConversation) toDomain() domain.Conversation {
	conv := domain.Conversation{
		ID:         w.ID,
		Title:      w.Title,
		Text:       w.Text,
		Stage:      w.Stage,
		Time:       w.Time,
		TurnPreset: domain.NormalizeTurnPreset(w.TurnPreset),
		Phase:      w.Phase,
		Messages:   make([]domain.Message, 0, len(w.Messages)),
	}
	if w.Summary != nil {
		conv.Summary = strings.TrimSpace(*w.Summary)
	}
	for _, m := range w.Messages {
		sender := domain.SenderSystem
		if strings.EqualFold(m.Sender, string(domain.SenderUser)) {
			sender = domain.SenderUser
		}
		conv.Messages = append(conv.Messages, domain.Message{
			Sender:    sender,
			Content:   m.Content,
			Buttons:   nonNilStrings(m.Buttons),
			Video:     m.Video,
			IsSummary: m.IsSummary,
		})
	}
	return conv
}

func (r ChatResponse) toDomain() domain.Reply {
	reply := domain.Reply{
		ID:         r.ID,
		Title:      r.Title,
		Text:       r.Text,
		Stage:      r.Stage,
		Time:       r.Time,
		Phase:      r.Phase,
		TurnPreset: r.TurnPreset,
		Result:     r.Result,
		Buttons:    nonNilStrings(r.Buttons),
		Video:      r.Video,
		TTS:        normalizeTTS(r.TTS),
	}
	if r.ReflectionSummary != nil {
		reply.ReflectionSummary = strings.TrimSpace(*r.ReflectionSummary)
	}
	switch {
	case r.UserMessage != nil:
		reply.UserMessage = r.UserMessage
	case r.Transcript != nil:
		reply.UserMessage = r.Transcript
	}
	return reply
}

func normalizeTTS(payload *domain.TTSPayload) *domain.TTSPayload {
	if payload == nil {
		return nil
	}
	out := *payload
	out.AudioURL = strings.TrimSpace(out.AudioURL)
	out.AllowedVoices = append([]string(nil), payload.AllowedVoices...)
	return &out
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return append([]string(nil), in...)
}
