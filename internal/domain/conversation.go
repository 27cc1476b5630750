package domain

import "strings"

// Sender is the author role of a message.
type Sender string

const (
	SenderUser   Sender = "user"
	SenderSystem Sender = "system"
)

// Message is one rendered entry in a conversation log.
type Message struct {
	Sender    Sender   `json:"sender"`
	Content   string   `json:"content"`
	Buttons   []string `json:"buttons"`
	Video     string   `json:"video"`
	IsSummary bool     `json:"isSummary,omitempty"`
}

// Conversation is an immutable snapshot; updates replace it wholesale.
type Conversation struct {
	ID         int        `json:"id"`
	Title      string     `json:"title"`
	Text       string     `json:"text"`
	Stage      string     `json:"stage"`
	Time       string     `json:"time"`
	TurnPreset TurnPreset `json:"turnPreset"`
	Phase      *Phase     `json:"phase"`
	Summary    string     `json:"summary,omitempty"`
	Messages   []Message  `json:"messages"`
}

// Clone returns a deep copy so callers never share backing arrays.
func (c Conversation) Clone() Conversation {
	out := c
	if c.Phase != nil {
		phase := *c.Phase
		out.Phase = &phase
	}
	out.Messages = make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		m.Buttons = append([]string(nil), m.Buttons...)
		out.Messages[i] = m
	}
	return out
}

// HasMessage reports whether any message content equals text exactly.
func (c Conversation) HasMessage(text string) bool {
	for _, m := range c.Messages {
		if m.Content == text {
			return true
		}
	}
	return false
}

// SummaryCount returns how many summary messages the log carries.
func (c Conversation) SummaryCount() int {
	n := 0
	for _, m := range c.Messages {
		if m.IsSummary {
			n++
		}
	}
	return n
}

// WordCount counts whitespace-separated words in the draft text.
func (c Conversation) WordCount() int {
	return len(strings.Fields(c.Text))
}

// TTSPayload describes synthesized speech attached to a reply.
type TTSPayload struct {
	Enabled       bool     `json:"enabled"`
	AudioURL      string   `json:"audioUrl"`
	StylePreset   string   `json:"stylePreset"`
	Voice         string   `json:"voice"`
	AllowedVoices []string `json:"allowedVoices,omitempty"`
}

// Reply is a normalized chat, feedback or voice-job result.
type Reply struct {
	ID                int
	Title             string
	Text              string
	Stage             string
	Time              string
	Phase             *Phase
	TurnPreset        string
	ReflectionSummary string
	Result            string
	Buttons           []string
	Video             string
	UserMessage       *string
	TTS               *TTSPayload
}

// ConversationView is the derived state the UI renders for the selection.
type ConversationView struct {
	Conversation Conversation    `json:"conversation"`
	Visibility   Visibility      `json:"visibility"`
	Progress     []StageProgress `json:"progress"`
	StageIndex   int             `json:"stageIndex"`
	WordCount    int             `json:"wordCount"`
	TurnPreset   TurnPreset      `json:"turnPreset"`
	TTS          TTSSettings     `json:"tts"`
}
