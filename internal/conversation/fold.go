package conversation

import "voxareflect/internal/domain"

// Fold applies a server reply to base and returns the new snapshot. base is
// the zero Conversation when the reply opens a conversation. sent is the text
// the user submitted; the reply's own userMessage wins when present.
// fallbackPreset is the preset already associated with base.
func Fold(base domain.Conversation, reply domain.Reply, sent string, fallbackPreset domain.TurnPreset, language string) domain.Conversation {
	userText := UserText(reply, sent)

	next := base.Clone()
	next.ID = reply.ID
	next.Title = reply.Title
	next.Text = reply.Text
	next.Stage = reply.Stage
	next.Time = reply.Time

	if reply.Phase != nil {
		phase := *reply.Phase
		next.Phase = &phase
	}
	if preset, ok := domain.ParseTurnPreset(reply.TurnPreset); ok {
		next.TurnPreset = preset
	} else {
		next.TurnPreset = domain.NormalizeTurnPreset(string(fallbackPreset))
	}
	if reply.ReflectionSummary != "" {
		next.Summary = reply.ReflectionSummary
	}

	buttons := append([]string{}, reply.Buttons...)
	next.Messages = append(next.Messages,
		domain.Message{Sender: domain.SenderUser, Content: userText, Buttons: []string{}},
		domain.Message{Sender: domain.SenderSystem, Content: reply.Result, Buttons: buttons, Video: reply.Video},
	)
	return MergeSummary(next, language)
}

// UserText resolves the user message a fold will record.
func UserText(reply domain.Reply, sent string) string {
	if reply.UserMessage != nil {
		return *reply.UserMessage
	}
	return sent
}
