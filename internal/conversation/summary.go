package conversation

import (
	"regexp"
	"strings"

	"voxareflect/internal/domain"
)

var (
	boldPattern = regexp.MustCompile(`\*\*(.*?)\*\*`)
	htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
)

// FormatSummaryHTML escapes text and renders **bold** and line breaks.
func FormatSummaryHTML(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	out := htmlEscaper.Replace(text)
	out = boldPattern.ReplaceAllString(out, "<strong>$1</strong>")
	out = strings.ReplaceAll(out, "\n\n", "<br /><br />")
	return strings.ReplaceAll(out, "\n", "<br />")
}

// SummaryMessage builds the synthetic message carrying a reflection summary.
func SummaryMessage(summary string, language string) domain.Message {
	return domain.Message{
		Sender:    domain.SenderSystem,
		Content:   summaryHeading(language) + FormatSummaryHTML(summary),
		Buttons:   []string{},
		IsSummary: true,
	}
}

// MergeSummary returns a copy of conv whose log ends with exactly one summary
// message. A conversation without a summary is returned unchanged.
func MergeSummary(conv domain.Conversation, language string) domain.Conversation {
	if strings.TrimSpace(conv.Summary) == "" {
		return conv
	}
	out := conv
	out.Messages = make([]domain.Message, 0, len(conv.Messages)+1)
	for _, m := range conv.Messages {
		if m.IsSummary {
			continue
		}
		out.Messages = append(out.Messages, m)
	}
	out.Messages = append(out.Messages, SummaryMessage(conv.Summary, language))
	return out
}
