package conversation

const languageGerman = "de"

// ReadySentinel is the phrase that unlocks the draft editor.
func ReadySentinel(language string) string {
	if language == languageGerman {
		return "Ich bin bereit, mit den Überlegungen zu beginnen."
	}
	return "I am ready to start reflective writing."
}

// ProvisionalTitle names a conversation before the server confirms it.
func ProvisionalTitle(language string) string {
	if language == languageGerman {
		return "Laufende Reflexion"
	}
	return "Ongoing Reflection"
}

func summaryHeading(language string) string {
	if language == languageGerman {
		return "<strong>Reflexionszusammenfassung</strong><br />"
	}
	return "<strong>Reflection summary</strong><br />"
}

// FeedbackMessages returns the user and system messages recorded for a draft review.
func FeedbackMessages(language string, draft string, review string) (user string, system string) {
	if language == languageGerman {
		return "Kannst du mir Feedback zu meinem Text geben? Er lautet:\n" + draft,
			"Feedback zu Ihrem Text:\n" + review
	}
	return "Can you give me feedback on my text? It is:\n" + draft,
		"Feedback on your text:\n" + review
}
