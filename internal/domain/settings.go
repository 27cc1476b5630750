package domain

import "strings"

// TurnPreset controls how many coaching prompts occur per phase.
type TurnPreset string

const (
	TurnPresetShort    TurnPreset = "short"
	TurnPresetStandard TurnPreset = "standard"
	TurnPresetLong     TurnPreset = "long"

	DefaultTurnPreset = TurnPresetStandard
)

// ParseTurnPreset reports whether raw is one of the three valid presets.
func ParseTurnPreset(raw string) (TurnPreset, bool) {
	switch TurnPreset(raw) {
	case TurnPresetShort, TurnPresetStandard, TurnPresetLong:
		return TurnPreset(raw), true
	default:
		return "", false
	}
}

// NormalizeTurnPreset coerces anything invalid to the default preset.
func NormalizeTurnPreset(raw string) TurnPreset {
	if preset, ok := ParseTurnPreset(raw); ok {
		return preset
	}
	return DefaultTurnPreset
}

// StylePreset is the speaking style used for synthesized replies.
type StylePreset string

const (
	StyleWarm         StylePreset = "warm"
	StyleProfessional StylePreset = "professional"

	DefaultStylePreset = StyleProfessional
)

// NormalizeStylePreset coerces anything invalid to the default style.
func NormalizeStylePreset(raw string) StylePreset {
	switch StylePreset(strings.ToLower(strings.TrimSpace(raw))) {
	case StyleWarm:
		return StyleWarm
	case StyleProfessional:
		return StyleProfessional
	default:
		return DefaultStylePreset
	}
}

// DefaultVoices is used until the backend advertises its own list.
var DefaultVoices = []string{"alloy", "verse", "lumen"}

// TTSSettings are the per-conversation speech settings.
type TTSSettings struct {
	StylePreset StylePreset `json:"stylePreset"`
	Voice       string      `json:"ttsVoice"`
}
