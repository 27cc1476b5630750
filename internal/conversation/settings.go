package conversation

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"voxareflect/internal/domain"
)

// Settings holds per-conversation speech settings and turn presets. Every
// write replaces the affected map so readers always see a whole snapshot.
type Settings struct {
	mu      sync.RWMutex
	tts     map[int]domain.TTSSettings
	presets map[int]domain.TurnPreset
	voices  []string
}

func NewSettings() *Settings {
	return &Settings{
		tts:     map[int]domain.TTSSettings{},
		presets: map[int]domain.TurnPreset{},
		voices:  slices.Clone(domain.DefaultVoices),
	}
}

// AllowedVoices returns the voices the backend currently advertises.
func (s *Settings) AllowedVoices() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.voices)
}

// TTS returns the settings for id, creating defaults on first use.
func (s *Settings) TTS(id int) domain.TTSSettings {
	s.mu.RLock()
	settings, ok := s.tts[id]
	s.mu.RUnlock()
	if ok {
		return settings
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if settings, ok := s.tts[id]; ok {
		return settings
	}
	settings = s.defaultsLocked()
	next := maps.Clone(s.tts)
	next[id] = settings
	s.tts = next
	return settings
}

// SetStyle stores a style preset for id. Unknown styles are rejected.
func (s *Settings) SetStyle(id int, raw string) (domain.TTSSettings, error) {
	style := domain.StylePreset(strings.ToLower(strings.TrimSpace(raw)))
	if style != domain.StyleWarm && style != domain.StyleProfessional {
		return domain.TTSSettings{}, fmt.Errorf("%w: style %q", domain.ErrInvalidSetting, raw)
	}
	return s.update(id, func(settings *domain.TTSSettings) { settings.StylePreset = style }), nil
}

// SetVoice stores a narrator voice for id. The voice must be allowed.
func (s *Settings) SetVoice(id int, voice string) (domain.TTSSettings, error) {
	voice = strings.TrimSpace(voice)
	if !slices.Contains(s.AllowedVoices(), voice) {
		return domain.TTSSettings{}, fmt.Errorf("%w: voice %q is not offered", domain.ErrInvalidSetting, voice)
	}
	return s.update(id, func(settings *domain.TTSSettings) { settings.Voice = voice }), nil
}

func (s *Settings) update(id int, apply func(*domain.TTSSettings)) domain.TTSSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings, ok := s.tts[id]
	if !ok {
		settings = s.defaultsLocked()
	}
	apply(&settings)
	next := maps.Clone(s.tts)
	next[id] = settings
	s.tts = next
	return settings
}

// ApplyAllowedVoices replaces the allowed voice set. Entries are trimmed and
// de-duplicated; an empty result leaves the current set in place. Stored
// voices that are no longer allowed move to the first allowed voice.
func (s *Settings) ApplyAllowedVoices(raw []string) ([]string, bool) {
	voices := make([]string, 0, len(raw))
	for _, voice := range raw {
		voice = strings.TrimSpace(voice)
		if voice == "" || slices.Contains(voices, voice) {
			continue
		}
		voices = append(voices, voice)
	}
	if len(voices) == 0 {
		return s.AllowedVoices(), false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Equal(voices, s.voices) {
		return slices.Clone(voices), false
	}
	s.voices = voices
	next := make(map[int]domain.TTSSettings, len(s.tts))
	for id, settings := range s.tts {
		if !slices.Contains(voices, settings.Voice) {
			settings.Voice = voices[0]
		}
		next[id] = settings
	}
	s.tts = next
	return slices.Clone(voices), true
}

// TurnPreset returns the preset recorded for id, or the default.
func (s *Settings) TurnPreset(id int) domain.TurnPreset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if preset, ok := s.presets[id]; ok {
		return domain.NormalizeTurnPreset(string(preset))
	}
	return domain.DefaultTurnPreset
}

// SetTurnPreset records preset for id, coercing invalid values to the default.
func (s *Settings) SetTurnPreset(id int, preset domain.TurnPreset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := maps.Clone(s.presets)
	next[id] = domain.NormalizeTurnPreset(string(preset))
	s.presets = next
}

func (s *Settings) defaultsLocked() domain.TTSSettings {
	voice := ""
	if len(s.voices) > 0 {
		voice = s.voices[0]
	}
	return domain.TTSSettings{StylePreset: domain.DefaultStylePreset, Voice: voice}
}

// Rekey moves the settings stored under from to to, unless to already has its own.
func (s *Settings) Rekey(from int, to int) {
	if from == to {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tts := maps.Clone(s.tts)
	if settings, ok := tts[from]; ok {
		if _, taken := tts[to]; !taken {
			tts[to] = settings
		}
		delete(tts, from)
	}
	presets := maps.Clone(s.presets)
	if preset, ok := presets[from]; ok {
		if _, taken := presets[to]; !taken {
			presets[to] = preset
		}
		delete(presets, from)
	}
	s.tts = tts
	s.presets = presets
}
