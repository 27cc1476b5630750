package conversation

import (
	"fmt"
	"slices"
	"sync"

	"voxareflect/internal/domain"
)

// Options configures a Machine.
type Options struct {
	Language   string
	StudyGroup string
	Settings   *Settings
}

// Machine is the single writer of conversation snapshots. It folds server
// replies, keeps the list reconciled and derives the view of the selection.
type Machine struct {
	mu         sync.Mutex
	language   string
	studyGroup string
	settings   *Settings

	list        []domain.Conversation
	selected    int
	hasSelected bool

	// creating is set while a provisional conversation awaits its first reply.
	creating    bool
	provisional int
}

func NewMachine(opts Options) *Machine {
	settings := opts.Settings
	if settings == nil {
		settings = NewSettings()
	}
	return &Machine{
		language:   opts.Language,
		studyGroup: opts.StudyGroup,
		settings:   settings,
	}
}

func (m *Machine) Settings() *Settings { return m.settings }

// SetSession updates the language and study group used for derived state.
func (m *Machine) SetSession(language string, studyGroup string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.language = language
	m.studyGroup = studyGroup
}

func (m *Machine) Language() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.language
}

func (m *Machine) StudyGroup() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.studyGroup
}

// Load replaces the list with server data and seeds turn presets.
func (m *Machine) Load(list []domain.Conversation) []domain.Conversation {
	next := make([]domain.Conversation, 0, len(list))
	for _, conv := range list {
		conv = conv.Clone()
		conv.TurnPreset = domain.NormalizeTurnPreset(string(conv.TurnPreset))
		m.settings.SetTurnPreset(conv.ID, conv.TurnPreset)
		next = append(next, conv)
	}
	SortByIDDesc(next)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.list = next
	m.creating = false
	if m.hasSelected && m.indexLocked(m.selected) < 0 {
		m.hasSelected = false
	}
	return slices.Clone(next)
}

// Conversations returns the current list, newest first.
func (m *Machine) Conversations() []domain.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.list)
}

// Selected returns the selected conversation, if any.
func (m *Machine) Selected() (domain.Conversation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasSelected {
		return domain.Conversation{}, false
	}
	idx := m.indexLocked(m.selected)
	if idx < 0 {
		return domain.Conversation{}, false
	}
	return m.list[idx], true
}

// Select makes id the selected conversation and merges its stored summary.
func (m *Machine) Select(id int) (domain.ConversationView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.indexLocked(id)
	if idx < 0 {
		return domain.ConversationView{}, fmt.Errorf("%w: %d", domain.ErrNoConversation, id)
	}
	conv := MergeSummary(m.list[idx], m.language)
	m.list = Reconcile(m.list, conv)
	m.selected = id
	m.hasSelected = true
	return m.viewLocked(conv, ""), nil
}

// NewConversation adds and selects a provisional conversation. While one is
// still awaiting its first reply, repeated calls reselect it instead.
func (m *Machine) NewConversation() (domain.ConversationView, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.creating {
		if idx := m.indexLocked(m.provisional); idx >= 0 {
			m.selected = m.provisional
			m.hasSelected = true
			return m.viewLocked(m.list[idx], ""), false
		}
		m.creating = false
	}

	id := ProvisionalID(m.list)
	conv := domain.Conversation{
		ID:         id,
		Title:      ProvisionalTitle(m.language),
		TurnPreset: domain.DefaultTurnPreset,
		Messages:   []domain.Message{},
	}
	m.settings.SetTurnPreset(id, domain.DefaultTurnPreset)
	m.settings.TTS(id)

	m.list = Reconcile(m.list, conv)
	m.creating = true
	m.provisional = id
	m.selected = id
	m.hasSelected = true
	return m.viewLocked(conv, ""), true
}

// ApplyReply folds reply into the conversation baseID (absent for a fresh
// start), reconciles the list and selects the result.
func (m *Machine) ApplyReply(baseID int, reply domain.Reply, sent string) domain.ConversationView {
	m.mu.Lock()
	defer m.mu.Unlock()

	base := domain.Conversation{Messages: []domain.Message{}}
	fallback := domain.DefaultTurnPreset
	if idx := m.indexLocked(baseID); idx >= 0 {
		base = m.list[idx]
		fallback = m.settings.TurnPreset(baseID)
	}

	next := Fold(base, reply, sent, fallback, m.language)
	list := Reconcile(m.list, next)
	if m.creating && baseID == m.provisional {
		if next.ID != baseID {
			list = Remove(list, baseID)
			m.settings.Rekey(baseID, next.ID)
		}
		m.creating = false
	}
	m.settings.SetTurnPreset(next.ID, next.TurnPreset)
	m.settings.TTS(next.ID)

	m.list = list
	m.selected = next.ID
	m.hasSelected = true
	return m.viewLocked(next, UserText(reply, sent))
}

// SetTurnPreset applies a local preset change to id immediately.
func (m *Machine) SetTurnPreset(id int, raw string) (domain.ConversationView, error) {
	preset, ok := domain.ParseTurnPreset(raw)
	if !ok {
		return domain.ConversationView{}, fmt.Errorf("%w: turn preset %q", domain.ErrInvalidSetting, raw)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.indexLocked(id)
	if idx < 0 {
		return domain.ConversationView{}, fmt.Errorf("%w: %d", domain.ErrNoConversation, id)
	}
	m.settings.SetTurnPreset(id, preset)
	conv := m.list[idx].Clone()
	conv.TurnPreset = preset
	m.list = Reconcile(m.list, conv)
	return m.viewLocked(conv, ""), nil
}

// View derives the view of id without changing the selection.
func (m *Machine) View(id int) (domain.ConversationView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.indexLocked(id)
	if idx < 0 {
		return domain.ConversationView{}, fmt.Errorf("%w: %d", domain.ErrNoConversation, id)
	}
	return m.viewLocked(m.list[idx], ""), nil
}

func (m *Machine) indexLocked(id int) int {
	for i, conv := range m.list {
		if conv.ID == id {
			return i
		}
	}
	return -1
}

func (m *Machine) viewLocked(conv domain.Conversation, last string) domain.ConversationView {
	phase := domain.Phase{CurrentStage: conv.Stage}
	if conv.Phase != nil {
		phase = *conv.Phase
	}
	return domain.ConversationView{
		Conversation: conv.Clone(),
		Visibility:   DeriveVisibility(conv, last, m.studyGroup, m.language),
		Progress:     phase.Progress(m.language),
		StageIndex:   phase.StageIndex(),
		WordCount:    conv.WordCount(),
		TurnPreset:   m.settings.TurnPreset(conv.ID),
		TTS:          m.settings.TTS(conv.ID),
	}
}
