package domain

import "strings"

// PhaseSequence is the fixed reflection cycle.
var PhaseSequence = []string{"Description", "Feelings", "Evaluation", "Analysis", "Conclusion", "Action Plan"}

var phaseLabelsDE = map[string]string{
	"Description": "Beschreibung",
	"Feelings":    "Gefühle",
	"Evaluation":  "Bewertung",
	"Analysis":    "Analyse",
	"Conclusion":  "Schlussfolgerung",
	"Action Plan": "Aktionsplan",
}

// Phase is the server-supplied position in the reflection cycle.
type Phase struct {
	CurrentStage string `json:"currentStage"`
	CurrentIndex int    `json:"currentIndex"`
	TotalStages  int    `json:"totalStages"`
	IsFinished   bool   `json:"isFinished"`
}

// StageIndex places the phase on PhaseSequence (zero-based).
// A finished cycle is always pinned to the last stage.
func (p Phase) StageIndex() int {
	last := len(PhaseSequence) - 1
	if p.IsFinished {
		return last
	}
	name := strings.ToLower(strings.TrimSpace(p.CurrentStage))
	for i, stage := range PhaseSequence {
		if strings.ToLower(stage) == name {
			return i
		}
	}
	idx := p.CurrentIndex - 1
	if idx < 0 {
		return 0
	}
	if idx > last {
		return last
	}
	return idx
}

// StageStatus is the rendering state of one stage in the timeline.
type StageStatus string

const (
	StageCompleted StageStatus = "completed"
	StageCurrent   StageStatus = "current"
	StagePending   StageStatus = "pending"
)

// StageProgress is one arrow of the phase timeline.
type StageProgress struct {
	Name   string      `json:"name"`
	Label  string      `json:"label"`
	Status StageStatus `json:"status"`
}

// Progress returns the timeline for p, labelled for language.
func (p Phase) Progress(language string) []StageProgress {
	current := p.StageIndex()
	out := make([]StageProgress, len(PhaseSequence))
	for i, stage := range PhaseSequence {
		status := StagePending
		switch {
		case p.IsFinished || i < current:
			status = StageCompleted
		case i == current:
			status = StageCurrent
		}
		out[i] = StageProgress{Name: stage, Label: PhaseLabel(stage, language), Status: status}
	}
	return out
}

// PhaseLabel localizes a stage name, returning the name itself when unknown.
func PhaseLabel(stage string, language string) string {
	if language == "de" {
		if label, ok := phaseLabelsDE[stage]; ok {
			return label
		}
	}
	return stage
}
