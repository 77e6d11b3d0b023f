package wizard

import (
	"time"

	"ms-stepping/internal/models"
	"ms-stepping/internal/monitoring"
)

const DefaultHistorySize = 10

type HistoryEntry struct {
	From int       `json:"from"`
	To   int       `json:"to"`
	At   time.Time `json:"at"`
}

// State is the serializable part of a Navigator.
type State struct {
	EventType      models.EventType `json:"event_type"`
	CurrentStep    int              `json:"current_step"`
	LastValidation ValidationResult `json:"last_validation"`
	History        []HistoryEntry   `json:"history"`
}

// Navigator tracks the active step for one draft. Not safe for concurrent use.
type Navigator struct {
	eventType   models.EventType
	steps       []Step
	current     int
	last        ValidationResult
	history     []HistoryEntry
	historySize int
	now         func() time.Time
}

func NewNavigator(eventType models.EventType, historySize int) *Navigator {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Navigator{
		eventType:   eventType,
		steps:       VisibleSteps(eventType),
		current:     1,
		last:        ValidationResult{Valid: true},
		historySize: historySize,
		now:         time.Now,
	}
}

// Restore rebuilds a navigator from saved state, clamping the step.
func Restore(s State, historySize int) *Navigator {
	n := NewNavigator(s.EventType, historySize)
	n.current = n.clamp(s.CurrentStep)
	n.last = s.LastValidation
	n.history = append(n.history, s.History...)
	n.trimHistory()
	return n
}

func (n *Navigator) State() State {
	return State{
		EventType:      n.eventType,
		CurrentStep:    n.current,
		LastValidation: n.last,
		History:        n.History(),
	}
}

func (n *Navigator) EventType() models.EventType { return n.eventType }

// SetEventType switches tier. The visible steps change, so the current step is
// clamped again.
func (n *Navigator) SetEventType(t models.EventType) {
	n.eventType = t
	n.steps = VisibleSteps(t)
	n.current = n.clamp(n.current)
}

func (n *Navigator) Steps() []Step {
	out := make([]Step, len(n.steps))
	copy(out, n.steps)
	return out
}

func (n *Navigator) Current() int { return n.current }

func (n *Navigator) CurrentStep() Step { return n.steps[n.current-1] }

func (n *Navigator) LastValidation() ValidationResult { return n.last }

func (n *Navigator) History() []HistoryEntry {
	return append([]HistoryEntry(nil), n.history...)
}

// Progress is the percentage of visible steps reached.
func (n *Navigator) Progress() int {
	return n.current * 100 / len(n.steps)
}

func (n *Navigator) IsLastStep() bool { return n.current == len(n.steps) }

// CanNavigateForward reports whether the current step accepts form.
func (n *Navigator) CanNavigateForward(form FormState) bool {
	return n.CurrentStep().Validate(form).Valid
}

// GoToStep moves to target, clamped to the visible steps. Moving forward
// validates the current step first; on failure the navigator stays put,
// onBlocked (if set) receives the errors and they are returned. Moving back
// never validates.
func (n *Navigator) GoToStep(target int, form FormState, onBlocked func(errors []string)) (bool, []string) {
	target = n.clamp(target)
	if target == n.current {
		return true, nil
	}

	if target > n.current {
		res := n.CurrentStep().Validate(form)
		n.last = res
		if !res.Valid {
			monitoring.TrackWizardNavigation("forward", "blocked")
			if onBlocked != nil {
				onBlocked(res.Errors)
			}
			return false, res.Errors
		}
		monitoring.TrackWizardNavigation("forward", "moved")
	} else {
		n.last = ValidationResult{Valid: true}
		monitoring.TrackWizardNavigation("backward", "moved")
	}

	n.history = append(n.history, HistoryEntry{From: n.current, To: target, At: n.now()})
	n.trimHistory()
	n.current = target
	return true, nil
}

func (n *Navigator) Next(form FormState, onBlocked func([]string)) (bool, []string) {
	return n.GoToStep(n.current+1, form, onBlocked)
}

func (n *Navigator) Previous() {
	n.GoToStep(n.current-1, FormState{}, nil)
}

// ValidateAll runs every visible step and merges the results.
func (n *Navigator) ValidateAll(form FormState) ValidationResult {
	var r result
	for _, s := range n.steps {
		res := s.Validate(form)
		r.errors = append(r.errors, res.Errors...)
		r.warnings = append(r.warnings, res.Warnings...)
	}
	return r.done()
}

func (n *Navigator) clamp(step int) int {
	if step < 1 {
		return 1
	}
	if step > len(n.steps) {
		return len(n.steps)
	}
	return step
}

func (n *Navigator) trimHistory() {
	if extra := len(n.history) - n.historySize; extra > 0 {
		n.history = append([]HistoryEntry(nil), n.history[extra:]...)
	}
}
