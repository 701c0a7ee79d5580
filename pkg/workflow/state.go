package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/overcast-dev/research_panel/pkg/model"
)

// Phase is the workflow state of a run. Modeled as a tagged value with an
// explicit transition table rather than scattered flags.
type Phase string

const (
	PhaseGeneratingPersonas Phase = "generating_personas"
	PhaseAwaitingFeedback   Phase = "awaiting_feedback"
	PhaseDispatching        Phase = "dispatching"
	PhaseInterviewing       Phase = "interviewing"
	PhaseCompiling          Phase = "compiling"
	PhaseDone               Phase = "done"
	PhaseCancelled          Phase = "cancelled"
)

// transitions is the set of legal phase moves. Cancellation is handled
// separately: every non-terminal phase may move to cancelled.
var transitions = map[Phase][]Phase{
	PhaseGeneratingPersonas: {PhaseAwaitingFeedback},
	PhaseAwaitingFeedback:   {PhaseGeneratingPersonas, PhaseDispatching},
	PhaseDispatching:        {PhaseInterviewing},
	PhaseInterviewing:       {PhaseCompiling},
	PhaseCompiling:          {PhaseDone},
}

// Terminal reports whether no further progress is possible from p.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseCancelled
}

// RunState is the full durable state of one research run. It is what the
// RunStore persists at every suspension point; a process restart plus a Load
// must be enough to continue the run.
type RunState struct {
	RunID       string            `json:"run_id"`
	Topic       string            `json:"topic"`
	MaxAnalysts int               `json:"max_analysts"`
	MaxTurns    int               `json:"max_turns"`
	Phase       Phase             `json:"phase"`
	Analysts    []model.Analyst   `json:"analysts,omitempty"`
	Interviews  []model.Interview `json:"interviews,omitempty"`
	Report      *model.Report     `json:"report,omitempty"`
	Cancelled   bool              `json:"cancelled,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Validate checks the fields required by the current phase.
func (s *RunState) Validate() error {
	if s.RunID == "" {
		return fmt.Errorf("run state: missing run_id")
	}
	if strings.TrimSpace(s.Topic) == "" {
		return fmt.Errorf("run state %s: missing topic", s.RunID)
	}
	if s.MaxAnalysts < 1 {
		return fmt.Errorf("run state %s: max_analysts must be >= 1, got %d", s.RunID, s.MaxAnalysts)
	}
	if s.MaxTurns < 1 {
		return fmt.Errorf("run state %s: max_turns must be >= 1, got %d", s.RunID, s.MaxTurns)
	}

	switch s.Phase {
	case PhaseGeneratingPersonas, PhaseCancelled:
		// No analyst requirements: generation may not have happened yet.
	case PhaseAwaitingFeedback, PhaseDispatching:
		if len(s.Analysts) != s.MaxAnalysts {
			return fmt.Errorf("run state %s (%s): expected %d analysts, have %d",
				s.RunID, s.Phase, s.MaxAnalysts, len(s.Analysts))
		}
	case PhaseInterviewing, PhaseCompiling:
		if len(s.Interviews) != len(s.Analysts) {
			return fmt.Errorf("run state %s (%s): expected %d interviews, have %d",
				s.RunID, s.Phase, len(s.Analysts), len(s.Interviews))
		}
	case PhaseDone:
		if s.Report == nil {
			return fmt.Errorf("run state %s: done without a report", s.RunID)
		}
	default:
		return fmt.Errorf("run state %s: unknown phase %q", s.RunID, s.Phase)
	}
	return nil
}

// transitionTo moves the run to the next phase, enforcing the transition
// table and the target phase's field requirements.
func (s *RunState) transitionTo(next Phase) error {
	if next == PhaseCancelled {
		if s.Phase.Terminal() {
			return &InvalidTransitionError{RunID: s.RunID, Phase: s.Phase, Op: "cancel"}
		}
	} else {
		legal := false
		for _, t := range transitions[s.Phase] {
			if t == next {
				legal = true
				break
			}
		}
		if !legal {
			return &InvalidTransitionError{RunID: s.RunID, Phase: s.Phase, Op: string(next)}
		}
	}

	prev := s.Phase
	s.Phase = next
	if err := s.Validate(); err != nil {
		s.Phase = prev
		return err
	}
	return nil
}
