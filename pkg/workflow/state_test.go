package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overcast-dev/research_panel/pkg/model"
)

func validState(phase Phase) *RunState {
	st := &RunState{
		RunID:       "run-1",
		Topic:       "AI in healthcare",
		MaxAnalysts: 2,
		MaxTurns:    2,
		Phase:       phase,
		CreatedAt:   time.Now().UTC(),
	}
	if phase != PhaseGeneratingPersonas && phase != PhaseCancelled {
		st.Analysts = []model.Analyst{
			{ID: "a-1", Role: "Clinician"},
			{ID: "a-2", Role: "Regulator"},
		}
	}
	if phase == PhaseInterviewing || phase == PhaseCompiling || phase == PhaseDone {
		st.Interviews = []model.Interview{
			{ID: "iv-1", AnalystID: "a-1", Status: model.InterviewCompleted},
			{ID: "iv-2", AnalystID: "a-2", Status: model.InterviewCompleted},
		}
	}
	if phase == PhaseDone {
		st.Report = &model.Report{Topic: st.Topic}
	}
	return st
}

func TestTransitionTable(t *testing.T) {
	legal := []struct {
		from, to Phase
	}{
		{PhaseGeneratingPersonas, PhaseAwaitingFeedback},
		{PhaseAwaitingFeedback, PhaseGeneratingPersonas},
		{PhaseAwaitingFeedback, PhaseDispatching},
		{PhaseDispatching, PhaseInterviewing},
		{PhaseInterviewing, PhaseCompiling},
		{PhaseCompiling, PhaseDone},
	}
	for _, tc := range legal {
		st := validState(tc.from)
		if len(st.Analysts) == 0 {
			st.Analysts = []model.Analyst{
				{ID: "a-1", Role: "Clinician"},
				{ID: "a-2", Role: "Regulator"},
			}
		}
		if tc.to == PhaseDone {
			st.Report = &model.Report{Topic: st.Topic}
		}
		if tc.to == PhaseInterviewing || tc.to == PhaseCompiling {
			st.Interviews = []model.Interview{
				{ID: "iv-1", AnalystID: "a-1", Status: model.InterviewCompleted},
				{ID: "iv-2", AnalystID: "a-2", Status: model.InterviewCompleted},
			}
		}
		require.NoError(t, st.transitionTo(tc.to), "%s -> %s must be legal", tc.from, tc.to)
		assert.Equal(t, tc.to, st.Phase)
	}

	illegal := []struct {
		from, to Phase
	}{
		{PhaseGeneratingPersonas, PhaseDispatching},
		{PhaseAwaitingFeedback, PhaseInterviewing},
		{PhaseDispatching, PhaseDone},
		{PhaseInterviewing, PhaseDone},
		{PhaseDone, PhaseAwaitingFeedback},
		{PhaseCancelled, PhaseInterviewing},
	}
	for _, tc := range illegal {
		st := validState(tc.from)
		err := st.transitionTo(tc.to)
		var invErr *InvalidTransitionError
		require.ErrorAs(t, err, &invErr, "%s -> %s must be rejected", tc.from, tc.to)
		assert.Equal(t, tc.from, st.Phase, "rejected transition must not change phase")
	}
}

func TestCancellationFromAnyNonTerminalPhase(t *testing.T) {
	for _, from := range []Phase{
		PhaseGeneratingPersonas,
		PhaseAwaitingFeedback,
		PhaseDispatching,
		PhaseInterviewing,
		PhaseCompiling,
	} {
		st := validState(from)
		require.NoError(t, st.transitionTo(PhaseCancelled), "cancel from %s", from)
		assert.True(t, st.Phase.Terminal())
	}

	for _, from := range []Phase{PhaseDone, PhaseCancelled} {
		st := validState(from)
		err := st.transitionTo(PhaseCancelled)
		var invErr *InvalidTransitionError
		require.ErrorAs(t, err, &invErr, "cancel from %s must be rejected", from)
	}
}

func TestValidatePhaseRequirements(t *testing.T) {
	st := validState(PhaseAwaitingFeedback)
	st.Analysts = st.Analysts[:1]
	require.Error(t, st.Validate(), "analyst count must match the requested panel size")

	st = validState(PhaseInterviewing)
	st.Interviews = st.Interviews[:1]
	require.Error(t, st.Validate(), "every analyst needs an interview slot")

	st = validState(PhaseDone)
	st.Report = nil
	require.Error(t, st.Validate(), "done requires a report")

	st = validState(PhaseAwaitingFeedback)
	st.Topic = "  "
	require.Error(t, st.Validate())

	st = validState(PhaseAwaitingFeedback)
	st.MaxTurns = 0
	require.Error(t, st.Validate())
}

func TestTransitionRollsBackOnInvalidTarget(t *testing.T) {
	st := validState(PhaseCompiling)
	st.Report = nil

	err := st.transitionTo(PhaseDone)
	require.Error(t, err)
	assert.Equal(t, PhaseCompiling, st.Phase, "failed validation must restore the prior phase")
}
