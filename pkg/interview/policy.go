package interview

import (
	"strings"

	"github.com/overcast-dev/research_panel/pkg/model"
)

// SignOffPhrase is the canonical closing an analyst uses to end an interview
// before the turn budget is spent.
const SignOffPhrase = "Thank you so much for your help"

// ShouldEnd reports whether an interview is done. It is a pure function of
// the history and the turn budget: true once the expert has answered maxTurns
// times, or once the most recent analyst message contains the sign-off.
func ShouldEnd(history []model.Message, maxTurns int) bool {
	expertAnswers := 0
	lastAnalyst := -1
	for i, m := range history {
		switch m.Role {
		case model.RoleExpert:
			expertAnswers++
		case model.RoleAnalyst:
			lastAnalyst = i
		}
	}

	if expertAnswers >= maxTurns {
		return true
	}

	if lastAnalyst >= 0 && strings.Contains(history[lastAnalyst].Content, SignOffPhrase) {
		return true
	}

	return false
}
