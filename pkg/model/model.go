package model

import (
	"fmt"
	"time"
)

// MessageRole identifies the speaker of an interview message.
type MessageRole string

const (
	RoleAnalyst MessageRole = "analyst"
	RoleExpert  MessageRole = "expert"
)

// InterviewStatus is the lifecycle state of a single interview.
// Transitions are one-way: pending -> in_progress -> {completed, failed}.
type InterviewStatus string

const (
	InterviewPending    InterviewStatus = "pending"
	InterviewInProgress InterviewStatus = "in_progress"
	InterviewCompleted  InterviewStatus = "completed"
	InterviewFailed     InterviewStatus = "failed"
)

// Analyst is a synthesized research persona. Immutable once a panel is approved.
type Analyst struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Affiliation string `json:"affiliation"`
	Role        string `json:"role"`
	Description string `json:"description"`
}

// Persona renders the analyst as the formatted block used in prompts.
func (a Analyst) Persona() string {
	return fmt.Sprintf("Name: %s\nRole: %s\nAffiliation: %s\nDescription: %s",
		a.Name, a.Role, a.Affiliation, a.Description)
}

// Message is one turn entry in an interview transcript. Append-only, ordered
// by Sequence within its interview.
type Message struct {
	Role     MessageRole `json:"role"`
	Content  string      `json:"content"`
	Sequence int         `json:"sequence"`
}

// ContextSnippet is a retrieved piece of supporting text with provenance.
// Produced per question and retained on the interview for citation.
type ContextSnippet struct {
	Content string `json:"content"`
	Source  string `json:"source"`
}

// Interview is one analyst's full conversation with the simulated expert.
type Interview struct {
	ID        string           `json:"id"`
	AnalystID string           `json:"analyst_id"`
	Topic     string           `json:"topic"`
	Messages  []Message        `json:"messages"`
	Snippets  []ContextSnippet `json:"snippets,omitempty"`
	TurnCount int              `json:"turn_count"`
	Status    InterviewStatus  `json:"status"`
	MaxTurns  int              `json:"max_turns"`
}

// ExpertAnswers counts expert messages in the transcript. This is the turn
// measure capped by MaxTurns.
func (iv Interview) ExpertAnswers() int {
	n := 0
	for _, m := range iv.Messages {
		if m.Role == RoleExpert {
			n++
		}
	}
	return n
}

// ReportSection is the synthesis of one completed interview.
type ReportSection struct {
	AnalystID string   `json:"analyst_id"`
	Heading   string   `json:"heading"`
	Body      string   `json:"body"`
	Sources   []string `json:"sources,omitempty"`
}

// Report is the final document compiled from all interviews of a run.
// Omissions records analysts whose interviews failed and were left out.
type Report struct {
	Topic      string          `json:"topic"`
	Sections   []ReportSection `json:"sections"`
	Omissions  []string        `json:"omissions,omitempty"`
	CompiledAt time.Time       `json:"compiled_at"`
}
