package persona

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/overcast-dev/research_panel/pkg/llm"
	"github.com/overcast-dev/research_panel/pkg/logger"
	"github.com/overcast-dev/research_panel/pkg/model"
)

const analystPrompt = `You are tasked with creating a set of AI analyst personas. Follow these instructions carefully:
1. First, review the research topic: %s
2. Examine any editorial feedback that has been optionally provided to guide creation of the analysts:
%s
3. Determine the most interesting themes for this topic and the feedback above.
4. Pick the top %d themes and assign one analyst to each theme.
5. Every analyst must have a role that is distinct from all other analysts.

Return strictly the following JSON, with exactly %d entries and no markdown fences:
{
	"analysts": [
		{"name": "...", "role": "...", "affiliation": "...", "description": "analyst focus, concerns, and motives"}
	]
}`

const correctiveNote = `Your previous output was invalid: %s
Regenerate the full JSON object from scratch, honoring every instruction above.`

// perspectives mirrors the structured output shape.
type perspectives struct {
	Analysts []analystRecord `json:"analysts"`
}

type analystRecord struct {
	Name        string `json:"name"`
	Role        string `json:"role"`
	Affiliation string `json:"affiliation"`
	Description string `json:"description"`
}

// Generator synthesizes analyst panels from a topic and optional feedback.
type Generator struct {
	llm llm.Service
}

// NewGenerator creates a persona generator.
func NewGenerator(svc llm.Service) *Generator {
	return &Generator{llm: svc}
}

// Generate returns exactly maxAnalysts analysts with pairwise-distinct roles.
// Malformed model output is retried once with a corrective instruction before
// a GenerationError is surfaced. The diversity rule is enforced here, never
// trusted from the model.
func (g *Generator) Generate(ctx context.Context, topic string, maxAnalysts int, feedback string) ([]model.Analyst, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, &model.GenerationError{Op: "personas", Reason: "topic must not be empty"}
	}
	if maxAnalysts < 1 {
		return nil, &model.GenerationError{Op: "personas", Reason: fmt.Sprintf("max_analysts must be >= 1, got %d", maxAnalysts)}
	}

	system := fmt.Sprintf(analystPrompt, topic, feedback, maxAnalysts, maxAnalysts)
	messages := []*schema.Message{
		{Role: schema.System, Content: system},
		{Role: schema.User, Content: "Generate the set of analysts."},
	}

	analysts, reason, err := g.generateOnce(ctx, messages, maxAnalysts)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		return analysts, nil
	}

	logger.Log.Warnf("analyst generation invalid (%s), retrying with corrective instruction", reason)
	corrective := append(messages, &schema.Message{
		Role:    schema.User,
		Content: fmt.Sprintf(correctiveNote, reason),
	})

	analysts, reason, err = g.generateOnce(ctx, corrective, maxAnalysts)
	if err != nil {
		return nil, err
	}
	if reason != "" {
		return nil, &model.GenerationError{Op: "personas", Reason: reason}
	}
	return analysts, nil
}

// generateOnce performs one structured generation and validates it. A non-empty
// reason marks a validation failure eligible for the corrective retry.
func (g *Generator) generateOnce(ctx context.Context, messages []*schema.Message, want int) ([]model.Analyst, string, error) {
	var p perspectives
	if err := g.llm.CompleteJSON(ctx, messages, &p); err != nil {
		return nil, "", &model.GenerationError{Op: "personas", Reason: "model output unparseable", Err: err}
	}

	if len(p.Analysts) != want {
		return nil, fmt.Sprintf("expected %d analysts, got %d", want, len(p.Analysts)), nil
	}

	seen := make(map[string]bool, len(p.Analysts))
	analysts := make([]model.Analyst, 0, len(p.Analysts))
	for _, rec := range p.Analysts {
		role := strings.TrimSpace(rec.Role)
		if role == "" {
			return nil, "analyst with empty role", nil
		}
		if seen[role] {
			return nil, fmt.Sprintf("duplicate analyst role %q", role), nil
		}
		seen[role] = true

		analysts = append(analysts, model.Analyst{
			ID:          uuid.New().String(),
			Name:        rec.Name,
			Affiliation: rec.Affiliation,
			Role:        role,
			Description: rec.Description,
		})
	}
	return analysts, "", nil
}
