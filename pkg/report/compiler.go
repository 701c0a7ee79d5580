package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/overcast-dev/research_panel/pkg/llm"
	"github.com/overcast-dev/research_panel/pkg/logger"
	"github.com/overcast-dev/research_panel/pkg/model"
	"github.com/overcast-dev/research_panel/pkg/retrieve"
)

const sectionPrompt = `You are an expert technical writer.

Your task is to create a short, easily digestible section of a report based on an interview transcript and its source documents.

1. Use markdown formatting:
- ## for the section title
- ### for sub-section headers

2. Write the section with this structure:
a. Title (## header)
b. Summary (### header)
c. Sources (### header)

3. Make your title engaging based upon the focus area of the analyst:
%s

4. For the summary:
- Set up the summary with general background related to the analyst's focus area.
- Emphasize what is novel, interesting, or surprising about the insights gathered from the interview.
- Do not mention the names of interviewers or experts.
- Aim for approximately 400 words maximum.
- Use numbered citations (e.g. [1], [2]) tied to the source documents.

5. In the Sources section list every cited source once, one per line:
[1] Link or document name
[2] Link or document name

Do not list the same source twice. Include no preamble before the title.`

// Compiler reduces completed interviews into one structured report.
type Compiler struct {
	llm llm.Service
}

// NewCompiler creates a report compiler.
func NewCompiler(svc llm.Service) *Compiler {
	return &Compiler{llm: svc}
}

// Compile produces one section per completed interview, in analyst dispatch
// order regardless of completion order. Failed interviews are omitted with a
// recorded note. Any interview in a non-terminal state is a CompilationError.
func (c *Compiler) Compile(ctx context.Context, topic string, analysts []model.Analyst, interviews []model.Interview) (model.Report, error) {
	rep := model.Report{Topic: topic}

	byAnalyst := make(map[string]model.Interview, len(interviews))
	for _, iv := range interviews {
		byAnalyst[iv.AnalystID] = iv
	}

	for _, a := range analysts {
		iv, ok := byAnalyst[a.ID]
		if !ok {
			return model.Report{}, &model.CompilationError{AnalystID: a.ID, Status: model.InterviewPending}
		}
		switch iv.Status {
		case model.InterviewCompleted:
			section, err := c.writeSection(ctx, a, iv)
			if err != nil {
				return model.Report{}, err
			}
			rep.Sections = append(rep.Sections, section)
		case model.InterviewFailed:
			logger.Log.Warnf("omitting failed interview for analyst %s from report", a.Name)
			rep.Omissions = append(rep.Omissions,
				fmt.Sprintf("interview with %s (%s) failed and was omitted", a.Name, a.Role))
		default:
			return model.Report{}, &model.CompilationError{AnalystID: a.ID, Status: iv.Status}
		}
	}

	rep.CompiledAt = time.Now().UTC()
	return rep, nil
}

func (c *Compiler) writeSection(ctx context.Context, analyst model.Analyst, iv model.Interview) (model.ReportSection, error) {
	docs := retrieve.FormatContext(iv.Snippets)
	transcript := formatTranscript(iv.Messages)

	messages := []*schema.Message{
		{Role: schema.System, Content: fmt.Sprintf(sectionPrompt, analyst.Description)},
		{Role: schema.User, Content: fmt.Sprintf("Interview transcript:\n\n%s\n\nSource documents:\n\n%s", transcript, docs)},
	}

	body, err := c.llm.Complete(ctx, messages)
	if err != nil {
		return model.ReportSection{}, &model.GenerationError{Op: "section", Reason: "section synthesis failed", Err: err}
	}

	return model.ReportSection{
		AnalystID: analyst.ID,
		Heading:   extractHeading(body, analyst),
		Body:      body,
		Sources:   snippetSources(iv.Snippets),
	}, nil
}

func formatTranscript(messages []model.Message) string {
	var sb strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&sb, "%s: %s\n\n", strings.ToUpper(string(m.Role)), m.Content)
	}
	return sb.String()
}

// extractHeading takes the first ## title from the generated markdown,
// falling back to the analyst's role.
func extractHeading(body string, analyst model.Analyst) string {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "## ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "## "))
		}
	}
	return fmt.Sprintf("%s Perspective", analyst.Role)
}

// snippetSources returns the deduplicated provenance list in first-use order.
func snippetSources(snippets []model.ContextSnippet) []string {
	seen := make(map[string]bool, len(snippets))
	var sources []string
	for _, s := range snippets {
		if s.Source == "" || seen[s.Source] {
			continue
		}
		seen[s.Source] = true
		sources = append(sources, s.Source)
	}
	return sources
}
