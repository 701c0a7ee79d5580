package interview

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/overcast-dev/research_panel/pkg/llm"
	"github.com/overcast-dev/research_panel/pkg/logger"
	"github.com/overcast-dev/research_panel/pkg/model"
	"github.com/overcast-dev/research_panel/pkg/retrieve"
)

const questionPrompt = `You are an analyst tasked with interviewing an expert to learn about a specific topic.

Your goal is to boil down to interesting and specific insights related to your topic.
1. Interesting: Insights that people will find surprising or non-obvious.
2. Specific: Insights that avoid generalities and include specific examples from the expert.

Here is your topic of focus and set of goals:
%s
Research topic: %s

Begin by introducing yourself using a name that fits your persona, and then ask your question.
Continue to ask questions to drill down and refine your understanding of the topic.
Never repeat a question you have already asked; each follow-up must build on the expert's most recent answer.
When you are satisfied with your understanding, complete the interview with: "%s!"
Remember to stay in character throughout your response.`

const answerPrompt = `You are an expert being interviewed by an analyst.

Here is the analyst's area of focus:
%s

Your goal is to answer the question posed by the interviewer.

To answer the question, use this context:

%s

Guidelines:
1. Use only the information provided in the context.
2. Do not introduce external information or make assumptions beyond what is explicitly stated in the context.
3. Each context document carries its source in the Document tag.
4. Cite sources next to relevant statements, e.g. [1] for document index 1.
5. List your sources in order at the bottom of your answer: [1] Source 1, [2] Source 2, etc.`

// Engine drives one analyst's interview loop to completion.
type Engine struct {
	llm       llm.Service
	retriever *retrieve.Retriever
}

// NewEngine creates an interview engine.
func NewEngine(svc llm.Service, retriever *retrieve.Retriever) *Engine {
	return &Engine{llm: svc, retriever: retriever}
}

// Run executes the full question/retrieve/answer loop for one analyst and
// returns the transcript. The returned interview is completed on success and
// failed on cancellation or an unrecoverable model error; the partial
// transcript is preserved either way. TurnCount never exceeds maxTurns.
func (e *Engine) Run(ctx context.Context, analyst model.Analyst, topic string, maxTurns int) (model.Interview, error) {
	iv := model.Interview{
		ID:        uuid.New().String(),
		AnalystID: analyst.ID,
		Topic:     topic,
		Status:    model.InterviewPending,
		MaxTurns:  maxTurns,
	}
	if maxTurns < 1 {
		iv.Status = model.InterviewFailed
		return iv, fmt.Errorf("max_turns must be >= 1, got %d", maxTurns)
	}

	iv.Status = model.InterviewInProgress
	logger.Log.Infof("interview %s started: analyst=%s topic=%q", iv.ID, analyst.Name, topic)

	for iv.TurnCount < maxTurns {
		if err := ctx.Err(); err != nil {
			iv.Status = model.InterviewFailed
			return iv, err
		}

		question, err := e.generateQuestion(ctx, analyst, topic, iv.Messages)
		if err != nil {
			iv.Status = model.InterviewFailed
			return iv, fmt.Errorf("question generation: %w", err)
		}
		iv.Messages = append(iv.Messages, model.Message{
			Role:     model.RoleAnalyst,
			Content:  question,
			Sequence: len(iv.Messages) + 1,
		})

		// Retrieval failure degrades to an empty context set; partial
		// research beats a stalled interview.
		snippets, err := e.retriever.Retrieve(ctx, iv.Messages)
		if err != nil {
			var rerr *model.RetrievalError
			if !errors.As(err, &rerr) {
				iv.Status = model.InterviewFailed
				return iv, err
			}
			logger.Log.Warnf("interview %s: %v, continuing without context", iv.ID, err)
			snippets = nil
		}
		iv.Snippets = append(iv.Snippets, snippets...)

		answer, err := e.generateAnswer(ctx, analyst, iv.Messages, snippets)
		if err != nil {
			iv.Status = model.InterviewFailed
			return iv, fmt.Errorf("answer generation: %w", err)
		}
		iv.Messages = append(iv.Messages, model.Message{
			Role:     model.RoleExpert,
			Content:  answer,
			Sequence: len(iv.Messages) + 1,
		})
		iv.TurnCount++

		if ShouldEnd(iv.Messages, maxTurns) {
			break
		}
	}

	iv.Status = model.InterviewCompleted
	logger.Log.Infof("interview %s completed after %d turns", iv.ID, iv.TurnCount)
	return iv, nil
}

// generateQuestion produces the next analyst question. The conversation is
// presented from the analyst's point of view, so prior analyst questions map
// to the assistant role.
func (e *Engine) generateQuestion(ctx context.Context, analyst model.Analyst, topic string, history []model.Message) (string, error) {
	system := fmt.Sprintf(questionPrompt, analyst.Persona(), topic, SignOffPhrase)
	messages := []*schema.Message{{Role: schema.System, Content: system}}
	for _, m := range history {
		role := schema.User
		if m.Role == model.RoleAnalyst {
			role = schema.Assistant
		}
		messages = append(messages, &schema.Message{Role: role, Content: m.Content})
	}
	if len(history) == 0 {
		messages = append(messages, &schema.Message{
			Role:    schema.User,
			Content: "Please introduce yourself and ask your opening question.",
		})
	}
	return e.llm.Complete(ctx, messages)
}

// generateAnswer produces the expert's reply, grounded in the retrieved
// snippets and the analyst's stated focus.
func (e *Engine) generateAnswer(ctx context.Context, analyst model.Analyst, history []model.Message, snippets []model.ContextSnippet) (string, error) {
	system := fmt.Sprintf(answerPrompt, analyst.Persona(), retrieve.FormatContext(snippets))
	messages := []*schema.Message{{Role: schema.System, Content: system}}
	for _, m := range history {
		role := schema.User
		if m.Role == model.RoleExpert {
			role = schema.Assistant
		}
		messages = append(messages, &schema.Message{Role: role, Content: m.Content})
	}
	return e.llm.Complete(ctx, messages)
}
