package retrieve

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/go-shiori/go-readability"

	"github.com/overcast-dev/research_panel/pkg/llm"
	"github.com/overcast-dev/research_panel/pkg/logger"
	"github.com/overcast-dev/research_panel/pkg/model"
	"github.com/overcast-dev/research_panel/pkg/search"
)

const queryPrompt = `You will be given a conversation between an analyst and an expert.

Your goal is to generate a well-structured query for use in retrieval and / or web-search related to the conversation.

First, analyze the full conversation.

Pay particular attention to the final question posed by the analyst.

Convert this final question into a well-structured web search query.

Return strictly this JSON, no markdown fences:
{"search_query": "..."}`

type searchQuery struct {
	SearchQuery string `json:"search_query"`
}

// searchRetries bounds retries for provider failures. Together with the
// initial attempt this gives at most 3 calls.
const searchRetries = 2

const searchBaseDelay = 500 * time.Millisecond

// Options tunes retrieval behavior.
type Options struct {
	MaxResults int
	// EnrichContent fetches full page text for results with thin snippets.
	EnrichContent bool
}

// Retriever turns the latest analyst question into ranked context snippets.
type Retriever struct {
	llm      llm.Service
	searcher search.Searcher
	opts     Options
}

// NewRetriever creates a retriever over the given providers.
func NewRetriever(svc llm.Service, searcher search.Searcher, opts Options) *Retriever {
	if opts.MaxResults <= 0 {
		opts.MaxResults = 3
	}
	return &Retriever{llm: svc, searcher: searcher, opts: opts}
}

// Retrieve returns snippets supporting the latest analyst question. Provider
// failure surfaces as a RetrievalError; callers absorb it and continue with
// an empty context set.
func (r *Retriever) Retrieve(ctx context.Context, history []model.Message) ([]model.ContextSnippet, error) {
	question := lastAnalystQuestion(history)
	if question == "" {
		return nil, nil
	}

	query := r.condenseQuery(ctx, history, question)

	resp, err := r.search(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &model.RetrievalError{Query: query, Err: err}
	}

	var snippets []model.ContextSnippet
	for _, res := range resp.Results {
		content := res.Content
		if r.opts.EnrichContent && len(content) < 500 && res.URL != "" {
			if fetched, ferr := fetchAndCleanContent(res.URL); ferr == nil && len(fetched) > len(content) {
				content = fetched
			}
		}
		if len(content) > 5000 {
			content = content[:5000]
		}
		if strings.TrimSpace(content) == "" {
			continue
		}
		snippets = append(snippets, model.ContextSnippet{
			Content: content,
			Source:  res.URL,
		})
	}
	return snippets, nil
}

// search runs the provider with bounded exponential-backoff retries before
// the failure propagates.
func (r *Retriever) search(ctx context.Context, query string) (*search.Response, error) {
	var lastErr error

	for i := 0; i <= searchRetries; i++ {
		resp, err := r.searcher.Search(ctx, &search.Request{
			Query:      query,
			MaxResults: r.opts.MaxResults,
		})
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if i < searchRetries {
			logger.Log.Warnf("search attempt %d for %q failed: %v, retrying", i+1, query, err)
			select {
			case <-time.After(searchBaseDelay * time.Duration(1<<i)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

// condenseQuery asks the model for a focused search query; on failure the raw
// question text is used instead.
func (r *Retriever) condenseQuery(ctx context.Context, history []model.Message, question string) string {
	messages := []*schema.Message{{Role: schema.System, Content: queryPrompt}}
	for _, m := range history {
		role := schema.User
		if m.Role == model.RoleExpert {
			role = schema.Assistant
		}
		messages = append(messages, &schema.Message{Role: role, Content: m.Content})
	}

	var sq searchQuery
	if err := r.llm.CompleteJSON(ctx, messages, &sq); err != nil || strings.TrimSpace(sq.SearchQuery) == "" {
		if err != nil {
			logger.Log.Warnf("search query condensation failed, using raw question: %v", err)
		}
		return question
	}
	return sq.SearchQuery
}

// FormatContext renders snippets as the document blocks expected by the
// expert answer prompt. Sources are numbered in snippet order.
func FormatContext(snippets []model.ContextSnippet) string {
	if len(snippets) == 0 {
		return "No context documents available."
	}

	var sb strings.Builder
	for i, s := range snippets {
		fmt.Fprintf(&sb, "<Document source=%q index=\"%d\">\n%s\n</Document>", s.Source, i+1, s.Content)
		if i < len(snippets)-1 {
			sb.WriteString("\n\n---\n\n")
		}
	}
	return sb.String()
}

func lastAnalystQuestion(history []model.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == model.RoleAnalyst {
			return history[i].Content
		}
	}
	return ""
}

func fetchAndCleanContent(url string) (string, error) {
	article, err := readability.FromURL(url, 30*time.Second)
	if err != nil {
		return "", err
	}
	return article.TextContent, nil
}
