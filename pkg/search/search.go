package search

import "context"

// Searcher is the common interface all context providers implement.
type Searcher interface {
	Search(ctx context.Context, req *Request) (*Response, error)
}

// Request is a provider-agnostic search request.
type Request struct {
	Query      string
	MaxResults int
}

// Response is a provider-agnostic search response.
type Response struct {
	Results []Result
}

// Result is a single ranked search hit.
type Result struct {
	Title   string
	URL     string
	Content string
	Score   float64
}
