package search

import (
	"context"

	"github.com/overcast-dev/research_panel/pkg/logger"
)

// Multi queries several providers behind the single Searcher interface and
// interleaves their results. A provider error is tolerated as long as at
// least one provider answered; all failing is an error.
type Multi struct {
	providers []Searcher
}

// NewMulti creates a composite searcher over the given providers.
func NewMulti(providers ...Searcher) *Multi {
	return &Multi{providers: providers}
}

var _ Searcher = (*Multi)(nil)

// Search implements Searcher.
func (m *Multi) Search(ctx context.Context, req *Request) (*Response, error) {
	var (
		batches [][]Result
		lastErr error
	)

	for _, p := range m.providers {
		resp, err := p.Search(ctx, req)
		if err != nil {
			logger.Log.Warnf("search provider failed for %q: %v", req.Query, err)
			lastErr = err
			continue
		}
		if len(resp.Results) > 0 {
			batches = append(batches, resp.Results)
		}
	}

	if len(batches) == 0 {
		if lastErr != nil {
			return nil, lastErr
		}
		return &Response{}, nil
	}

	// Round-robin across providers so each perspective is represented even
	// when MaxResults truncates the list.
	var merged []Result
	for i := 0; ; i++ {
		added := false
		for _, b := range batches {
			if i < len(b) {
				merged = append(merged, b[i])
				added = true
			}
		}
		if !added {
			break
		}
	}

	if req.MaxResults > 0 && len(merged) > req.MaxResults {
		merged = merged[:req.MaxResults]
	}
	return &Response{Results: merged}, nil
}
