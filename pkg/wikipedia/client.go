package wikipedia

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/overcast-dev/research_panel/pkg/search"
)

const defaultBaseURL = "https://en.wikipedia.org/w/api.php"

// Client is a MediaWiki API client used as the encyclopedia-style provider.
type Client struct {
	baseURL string
	maxDocs int
	client  *http.Client
}

// NewClient creates a new Wikipedia client. baseURL may be empty to use the
// public English Wikipedia endpoint.
func NewClient(baseURL string, timeout int, maxDocs int) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	t := time.Duration(timeout) * time.Second
	if t == 0 {
		t = 30 * time.Second
	}
	if maxDocs <= 0 {
		maxDocs = 2
	}
	return &Client{
		baseURL: baseURL,
		maxDocs: maxDocs,
		client: &http.Client{
			Timeout: t,
		},
	}
}

// Ensure Client implements search.Searcher
var _ search.Searcher = (*Client)(nil)

// queryResponse is the MediaWiki generator=search response.
type queryResponse struct {
	Query struct {
		Pages map[string]page `json:"pages"`
	} `json:"query"`
}

type page struct {
	PageID  int    `json:"pageid"`
	Index   int    `json:"index"`
	Title   string `json:"title"`
	Extract string `json:"extract"`
	FullURL string `json:"fullurl"`
}

// Search implements search.Searcher. It issues a single generator=search
// request so page extracts arrive together with the hit list.
func (c *Client) Search(ctx context.Context, req *search.Request) (*search.Response, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	limit := req.MaxResults
	if limit <= 0 || limit > c.maxDocs {
		limit = c.maxDocs
	}

	q := u.Query()
	q.Set("action", "query")
	q.Set("format", "json")
	q.Set("generator", "search")
	q.Set("gsrsearch", req.Query)
	q.Set("gsrlimit", strconv.Itoa(limit))
	q.Set("prop", "extracts|info")
	q.Set("explaintext", "1")
	q.Set("exintro", "1")
	q.Set("inprop", "url")
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request failed: %w", err)
	}
	httpReq.Header.Set("User-Agent", "research_panel/1.0")

	res, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("wikipedia api error (status %d): %s", res.StatusCode, string(body))
	}

	var queryResp queryResponse
	if err := json.NewDecoder(res.Body).Decode(&queryResp); err != nil {
		return nil, fmt.Errorf("decode response failed: %w", err)
	}

	pages := make([]page, 0, len(queryResp.Query.Pages))
	for _, p := range queryResp.Query.Pages {
		pages = append(pages, p)
	}
	// The pages map is keyed by page ID; index carries the search ranking.
	sort.Slice(pages, func(i, j int) bool { return pages[i].Index < pages[j].Index })

	var results []search.Result
	for _, p := range pages {
		src := p.FullURL
		if src == "" {
			src = fmt.Sprintf("https://en.wikipedia.org/?curid=%d", p.PageID)
		}
		results = append(results, search.Result{
			Title:   p.Title,
			URL:     src,
			Content: p.Extract,
		})
	}

	return &search.Response{Results: results}, nil
}
