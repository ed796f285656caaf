package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"sourcemind/internal/domain"
	"sourcemind/internal/infra/httpclient"
)

// SearxNGClient queries a SearxNG instance's JSON API for open-web results.
// Requests are rate limited so a burst of backstop searches cannot hammer the
// shared instance.
type SearxNGClient struct {
	BaseURL string
	Client  *http.Client
	limiter *rate.Limiter
}

// NewSearxNGClient creates a web-search client with the given requests-per-second cap.
func NewSearxNGClient(baseURL string, timeoutSeconds int, requestsPerSecond float64) *SearxNGClient {
	timeout := 20 * time.Second
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}
	if requestsPerSecond <= 0 {
		requestsPerSecond = 2
	}
	return &SearxNGClient{
		BaseURL: baseURL,
		Client:  httpclient.NewPooledClient(timeout),
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
	}
}

type searxngResponse struct {
	Results []searxngResult `json:"results"`
}

type searxngResult struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	URL     string `json:"url"`
}

// Search returns up to maxResults hits for the query.
func (c *SearxNGClient) Search(ctx context.Context, query string, maxResults int) ([]domain.WebResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	u, err := url.Parse(fmt.Sprintf("%s/search", c.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("format", "json")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web search request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("web search returned status: %d", resp.StatusCode)
	}

	var sResp searxngResponse
	if err := json.NewDecoder(resp.Body).Decode(&sResp); err != nil {
		return nil, fmt.Errorf("failed to decode web search response: %w", err)
	}

	if maxResults > 0 && len(sResp.Results) > maxResults {
		sResp.Results = sResp.Results[:maxResults]
	}

	results := make([]domain.WebResult, 0, len(sResp.Results))
	for _, r := range sResp.Results {
		results = append(results, domain.WebResult{
			Title:   r.Title,
			Snippet: r.Content,
			URL:     r.URL,
		})
	}
	return results, nil
}

var _ domain.WebSearcher = (*SearxNGClient)(nil)
