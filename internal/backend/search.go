package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/loomworks/loom/internal/config"
	"github.com/loomworks/loom/pkg/contracts"
)

// SearchClient calls a Tavily-style web-search API and implements
// contracts.SearchClient.
type SearchClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewSearchClient creates a web-search client.
func NewSearchClient(cfg config.BackendConfig) *SearchClient {
	return &SearchClient{
		endpoint: cfg.SearchEndpoint,
		apiKey:   cfg.SearchKey,
		client:   &http.Client{Timeout: time.Duration(cfg.RequestTimeoutMs) * time.Millisecond},
	}
}

type searchRequest struct {
	APIKey        string `json:"api_key,omitempty"`
	Query         string `json:"query"`
	IncludeAnswer bool   `json:"include_answer"`
	MaxResults    int    `json:"max_results"`
}

type searchResponse struct {
	Answer  string `json:"answer"`
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// Search implements contracts.SearchClient.
func (s *SearchClient) Search(ctx context.Context, query string) (*contracts.SearchResult, error) {
	body, _ := json.Marshal(searchRequest{
		APIKey:        s.apiKey,
		Query:         query,
		IncludeAnswer: true,
		MaxResults:    5,
	})

	url := s.endpoint + "/search"
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, wrapBackendErr("web-search", "search", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportErr(ctx, "web-search", "search", err, s.client.Timeout)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, wrapBackendErr("web-search", "search",
			fmt.Errorf("status %d: %s", httpResp.StatusCode, string(respBody)))
	}

	var sr searchResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&sr); err != nil {
		return nil, wrapBackendErr("web-search", "search", fmt.Errorf("decode response: %w", err))
	}

	result := &contracts.SearchResult{Answer: sr.Answer}
	for _, r := range sr.Results {
		result.Results = append(result.Results, contracts.SearchHit{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: r.Content,
		})
	}
	return result, nil
}
