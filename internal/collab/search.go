package collab

import (
	"context"
	"net/http"
	"strings"

	"github.com/BaSui01/roundflow/round"
	"github.com/BaSui01/roundflow/round/runtime"
	"github.com/BaSui01/roundflow/types"
)

// SearchClient calls an HTTP search service.
type SearchClient struct {
	url  string
	http *httpClient
}

var _ runtime.SearchService = (*SearchClient)(nil)

// NewSearchClient creates a client posting to url.
func NewSearchClient(url, apiKey string, opts ...Option) *SearchClient {
	return &SearchClient{url: strings.TrimRight(url, "/"), http: newHTTPClient("search", apiKey, opts)}
}

// Search posts the round query and decodes the structured result.
func (c *SearchClient) Search(ctx context.Context, req runtime.SearchRequest) (*round.SearchResult, error) {
	var result round.SearchResult
	if _, err := c.http.do(ctx, http.MethodPost, c.url, req, &result); err != nil {
		return nil, err
	}
	if len(result.Queries) == 0 && req.Query != "" {
		result.Queries = []string{req.Query}
	}
	if result.Results == nil {
		return nil, types.NewError(types.ErrUpstreamError, "search: response has no results field")
	}
	return &result, nil
}
