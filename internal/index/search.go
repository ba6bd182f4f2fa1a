package index

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Hit is one search result with highlighted content fragments.
type Hit struct {
	URL      string   `json:"url"`
	Score    float64  `json:"score"`
	Snippets []string `json:"snippets,omitempty"`
}

// SearchResult is one page of search results.
type SearchResult struct {
	Total int   `json:"total"`
	Hits  []Hit `json:"hits"`
}

// searchBody builds the match query with highlighting.
type searchBody struct {
	From      int            `json:"from"`
	Size      int            `json:"size"`
	Query     map[string]any `json:"query"`
	Highlight map[string]any `json:"highlight,omitempty"`
}

const (
	defaultPageSize      = 10
	highlightFragmentLen = 150
	highlightFragments   = 3
)

// Search runs a match query against page content, returning highlighted
// snippets. from/size paginate the results.
func (c *Client) Search(ctx context.Context, query string, from, size int) (*SearchResult, error) {
	if size <= 0 {
		size = defaultPageSize
	}

	body := searchBody{
		From: from,
		Size: size,
		Query: map[string]any{
			"match": map[string]any{"content": query},
		},
		Highlight: map[string]any{
			"fields": map[string]any{
				"content": map[string]any{
					"fragment_size":       highlightFragmentLen,
					"number_of_fragments": highlightFragments,
				},
			},
		},
	}

	return c.runSearch(ctx, body)
}

// Scan pages through all indexed documents in stable order. Used by the
// export path.
func (c *Client) Scan(ctx context.Context, from, size int) (*SearchResult, error) {
	if size <= 0 {
		size = defaultPageSize
	}

	body := searchBody{
		From:  from,
		Size:  size,
		Query: map[string]any{"match_all": map[string]any{}},
	}

	return c.runSearch(ctx, body)
}

func (c *Client) runSearch(ctx context.Context, body searchBody) (*SearchResult, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(strings.NewReader(string(data))),
	)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", c.index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("search %s: %s", c.index, res.Status())
	}

	var parsed struct {
		Hits struct {
			Total struct {
				Value int `json:"value"`
			} `json:"total"`
			Hits []struct {
				Score     float64        `json:"_score"`
				Source    Document       `json:"_source"`
				Highlight map[string][]string `json:"highlight"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if decodeErr := json.NewDecoder(res.Body).Decode(&parsed); decodeErr != nil {
		return nil, fmt.Errorf("decode search response: %w", decodeErr)
	}

	result := &SearchResult{
		Total: parsed.Hits.Total.Value,
		Hits:  make([]Hit, 0, len(parsed.Hits.Hits)),
	}
	for _, h := range parsed.Hits.Hits {
		result.Hits = append(result.Hits, Hit{
			URL:      h.Source.URL,
			Score:    h.Score,
			Snippets: h.Highlight["content"],
		})
	}

	return result, nil
}
