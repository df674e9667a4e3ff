package search

import (
	"context"
	"fmt"
	"net/url"

	"github.com/jimdaga/reelpipe/internal/pipeline"
)

// Stub returns synthetic YouTube hits for any query
type Stub struct{}

// Search returns count hits whose links encode the query
func (Stub) Search(ctx context.Context, query, language string, count int) ([]pipeline.SearchHit, error) {
	if count <= 0 {
		count = pageSize
	}
	hits := make([]pipeline.SearchHit, count)
	for i := range hits {
		hits[i] = pipeline.SearchHit{
			Title:   fmt.Sprintf("%s #%d", query, i+1),
			Link:    fmt.Sprintf("https://www.youtube.com/watch?v=%s-%d", url.QueryEscape(query), i+1),
			Snippet: fmt.Sprintf("Result %d for %q (%s)", i+1, query, language),
		}
	}
	return hits, nil
}
