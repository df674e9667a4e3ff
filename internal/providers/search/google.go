// Package search finds candidate source media with the Google Custom Search
// JSON API.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jimdaga/reelpipe/internal/pipeline"
	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// pageSize is the most results the API returns per request
const pageSize = 10

// ErrQuotaExceeded is returned when the API key is out of quota
var ErrQuotaExceeded = errors.New("search quota exceeded")

// Google implements pipeline.Searcher
type Google struct {
	service  *customsearch.Service
	engineID string
}

var _ pipeline.Searcher = (*Google)(nil)

// NewGoogle creates a client. endpoint overrides the API root and is
// normally empty.
func NewGoogle(ctx context.Context, endpoint, apiKey, engineID string) (*Google, error) {
	if apiKey == "" {
		return nil, errors.New("SEARCH_API_KEY is required")
	}
	if engineID == "" {
		return nil, errors.New("SEARCH_ENGINE_ID is required")
	}

	opts := []option.ClientOption{option.WithAPIKey(apiKey)}
	if endpoint != "" {
		if !strings.HasSuffix(endpoint, "/") {
			endpoint += "/"
		}
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	service, err := customsearch.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create search client: %w", err)
	}
	return &Google{service: service, engineID: engineID}, nil
}

// Search pages through results until count hits are collected or the API
// runs out
func (g *Google) Search(ctx context.Context, query, language string, count int) ([]pipeline.SearchHit, error) {
	if count <= 0 {
		count = pageSize
	}

	var hits []pipeline.SearchHit
	start := 1
	for len(hits) < count {
		n := count - len(hits)
		if n > pageSize {
			n = pageSize
		}
		page, err := g.page(ctx, query, language, start, n)
		if err != nil {
			return nil, err
		}
		hits = append(hits, page...)
		if len(page) < n {
			break
		}
		start += len(page)
	}
	if len(hits) > count {
		hits = hits[:count]
	}
	return hits, nil
}

func (g *Google) page(ctx context.Context, query, language string, start, num int) ([]pipeline.SearchHit, error) {
	call := g.service.Cse.List().
		Cx(g.engineID).
		Q(query).
		Num(int64(num)).
		Start(int64(start))
	if language != "" {
		call = call.Lr("lang_" + strings.ToLower(language)).Hl(language)
	}

	res, err := call.Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) {
			if isQuotaError(apiErr) {
				return nil, ErrQuotaExceeded
			}
			return nil, fmt.Errorf("search API returned status %d: %s", apiErr.Code, apiErr.Message)
		}
		return nil, fmt.Errorf("search request failed: %w", err)
	}

	hits := make([]pipeline.SearchHit, 0, len(res.Items))
	for _, it := range res.Items {
		if it == nil {
			continue
		}
		hits = append(hits, pipeline.SearchHit{
			Title:   it.Title,
			Link:    it.Link,
			Snippet: it.Snippet,
			Extra: map[string]interface{}{
				"display_link":  it.DisplayLink,
				"formatted_url": it.FormattedUrl,
				"html_snippet":  it.HtmlSnippet,
				"html_title":    it.HtmlTitle,
				"kind":          it.Kind,
				"pagemap":       pagemap(it.Pagemap),
			},
		})
	}
	return hits, nil
}

func pagemap(raw googleapi.RawMessage) map[string]interface{} {
	if len(raw) == 0 {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func isQuotaError(err *googleapi.Error) bool {
	if err.Code == http.StatusTooManyRequests {
		return true
	}
	for _, e := range err.Errors {
		switch e.Reason {
		case "rateLimitExceeded", "quotaExceeded", "dailyLimitExceeded", "userRateLimitExceeded":
			return true
		}
	}
	if err.Code == http.StatusForbidden {
		msg := strings.ToLower(err.Message)
		return strings.Contains(msg, "quota") || strings.Contains(msg, "limit")
	}
	return false
}
