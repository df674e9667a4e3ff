package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cse serves total results, pageSize at a time, honouring start and num
func cse(t *testing.T, total int, starts *[]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/customsearch/v1", r.URL.Path)
		assert.Equal(t, "k", q.Get("key"))
		assert.Equal(t, "cx1", q.Get("cx"))
		assert.Equal(t, "lang_fa", q.Get("lr"))
		*starts = append(*starts, q.Get("start"))

		start, _ := strconv.Atoi(q.Get("start"))
		num, _ := strconv.Atoi(q.Get("num"))
		var items []map[string]interface{}
		for i := start; i < start+num && i <= total; i++ {
			items = append(items, map[string]interface{}{
				"title":       fmt.Sprintf("r%d", i),
				"link":        fmt.Sprintf("https://youtube.com/watch?v=%d", i),
				"snippet":     "s",
				"displayLink": "youtube.com",
				"pagemap":     map[string]interface{}{"videoobject": []interface{}{map[string]interface{}{"duration": "PT1M"}}},
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"items": items})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewGoogleValidates(t *testing.T) {
	_, err := NewGoogle(context.Background(), "", "", "cx")
	assert.Error(t, err)
	_, err = NewGoogle(context.Background(), "", "k", "")
	assert.Error(t, err)
}

func TestSearchSinglePage(t *testing.T) {
	var starts []string
	srv := cse(t, 50, &starts)
	g, err := NewGoogle(context.Background(), srv.URL, "k", "cx1")
	require.NoError(t, err)

	hits, err := g.Search(context.Background(), "coffee", "fa", 5)
	require.NoError(t, err)
	require.Len(t, hits, 5)
	assert.Equal(t, "r1", hits[0].Title)
	assert.Equal(t, "youtube.com", hits[0].Extra["display_link"])
	assert.Contains(t, hits[0].Extra["pagemap"], "videoobject")
	assert.Equal(t, []string{"1"}, starts)
}

func TestSearchPages(t *testing.T) {
	var starts []string
	srv := cse(t, 50, &starts)
	g, err := NewGoogle(context.Background(), srv.URL, "k", "cx1")
	require.NoError(t, err)

	hits, err := g.Search(context.Background(), "coffee", "fa", 25)
	require.NoError(t, err)
	require.Len(t, hits, 25)
	assert.Equal(t, "r25", hits[24].Title)
	assert.Equal(t, []string{"1", "11", "21"}, starts)
}

func TestSearchStopsWhenResultsRunOut(t *testing.T) {
	var starts []string
	srv := cse(t, 12, &starts)
	g, err := NewGoogle(context.Background(), srv.URL, "k", "cx1")
	require.NoError(t, err)

	hits, err := g.Search(context.Background(), "coffee", "fa", 30)
	require.NoError(t, err)
	assert.Len(t, hits, 12)
	assert.Equal(t, []string{"1", "11"}, starts)
}

func TestSearchQuotaAndErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		quota  bool
	}{
		{"429", http.StatusTooManyRequests, `{}`, true},
		{"reason", http.StatusForbidden, `{"error":{"code":403,"message":"x","errors":[{"reason":"dailyLimitExceeded"}]}}`, true},
		{"message", http.StatusForbidden, `{"error":{"code":403,"message":"Quota exceeded for quota metric"}}`, true},
		{"bad request", http.StatusBadRequest, `{"error":{"code":400,"message":"Invalid Value"}}`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			g, err := NewGoogle(context.Background(), srv.URL, "k", "cx1")
			require.NoError(t, err)
			_, err = g.Search(context.Background(), "q", "", 3)
			require.Error(t, err)
			if tc.quota {
				assert.ErrorIs(t, err, ErrQuotaExceeded)
			} else {
				assert.NotErrorIs(t, err, ErrQuotaExceeded)
				assert.Contains(t, err.Error(), "Invalid Value")
			}
		})
	}
}

func TestStub(t *testing.T) {
	hits, err := Stub{}.Search(context.Background(), "cold brew", "en", 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "cold brew #1", hits[0].Title)
	assert.Contains(t, hits[2].Link, "youtube.com")
}
