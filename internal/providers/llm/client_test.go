package llm

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jimdaga/reelpipe/internal/models"
	"github.com/jimdaga/reelpipe/internal/prompts"
	"github.com/jimdaga/reelpipe/internal/srt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSRT = `1
00:00:01,000 --> 00:00:02,500
Hello there

2
00:00:03,000 --> 00:00:04,000
How are you?
`

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

func completionBody(content string) string {
	body, _ := json.Marshal(map[string]interface{}{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "gpt-4o-mini",
		"choices": []map[string]interface{}{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]interface{}{"role": "assistant", "content": content},
		}},
		"usage": map[string]interface{}{"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2},
	})
	return string(body)
}

// fakeOpenAI answers chat completions with reply(request)
func fakeOpenAI(t *testing.T, reply func(req chatRequest) (int, string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		var req chatRequest
		require.NoError(t, json.Unmarshal(raw, &req))

		status, body := reply(req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, baseURL string, budget int) *Client {
	t.Helper()
	reg, err := prompts.Load("")
	require.NoError(t, err)
	c, err := NewClient(Options{
		APIKey:            "test-key",
		BaseURL:           baseURL + "/",
		MaxSubtitleTokens: budget,
	}, reg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	c.backoff = time.Millisecond
	return c
}

func userLines(t *testing.T, req chatRequest) []string {
	t.Helper()
	user := req.Messages[len(req.Messages)-1].Content
	start := strings.Index(user, "[")
	end := strings.Index(user, "]\n")
	require.True(t, start >= 0 && end > start, "prompt carries a JSON array")
	var lines []string
	require.NoError(t, json.Unmarshal([]byte(user[start:end+1]), &lines))
	return lines
}

func TestNewClientRequiresKey(t *testing.T) {
	reg, err := prompts.Load("")
	require.NoError(t, err)
	_, err = NewClient(Options{}, reg, nil, slog.Default())
	assert.ErrorIs(t, err, ErrAPIKeyNotSet)
}

func TestTranslateKeepsTimings(t *testing.T) {
	srv := fakeOpenAI(t, func(req chatRequest) (int, string) {
		require.NotNil(t, req.ResponseFormat)
		assert.Equal(t, "json_object", req.ResponseFormat.Type)
		assert.Contains(t, req.Messages[1].Content, "into fa")

		lines := userLines(t, req)
		out := make([]string, len(lines))
		for i, l := range lines {
			out[i] = "FA:" + l
		}
		reply, _ := json.Marshal(map[string]interface{}{"lines": out})
		return http.StatusOK, completionBody(string(reply))
	})

	c := newTestClient(t, srv.URL, 0)
	out, err := c.Translate(context.Background(), sampleSRT, "fa")
	require.NoError(t, err)

	cues, err := srt.Parse(out)
	require.NoError(t, err)
	require.Len(t, cues, 2)
	assert.Equal(t, "FA:Hello there", cues[0].Text())
	assert.Equal(t, "FA:How are you?", cues[1].Text())
	assert.Equal(t, time.Second, cues[0].Start)
	assert.Equal(t, 4*time.Second, cues[1].End)
}

func TestTranslateBatchesByTokenBudget(t *testing.T) {
	var calls int32
	srv := fakeOpenAI(t, func(req chatRequest) (int, string) {
		atomic.AddInt32(&calls, 1)
		lines := userLines(t, req)
		reply, _ := json.Marshal(map[string]interface{}{"lines": lines})
		return http.StatusOK, completionBody(string(reply))
	})

	// each cue is over budget on its own, so every cue is its own request
	c := newTestClient(t, srv.URL, 1)
	_, err := c.Translate(context.Background(), sampleSRT, "de")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestTranslateLineCountMismatch(t *testing.T) {
	srv := fakeOpenAI(t, func(req chatRequest) (int, string) {
		return http.StatusOK, completionBody(`{"lines": ["only one"]}`)
	})

	c := newTestClient(t, srv.URL, 0)
	_, err := c.Translate(context.Background(), sampleSRT, "fa")
	assert.ErrorIs(t, err, ErrInvalidResponseFormat)
}

func TestTranslateRejectsBadSource(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1", 0)
	_, err := c.Translate(context.Background(), "not a subtitle", "fa")
	assert.Error(t, err)
}

func TestGenerateCopy(t *testing.T) {
	srv := fakeOpenAI(t, func(req chatRequest) (int, string) {
		user := req.Messages[1].Content
		assert.Contains(t, user, "- Title: Coffee")
		assert.Contains(t, user, "1. Beans: all about beans (https://beans.example)")
		assert.Contains(t, user, "Hello there")
		assert.Contains(t, req.Messages[0].Content, "in Persian")

		reply := "```json\n" + `{
			"title": "Coffee time",
			"caption": "A long caption",
			"hashtags": ["#coffee", "#morning"],
			"cta": "Try it",
			"extra": "ignored"
		}` + "\n```"
		return http.StatusOK, completionBody(reply)
	})

	c := newTestClient(t, srv.URL, 0)
	sections, err := c.GenerateCopy(context.Background(), models.CopyInputs{
		Title:            "Coffee",
		Platform:         "youtube",
		SubtitleText:     sampleSRT,
		SubtitleLanguage: models.OriginalLanguage,
		SearchResults: []models.SearchSnippet{
			{Title: "Beans", Snippet: "all about beans", Link: "https://beans.example"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, models.Sections{
		"title":    "Coffee time",
		"caption":  "A long caption",
		"hashtags": "#coffee #morning",
		"cta":      "Try it",
	}, sections)
}

func TestGenerateCopyUsesSubtitleLanguage(t *testing.T) {
	srv := fakeOpenAI(t, func(req chatRequest) (int, string) {
		assert.Contains(t, req.Messages[0].Content, "in German")
		return http.StatusOK, completionBody(`{"title": "t", "caption": "c"}`)
	})

	c := newTestClient(t, srv.URL, 0)
	_, err := c.GenerateCopy(context.Background(), models.CopyInputs{Title: "x", SubtitleLanguage: "German"})
	require.NoError(t, err)
}

func TestGenerateCopySchemaViolation(t *testing.T) {
	srv := fakeOpenAI(t, func(req chatRequest) (int, string) {
		return http.StatusOK, completionBody(`{"title": "no caption"}`)
	})

	c := newTestClient(t, srv.URL, 0)
	_, err := c.GenerateCopy(context.Background(), models.CopyInputs{Title: "x"})
	assert.ErrorIs(t, err, ErrInvalidResponseFormat)
}

func TestGenerateCopyNotJSON(t *testing.T) {
	srv := fakeOpenAI(t, func(req chatRequest) (int, string) {
		return http.StatusOK, completionBody("Sure! Here is your copy.")
	})

	c := newTestClient(t, srv.URL, 0)
	_, err := c.GenerateCopy(context.Background(), models.CopyInputs{Title: "x"})
	assert.ErrorIs(t, err, ErrInvalidResponseFormat)
}

func TestRegenerateSection(t *testing.T) {
	srv := fakeOpenAI(t, func(req chatRequest) (int, string) {
		assert.Nil(t, req.ResponseFormat)
		user := req.Messages[1].Content
		assert.Contains(t, user, "Existing section (cta): Buy now")
		assert.Contains(t, user, "Goal: make it friendlier")
		return http.StatusOK, completionBody("  Come say hi  \n")
	})

	c := newTestClient(t, srv.URL, 0)
	text, err := c.RegenerateSection(context.Background(), models.CopyInputs{Title: "x"}, "cta", "Buy now", "make it friendlier")
	require.NoError(t, err)
	assert.Equal(t, "Come say hi", text)
}

func TestRateLimitRetry(t *testing.T) {
	var calls int32
	srv := fakeOpenAI(t, func(req chatRequest) (int, string) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return http.StatusTooManyRequests, `{"error": {"message": "slow down", "type": "rate_limit"}}`
		}
		return http.StatusOK, completionBody("fresh text")
	})

	c := newTestClient(t, srv.URL, 0)
	text, err := c.RegenerateSection(context.Background(), models.CopyInputs{}, "cta", "old", "new")
	require.NoError(t, err)
	assert.Equal(t, "fresh text", text)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestRateLimitExhausted(t *testing.T) {
	srv := fakeOpenAI(t, func(req chatRequest) (int, string) {
		return http.StatusTooManyRequests, `{"error": {"message": "slow down"}}`
	})

	c := newTestClient(t, srv.URL, 0)
	_, err := c.RegenerateSection(context.Background(), models.CopyInputs{}, "cta", "old", "new")
	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
}

func TestServerErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := fakeOpenAI(t, func(req chatRequest) (int, string) {
		atomic.AddInt32(&calls, 1)
		return http.StatusBadRequest, `{"error": {"message": "bad"}}`
	})

	c := newTestClient(t, srv.URL, 0)
	_, err := c.RegenerateSection(context.Background(), models.CopyInputs{}, "cta", "old", "new")
	assert.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences(`  {"a":1}  `))
}

func TestTokenCounterBatchAndTruncate(t *testing.T) {
	var tc *TokenCounter
	texts := []string{"aaaaaa", "bbbbbb", "cccccc"} // two tokens each by estimate

	assert.Equal(t, [][]string{{"aaaaaa", "bbbbbb"}, {"cccccc"}}, tc.Batch(texts, 4))
	assert.Equal(t, [][]string{texts}, tc.Batch(texts, 0))
	assert.Equal(t, "aaa", tc.Truncate("aaaaaaaaa", 1))
	assert.Equal(t, "short", tc.Truncate("short", 10))
}

func TestStub(t *testing.T) {
	var s Stub
	out, err := s.Translate(context.Background(), sampleSRT, "fa")
	require.NoError(t, err)
	assert.Contains(t, out, "[fa] Hello there")

	sections, err := s.GenerateCopy(context.Background(), models.CopyInputs{Title: "Cold Brew", Platform: "youtube"})
	require.NoError(t, err)
	assert.Equal(t, "Cold Brew", sections[models.SectionTitle])
	assert.Equal(t, "#coldbrew #video", sections[models.SectionHashtags])
	for _, name := range models.CopySections {
		assert.NotEmpty(t, sections[name], name)
	}
}
