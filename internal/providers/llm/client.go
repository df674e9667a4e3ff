// Package llm implements subtitle translation and marketing copy on top of
// the OpenAI chat completions API.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/jimdaga/reelpipe/internal/models"
	"github.com/jimdaga/reelpipe/internal/pipeline"
	"github.com/jimdaga/reelpipe/internal/prompts"
	"github.com/jimdaga/reelpipe/internal/srt"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"golang.org/x/time/rate"
)

const (
	DefaultModel    = "gpt-4o-mini"
	DefaultTimeout  = 120 * time.Second
	DefaultLanguage = "Persian"

	// MaxRetries bounds retries on rate limit responses
	MaxRetries  = 3
	BaseBackoff = 2 * time.Second
	MaxBackoff  = 32 * time.Second
)

var (
	ErrAPIKeyNotSet          = errors.New("OpenAI API key not set")
	ErrInvalidResponseFormat = errors.New("invalid response format")
	ErrMaxRetriesExceeded    = errors.New("max retries exceeded")
)

// Options configures a Client
type Options struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
	// RatePerSec limits outgoing calls; zero means unlimited
	RatePerSec float64
	// MaxSubtitleTokens caps the subtitle text sent in one request
	MaxSubtitleTokens int
	// Language is the copy language when the inputs don't name one
	Language string
}

// Client translates subtitles and writes copy. It implements
// pipeline.Translator and pipeline.Copywriter.
type Client struct {
	client      openai.Client
	model       string
	timeout     time.Duration
	backoff     time.Duration
	limiter     *rate.Limiter
	prompts     *prompts.Registry
	tokens      *TokenCounter
	tokenBudget int
	language    string
	logger      *slog.Logger
}

var (
	_ pipeline.Translator = (*Client)(nil)
	_ pipeline.Copywriter = (*Client)(nil)
)

// NewClient builds a client. tokens may be nil, in which case token counts
// are estimated.
func NewClient(opts Options, reg *prompts.Registry, tokens *TokenCounter, logger *slog.Logger) (*Client, error) {
	if opts.APIKey == "" {
		return nil, ErrAPIKeyNotSet
	}
	if reg == nil {
		return nil, errors.New("prompt registry is required")
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}

	c := &Client{
		client:      openai.NewClient(clientOpts...),
		model:       opts.Model,
		timeout:     opts.Timeout,
		backoff:     BaseBackoff,
		limiter:     rate.NewLimiter(rate.Inf, 1),
		prompts:     reg,
		tokens:      tokens,
		tokenBudget: opts.MaxSubtitleTokens,
		language:    opts.Language,
		logger:      logger,
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.language == "" {
		c.language = DefaultLanguage
	}
	if opts.RatePerSec > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), 1)
	}
	return c, nil
}

// Translate translates every cue of srtText into targetLanguage. Cues are
// sent in batches that fit the token budget; timings never leave the
// process, so the result always lines up with the source.
func (c *Client) Translate(ctx context.Context, srtText, targetLanguage string) (string, error) {
	cues, err := srt.Parse(srtText)
	if err != nil {
		return "", fmt.Errorf("source subtitle: %w", err)
	}

	texts := srt.Texts(cues)
	translated := make([]string, 0, len(texts))
	batches := c.tokens.Batch(texts, c.tokenBudget)
	for i, batch := range batches {
		lines, err := c.translateBatch(ctx, batch, targetLanguage)
		if err != nil {
			return "", fmt.Errorf("batch %d/%d: %w", i+1, len(batches), err)
		}
		translated = append(translated, lines...)
	}

	out, err := srt.ReplaceTexts(cues, translated)
	if err != nil {
		return "", err
	}
	c.logger.Info("Translated subtitle", "language", targetLanguage, "cues", len(cues), "batches", len(batches))
	return srt.Format(out), nil
}

func (c *Client) translateBatch(ctx context.Context, lines []string, targetLanguage string) ([]string, error) {
	encoded, err := json.Marshal(lines)
	if err != nil {
		return nil, err
	}
	rendered, err := c.prompts.Render(prompts.Translate, prompts.TranslateData{
		TargetLanguage: targetLanguage,
		Lines:          lines,
		LinesJSON:      string(encoded),
	})
	if err != nil {
		return nil, err
	}

	doc, err := c.completeJSON(ctx, prompts.Translate, rendered)
	if err != nil {
		return nil, err
	}

	var reply struct {
		Lines []string `json:"lines"`
	}
	if err := remarshal(doc, &reply); err != nil {
		return nil, err
	}
	if len(reply.Lines) != len(lines) {
		return nil, fmt.Errorf("%w: got %d lines for %d", ErrInvalidResponseFormat, len(reply.Lines), len(lines))
	}
	return reply.Lines, nil
}

// GenerateCopy produces every copy section for inputs
func (c *Client) GenerateCopy(ctx context.Context, inputs models.CopyInputs) (models.Sections, error) {
	rendered, err := c.prompts.Render(prompts.Copy, prompts.CopyData{
		Language:      c.languageFor(inputs),
		Title:         inputs.Title,
		Platform:      inputs.Platform,
		SourceURL:     inputs.SourceURL,
		UserNote:      inputs.UserNote,
		SearchResults: inputs.SearchResults,
		Transcript:    c.tokens.Truncate(transcript(inputs.SubtitleText), c.tokenBudget),
	})
	if err != nil {
		return nil, err
	}

	doc, err := c.completeJSON(ctx, prompts.Copy, rendered)
	if err != nil {
		return nil, err
	}

	sections := models.Sections{}
	for _, name := range models.CopySections {
		if v, ok := doc[name]; ok {
			sections[name] = sectionText(v)
		}
	}
	c.logger.Info("Generated copy", "title", inputs.Title, "sections", len(sections))
	return sections, nil
}

// RegenerateSection rewrites one section following instruction
func (c *Client) RegenerateSection(ctx context.Context, inputs models.CopyInputs, section, currentValue, instruction string) (string, error) {
	rendered, err := c.prompts.Render(prompts.Regenerate, prompts.RegenerateData{
		Language:    c.languageFor(inputs),
		Section:     section,
		Current:     currentValue,
		Instruction: instruction,
		Title:       inputs.Title,
		Platform:    inputs.Platform,
		UserNote:    inputs.UserNote,
	})
	if err != nil {
		return "", err
	}

	text, err := c.complete(ctx, rendered)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(stripFences(text))
	if text == "" {
		return "", fmt.Errorf("%w: empty section", ErrInvalidResponseFormat)
	}
	return text, nil
}

func (c *Client) languageFor(inputs models.CopyInputs) string {
	if lang := inputs.SubtitleLanguage; lang != "" && lang != models.OriginalLanguage {
		return lang
	}
	return c.language
}

// completeJSON sends a JSON-format prompt and returns the decoded object,
// validated against the prompt's output schema
func (c *Client) completeJSON(ctx context.Context, name string, rendered prompts.Rendered) (map[string]interface{}, error) {
	text, err := c.complete(ctx, rendered)
	if err != nil {
		return nil, err
	}

	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(stripFences(text)), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponseFormat, err)
	}
	if err := c.prompts.Validate(name, doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponseFormat, err)
	}
	return doc, nil
}

// complete runs one chat completion, waiting on the rate limiter and
// backing off on 429 responses
func (c *Client) complete(ctx context.Context, rendered prompts.Rendered) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var messages []openai.ChatCompletionMessageParamUnion
	if rendered.System != "" {
		messages = append(messages, openai.SystemMessage(rendered.System))
	}
	messages = append(messages, openai.UserMessage(rendered.User))

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: messages,
	}
	if rendered.ResponseFormat == prompts.FormatJSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{
				Type: "json_object",
			},
		}
	}

	var lastErr error
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(math.Pow(2, float64(attempt-1))) * c.backoff
			if wait > MaxBackoff {
				wait = MaxBackoff
			}
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(wait):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}

		completion, err := c.client.Chat.Completions.New(ctx, params)
		if err != nil {
			lastErr = err
			if isRateLimitError(err) {
				c.logger.Warn("OpenAI rate limited", "attempt", attempt+1)
				continue
			}
			return "", fmt.Errorf("OpenAI API call failed: %w", err)
		}
		if len(completion.Choices) == 0 {
			return "", fmt.Errorf("%w: no completion choices returned", ErrInvalidResponseFormat)
		}
		return completion.Choices[0].Message.Content, nil
	}
	return "", fmt.Errorf("%w: %v", ErrMaxRetriesExceeded, lastErr)
}

func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

// stripFences removes a surrounding ``` or ```json block
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}

// sectionText flattens a section value. Arrays (hashtags) are joined with
// spaces.
func sectionText(v interface{}) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case []interface{}:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if s := strings.TrimSpace(fmt.Sprint(item)); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	case nil:
		return ""
	default:
		return fmt.Sprint(val)
	}
}

// transcript reduces SRT text to its spoken lines. Anything that does not
// parse is passed through unchanged.
func transcript(srtText string) string {
	if strings.TrimSpace(srtText) == "" {
		return ""
	}
	cues, err := srt.Parse(srtText)
	if err != nil {
		return srtText
	}
	return strings.Join(srt.Texts(cues), "\n")
}

func remarshal(in interface{}, out interface{}) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
