package llm

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts prompt tokens with the cl100k_base encoding
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTokenCounter loads the cl100k_base encoding
func NewTokenCounter() (*TokenCounter, error) {
	encoding, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoding: %w", err)
	}
	return &TokenCounter{encoding: encoding}, nil
}

// Count returns the token count of text. Without an encoding it falls back
// to EstimateTokens.
func (tc *TokenCounter) Count(text string) int {
	if tc == nil || tc.encoding == nil {
		return EstimateTokens(text)
	}
	return len(tc.encoding.Encode(text, nil, nil))
}

// EstimateTokens approximates a token count at three runes per token
func EstimateTokens(text string) int {
	n := len([]rune(text)) / 3
	if n == 0 && text != "" {
		return 1
	}
	return n
}

// Batch splits texts into consecutive groups whose token total stays within
// budget. A single text over budget gets a group of its own.
func (tc *TokenCounter) Batch(texts []string, budget int) [][]string {
	if budget <= 0 {
		return [][]string{texts}
	}
	var batches [][]string
	var current []string
	used := 0
	for _, t := range texts {
		n := tc.Count(t)
		if len(current) > 0 && used+n > budget {
			batches = append(batches, current)
			current, used = nil, 0
		}
		current = append(current, t)
		used += n
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// Truncate cuts text to roughly budget tokens, keeping the head
func (tc *TokenCounter) Truncate(text string, budget int) string {
	if budget <= 0 || tc.Count(text) <= budget {
		return text
	}
	if tc != nil && tc.encoding != nil {
		tokens := tc.encoding.Encode(text, nil, nil)
		return tc.encoding.Decode(tokens[:budget])
	}
	runes := []rune(text)
	if max := budget * 3; max < len(runes) {
		return string(runes[:max])
	}
	return text
}
