package rag

import (
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts tokens with the cl100k_base encoding. The zero value estimates four
// characters per token.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTokenCounter loads the cl100k_base encoding. When it cannot be loaded the returned
// counter estimates, and the error says why.
func NewTokenCounter() (*TokenCounter, error) {
	encoding, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return &TokenCounter{}, err
	}
	return &TokenCounter{encoding: encoding}, nil
}

// Count returns the number of tokens in text.
func (tc *TokenCounter) Count(text string) int {
	if tc == nil || tc.encoding == nil {
		return EstimateTokens(text)
	}
	return len(tc.encoding.Encode(text, nil, nil))
}

// Exact reports whether counts come from the tokenizer rather than an estimate.
func (tc *TokenCounter) Exact() bool {
	return tc != nil && tc.encoding != nil
}

// EstimateTokens returns a rough token count of about four characters per token.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}
