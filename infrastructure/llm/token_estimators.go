package llm

import (
	"strings"
	"sync"
)

// WordBasedTokenEstimator estimates tokens based on word count. Fast
// and simple, best when speed matters more than precision.
type WordBasedTokenEstimator struct{ TokensPerWord float64 }

// NewWordBasedTokenEstimator creates a word-based token estimator.
// Typical values: 0.75 for English, 0.6-0.9 for other languages.
func NewWordBasedTokenEstimator(tokensPerWord float64) *WordBasedTokenEstimator {
	if tokensPerWord <= 0 {
		tokensPerWord = 0.75
	}
	return &WordBasedTokenEstimator{TokensPerWord: tokensPerWord}
}

// EstimateTokens calculates token count by splitting on whitespace and
// applying the configured tokens-per-word ratio.
func (e *WordBasedTokenEstimator) EstimateTokens(text string) int {
	words := strings.Fields(text)
	return int(float64(len(words)) * e.TokensPerWord)
}

// CharacterBasedTokenEstimator estimates tokens from character count.
// More accurate for languages with consistent character density, less
// accurate for code or heavily punctuated text.
type CharacterBasedTokenEstimator struct{ charsPerToken float64 }

// NewCharacterBasedTokenEstimator creates a character-based token
// estimator. Typical values: 4.0 for GPT models, 3.5-4.5 for others.
func NewCharacterBasedTokenEstimator(charactersPerToken float64) *CharacterBasedTokenEstimator {
	if charactersPerToken <= 0 {
		charactersPerToken = 4.0
	}
	return &CharacterBasedTokenEstimator{charsPerToken: charactersPerToken}
}

// EstimateTokens divides total character count by the configured
// characters-per-token ratio.
func (e *CharacterBasedTokenEstimator) EstimateTokens(text string) int {
	return int(float64(len(text)) / e.charsPerToken)
}

// CachingTokenEstimator wraps another estimator with result caching.
// History trimming re-estimates the same messages every turn, so
// caching avoids repeated work on stable conversation prefixes.
type CachingTokenEstimator struct {
	underlying TokenEstimator
	mu         sync.Mutex
	cache      map[string]int
	maxSize    int
}

// NewCachingTokenEstimator creates a caching wrapper for any
// TokenEstimator. The maxSize parameter bounds memory usage.
func NewCachingTokenEstimator(underlying TokenEstimator, maxSize int) *CachingTokenEstimator {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &CachingTokenEstimator{
		underlying: underlying,
		cache:      make(map[string]int),
		maxSize:    maxSize,
	}
}

// EstimateTokens checks the cache first, calculating and caching on a
// miss. New entries stop being cached once the cache is full.
func (e *CachingTokenEstimator) EstimateTokens(text string) int {
	e.mu.Lock()
	if tokens, exists := e.cache[text]; exists {
		e.mu.Unlock()
		return tokens
	}
	e.mu.Unlock()

	tokens := e.underlying.EstimateTokens(text)

	e.mu.Lock()
	if len(e.cache) < e.maxSize {
		e.cache[text] = tokens
	}
	e.mu.Unlock()

	return tokens
}

// ClearCache removes all cached estimation results.
func (e *CachingTokenEstimator) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[string]int)
}

// CacheSize returns the current number of cached results.
func (e *CachingTokenEstimator) CacheSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.cache)
}
