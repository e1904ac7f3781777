package llm

import (
	"sync"
)

// DefaultMaxTokens caps generated output when the caller sets no limit.
// A full rubric with per-category reasoning fits comfortably.
const DefaultMaxTokens = 8192

// BaseProvider manages the model name for providers in a thread-safe way.
type BaseProvider struct {
	mu    sync.RWMutex
	model string
}

// GetModel returns the configured model name.
func (b *BaseProvider) GetModel() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.model
}

// SetModel updates the model name.
func (b *BaseProvider) SetModel(model string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.model = model
}

// RequestOptions is the provider-neutral form of a request's options map.
type RequestOptions struct {
	MaxTokens int
	Model     string
	// Temperature and TopP are nil when the provider default applies.
	Temperature *float64
	TopP        *float64
	// System holds instructions sent separately from the user prompt.
	System string
	// JSON asks for a bare JSON document instead of free text.
	JSON bool
	// Extra holds options no standard field covers.
	Extra map[string]any
}

// ParseRequestOptions reads opts into RequestOptions, applying defaults for
// missing or invalid entries. Unrecognized keys land in Extra.
func ParseRequestOptions(opts map[string]any, defaultModel string) RequestOptions {
	options := RequestOptions{
		MaxTokens: ExtractOptionalInt(opts, OptMaxTokens, DefaultMaxTokens, IsPositiveInt),
		Model:     ExtractOptionalString(opts, OptModel, defaultModel, IsNonEmptyString),
		System:    ExtractOptionalString(opts, OptSystem, "", nil),
		JSON:      ExtractOptionalString(opts, OptResponseFormat, "", nil) == ResponseFormatJSON,
		Extra:     make(map[string]any),
	}

	if temp := ExtractOptionalFloat64(opts, OptTemperature, -1, IsValidTemperature); temp != -1 {
		options.Temperature = &temp
	}

	if topP := ExtractOptionalFloat64(opts, OptTopP, -1, IsValidTopP); topP != -1 {
		options.TopP = &topP
	}

	for k, v := range opts {
		switch k {
		case OptMaxTokens, OptModel, OptSystem, OptTemperature, OptTopP, OptResponseFormat:
		default:
			options.Extra[k] = v
		}
	}

	return options
}

// TokenCounter estimates token counts from character length.
type TokenCounter struct {
	// CharactersPerToken is the average characters per token.
	CharactersPerToken float64
}

// NewTokenCounter returns a TokenCounter tuned for English text.
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{CharactersPerToken: 4.0}
}

// EstimateTokens implements TokenEstimator.
func (tc *TokenCounter) EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return int(float64(len(text)) / tc.CharactersPerToken)
}

// GetTokenCount prefers the provider-reported count and estimates from
// text otherwise.
func (tc *TokenCounter) GetTokenCount(actualCount int, text string) int {
	if actualCount > 0 {
		return actualCount
	}
	return tc.EstimateTokens(text)
}
