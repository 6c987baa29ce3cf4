package factory

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Dannytownkins/Ember-sub000/internal/config"
	"github.com/Dannytownkins/Ember-sub000/internal/extraction"
	"github.com/Dannytownkins/Ember-sub000/internal/tokens"
)

// NewExtractor builds the language-model extraction adapter. Either an API
// key or a base URL of a compatible local server is required.
func NewExtractor(cfg *config.Config, log zerolog.Logger) (extraction.Extractor, error) {
	if cfg.OpenAIAPIKey == "" && cfg.OpenAIBaseURL == "" {
		return nil, fmt.Errorf("EMBER_OPENAI_API_KEY or EMBER_OPENAI_BASE_URL is required")
	}
	opts := []extraction.Option{
		extraction.WithModel(cfg.ExtractionModel),
		extraction.WithTimeout(cfg.ExtractionTimeout),
		extraction.WithBounds(extraction.Bounds{MinChars: cfg.MinChars, MaxChars: cfg.MaxChars, MaxImages: cfg.MaxImages}),
		extraction.WithLogger(log),
	}
	if cfg.VisionModel != "" {
		opts = append(opts, extraction.WithVisionModel(cfg.VisionModel))
	}
	if cfg.OpenAIBaseURL != "" {
		opts = append(opts, extraction.WithBaseURL(cfg.OpenAIBaseURL))
	}
	return extraction.NewOpenAI(cfg.OpenAIAPIKey, opts...), nil
}

// NewTokenCounter returns the tiktoken counter for cfg.TokenEncoding.
func NewTokenCounter(cfg *config.Config, log zerolog.Logger) tokens.Counter {
	return tokens.NewTiktoken(cfg.TokenEncoding, log)
}
