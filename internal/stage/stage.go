package stage

import (
	"context"

	"reimagine/internal/config"
	"reimagine/internal/queue"
)

// Names used for logging, health and error context.
const (
	NameAnalysis   = "analysis"
	NameGeneration = "generation"
)

// Config carries the per-stage settings handed to a client on every call.
// The workflow engine passes it through without interpreting it.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Instruction string
	// AspectRatio only applies to generation.
	AspectRatio string
}

// FromConfig converts a config section into a stage Config.
func FromConfig(section config.Stage) Config {
	return Config{
		BaseURL:     section.BaseURL,
		APIKey:      section.APIKey,
		Model:       section.Model,
		Instruction: section.Instruction,
		AspectRatio: section.AspectRatio,
	}
}

// Analyzer derives a textual description of an image. onPartial, when non-nil,
// receives the cumulative text produced so far and may be called any number of
// times before Analyze returns. The returned description is authoritative.
type Analyzer interface {
	Analyze(ctx context.Context, image queue.Image, cfg Config, onPartial func(string)) (string, error)
}

// Generator renders a new image from a source image and its description.
type Generator interface {
	Generate(ctx context.Context, image queue.Image, description string, cfg Config) (queue.Image, error)
}

// AnalyzerFunc adapts a function to the Analyzer interface.
type AnalyzerFunc func(ctx context.Context, image queue.Image, cfg Config, onPartial func(string)) (string, error)

// Analyze calls f.
func (f AnalyzerFunc) Analyze(ctx context.Context, image queue.Image, cfg Config, onPartial func(string)) (string, error) {
	return f(ctx, image, cfg, onPartial)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, image queue.Image, description string, cfg Config) (queue.Image, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, image queue.Image, description string, cfg Config) (queue.Image, error) {
	return f(ctx, image, description, cfg)
}
