package testsupport

import (
	"context"
	"strings"
	"sync"

	"reimagine/internal/queue"
	"reimagine/internal/stage"
)

// StubAnalyzer is a scripted stage.Analyzer. Without Fn it streams
// "a photo of <name>" in two partials and returns it.
type StubAnalyzer struct {
	Fn func(ctx context.Context, image queue.Image, cfg stage.Config, onPartial func(string)) (string, error)

	mu    sync.Mutex
	calls []string
}

// Analyze records the call and runs the script.
func (s *StubAnalyzer) Analyze(ctx context.Context, image queue.Image, cfg stage.Config, onPartial func(string)) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, image.Name)
	s.mu.Unlock()

	if s.Fn != nil {
		return s.Fn(ctx, image, cfg, onPartial)
	}
	if onPartial != nil {
		onPartial("a photo")
		onPartial("a photo of " + image.Name)
	}
	return "a photo of " + image.Name, nil
}

// Calls returns the source names analyzed so far, in order.
func (s *StubAnalyzer) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// StubGenerator is a scripted stage.Generator. Without Fn it returns an
// inline PNG whose bytes embed the description.
type StubGenerator struct {
	Fn func(ctx context.Context, image queue.Image, description string, cfg stage.Config) (queue.Image, error)

	mu           sync.Mutex
	calls        []string
	descriptions []string
}

// Generate records the call and runs the script.
func (s *StubGenerator) Generate(ctx context.Context, image queue.Image, description string, cfg stage.Config) (queue.Image, error) {
	s.mu.Lock()
	s.calls = append(s.calls, image.Name)
	s.descriptions = append(s.descriptions, description)
	s.mu.Unlock()

	if s.Fn != nil {
		return s.Fn(ctx, image, description, cfg)
	}
	return GeneratedImage(image.Name, description), nil
}

// Calls returns the source names generated so far, in order.
func (s *StubGenerator) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Descriptions returns the descriptions received so far, in order.
func (s *StubGenerator) Descriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.descriptions...)
}

// GeneratedImage is the default StubGenerator output.
func GeneratedImage(sourceName, description string) queue.Image {
	name := strings.TrimSuffix(sourceName, ".png")
	return queue.Image{
		Name:     name + "-reimagined.png",
		MIMEType: "image/png",
		Data:     []byte(pngSignature + description),
	}
}
