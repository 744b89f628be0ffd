package stage

import (
	"testing"

	"reimagine/internal/config"
)

func TestCheckConfig(t *testing.T) {
	ready := Config{BaseURL: "http://example", APIKey: "k", Model: "m"}
	tests := []struct {
		name   string
		mutate func(*Config)
		ready  bool
		detail string
	}{
		{name: "ready", mutate: func(*Config) {}, ready: true},
		{name: "missing key", mutate: func(c *Config) { c.APIKey = " " }, detail: "api key not configured"},
		{name: "missing url", mutate: func(c *Config) { c.BaseURL = "" }, detail: "base url not configured"},
		{name: "missing model", mutate: func(c *Config) { c.Model = "" }, detail: "model not configured"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := ready
			tt.mutate(&cfg)
			health := CheckConfig(NameAnalysis, cfg)
			if health.Ready != tt.ready || health.Detail != tt.detail {
				t.Fatalf("CheckConfig = %+v, want ready=%v detail=%q", health, tt.ready, tt.detail)
			}
			if health.Name != NameAnalysis {
				t.Fatalf("name = %q", health.Name)
			}
		})
	}
}

func TestFromConfigCopiesFields(t *testing.T) {
	section := config.Stage{
		BaseURL:     "http://example/v1",
		APIKey:      "key",
		Model:       "model",
		Instruction: "describe",
		AspectRatio: "16:9",
		Title:       "ignored",
	}
	got := FromConfig(section)
	want := Config{BaseURL: "http://example/v1", APIKey: "key", Model: "model", Instruction: "describe", AspectRatio: "16:9"}
	if got != want {
		t.Fatalf("FromConfig = %+v, want %+v", got, want)
	}
}
