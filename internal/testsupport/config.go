package testsupport

import (
	"testing"

	"reimagine/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t   testing.TB
	cfg *config.Config
}

// NewConfig produces a config seeded with a unique state directory per test.
// Both stages carry a test credential, pacing is disabled and the API binds an
// ephemeral port.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	cfgVal := config.Default()
	cfgVal.Paths.StateDir = t.TempDir()
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Analysis.APIKey = "test-analysis-key"
	cfgVal.Generation.APIKey = "test-generation-key"
	cfgVal.Analysis.RequestsPerMinute = 0
	cfgVal.Generation.RequestsPerMinute = 0
	cfgVal.Workflow.PacingDelayMS = 0
	cfgVal.Logging.RetentionDays = 0

	builder := &configBuilder{t: t, cfg: &cfgVal}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithStageURL points both stages at the given endpoint.
func WithStageURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Analysis.BaseURL = url
		b.cfg.Generation.BaseURL = url
	}
}

// WithoutCredentials clears both stage API keys.
func WithoutCredentials() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Analysis.APIKey = ""
		b.cfg.Generation.APIKey = ""
	}
}

// WithPacingDelay overrides the inter-item pacing delay.
func WithPacingDelay(ms int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.PacingDelayMS = ms
	}
}

// WithLogCapacity overrides the event log capacity.
func WithLogCapacity(capacity int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.LogCapacity = capacity
	}
}
