package stage

import (
	"context"
	"strings"
)

// Health summarizes the readiness of a workflow stage.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// Healthy constructs a ready Health record.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy constructs an unhealthy Health record with context detail.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}

// HealthChecker is implemented by clients that can report readiness for a
// given configuration without making a request.
type HealthChecker interface {
	HealthCheck(ctx context.Context, cfg Config) Health
}

// CheckConfig reports whether cfg has what a remote stage needs to be called.
func CheckConfig(name string, cfg Config) Health {
	switch {
	case strings.TrimSpace(cfg.APIKey) == "":
		return Unhealthy(name, "api key not configured")
	case strings.TrimSpace(cfg.BaseURL) == "":
		return Unhealthy(name, "base url not configured")
	case strings.TrimSpace(cfg.Model) == "":
		return Unhealthy(name, "model not configured")
	default:
		return Healthy(name)
	}
}
