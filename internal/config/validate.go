package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable. Credentials are deliberately
// not checked.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := validateStage("analysis", c.Analysis); err != nil {
		return err
	}
	if err := validateStage("generation", c.Generation); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return c.validateNotifications()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		return errors.New("paths.state_dir must be set")
	}
	if _, _, err := net.SplitHostPort(c.Paths.APIBind); err != nil {
		return fmt.Errorf("paths.api_bind must be host:port: %w", err)
	}
	return nil
}

func validateStage(section string, stage Stage) error {
	parsed, err := url.Parse(stage.BaseURL)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fmt.Errorf("%s.base_url must be an http(s) URL, got %q", section, stage.BaseURL)
	}
	if strings.TrimSpace(stage.Model) == "" {
		return fmt.Errorf("%s.model must be set", section)
	}
	if stage.RequestsPerMinute > maxRequestsPerMinute {
		return fmt.Errorf("%s.requests_per_minute must be <= %d", section, maxRequestsPerMinute)
	}
	if ratio := strings.TrimSpace(stage.AspectRatio); ratio != "" && !validAspectRatio(ratio) {
		return fmt.Errorf("%s.aspect_ratio must look like W:H, got %q", section, ratio)
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.StageTimeoutSeconds < minStageTimeoutSeconds {
		return fmt.Errorf("workflow.stage_timeout_seconds must be at least %d", minStageTimeoutSeconds)
	}
	if c.Workflow.PacingDelayMS > maxPacingDelayMS {
		return fmt.Errorf("workflow.pacing_delay_ms must be <= %d", maxPacingDelayMS)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level)
	}
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeoutSeconds < 0 {
		return errors.New("notifications.request_timeout_seconds must be >= 0")
	}
	topic := strings.TrimSpace(c.Notifications.NtfyTopic)
	if topic == "" {
		return nil
	}
	parsed, err := url.Parse(topic)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fmt.Errorf("notifications.ntfy_topic must be an http(s) URL, got %q", topic)
	}
	return nil
}

func validAspectRatio(value string) bool {
	w, h, ok := strings.Cut(value, ":")
	if !ok {
		return false
	}
	return isDigits(w) && isDigits(h)
}

func isDigits(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
