package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeStage(&c.Analysis, envAnalysisAPIKey, defaultAnalysisModel, defaultAnalysisInstruction)
	c.normalizeStage(&c.Generation, envGenerationAPIKey, defaultGenerationModel, defaultGenerationInstruction)
	if c.Generation.AspectRatio == "" {
		c.Generation.AspectRatio = defaultAspectRatio
	}
	c.Analysis.AspectRatio = ""
	c.normalizeWorkflow()
	c.normalizeLogging()
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeoutSeconds == 0 {
		c.Notifications.RequestTimeoutSeconds = defaultNotifyTimeoutSeconds
	}
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

// normalizeStage trims the stage settings and resolves credentials. A
// stage-specific environment variable overrides the file; the shared
// OPENROUTER_API_KEY only fills a key that is still empty. A missing key is
// not an error here: it fails each item with a missing credential instead.
func (c *Config) normalizeStage(stage *Stage, envKey, model, instruction string) {
	stage.BaseURL = strings.TrimSpace(stage.BaseURL)
	if stage.BaseURL == "" {
		stage.BaseURL = defaultBaseURL
	}
	stage.Model = strings.TrimSpace(stage.Model)
	if stage.Model == "" {
		stage.Model = model
	}
	stage.Instruction = strings.TrimSpace(stage.Instruction)
	if stage.Instruction == "" {
		stage.Instruction = instruction
	}
	stage.AspectRatio = strings.TrimSpace(stage.AspectRatio)
	stage.Referer = strings.TrimSpace(stage.Referer)
	stage.Title = strings.TrimSpace(stage.Title)
	if stage.Title == "" {
		stage.Title = defaultTitle
	}
	if stage.RequestsPerMinute < 0 {
		stage.RequestsPerMinute = 0
	}

	stage.APIKey = strings.TrimSpace(stage.APIKey)
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		stage.APIKey = strings.TrimSpace(value)
	}
	if stage.APIKey == "" {
		if value, ok := os.LookupEnv(envSharedAPIKey); ok {
			stage.APIKey = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.PacingDelayMS < 0 {
		c.Workflow.PacingDelayMS = 0
	}
	if c.Workflow.StageTimeoutSeconds == 0 {
		c.Workflow.StageTimeoutSeconds = defaultStageTimeoutSeconds
	}
	if c.Workflow.LogCapacity < 0 {
		c.Workflow.LogCapacity = 0
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
