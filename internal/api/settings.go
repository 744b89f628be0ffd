package api

import (
	"errors"
	"strings"
	"time"

	"reimagine/internal/stage"
	"reimagine/internal/workflow"
)

// ErrInvalidSettings marks a settings update that was rejected.
var ErrInvalidSettings = errors.New("invalid settings")

// Validate checks an update before it is applied.
func (u SettingsUpdate) Validate() error {
	if u.PacingDelayMS != nil && *u.PacingDelayMS < 0 {
		return errors.Join(ErrInvalidSettings, errors.New("pacingDelayMs must not be negative"))
	}
	if u.StageTimeoutSeconds != nil && *u.StageTimeoutSeconds <= 0 {
		return errors.Join(ErrInvalidSettings, errors.New("stageTimeoutSeconds must be positive"))
	}
	for _, update := range []*StageSettingsUpdate{u.Analysis, u.Generation} {
		if update != nil && update.BaseURL != nil && strings.TrimSpace(*update.BaseURL) == "" {
			return errors.Join(ErrInvalidSettings, errors.New("baseUrl must not be empty"))
		}
	}
	return nil
}

// Apply copies the non-nil fields of the update into settings.
func (u SettingsUpdate) Apply(settings *workflow.Settings) {
	if settings == nil {
		return
	}
	u.Analysis.apply(&settings.Analysis)
	u.Generation.apply(&settings.Generation)
	if u.PacingDelayMS != nil {
		settings.PacingDelay = time.Duration(*u.PacingDelayMS) * time.Millisecond
	}
	if u.StageTimeoutSeconds != nil {
		settings.StageTimeout = time.Duration(*u.StageTimeoutSeconds) * time.Second
	}
}

func (u *StageSettingsUpdate) apply(cfg *stage.Config) {
	if u == nil {
		return
	}
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	set(&cfg.BaseURL, u.BaseURL)
	set(&cfg.APIKey, u.APIKey)
	set(&cfg.Model, u.Model)
	set(&cfg.Instruction, u.Instruction)
	set(&cfg.AspectRatio, u.AspectRatio)
}
