// Package config loads, normalizes, and validates reimagine configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment overrides for stage
// credentials (REIMAGINE_ANALYSIS_API_KEY, REIMAGINE_GENERATION_API_KEY, and
// the shared OPENROUTER_API_KEY). The Config type centralizes every knob the
// daemon and CLI need.
//
// Missing credentials are not a configuration error. The daemon starts without
// them and each item fails with a missing-credential error until a key is
// supplied.
package config
