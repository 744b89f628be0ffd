// Package openrouter is the HTTP transport shared by the stage clients. It
// speaks the OpenAI-compatible chat completions protocol OpenRouter exposes:
// bearer authentication, attribution headers and an optional request-rate
// limiter.
package openrouter
