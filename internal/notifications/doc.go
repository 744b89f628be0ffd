// Package notifications pushes batch summaries and item failures to an ntfy
// topic. When no topic is configured NewService returns a no-op Service so
// callers never need to check.
package notifications
