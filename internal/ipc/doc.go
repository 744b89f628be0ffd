// Package ipc exposes the daemon over JSON-RPC on a Unix socket and ships the
// matching client used by the CLI.
//
// Request and response types live in types.go and embed the api DTOs so the
// CLI and the HTTP API render the same shapes. Every server method maps onto
// one daemon operation; per-item actions report an outcome per id.
package ipc
