// Package stage defines the contract between the workflow engine and the two
// remote stages: Analyzer streams a description of a source image and
// Generator renders a new image from that description.
//
// Clients receive a Config on every call so settings edits take effect at the
// next item without rebuilding them.
package stage
