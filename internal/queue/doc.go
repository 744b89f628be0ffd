// Package queue keeps work items in an in-memory SQLite database and exposes
// the operations the workflow engine and the batch controller use to drive
// their lifecycle.
//
// The Store pins a single connection, so every statement is serialized and a
// partial update is atomic with respect to concurrent readers. Items carry
// their source image, the streamed description, the generated result, and
// error details. Schema CHECK constraints reject any row where the result or
// error fields disagree with the status.
//
// Iteration order is insertion order (ascending id) and ids are never reused,
// even after Clear.
package queue
