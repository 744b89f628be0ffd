package queue

import (
	"context"
	"fmt"
	"time"
)

const retryResetColumns = `status = ?, description = NULL,
            result_name = NULL, result_mime = NULL, result_data = NULL, result_url = NULL,
            error_message = NULL, error_kind = NULL,
            started_at = NULL, finished_at = NULL, updated_at = ?`

// RetryFailed moves failed items back to pending, clearing their description,
// result, error and timestamps. With no ids every failed item is retried.
// Items not in the error status are untouched.
func (s *Store) RetryFailed(ctx context.Context, ids ...int64) (int64, error) {
	args := []any{StatusPending, formatTime(time.Now())}
	query := `UPDATE queue_items SET ` + retryResetColumns + ` WHERE status = ?`
	args = append(args, StatusError)
	if len(ids) > 0 {
		query += ` AND id IN (` + makePlaceholders(len(ids)) + `)`
		args = append(args, idArgs(ids)...)
	}
	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry failed items: %w", err)
	}
	return res.RowsAffected()
}

// FailProcessing moves every item still inside a stage to the error status.
// Used when the driver exits without finishing its item.
func (s *Store) FailProcessing(ctx context.Context, message, kind string) (int64, error) {
	now := formatTime(time.Now())
	res, err := s.exec(
		ctx,
		`UPDATE queue_items
         SET status = ?, error_message = ?, error_kind = ?,
             result_name = NULL, result_mime = NULL, result_data = NULL, result_url = NULL,
             finished_at = ?, updated_at = ?
         WHERE status IN (?, ?)`,
		StatusError,
		message,
		nullableString(kind),
		now,
		now,
		StatusAnalyzing,
		StatusGenerating,
	)
	if err != nil {
		return 0, fmt.Errorf("fail processing items: %w", err)
	}
	return res.RowsAffected()
}

// RemoveFinished deletes completed and failed items, leaving pending and
// in-flight items untouched.
func (s *Store) RemoveFinished(ctx context.Context) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM queue_items WHERE status IN (?, ?)`, StatusCompleted, StatusError)
	if err != nil {
		return 0, fmt.Errorf("clear finished: %w", err)
	}
	return res.RowsAffected()
}

// Clear removes all items. Identifiers are not reused afterwards.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM queue_items`)
	if err != nil {
		return 0, fmt.Errorf("clear queue: %w", err)
	}
	return res.RowsAffected()
}
