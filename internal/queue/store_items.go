package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Append inserts one pending item per source image, in argument order, and
// returns the created items.
func (s *Store) Append(ctx context.Context, sources ...Image) ([]*Item, error) {
	if len(sources) == 0 {
		return nil, nil
	}
	ctx = ensureContext(ctx)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin append tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	timestamp := formatTime(time.Now())
	ids := make([]int64, 0, len(sources))
	for _, src := range sources {
		name := strings.TrimSpace(src.Name)
		if name == "" {
			name = "untitled"
		}
		res, err := tx.ExecContext(
			ctx,
			`INSERT INTO queue_items (
                source_name, source_mime, source_data, status, created_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?)`,
			name,
			nullableString(src.MIMEType),
			nullableBlob(src.Data),
			StatusPending,
			timestamp,
			timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("insert item: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("last insert id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}

	query := `SELECT ` + itemColumns + ` FROM queue_items WHERE id IN (` + makePlaceholders(len(ids)) + `) ORDER BY id`
	items, err := s.queryItems(ctx, query, idArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("load appended items: %w", err)
	}
	return items, nil
}

// GetByID fetches an item by identifier. A missing id yields nil, nil.
func (s *Store) GetByID(ctx context.Context, id int64) (*Item, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+itemColumns+` FROM queue_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// Update merges the fields set in patch into the item in one statement.
// It reports whether a row changed; a missing id, or an item not matching
// patch.IfStatus, is a no-op.
func (s *Store) Update(ctx context.Context, id int64, patch Patch) (bool, error) {
	cols, args := patch.assignments()
	cols = append(cols, "updated_at = ?")
	args = append(args, formatTime(time.Now()))

	query := `UPDATE queue_items SET ` + strings.Join(cols, ", ") + ` WHERE id = ?`
	args = append(args, id)
	if patch.IfStatus != nil {
		query += ` AND status = ?`
		args = append(args, *patch.IfStatus)
	}

	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update item %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// Remove deletes items by identifier. Missing ids are ignored.
func (s *Store) Remove(ctx context.Context, ids ...int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := `DELETE FROM queue_items WHERE id IN (` + makePlaceholders(len(ids)) + `)`
	res, err := s.exec(ctx, query, idArgs(ids)...)
	if err != nil {
		return 0, fmt.Errorf("delete items: %w", err)
	}
	return res.RowsAffected()
}

// RemoveIfStatus deletes an item only while it is in one of the given
// statuses. The check and the delete are a single statement.
func (s *Store) RemoveIfStatus(ctx context.Context, id int64, statuses ...Status) (bool, error) {
	if len(statuses) == 0 {
		return false, nil
	}
	args := append([]any{id}, statusArgs(statuses)...)
	query := `DELETE FROM queue_items WHERE id = ? AND status IN (` + makePlaceholders(len(statuses)) + `)`
	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("delete item %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// All returns every item in insertion order.
func (s *Store) All(ctx context.Context) ([]*Item, error) {
	return s.List(ctx)
}

// List returns items filtered by status set (or all items when no status is
// provided) in insertion order.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Item, error) {
	query := `SELECT ` + itemColumns + ` FROM queue_items`
	var args []any
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		args = statusArgs(statuses)
	}
	query += ` ORDER BY id`

	items, err := s.queryItems(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}
	return items, nil
}

// FindFirst returns the first item in insertion order matching predicate, or
// nil when none does.
func (s *Store) FindFirst(ctx context.Context, predicate func(*Item) bool) (*Item, error) {
	items, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if predicate == nil || predicate(item) {
			return item, nil
		}
	}
	return nil, nil
}

// NextPending returns the oldest pending item, or nil when none remain.
func (s *Store) NextPending(ctx context.Context) (*Item, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT `+itemColumns+` FROM queue_items WHERE status = ? ORDER BY id LIMIT 1`,
		StatusPending,
	)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next pending: %w", err)
	}
	return item, nil
}
