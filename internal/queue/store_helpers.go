package queue

import (
	"database/sql"
	"errors"
	"time"
)

const itemColumns = "id, source_name, source_mime, source_data, status, description, result_name, result_mime, result_data, result_url, error_message, error_kind, created_at, updated_at, started_at, finished_at"

var expectedColumns = []string{
	"id",
	"source_name",
	"source_mime",
	"source_data",
	"status",
	"description",
	"result_name",
	"result_mime",
	"result_data",
	"result_url",
	"error_message",
	"error_kind",
	"created_at",
	"updated_at",
	"started_at",
	"finished_at",
}

func scanItem(scanner interface{ Scan(dest ...any) error }) (*Item, error) {
	var (
		id           int64
		sourceName   string
		sourceMime   sql.NullString
		sourceData   []byte
		statusStr    string
		description  sql.NullString
		resultName   sql.NullString
		resultMime   sql.NullString
		resultData   []byte
		resultURL    sql.NullString
		errorMessage sql.NullString
		errorKind    sql.NullString
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
		startedRaw   sql.NullString
		finishedRaw  sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&sourceName,
		&sourceMime,
		&sourceData,
		&statusStr,
		&description,
		&resultName,
		&resultMime,
		&resultData,
		&resultURL,
		&errorMessage,
		&errorKind,
		&createdRaw,
		&updatedRaw,
		&startedRaw,
		&finishedRaw,
	); err != nil {
		return nil, err
	}

	item := &Item{
		ID: id,
		Source: Image{
			Name:     sourceName,
			MIMEType: sourceMime.String,
			Data:     sourceData,
		},
		Status:       Status(statusStr),
		Description:  description.String,
		ErrorMessage: errorMessage.String,
		ErrorKind:    errorKind.String,
	}
	if len(resultData) > 0 || resultURL.Valid {
		item.Result = &Image{
			Name:     resultName.String,
			MIMEType: resultMime.String,
			Data:     resultData,
			URL:      resultURL.String,
		}
	}

	if created, err := parseTimeString(createdRaw.String); err == nil {
		item.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		item.UpdatedAt = updated
	}
	if startedRaw.Valid {
		if started, err := parseTimeString(startedRaw.String); err == nil {
			item.StartedAt = &started
		}
	}
	if finishedRaw.Valid {
		if finished, err := parseTimeString(finishedRaw.String); err == nil {
			item.FinishedAt = &finished
		}
	}
	return item, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableBlob(value []byte) any {
	if len(value) == 0 {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func formatTime(value time.Time) string {
	return value.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

func statusArgs(statuses []Status) []any {
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = status
	}
	return args
}

func idArgs(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
