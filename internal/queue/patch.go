package queue

import "time"

// Patch describes a partial update. Nil fields are left untouched, so two
// writers touching different fields never overwrite each other.
type Patch struct {
	// IfStatus restricts the update to items currently in this status.
	IfStatus *Status

	Status       *Status
	Description  *string
	Result       *Image
	ClearResult  bool
	ErrorMessage *string
	ErrorKind    *string
	ClearError   bool
	StartedAt    *time.Time
	FinishedAt   *time.Time
	ClearTimes   bool
}

// Ptr returns a pointer to v for populating Patch fields.
func Ptr[T any](v T) *T {
	return &v
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Status == nil &&
		p.Description == nil &&
		p.Result == nil &&
		!p.ClearResult &&
		p.ErrorMessage == nil &&
		p.ErrorKind == nil &&
		!p.ClearError &&
		p.StartedAt == nil &&
		p.FinishedAt == nil &&
		!p.ClearTimes
}

func (p Patch) assignments() ([]string, []any) {
	var (
		cols []string
		args []any
	)
	set := func(col string, value any) {
		cols = append(cols, col+" = ?")
		args = append(args, value)
	}

	if p.Status != nil {
		set("status", *p.Status)
	}
	if p.Description != nil {
		set("description", nullableString(*p.Description))
	}
	switch {
	case p.Result != nil:
		set("result_name", nullableString(p.Result.Name))
		set("result_mime", nullableString(p.Result.MIMEType))
		set("result_data", nullableBlob(p.Result.Data))
		set("result_url", nullableString(p.Result.URL))
	case p.ClearResult:
		set("result_name", nil)
		set("result_mime", nil)
		set("result_data", nil)
		set("result_url", nil)
	}
	switch {
	case p.ErrorMessage != nil || p.ErrorKind != nil:
		if p.ErrorMessage != nil {
			set("error_message", nullableString(*p.ErrorMessage))
		}
		if p.ErrorKind != nil {
			set("error_kind", nullableString(*p.ErrorKind))
		}
	case p.ClearError:
		set("error_message", nil)
		set("error_kind", nil)
	}
	switch {
	case p.ClearTimes:
		set("started_at", nil)
		set("finished_at", nil)
	default:
		if p.StartedAt != nil {
			set("started_at", nullableTime(p.StartedAt))
		}
		if p.FinishedAt != nil {
			set("finished_at", nullableTime(p.FinishedAt))
		}
	}
	return cols, args
}
