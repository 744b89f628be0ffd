package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingCredential = errors.New("missing credential")
	ErrStageRequest      = errors.New("stage request failed")
	ErrMalformedResponse = errors.New("malformed stage response")
	ErrTimeout           = errors.New("timeout")
	ErrConfiguration     = errors.New("configuration error")
)

// ErrorKind classifies a stage failure for item records and log fields.
type ErrorKind string

const (
	KindMissingCredential      ErrorKind = "missing_credential"
	KindStageRequestFailed     ErrorKind = "stage_request_failed"
	KindMalformedStageResponse ErrorKind = "malformed_stage_response"
	KindConfiguration          ErrorKind = "configuration"
	KindUnknown                ErrorKind = "unknown"
)

// stageError carries the stage context recorded by Wrap so failure handlers
// can log it without re-parsing the message.
type stageError struct {
	marker    error
	stage     string
	operation string
	message   string
	cause     error
}

func (e *stageError) Error() string {
	detail := buildDetail(e.stage, e.operation, e.message)
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.marker, detail, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.marker, detail)
}

func (e *stageError) Unwrap() []error {
	if e.cause == nil {
		return []error{e.marker}
	}
	return []error{e.marker, e.cause}
}

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	if marker == nil {
		marker = ErrStageRequest
	}
	return &stageError{
		marker:    marker,
		stage:     strings.TrimSpace(stage),
		operation: strings.TrimSpace(operation),
		message:   strings.TrimSpace(message),
		cause:     err,
	}
}

// Kind maps an error onto the per-item failure taxonomy. Timeouts and context
// deadlines count as failed requests.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrMissingCredential):
		return KindMissingCredential
	case errors.Is(err, ErrMalformedResponse):
		return KindMalformedStageResponse
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrStageRequest),
		errors.Is(err, ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return KindStageRequestFailed
	default:
		return KindUnknown
	}
}

// ItemKind folds an error onto the three kinds recorded on a failed item.
// An unconfigured stage counts as a missing credential and any error no stage
// client classified counts as a failed request.
func ItemKind(err error) ErrorKind {
	switch kind := Kind(err); kind {
	case KindConfiguration:
		return KindMissingCredential
	case KindUnknown:
		return KindStageRequestFailed
	default:
		return kind
	}
}

// ErrorDetails is the structured view of a stage error used for logging.
type ErrorDetails struct {
	Kind      ErrorKind
	Stage     string
	Operation string
	Message   string
	Cause     error
}

// Details extracts the structured context recorded by Wrap. Errors that were
// not produced by Wrap report only their kind and message.
func Details(err error) ErrorDetails {
	details := ErrorDetails{Kind: Kind(err)}
	if err == nil {
		return details
	}
	var se *stageError
	if errors.As(err, &se) {
		details.Stage = se.stage
		details.Operation = se.operation
		details.Message = se.message
		details.Cause = se.cause
		if details.Message == "" && se.cause != nil {
			details.Message = strings.TrimSpace(se.cause.Error())
		}
		return details
	}
	details.Message = strings.TrimSpace(err.Error())
	return details
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
