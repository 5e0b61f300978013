package models

import "fmt"

// MalformedFilenameError means a file name does not encode a YYYYMMDD vote date.
type MalformedFilenameError struct {
	Path string
	Err  error
}

func (e *MalformedFilenameError) Error() string {
	return fmt.Sprintf("malformed filename %s: %v", e.Path, e.Err)
}

func (e *MalformedFilenameError) Unwrap() error { return e.Err }

// MalformedRowError means a row could not be read as a delimited record.
type MalformedRowError struct {
	Path string
	Row  int
	Err  error
}

func (e *MalformedRowError) Error() string {
	return fmt.Sprintf("malformed row %d in %s: %v", e.Row, e.Path, e.Err)
}

func (e *MalformedRowError) Unwrap() error { return e.Err }

type MissingFieldError struct {
	Path  string
	Row   int
	Field string
}

func (e *MissingFieldError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("missing required field %s", e.Field)
	}
	return fmt.Sprintf("missing required field %s in %s row %d", e.Field, e.Path, e.Row)
}

// RecordValidationError names the field that failed coercion or a business rule.
type RecordValidationError struct {
	Field  string
	Value  string
	Reason string
	Err    error
}

func (e *RecordValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *RecordValidationError) Unwrap() error { return e.Err }

type EmptyDatasetError struct {
	Dir string
}

func (e *EmptyDatasetError) Error() string {
	return fmt.Sprintf("no rows found in %s", e.Dir)
}

// AmbiguousHistoryCodeError reports a history code that is neither empty nor party-coded.
type AmbiguousHistoryCodeError struct {
	Election string
	Code     string
}

func (e *AmbiguousHistoryCodeError) Error() string {
	return fmt.Sprintf("history code %q for %s is neither dem- nor rep-coded", e.Code, e.Election)
}
