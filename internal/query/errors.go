package query

import "fmt"

// ValidationError reports the first offending field of a query request
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// DateError is returned by the compiler when a date that passed the shape
// check is not a calendar date
type DateError struct {
	Field string
	Value string
	Err   error
}

func (e *DateError) Error() string {
	return fmt.Sprintf("%s: %q is not an ISO-8601 date", e.Field, e.Value)
}

func (e *DateError) Unwrap() error {
	return e.Err
}

// InvariantError means a spec that should have been rejected by Validate
// reached the compiler. It is a defect, not a client error.
type InvariantError struct {
	Reason string
}

func (e *InvariantError) Error() string {
	return "query invariant violated: " + e.Reason
}
