package schema

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Key    string // Field name
	Reason string // Human-readable reason for failure
	Value  any    // The value that failed validation
}

func (e *ValidationError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s (got %T)", e.Reason, e.Value)
	}
	return fmt.Sprintf("field %q: %s", e.Key, e.Reason)
}

// AggregateError represents multiple validation failures.
type AggregateError struct {
	Errors []error
}

func (e *AggregateError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d validation errors: %s", len(e.Errors), strings.Join(msgs, "; "))
}

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (e *AggregateError) Unwrap() []error { return e.Errors }

// ValidationErrors returns every field failure carried by err.
func ValidationErrors(err error) []*ValidationError {
	var aggr *AggregateError
	if errors.As(err, &aggr) {
		out := make([]*ValidationError, 0, len(aggr.Errors))
		for _, e := range aggr.Errors {
			var ve *ValidationError
			if errors.As(e, &ve) {
				out = append(out, ve)
			}
		}
		return out
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return []*ValidationError{ve}
	}
	return nil
}
