package domain

import (
	"errors"
	"fmt"
)

// FailureKind classifies a failure travelling along the error path.
type FailureKind string

const (
	TaskFailure                FailureKind = "task"
	EvaluationFailure          FailureKind = "evaluation"
	UnresolvedReferenceFailure FailureKind = "unresolved_reference"
	CancellationFailure        FailureKind = "cancellation"
	SuspensionProtocolFailure  FailureKind = "suspension_protocol"
)

// Failure is an error value that flow logic can catch, bind to lastError
// and inspect. It survives serialization; Cause does not.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
	Step    string      `json:"step,omitempty"`
	// NonCatchable failures skip error handlers on their way up.
	NonCatchable bool  `json:"non_catchable,omitempty"`
	Cause        error `json:"-"`
}

// NewFailure builds a failure of the given kind.
func NewFailure(kind FailureKind, step string, cause error) *Failure {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &Failure{Kind: kind, Message: msg, Step: step, Cause: cause}
}

// Failuref builds a failure with a formatted message.
func Failuref(kind FailureKind, step, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Step: step, Message: fmt.Sprintf(format, args...)}
}

func (f *Failure) Error() string {
	if f.Step != "" {
		return fmt.Sprintf("%s failure in %s: %s", f.Kind, f.Step, f.Message)
	}
	return fmt.Sprintf("%s failure: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error { return f.Cause }

// Value is the representation bound to lastError inside error handlers.
func (f *Failure) Value() map[string]any {
	return map[string]any{
		"kind":    string(f.Kind),
		"message": f.Message,
		"step":    f.Step,
	}
}

// AsFailure converts any error into a Failure, defaulting to kind.
func AsFailure(err error, kind FailureKind, step string) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		if f.Step == "" {
			f.Step = step
		}
		return f
	}
	return NewFailure(kind, step, err)
}
