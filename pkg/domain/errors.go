package domain

import "errors"

// ErrProcessNotFound is returned when a process ID cannot be found in the store.
var ErrProcessNotFound = errors.New("process not found")

// ErrUnknownEvent is returned when a resume event matches no suspended lane.
var ErrUnknownEvent = errors.New("no lane is waiting for this event")

// ErrProgramMismatch is returned when a state was produced by a different program.
var ErrProgramMismatch = errors.New("process state belongs to a different program")

// ErrProcessTerminal is returned when an operation needs a live process.
var ErrProcessTerminal = errors.New("process already reached a terminal state")

// ErrCheckpointNotFound is returned when a checkpoint label is unknown.
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// ErrUnknownFlow is returned when a process is started on a flow the program lacks.
var ErrUnknownFlow = errors.New("unknown flow")

// ErrInvalidSubmission is returned when a form submission does not match
// the fields the form declares. The suspension stays in place.
var ErrInvalidSubmission = errors.New("invalid form submission")
