package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventBeforeCommand EventType = "before_command"
	EventAfterCommand  EventType = "after_command"
	EventError         EventType = "error"
	EventProcess       EventType = "process"
)

// Outcome is what a command reported back to its lane.
type Outcome string

const (
	OutcomeContinue Outcome = "continue"
	OutcomeSuspend  Outcome = "suspend"
	OutcomeFail     Outcome = "fail"
	OutcomeWait     Outcome = "wait"
	OutcomeYield    Outcome = "yield"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	ProcessID string    `json:"process_id"`
}

// CommandEvent describes one command dispatch within a lane.
type CommandEvent struct {
	EventBase
	LaneID    string        `json:"lane_id"`
	CommandID string        `json:"command_id"`
	Command   string        `json:"command"`
	Step      string        `json:"step,omitempty"`
	Outcome   Outcome       `json:"outcome,omitempty"`
	Failure   *Failure      `json:"failure,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// ProcessEvent reports a process status transition.
type ProcessEvent struct {
	EventBase
	Flow   string        `json:"flow"`
	Status ProcessStatus `json:"status"`
	Error  *Failure      `json:"error,omitempty"`
}

// Listeners are fire-and-forget hooks for auditing and telemetry.
// They are called from lane goroutines and must be safe for concurrent use.
// A panicking listener is recovered and ignored.
type Listeners struct {
	BeforeCommand func(context.Context, *CommandEvent)
	AfterCommand  func(context.Context, *CommandEvent)
	OnError       func(context.Context, *CommandEvent)
	OnProcess     func(context.Context, *ProcessEvent)
}

// MergeListeners fans every hook out to all of ls in order.
func MergeListeners(ls ...Listeners) Listeners {
	var out Listeners
	for _, l := range ls {
		out.BeforeCommand = chainCommand(out.BeforeCommand, l.BeforeCommand)
		out.AfterCommand = chainCommand(out.AfterCommand, l.AfterCommand)
		out.OnError = chainCommand(out.OnError, l.OnError)
		out.OnProcess = chainProcess(out.OnProcess, l.OnProcess)
	}
	return out
}

func chainCommand(a, b func(context.Context, *CommandEvent)) func(context.Context, *CommandEvent) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx context.Context, e *CommandEvent) {
		a(ctx, e)
		b(ctx, e)
	}
}

func chainProcess(a, b func(context.Context, *ProcessEvent)) func(context.Context, *ProcessEvent) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx context.Context, e *ProcessEvent) {
		a(ctx, e)
		b(ctx, e)
	}
}
