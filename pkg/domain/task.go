package domain

import "time"

// TaskRequest is one invocation of a task.
type TaskRequest struct {
	ProcessID string         `json:"process_id"`
	Task      string         `json:"task"`
	Args      map[string]any `json:"args"`
	// Attempt is zero for the first try and grows with every retry.
	Attempt        int    `json:"attempt"`
	IdempotencyKey string `json:"idempotency_key"`
}

// SuspendRequest is returned by a task that wants the process to stop
// until an event (or the clock) resumes it. The resume payload becomes the
// task's output.
type SuspendRequest struct {
	Event  string     `json:"event,omitempty"`
	WakeAt *time.Time `json:"wake_at,omitempty"`
}

// SleepUntil builds a clock-driven suspension.
func SleepUntil(t time.Time) SuspendRequest {
	return SuspendRequest{WakeAt: &t}
}

// WaitFor builds an event-driven suspension.
func WaitFor(event string) SuspendRequest {
	return SuspendRequest{Event: event}
}
