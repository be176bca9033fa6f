package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ProcessStatus is the externally visible status of a process.
type ProcessStatus string

const (
	StatusRunning   ProcessStatus = "running"
	StatusSuspended ProcessStatus = "suspended"
	StatusFinished  ProcessStatus = "finished"
	StatusFailed    ProcessStatus = "failed"
	StatusCancelled ProcessStatus = "cancelled"
)

// Terminal reports whether no further execution can happen.
func (s ProcessStatus) Terminal() bool {
	return s == StatusFinished || s == StatusFailed || s == StatusCancelled
}

// LaneStatus is the state of one execution cursor.
type LaneStatus string

const (
	LaneRunnable  LaneStatus = "runnable"
	LaneSuspended LaneStatus = "suspended"
	LaneWaiting   LaneStatus = "waiting" // blocked at a parallel join
	LaneCompleted LaneStatus = "completed"
	LaneFailed    LaneStatus = "failed"
)

// Done reports whether the lane will never run again.
func (s LaneStatus) Done() bool {
	return s == LaneCompleted || s == LaneFailed
}

// FrameKind identifies what created a frame.
type FrameKind string

const (
	FrameFlow      FrameKind = "flow"
	FrameBranch    FrameKind = "branch"
	FrameGroup     FrameKind = "group"
	FrameRetry     FrameKind = "retry"
	FrameGuard     FrameKind = "guard"
	FrameCatch     FrameKind = "catch"
	FrameLoop      FrameKind = "loop"
	FrameIteration FrameKind = "iteration"
	FrameJoin      FrameKind = "join"
)

// ProcessState is the complete continuation of one process instance.
// Together with the compiled program it fully determines future execution.
type ProcessState struct {
	ID            string         `json:"id"`
	Flow          string         `json:"flow"`
	Status        ProcessStatus  `json:"status"`
	ProgramDigest string         `json:"program_digest,omitempty"`
	Variables     map[string]any `json:"variables"`
	Lanes         []*Lane        `json:"lanes,omitempty"`
	Suspensions   []Suspension   `json:"suspensions,omitempty"`
	Error         *Failure       `json:"error,omitempty"`

	// CancelRequested asks every lane to unwind with a cancellation failure.
	CancelRequested bool `json:"cancel_requested,omitempty"`
	// NonCatchable makes the cancellation bypass error handlers.
	NonCatchable bool `json:"non_catchable,omitempty"`

	NextLane  int       `json:"next_lane"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewProcessState creates a state with a single lane rooted in flow.
func NewProcessState(id, flow string, args map[string]any, now time.Time) *ProcessState {
	vars := make(map[string]any, len(args))
	for k, v := range args {
		vars[k] = v
	}
	return &ProcessState{
		ID:        id,
		Flow:      flow,
		Status:    StatusRunning,
		Variables: vars,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Lane returns the lane with the given ID, or nil.
func (s *ProcessState) Lane(id string) *Lane {
	for _, l := range s.Lanes {
		if l.ID == id {
			return l
		}
	}
	return nil
}

// MainLane returns the lane the process started with, or nil for a
// compacted state.
func (s *ProcessState) MainLane() *Lane {
	for _, l := range s.Lanes {
		if l.Parent == "" {
			return l
		}
	}
	return nil
}

// NewLaneID allocates a deterministic lane identifier.
func (s *ProcessState) NewLaneID() string {
	id := fmt.Sprintf("lane-%d", s.NextLane)
	s.NextLane++
	return id
}

// Suspension returns the primary suspension record, if any.
func (s *ProcessState) Suspension() *Suspension {
	if len(s.Suspensions) == 0 {
		return nil
	}
	return &s.Suspensions[0]
}

// FindSuspension returns the suspension waiting for event, if any.
func (s *ProcessState) FindSuspension(event string) (int, *Suspension) {
	for i := range s.Suspensions {
		if s.Suspensions[i].Event == event {
			return i, &s.Suspensions[i]
		}
	}
	return -1, nil
}

// Clone returns a deep copy of the state.
func (s *ProcessState) Clone() (*ProcessState, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	var out ProcessState
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return &out, nil
}

// Compact drops the continuation of a terminal process, keeping only what
// is needed for display: status, error, the final scope of the main lane
// and the outcome of every parallel branch lane, without its frames.
func (s *ProcessState) Compact() *ProcessState {
	out := &ProcessState{
		ID:            s.ID,
		Flow:          s.Flow,
		Status:        s.Status,
		ProgramDigest: s.ProgramDigest,
		Variables:     make(map[string]any, len(s.Variables)),
		Error:         s.Error,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
	for k, v := range s.Variables {
		out.Variables[k] = v
	}
	if main := s.MainLane(); main != nil {
		for k, v := range main.Final {
			out.Variables[k] = v
		}
	}
	for _, l := range s.Lanes {
		if l.Parent == "" {
			continue
		}
		out.Lanes = append(out.Lanes, &Lane{
			ID:     l.ID,
			Parent: l.Parent,
			Status: l.Status,
			Final:  l.Final,
			Error:  l.Error,
			Pushes: l.Pushes,
			Pops:   l.Pops,
		})
	}
	return out
}

// Lane is one cursor over a stack of frames. Frames[len-1] is the top.
type Lane struct {
	ID     string         `json:"id"`
	Parent string         `json:"parent,omitempty"`
	Status LaneStatus     `json:"status"`
	Frames []*Frame       `json:"frames,omitempty"`
	Final  map[string]any `json:"final,omitempty"`
	Error  *Failure       `json:"error,omitempty"`

	// CancelRaised records that this lane already unwound once for the
	// current cancellation request.
	CancelRaised bool `json:"cancel_raised,omitempty"`

	Pushes int `json:"pushes"`
	Pops   int `json:"pops"`
}

// Top returns the innermost frame, or nil when the stack is empty.
func (l *Lane) Top() *Frame {
	if len(l.Frames) == 0 {
		return nil
	}
	return l.Frames[len(l.Frames)-1]
}

// Push places f on top of the stack and assigns its identifier.
func (l *Lane) Push(f *Frame) {
	l.Pushes++
	f.ID = fmt.Sprintf("%s/%d", l.ID, l.Pushes)
	if f.Vars == nil {
		f.Vars = make(map[string]any)
	}
	l.Frames = append(l.Frames, f)
}

// Pop removes and returns the innermost frame.
func (l *Lane) Pop() *Frame {
	f := l.Top()
	if f == nil {
		return nil
	}
	l.Frames[len(l.Frames)-1] = nil
	l.Frames = l.Frames[:len(l.Frames)-1]
	l.Pops++
	return f
}

// Frame is one lexical scope plus the commands still to run in it.
// The enclosing frame is the one below it in the lane's stack.
type Frame struct {
	ID    string         `json:"id"`
	Kind  FrameKind      `json:"kind"`
	Owner string         `json:"owner,omitempty"`
	Root  bool           `json:"root,omitempty"`
	Vars  map[string]any `json:"vars"`
	// Locals are names that bind in this frame even before they hold a value.
	Locals  []string `json:"locals,omitempty"`
	Pending []string `json:"pending,omitempty"`
	Error   *Failure `json:"error,omitempty"`

	// Retry frames
	Attempt int `json:"attempt,omitempty"`

	// Loop frames
	Items   []any `json:"items,omitempty"`
	Index   int   `json:"index,omitempty"`
	Results []any `json:"results,omitempty"`

	// Join frames
	Children []string `json:"children,omitempty"`
}

// Declares reports whether name binds in this frame.
func (f *Frame) Declares(name string) bool {
	if _, ok := f.Vars[name]; ok {
		return true
	}
	for _, l := range f.Locals {
		if l == name {
			return true
		}
	}
	return false
}

// Next removes and returns the next pending command ID.
func (f *Frame) Next() (string, bool) {
	if len(f.Pending) == 0 {
		return "", false
	}
	id := f.Pending[0]
	f.Pending = f.Pending[1:]
	return id, true
}

// Splice places ids ahead of the remaining pending commands.
func (f *Frame) Splice(ids ...string) {
	if len(ids) == 0 {
		return
	}
	pending := make([]string, 0, len(ids)+len(f.Pending))
	pending = append(pending, ids...)
	f.Pending = append(pending, f.Pending...)
}

// SuspendReason explains why a lane stopped.
type SuspendReason string

const (
	ReasonForm  SuspendReason = "form"
	ReasonRetry SuspendReason = "retry"
	ReasonTask  SuspendReason = "task"
)

// Suspension records why a lane is suspended and which event resumes it.
type Suspension struct {
	LaneID    string        `json:"lane_id"`
	Reason    SuspendReason `json:"reason"`
	Event     string        `json:"resume_event"`
	Bind      string        `json:"bind,omitempty"`
	Form      string        `json:"form,omitempty"`
	Fields    []FormField   `json:"fields,omitempty"`
	WakeAt    *time.Time    `json:"wake_at,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// Timer reports whether the suspension is resumed by the clock.
func (s Suspension) Timer() bool {
	return s.WakeAt != nil
}
