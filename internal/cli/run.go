package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aretw0/tendril"
	"github.com/aretw0/tendril/pkg/domain"
)

// Drive keeps an interactive process moving: forms are answered through p
// and timers are waited out. It returns when the process is terminal or
// only waits for events that must come from elsewhere.
func Drive(ctx context.Context, eng *tendril.Engine, state *domain.ProcessState, p *Prompter, out io.Writer) (*domain.ProcessState, error) {
	for state.Status == domain.StatusSuspended {
		form, timer := pick(state)
		switch {
		case form != nil:
			values, err := p.Form(*form)
			if err != nil {
				return state, err
			}
			next, err := eng.Resume(ctx, state.ID, form.Event, values)
			if next != nil {
				state = next
			}
			if err != nil {
				return state, err
			}
		case timer != nil:
			printSystemMessage(out, "Sleeping until %s", timer.WakeAt.Format(time.RFC3339))
			select {
			case <-ctx.Done():
				return state, ctx.Err()
			case <-time.After(time.Until(*timer.WakeAt)):
			}
			if _, err := eng.FireTimers(ctx); err != nil {
				return state, err
			}
			next, err := eng.Inspect(ctx, state.ID)
			if err != nil {
				return state, err
			}
			state = next
		default:
			for _, s := range state.Suspensions {
				printSystemMessage(out, "Waiting for event '%s'", s.Event)
			}
			return state, nil
		}
	}
	return state, nil
}

// pick returns the first form suspension, or else the earliest timer.
func pick(state *domain.ProcessState) (form, timer *domain.Suspension) {
	for i := range state.Suspensions {
		s := &state.Suspensions[i]
		if s.Reason == domain.ReasonForm && form == nil {
			form = s
		}
		if s.Timer() && (timer == nil || s.WakeAt.Before(*timer.WakeAt)) {
			timer = s
		}
	}
	return form, timer
}

// Summarize prints the outcome of a process run.
func Summarize(w io.Writer, state *domain.ProcessState) {
	switch state.Status {
	case domain.StatusFinished:
		printSystemMessage(w, "Process '%s' finished.", state.ID)
	case domain.StatusFailed, domain.StatusCancelled:
		msg := ""
		if state.Error != nil {
			msg = fmt.Sprintf(": %s (%s)", state.Error.Message, state.Error.Kind)
		}
		printSystemMessage(w, "Process '%s' %s%s.", state.ID, state.Status, msg)
	default:
		printSystemMessage(w, "Process '%s' is %s.", state.ID, state.Status)
	}
}
