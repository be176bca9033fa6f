package graph

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aretw0/tendril/pkg/domain"
)

// Overlay marks steps of a live process on the graph.
type Overlay struct {
	// Active holds step paths (e.g. "main/2/then/0") the process is inside.
	Active []string
}

// OverlayFor collects the steps that own the frames of every unfinished
// lane of state.
func OverlayFor(state *domain.ProcessState) *Overlay {
	o := &Overlay{}
	seen := make(map[string]bool)
	for _, l := range state.Lanes {
		if l.Status == domain.LaneCompleted || l.Status == domain.LaneFailed {
			continue
		}
		for _, f := range l.Frames {
			owner := stepPath(f.Owner)
			if owner != "" && !seen[owner] {
				seen[owner] = true
				o.Active = append(o.Active, owner)
			}
		}
	}
	sort.Strings(o.Active)
	return o
}

// stepPath strips the wrapper suffix (+retry, +items, +error) of a command ID.
func stepPath(id string) string {
	if i := strings.IndexByte(id, '+'); i >= 0 {
		return id[:i]
	}
	return id
}

// GenerateMermaid produces a Mermaid flowchart with one subgraph per flow.
// Shapes follow the step kind:
// - Flow entry: ((Circle))
// - Task, Flow call: [[Subroutine]]
// - Form: [/Parallelogram/]
// - If, Switch: {Rhombus}
// - Parallel: [\Trapezoid/]
// - Default: [Rectangle]
func GenerateMermaid(flows domain.Flows, overlay *Overlay) string {
	w := &writer{}
	w.line("graph TD")

	names := make([]string, 0, len(flows))
	for name := range flows {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		entry := sanitizeMermaidID(name)
		w.line("    subgraph %s_flow[\"%s\"]", entry, name)
		w.line("    %s((\"%s\"))", entry, name)
		w.chain(entry, "", name, flows[name])
		w.line("    end")
	}
	for _, c := range w.calls {
		w.line("    %s -.-> %s", c[0], sanitizeMermaidID(c[1]))
	}

	if overlay != nil && len(overlay.Active) > 0 {
		w.line("")
		w.line("    %%%% Overlay Styles")
		w.line("    classDef active fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;")
		for _, p := range overlay.Active {
			w.line("    class %s active;", sanitizeMermaidID(p))
		}
	}
	return w.sb.String()
}

type writer struct {
	sb    strings.Builder
	calls [][2]string
}

func (w *writer) line(format string, args ...any) {
	fmt.Fprintf(&w.sb, format, args...)
	w.sb.WriteByte('\n')
}

// chain draws steps as a sequence hanging from prev. The first edge carries
// label. It returns the last node of the sequence.
func (w *writer) chain(prev, label, path string, steps []domain.Step) string {
	for i, s := range steps {
		id := w.step(path+"/"+strconv.Itoa(i), s)
		w.edge(prev, id, label)
		label = ""
		prev = id
	}
	return prev
}

func (w *writer) edge(from, to, label string) {
	if label == "" {
		w.line("    %s --> %s", from, to)
		return
	}
	w.line("    %s -- \"%s\" --> %s", from, escape(label), to)
}

func (w *writer) step(path string, s domain.Step) string {
	id := sanitizeMermaidID(path)
	text := describe(s)
	if n := s.Header().Name; n != "" {
		text = n
	}
	opener, closer := "[", "]"
	switch s.(type) {
	case *domain.TaskCall, *domain.FlowCall, *domain.ScriptCall:
		opener, closer = "[[", "]]"
	case *domain.FormCall:
		opener, closer = "[/", "/]"
	case *domain.If, *domain.Switch:
		opener, closer = "{", "}"
	case *domain.Parallel:
		opener, closer = "[\\", "/]"
	}
	opts := s.Header().Options
	if opts.Retry != nil {
		text += fmt.Sprintf(" <br/> retry x%d", opts.Retry.Attempts)
	}
	if opts.WithItems != nil {
		text += " <br/> each " + opts.WithItems.Source
	}
	w.line("    %s%s\"%s\"%s", id, opener, escape(text), closer)

	switch s := s.(type) {
	case *domain.FlowCall:
		w.calls = append(w.calls, [2]string{id, s.Flow})
	case *domain.If:
		w.chain(id, "then", path+"/then", s.Then)
		w.chain(id, "else", path+"/else", s.Else)
	case *domain.Switch:
		for i, c := range s.Cases {
			w.chain(id, fmt.Sprint(c.Value), path+"/case/"+strconv.Itoa(i), c.Steps)
		}
		w.chain(id, "default", path+"/default", s.Default)
	case *domain.Parallel:
		for i, b := range s.Branches {
			w.chain(id, "branch "+strconv.Itoa(i), path+"/branch/"+strconv.Itoa(i), b)
		}
	case *domain.Group:
		w.chain(id, "", path+"/steps", s.Steps)
	}
	if len(opts.ErrorSteps) > 0 {
		w.chain(id, "on error", path+"/error", opts.ErrorSteps)
	}
	return id
}

func describe(s domain.Step) string {
	switch s := s.(type) {
	case *domain.Expression:
		return s.Expr
	case *domain.TaskCall:
		return "task " + s.Task
	case *domain.FlowCall:
		return "call " + s.Flow
	case *domain.ScriptCall:
		lang := s.Language
		if lang == "" {
			lang = "lua"
		}
		return "script " + lang
	case *domain.If:
		return s.Condition
	case *domain.Switch:
		return "switch " + s.Key
	case *domain.Parallel:
		return "parallel"
	case *domain.Group:
		return "block"
	case *domain.Return:
		return "return"
	case *domain.Checkpoint:
		return "checkpoint " + s.Label
	case *domain.FormCall:
		return "form " + s.Form
	}
	return string(s.Kind())
}

func escape(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}

func sanitizeMermaidID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", "/", "_", "\\", "_", "+", "_", " ", "_")
	return r.Replace(id)
}
