package domain

// StepKind names a step variant.
type StepKind string

const (
	KindExpression StepKind = "expr"
	KindTaskCall   StepKind = "task"
	KindFlowCall   StepKind = "call"
	KindScriptCall StepKind = "script"
	KindIf         StepKind = "if"
	KindSwitch     StepKind = "switch"
	KindParallel   StepKind = "parallel"
	KindGroup      StepKind = "block"
	KindReturn     StepKind = "return"
	KindCheckpoint StepKind = "checkpoint"
	KindFormCall   StepKind = "form"
)

// Step is one declarative unit of a flow.
// The set of implementations is closed: only types in this package satisfy it.
type Step interface {
	Kind() StepKind
	Header() *Base
	step()
}

// Base carries the fields common to every step.
type Base struct {
	// Name is an optional human label, used in failures and telemetry.
	Name    string  `json:"name,omitempty" yaml:"name,omitempty"`
	Options Options `json:"options,omitzero" yaml:"options,omitempty"`
}

// Header returns the common step fields.
func (b *Base) Header() *Base { return b }

func (b *Base) step() {}

// Options are the cross-cutting modifiers a step may carry.
type Options struct {
	Retry      *Retry     `json:"retry,omitempty" yaml:"retry,omitempty" mapstructure:"retry"`
	WithItems  *WithItems `json:"withItems,omitempty" yaml:"withItems,omitempty" mapstructure:"withItems"`
	ErrorSteps []Step     `json:"error,omitempty" yaml:"error,omitempty" mapstructure:"-"`
}

// IsZero reports whether no option is set.
func (o Options) IsZero() bool {
	return o.Retry == nil && o.WithItems == nil && len(o.ErrorSteps) == 0
}

// Retry re-runs a single attempt of the wrapped step.
// Attempts counts re-runs, so a permanently failing step runs Attempts+1 times.
type Retry struct {
	Attempts int   `json:"attempts" yaml:"attempts" mapstructure:"attempts"`
	DelayMs  int64 `json:"delayMs,omitempty" yaml:"delayMs,omitempty" mapstructure:"delayMs"`
}

// WithItems runs the wrapped step once per element of Source.
type WithItems struct {
	Source   string `json:"source" yaml:"source" mapstructure:"source"`
	ItemVar  string `json:"itemVar,omitempty" yaml:"itemVar,omitempty" mapstructure:"itemVar"`
	IndexVar string `json:"indexVar,omitempty" yaml:"indexVar,omitempty" mapstructure:"indexVar"`
	OutVar   string `json:"outVar,omitempty" yaml:"outVar,omitempty" mapstructure:"outVar"`
}

const (
	DefaultItemVar  = "item"
	DefaultIndexVar = "itemIndex"
)

// Expression evaluates Expr and optionally binds the value to Out.
type Expression struct {
	Base
	Expr string `json:"expr"`
	Out  string `json:"out,omitempty"`
}

// TaskCall invokes a registered task.
type TaskCall struct {
	Base
	Task string         `json:"task"`
	In   map[string]any `json:"in,omitempty"`
	Out  string         `json:"out,omitempty"`
}

// FlowCall runs another flow of the same program in a new scope.
// In values are evaluated in the caller's scope; Out names are copied back
// from the callee's scope when it completes.
type FlowCall struct {
	Base
	Flow string         `json:"flow"`
	In   map[string]any `json:"in,omitempty"`
	Out  []string       `json:"out,omitempty"`
}

// ScriptCall runs an inline script through the script runner registered
// for Language.
type ScriptCall struct {
	Base
	Language string         `json:"language"`
	Body     string         `json:"body"`
	In       map[string]any `json:"in,omitempty"`
	Out      string         `json:"out,omitempty"`
}

// If selects Then or Else based on Condition.
type If struct {
	Base
	Condition string `json:"if"`
	Then      []Step `json:"then,omitempty"`
	Else      []Step `json:"else,omitempty"`
}

// Case is one labelled branch of a Switch.
type Case struct {
	Value string `json:"value"`
	Steps []Step `json:"steps"`
}

// Switch selects the first Case whose Value matches the evaluated Key.
type Switch struct {
	Base
	Key     string `json:"switch"`
	Cases   []Case `json:"cases,omitempty"`
	Default []Step `json:"default,omitempty"`
}

// Parallel runs each branch in its own lane and joins on all of them.
// Out names are copied from every successful branch back into the
// originating scope once the join completes.
type Parallel struct {
	Base
	Branches [][]Step `json:"branches"`
	Out      []string `json:"out,omitempty"`
}

// Group runs Steps in a nested scope.
type Group struct {
	Base
	Steps []Step `json:"steps"`
}

// Return ends the current flow.
type Return struct {
	Base
}

// Checkpoint uploads a snapshot of the process under Label and continues.
type Checkpoint struct {
	Base
	Label string `json:"checkpoint"`
}

// FormField describes one value expected by a form.
type FormField struct {
	Name    string `json:"name" yaml:"name" mapstructure:"name"`
	Type    string `json:"type,omitempty" yaml:"type,omitempty" mapstructure:"type"`
	Label   string `json:"label,omitempty" yaml:"label,omitempty" mapstructure:"label"`
	Default any    `json:"default,omitempty" yaml:"default,omitempty" mapstructure:"default"`
}

// FormCall suspends the process until a submission for the form arrives.
// The submitted values are bound to Out, or to Form when Out is empty.
type FormCall struct {
	Base
	Form   string      `json:"form"`
	Fields []FormField `json:"fields,omitempty"`
	Out    string      `json:"out,omitempty"`
}

func (*Expression) Kind() StepKind { return KindExpression }
func (*TaskCall) Kind() StepKind   { return KindTaskCall }
func (*FlowCall) Kind() StepKind   { return KindFlowCall }
func (*ScriptCall) Kind() StepKind { return KindScriptCall }
func (*If) Kind() StepKind         { return KindIf }
func (*Switch) Kind() StepKind     { return KindSwitch }
func (*Parallel) Kind() StepKind   { return KindParallel }
func (*Group) Kind() StepKind      { return KindGroup }
func (*Return) Kind() StepKind     { return KindReturn }
func (*Checkpoint) Kind() StepKind { return KindCheckpoint }
func (*FormCall) Kind() StepKind   { return KindFormCall }

// Flows maps flow names to their step lists.
type Flows map[string][]Step

// DefaultFlow is the entry point used when none is named.
const DefaultFlow = "main"
