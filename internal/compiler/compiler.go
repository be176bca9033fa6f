package compiler

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"sort"
	"strconv"

	"github.com/aretw0/tendril/internal/runtime"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/schema"
)

// CompileError reports an invalid step together with its path in the flow.
type CompileError struct {
	Path   string
	Reason string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

// Compile translates every flow into one Program.
// All invalid steps are reported, joined into a single error.
func Compile(flows domain.Flows) (*runtime.Program, error) {
	c := &Compiler{
		flows:   flows,
		program: runtime.NewProgram(),
		digest:  sha256.New(),
	}

	names := make([]string, 0, len(flows))
	for name := range flows {
		names = append(names, name)
	}
	sort.Strings(names)

	if len(names) == 0 {
		c.fail("", "no flows defined")
	}
	for _, name := range names {
		root := c.block(name, flows[name])
		c.program.SetFlow(name, root)
	}

	if len(c.errs) > 0 {
		return nil, errors.Join(c.errs...)
	}
	c.program.SetDigest(hex.EncodeToString(c.digest.Sum(nil)))
	return c.program, nil
}

// Compiler holds the state of one compilation.
type Compiler struct {
	flows   domain.Flows
	program *runtime.Program
	digest  hash.Hash
	errs    []error
}

func (c *Compiler) fail(path, format string, args ...any) {
	c.errs = append(c.errs, &CompileError{Path: path, Reason: fmt.Sprintf(format, args...)})
}

func (c *Compiler) register(cmd runtime.Command) string {
	if err := c.program.Register(cmd); err != nil {
		c.fail(cmd.ID(), "%v", err)
	}
	return cmd.ID()
}

// block compiles steps into a Block registered under path. Children get
// the IDs path/0, path/1, ...
func (c *Compiler) block(path string, steps []domain.Step) string {
	children := make([]string, 0, len(steps))
	for i, s := range steps {
		if id := c.step(path+"/"+strconv.Itoa(i), s); id != "" {
			children = append(children, id)
		}
	}
	return c.register(runtime.NewBlock(path, path, children))
}

// step compiles s and its cross-cutting options. It returns the ID of the
// outermost command, or "" when s is invalid.
func (c *Compiler) step(path string, s domain.Step) string {
	if s == nil {
		c.fail(path, "empty step")
		return ""
	}
	c.fingerprint(path, s)

	h := s.Header()
	label := h.Name
	if label == "" {
		label = path
	}
	opts := h.Options

	base, collect := c.base(path, label, s)
	if base == "" {
		return ""
	}
	if opts.IsZero() {
		return base
	}

	switch s.(type) {
	case *domain.Expression, *domain.TaskCall, *domain.FlowCall, *domain.ScriptCall:
		// retry, then items, then error outermost: one handler spans the loop.
		id := c.retry(path, label, base, opts.Retry)
		id = c.items(path, label, id, opts.WithItems, collect)
		return c.errorScope(path, label, id, opts.ErrorSteps)
	case *domain.Group:
		// error inside items: every iteration has its own handler.
		id := c.retry(path, label, base, opts.Retry)
		id = c.errorScope(path, label, id, opts.ErrorSteps)
		return c.items(path, label, id, opts.WithItems, nil)
	default:
		c.fail(path, "options are not supported on %s steps", s.Kind())
		return ""
	}
}

// base compiles the step itself. collect lists the names the step binds,
// which iteration gathers per item.
func (c *Compiler) base(path, label string, s domain.Step) (string, []string) {
	switch s := s.(type) {
	case *domain.Expression:
		if s.Expr == "" {
			c.fail(path, "expression is empty")
			return "", nil
		}
		return c.register(runtime.NewExpression(path, label, s.Expr, s.Out)), outputs(s.Out)

	case *domain.TaskCall:
		if s.Task == "" {
			c.fail(path, "task name is empty")
			return "", nil
		}
		return c.register(runtime.NewTaskCall(path, label, s.Task, s.In, s.Out)), outputs(s.Out)

	case *domain.FlowCall:
		if _, ok := c.flows[s.Flow]; !ok {
			c.fail(path, "unknown flow %q", s.Flow)
			return "", nil
		}
		return c.register(runtime.NewFlowCall(path, label, s.Flow, s.In, s.Out)), s.Out

	case *domain.ScriptCall:
		if s.Body == "" {
			c.fail(path, "script body is empty")
			return "", nil
		}
		lang := s.Language
		if lang == "" {
			lang = DefaultScriptLanguage
		}
		return c.register(runtime.NewScriptCall(path, label, lang, s.Body, s.In, s.Out)), outputs(s.Out)

	case *domain.If:
		if s.Condition == "" {
			c.fail(path, "condition is empty")
			return "", nil
		}
		then := c.optionalBlock(path+"/then", s.Then)
		els := c.optionalBlock(path+"/else", s.Else)
		return c.register(runtime.NewIf(path, label, s.Condition, then, els)), nil

	case *domain.Switch:
		if s.Key == "" {
			c.fail(path, "switch key is empty")
			return "", nil
		}
		cases := make([]runtime.SwitchCase, len(s.Cases))
		for i, cs := range s.Cases {
			cases[i] = runtime.SwitchCase{
				Value: cs.Value,
				Block: c.block(path+"/case/"+strconv.Itoa(i), cs.Steps),
			}
		}
		def := c.optionalBlock(path+"/default", s.Default)
		return c.register(runtime.NewSwitch(path, label, s.Key, cases, def)), nil

	case *domain.Parallel:
		if len(s.Branches) == 0 {
			c.fail(path, "parallel needs at least one branch")
			return "", nil
		}
		branches := make([]string, len(s.Branches))
		for i, b := range s.Branches {
			branches[i] = c.block(path+"/branch/"+strconv.Itoa(i), b)
		}
		return c.register(runtime.NewParallel(path, label, branches, s.Out)), nil

	case *domain.Group:
		body := c.block(path+"/steps", s.Steps)
		return c.register(runtime.NewGroup(path, label, body)), nil

	case *domain.Return:
		return c.register(runtime.NewReturn(path, label)), nil

	case *domain.Checkpoint:
		return c.register(runtime.NewCheckpoint(path, label, s.Label)), nil

	case *domain.FormCall:
		if s.Form == "" {
			c.fail(path, "form name is empty")
			return "", nil
		}
		if _, err := schema.FromFields(s.Fields); err != nil {
			c.fail(path, "%v", err)
			return "", nil
		}
		return c.register(runtime.NewFormCall(path, label, s.Form, s.Fields, s.Out)), nil

	default:
		c.fail(path, "unknown step kind %T", s)
		return "", nil
	}
}

func (c *Compiler) optionalBlock(path string, steps []domain.Step) string {
	if len(steps) == 0 {
		return ""
	}
	return c.block(path, steps)
}

func (c *Compiler) retry(path, label, inner string, r *domain.Retry) string {
	if r == nil {
		return inner
	}
	if r.Attempts < 0 || r.DelayMs < 0 {
		c.fail(path, "retry attempts and delay must not be negative")
		return inner
	}
	return c.register(runtime.NewRetry(path+"+retry", label, inner, *r))
}

func (c *Compiler) items(path, label, inner string, w *domain.WithItems, collect []string) string {
	if w == nil {
		return inner
	}
	if w.Source == "" {
		c.fail(path, "withItems source is empty")
		return inner
	}
	return c.register(runtime.NewItems(path+"+items", label, inner, *w, collect))
}

func (c *Compiler) errorScope(path, label, inner string, steps []domain.Step) string {
	if len(steps) == 0 {
		return inner
	}
	handler := c.block(path+"/error", steps)
	return c.register(runtime.NewErrorWrapper(path+"+error", label, inner, handler))
}

func (c *Compiler) fingerprint(path string, s domain.Step) {
	data, err := json.Marshal(s)
	if err != nil {
		c.fail(path, "step cannot be encoded: %v", err)
		return
	}
	c.digest.Write([]byte(path))
	c.digest.Write([]byte{0})
	c.digest.Write([]byte(s.Kind()))
	c.digest.Write([]byte{0})
	c.digest.Write(data)
	c.digest.Write([]byte{'\n'})
}

func outputs(out string) []string {
	if out == "" {
		return nil
	}
	return []string{out}
}

// DefaultScriptLanguage is used by script steps that do not name one.
const DefaultScriptLanguage = "lua"
