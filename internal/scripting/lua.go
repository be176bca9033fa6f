package scripting

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/Shopify/go-lua"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
)

// Lua evaluates expressions and runs script steps with Shopify/go-lua.
// Scope variables are visible as locals. Reading an unknown global is an
// unresolved reference; assigning one is an error, so scripts use locals.
type Lua struct {
	statePool chan *lua.State
	scripts   sync.Map
}

type compiledLua struct {
	bytecode []byte
	argNames []string
}

const (
	luaStatePoolSize    = 10
	luaGlobalTableIndex = -2
	luaArrayTableIndex  = -3
	luaMapTableIndex    = -3
	luaArgLocalTemplate = "local %s = select(%d, ...)"
	luaSeparator        = "\n"
	luaGlobalTableName  = "_G"
	luaMaxLocals        = 180
	undefinedMarker     = "undefined variable"
)

var (
	ErrLuaLoad      = errors.New("lua load error")
	ErrLuaExecution = errors.New("lua execution error")
)

var luaExclude = [...]string{
	"io", "os", "debug", "package", "require", "dofile", "loadfile", "load",
}

var luaKeywords = map[string]bool{
	"and": true, "break": true, "do": true, "else": true, "elseif": true,
	"end": true, "false": true, "for": true, "function": true, "goto": true,
	"if": true, "in": true, "local": true, "nil": true, "not": true, "or": true,
	"repeat": true, "return": true, "then": true, "true": true, "until": true,
	"while": true,
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var (
	_ ports.Evaluator    = (*Lua)(nil)
	_ ports.ScriptRunner = (*Lua)(nil)
)

// NewLua creates a Lua environment with a pool of sandboxed states.
func NewLua() *Lua {
	return &Lua{statePool: make(chan *lua.State, luaStatePoolSize)}
}

// Eval evaluates text against scope. A text that is exactly one ${...}
// yields the typed value; text mixing literals and ${...} yields a string;
// text without ${...} is evaluated as a bare expression.
func (e *Lua) Eval(ctx context.Context, text string, scope ports.Scope) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	segs, err := parseTemplate(text)
	if err != nil {
		return nil, err
	}

	vars := scope.Flatten()
	switch {
	case len(segs) == 0:
		return e.expr(strings.TrimSpace(text), vars)
	case len(segs) == 1 && segs[0].expr:
		return e.expr(segs[0].text, vars)
	}

	var sb strings.Builder
	for _, s := range segs {
		if !s.expr {
			sb.WriteString(s.text)
			continue
		}
		v, err := e.expr(s.text, vars)
		if err != nil {
			return nil, err
		}
		if v != nil {
			sb.WriteString(fmt.Sprint(v))
		}
	}
	return sb.String(), nil
}

// EvalBool evaluates a condition with Lua truthiness. Interpolated strings
// are parsed as booleans when possible.
func (e *Lua) EvalBool(ctx context.Context, text string, scope ports.Scope) (bool, error) {
	v, err := e.Eval(ctx, text, scope)
	if err != nil {
		return false, err
	}
	switch t := v.(type) {
	case nil:
		return false, nil
	case bool:
		return t, nil
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(t)); err == nil {
			return b, nil
		}
		return t != "", nil
	default:
		return true, nil
	}
}

// Run executes a Lua chunk. Inputs shadow scope variables of the same name.
// The first returned value is the script's output; tables become maps or lists.
func (e *Lua) Run(ctx context.Context, body string, scope ports.Scope, in map[string]any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vars := scope.Flatten()
	for k, v := range in {
		vars[k] = v
	}
	return e.exec(body, vars)
}

func (e *Lua) expr(src string, vars map[string]any) (any, error) {
	if src == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrLuaLoad)
	}
	return e.exec("return ("+src+")", vars)
}

func (e *Lua) exec(src string, vars map[string]any) (any, error) {
	names := argNames(vars)
	proc, err := e.compiled(src, names)
	if err != nil {
		return nil, err
	}

	L := e.getState()
	defer e.returnState(L)

	if err := L.Load(bytes.NewReader(proc.bytecode), "chunk", "b"); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLuaLoad, err)
	}
	for _, name := range proc.argNames {
		goToLua(L, vars[name])
	}
	if err := L.ProtectedCall(len(proc.argNames), 1, 0); err != nil {
		if strings.Contains(err.Error(), undefinedMarker) {
			return nil, domain.NewFailure(domain.UnresolvedReferenceFailure, "", err)
		}
		return nil, fmt.Errorf("%w: %w", ErrLuaExecution, err)
	}
	return luaToGo(L, -1), nil
}

func (e *Lua) compiled(src string, names []string) (*compiledLua, error) {
	key := strings.Join(names, ",") + luaSeparator + src
	if val, ok := e.scripts.Load(key); ok {
		return val.(*compiledLua), nil
	}
	c, err := compileLua(src, names)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLuaLoad, err)
	}
	e.scripts.Store(key, c)
	return c, nil
}

func compileLua(script string, names []string) (*compiledLua, error) {
	argLocals := make([]string, len(names))
	for i, name := range names {
		argLocals[i] = fmt.Sprintf(luaArgLocalTemplate, name, i+1)
	}
	src := strings.Join([]string{
		strings.Join(argLocals, luaSeparator), script,
	}, luaSeparator)

	L := lua.NewState()
	if err := lua.LoadString(L, src); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := L.Dump(&buf); err != nil {
		return nil, err
	}
	return &compiledLua{bytecode: buf.Bytes(), argNames: names}, nil
}

// argNames returns the scope names usable as Lua locals, sorted.
func argNames(vars map[string]any) []string {
	names := make([]string, 0, len(vars))
	for name := range vars {
		if identifier.MatchString(name) && !luaKeywords[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if len(names) > luaMaxLocals {
		names = names[:luaMaxLocals]
	}
	return names
}

func newSandbox() *lua.State {
	L := lua.NewState()
	lua.OpenLibraries(L)
	L.Global(luaGlobalTableName)
	for _, name := range luaExclude {
		L.PushNil()
		L.SetField(luaGlobalTableIndex, name)
	}

	L.NewTable()
	L.PushGoFunction(func(L *lua.State) int {
		name, _ := L.ToString(2)
		lua.Errorf(L, "%s '%s'", undefinedMarker, name)
		return 0
	})
	L.SetField(-2, "__index")
	L.PushGoFunction(func(L *lua.State) int {
		name, _ := L.ToString(2)
		lua.Errorf(L, "assignment to global '%s': declare it local", name)
		return 0
	})
	L.SetField(-2, "__newindex")
	L.SetMetaTable(-2)
	L.Pop(1)
	return L
}

func (e *Lua) getState() *lua.State {
	select {
	case L := <-e.statePool:
		return L
	default:
		return newSandbox()
	}
}

func (e *Lua) returnState(L *lua.State) {
	L.SetTop(0)
	select {
	case e.statePool <- L:
	default:
	}
}
