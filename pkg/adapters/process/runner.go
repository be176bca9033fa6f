package process

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/registry"
	"github.com/tidwall/gjson"
)

// DefaultGracePeriod is how long a cancelled command may take to exit after
// the interrupt before it is killed.
const DefaultGracePeriod = 5 * time.Second

// Runner executes allow-listed external commands as tasks.
//
// Task arguments never become command-line flags. They are passed as
// TENDRIL_ARG_<NAME> environment variables and as a JSON document on stdin.
type Runner struct {
	tools   map[string]Tool
	baseDir string
	grace   time.Duration
	logger  *slog.Logger
}

// RunnerOption configures the runner.
type RunnerOption func(*Runner)

// WithTools populates the allow-list.
func WithTools(tools ...Tool) RunnerOption {
	return func(r *Runner) {
		for _, tool := range tools {
			r.Register(tool)
		}
	}
}

// WithBaseDir sets the working directory for executed processes.
func WithBaseDir(dir string) RunnerOption {
	return func(r *Runner) {
		r.baseDir = dir
	}
}

// WithGracePeriod overrides DefaultGracePeriod.
func WithGracePeriod(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.grace = d
	}
}

// WithLogger sets the logger for command lifecycle messages.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = l
	}
}

// NewRunner creates a new Process Runner.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		tools:  make(map[string]Tool),
		grace:  DefaultGracePeriod,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a trusted command to the allow-list.
func (r *Runner) Register(tool Tool) {
	r.tools[tool.Name] = tool
}

// Names lists the allow-listed tools in sorted order.
func (r *Runner) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tasks returns one task per allow-listed tool.
func (r *Runner) Tasks() map[string]registry.TaskFunc {
	out := make(map[string]registry.TaskFunc, len(r.tools))
	for name := range r.tools {
		name := name
		out[name] = func(ctx context.Context, req domain.TaskRequest) (any, error) {
			return r.Execute(ctx, name, req)
		}
	}
	return out
}

// RegisterTasks adds every tool to reg.
func (r *Runner) RegisterTasks(reg *registry.Registry) {
	for name, fn := range r.Tasks() {
		reg.RegisterFunc(name, fn)
	}
}

// Execute runs tool name for req. Stdout is the result: JSON objects and
// arrays are decoded, anything else is returned as trimmed text. A non-zero
// exit is an error carrying stderr.
func (r *Runner) Execute(ctx context.Context, name string, req domain.TaskRequest) (any, error) {
	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("process tool not registered: %s", name)
	}
	if tool.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, tool.Timeout)
		defer cancel()
	}

	stdin, err := json.Marshal(req.Args)
	if err != nil {
		return nil, fmt.Errorf("failed to encode arguments: %w", err)
	}

	cmd := exec.CommandContext(ctx, tool.Command, tool.Args...)
	cmd.Dir = r.baseDir
	cmd.Env = append(cmd.Environ(), environment(tool, req)...)
	cmd.Stdin = bytes.NewReader(stdin)
	if runtime.GOOS != "windows" {
		cmd.Cancel = func() error {
			return cmd.Process.Signal(os.Interrupt)
		}
	}
	cmd.WaitDelay = r.grace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	r.logger.DebugContext(ctx, "Process tool finished",
		"tool", name, "process_id", req.ProcessID, "duration", time.Since(start), "err", err)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("tool %s: %w", name, ctxErr)
		}
		return nil, fmt.Errorf("tool %s failed: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return decodeOutput(stdout.String()), nil
}

func environment(tool Tool, req domain.TaskRequest) []string {
	env := []string{
		"TENDRIL_PROCESS_ID=" + req.ProcessID,
		"TENDRIL_TASK=" + req.Task,
		"TENDRIL_ATTEMPT=" + strconv.Itoa(req.Attempt),
		"TENDRIL_IDEMPOTENCY_KEY=" + req.IdempotencyKey,
	}
	for k, v := range tool.Env {
		env = append(env, k+"="+v)
	}
	for k, v := range req.Args {
		env = append(env, "TENDRIL_ARG_"+strings.ToUpper(k)+"="+argString(v))
	}
	return env
}

// argString renders primitives as text and everything else as JSON.
func argString(v any) string {
	switch v.(type) {
	case nil:
		return ""
	case string, bool, int, int64, float64:
		return fmt.Sprint(v)
	}
	if data, err := json.Marshal(v); err == nil {
		return string(data)
	}
	return fmt.Sprint(v)
}

func decodeOutput(out string) any {
	trimmed := strings.TrimSpace(out)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		if gjson.Valid(trimmed) {
			return gjson.Parse(trimmed).Value()
		}
	}
	return trimmed
}
