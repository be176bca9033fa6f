// Package tasks provides the tasks every tendril host registers by default.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/aretw0/tendril/pkg/registry"
	"github.com/tidwall/gjson"
)

// Names of the built-in tasks.
const (
	Log     = "log"
	Sleep   = "sleep"
	Wait    = "wait"
	JSONGet = "json.get"
	Fail    = "fail"
)

type builtins struct {
	logger *slog.Logger
	clock  ports.Clock
}

// Option configures the built-in tasks.
type Option func(*builtins)

// WithLogger sets the logger the log task writes to.
func WithLogger(l *slog.Logger) Option {
	return func(b *builtins) { b.logger = l }
}

// WithClock sets the clock sleep computes wake-up times from.
func WithClock(c ports.Clock) Option {
	return func(b *builtins) { b.clock = c }
}

// Register adds the built-in tasks to r.
func Register(r *registry.Registry, opts ...Option) {
	b := &builtins{logger: logging.NewNop(), clock: ports.NewRealClock()}
	for _, opt := range opts {
		opt(b)
	}
	r.RegisterFunc(Log, b.log)
	r.RegisterFunc(Sleep, b.sleep)
	r.RegisterFunc(Wait, wait)
	r.RegisterFunc(JSONGet, registry.Simple(jsonGet))
	r.RegisterFunc(Fail, registry.Simple(fail))
}

// log writes args.message at args.level and returns the message.
func (b *builtins) log(ctx context.Context, req domain.TaskRequest) (any, error) {
	msg := fmt.Sprint(req.Args["message"])
	level := slog.LevelInfo
	if s, ok := req.Args["level"].(string); ok {
		l, err := logging.ParseLevel(s)
		if err != nil {
			return nil, err
		}
		level = l
	}
	b.logger.Log(ctx, level, msg, "process_id", req.ProcessID, "task", req.Task)
	return msg, nil
}

// sleep suspends the process until args.until (RFC 3339) or for
// args.duration (a Go duration string or milliseconds).
func (b *builtins) sleep(ctx context.Context, req domain.TaskRequest) (any, error) {
	if until, ok := req.Args["until"]; ok {
		t, err := time.Parse(time.RFC3339, fmt.Sprint(until))
		if err != nil {
			return nil, fmt.Errorf("invalid until: %w", err)
		}
		return domain.SleepUntil(t), nil
	}
	d, err := duration(req.Args["duration"])
	if err != nil {
		return nil, err
	}
	return domain.SleepUntil(b.clock.Now().Add(d)), nil
}

// wait suspends the process until args.event is delivered.
func wait(ctx context.Context, req domain.TaskRequest) (any, error) {
	event, _ := req.Args["event"].(string)
	if event == "" {
		return nil, errors.New("wait requires an event name")
	}
	return domain.WaitFor(event), nil
}

// jsonGet extracts args.path from args.json, which may be JSON text or
// any plain value.
func jsonGet(ctx context.Context, args map[string]any) (any, error) {
	path, _ := args["path"].(string)
	if path == "" {
		return nil, errors.New("json.get requires a path")
	}
	var doc string
	switch v := args["json"].(type) {
	case string:
		doc = v
	case nil:
		return nil, errors.New("json.get requires a json argument")
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode json argument: %w", err)
		}
		doc = string(data)
	}
	if !gjson.Valid(doc) {
		return nil, errors.New("json argument is not valid JSON")
	}
	res := gjson.Get(doc, path)
	if !res.Exists() {
		return nil, nil
	}
	return res.Value(), nil
}

// fail always returns an error carrying args.message.
func fail(ctx context.Context, args map[string]any) (any, error) {
	msg := "failed"
	if m, ok := args["message"]; ok {
		msg = fmt.Sprint(m)
	}
	return nil, errors.New(msg)
}

func duration(v any) (time.Duration, error) {
	switch d := v.(type) {
	case string:
		if strings.TrimSpace(d) == "" {
			break
		}
		return time.ParseDuration(d)
	case int:
		return time.Duration(d) * time.Millisecond, nil
	case int64:
		return time.Duration(d) * time.Millisecond, nil
	case float64:
		return time.Duration(d * float64(time.Millisecond)), nil
	}
	return 0, fmt.Errorf("invalid duration %v", v)
}
