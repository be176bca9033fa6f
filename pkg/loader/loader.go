package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/aretw0/tendril/internal/dto"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// LoadError reports a malformed step in a flow definition.
type LoadError struct {
	File   string
	Path   string
	Reason string
}

func (e *LoadError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s: %s: %s", e.File, e.Path, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

// Parse decodes a YAML flow document.
func Parse(data []byte) (domain.Flows, error) {
	return parse("", data)
}

// LoadFile reads and decodes one YAML flow file.
func LoadFile(path string) (domain.Flows, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read flow file: %w", err)
	}
	return parse(path, data)
}

// LoadDir decodes every .yaml and .yml file in dir. A flow name defined in
// more than one file is an error.
func LoadDir(dir string) (domain.Flows, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read flow directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("no flow files in %s", dir)
	}
	return loadAll(files)
}

// Load decodes path, which may be a file or a directory.
func Load(path string) (domain.Flows, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return LoadDir(path)
	}
	return LoadFile(path)
}

// Source is a ports.FlowSource reading YAML files and directories.
type Source struct {
	paths []string
}

// NewSource creates a source over the given files or directories.
func NewSource(paths ...string) *Source {
	return &Source{paths: paths}
}

// LoadFlows merges the flows of every configured path.
func (s *Source) LoadFlows(ctx context.Context) (domain.Flows, error) {
	out := make(domain.Flows)
	for _, p := range s.paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		flows, err := Load(p)
		if err != nil {
			return nil, err
		}
		if err := merge(out, flows, p); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func loadAll(files []string) (domain.Flows, error) {
	out := make(domain.Flows)
	for _, f := range files {
		flows, err := LoadFile(f)
		if err != nil {
			return nil, err
		}
		if err := merge(out, flows, f); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func merge(dst, src domain.Flows, origin string) error {
	for name, steps := range src {
		if _, exists := dst[name]; exists {
			return fmt.Errorf("flow %q redefined in %s", name, origin)
		}
		dst[name] = steps
	}
	return nil
}

func parse(file string, data []byte) (domain.Flows, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &LoadError{File: file, Path: "/", Reason: "document is empty"}
	}
	var doc dto.Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", displayName(file), err)
	}
	if len(doc.Flows) == 0 {
		return nil, &LoadError{File: file, Path: "/", Reason: "no flows defined"}
	}

	d := &decoder{file: file}
	flows := make(domain.Flows, len(doc.Flows))
	names := make([]string, 0, len(doc.Flows))
	for name := range doc.Flows {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		flows[name] = d.steps(name, doc.Flows[name])
	}
	if len(d.errs) > 0 {
		return nil, errors.Join(d.errs...)
	}
	return flows, nil
}

func displayName(file string) string {
	if file == "" {
		return "document"
	}
	return file
}

type decoder struct {
	file string
	errs []error
}

func (d *decoder) fail(path, format string, args ...any) {
	d.errs = append(d.errs, &LoadError{File: d.file, Path: path, Reason: fmt.Sprintf(format, args...)})
}

func (d *decoder) steps(path string, raw []any) []domain.Step {
	if raw == nil {
		return nil
	}
	out := make([]domain.Step, 0, len(raw))
	for i, r := range raw {
		if s := d.step(path+"/"+strconv.Itoa(i), r); s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (d *decoder) step(path string, raw any) domain.Step {
	m, ok := raw.(map[string]any)
	if !ok {
		d.fail(path, "step must be a mapping, got %T", raw)
		return nil
	}

	var keys []string
	var kind domain.StepKind
	for _, disc := range dto.Discriminators {
		if _, ok := m[disc.Key]; ok {
			keys = append(keys, disc.Key)
			kind = disc.Kind
		}
	}
	switch len(keys) {
	case 0:
		d.fail(path, "missing step kind")
		return nil
	case 1:
	default:
		d.fail(path, "ambiguous step: %s", strings.Join(keys, ", "))
		return nil
	}

	var rec dto.StepRecord
	if err := decode(m, &rec); err != nil {
		d.fail(path, "%v", err)
		return nil
	}

	base := domain.Base{
		Name: rec.Name,
		Options: domain.Options{
			Retry:      rec.Retry,
			WithItems:  rec.WithItems,
			ErrorSteps: d.steps(path+"/error", rec.Error),
		},
	}

	switch kind {
	case domain.KindExpression:
		return &domain.Expression{Base: base, Expr: rec.Expr, Out: d.single(path, rec.Out)}
	case domain.KindTaskCall:
		return &domain.TaskCall{Base: base, Task: rec.Task, In: rec.In, Out: d.single(path, rec.Out)}
	case domain.KindFlowCall:
		return &domain.FlowCall{Base: base, Flow: rec.Call, In: rec.In, Out: d.list(path, rec.Out)}
	case domain.KindScriptCall:
		return &domain.ScriptCall{Base: base, Language: rec.Language, Body: rec.Script, In: rec.In, Out: d.single(path, rec.Out)}
	case domain.KindIf:
		return &domain.If{
			Base:      base,
			Condition: rec.If,
			Then:      d.steps(path+"/then", rec.Then),
			Else:      d.steps(path+"/else", rec.Else),
		}
	case domain.KindSwitch:
		s := &domain.Switch{Base: base, Key: rec.Switch, Default: d.steps(path+"/default", rec.Default)}
		for i, c := range rec.Cases {
			s.Cases = append(s.Cases, domain.Case{
				Value: c.Value,
				Steps: d.steps(fmt.Sprintf("%s/case/%d", path, i), c.Steps),
			})
		}
		return s
	case domain.KindParallel:
		p := &domain.Parallel{Base: base, Out: d.list(path, rec.Out)}
		for i, b := range rec.Parallel {
			p.Branches = append(p.Branches, d.steps(fmt.Sprintf("%s/branch/%d", path, i), b))
		}
		return p
	case domain.KindGroup:
		return &domain.Group{Base: base, Steps: d.steps(path+"/steps", rec.Steps)}
	case domain.KindReturn:
		return &domain.Return{Base: base}
	case domain.KindCheckpoint:
		return &domain.Checkpoint{Base: base, Label: rec.Checkpoint}
	case domain.KindFormCall:
		return &domain.FormCall{Base: base, Form: rec.Form, Fields: rec.Fields, Out: d.single(path, rec.Out)}
	}
	return nil
}

// single reads an out value naming one variable.
func (d *decoder) single(path string, out any) string {
	switch v := out.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		d.fail(path, "out must be a variable name, got %T", out)
		return ""
	}
}

// list reads an out value naming one or more variables.
func (d *decoder) list(path string, out any) []string {
	switch v := out.(type) {
	case nil:
		return nil
	case string:
		return []string{v}
	case []any:
		names := make([]string, 0, len(v))
		for _, n := range v {
			s, ok := n.(string)
			if !ok {
				d.fail(path, "out entries must be variable names, got %T", n)
				return nil
			}
			names = append(names, s)
		}
		return names
	default:
		d.fail(path, "out must be a name or a list of names, got %T", out)
		return nil
	}
}

func decode(input map[string]any, out *dto.StepRecord) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}
