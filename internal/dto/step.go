package dto

import (
	"github.com/aretw0/tendril/pkg/domain"
)

// Document is the top level of a YAML flow file.
type Document struct {
	Version string           `yaml:"version,omitempty"`
	Flows   map[string][]any `yaml:"flows"`
}

// StepRecord is the loosely typed form of one step as written in YAML.
// It uses "mapstructure" tags so the loader can decode the generic maps
// produced by yaml.v3; which discriminating key is present decides the kind.
type StepRecord struct {
	Name string `mapstructure:"name"`

	Expr     string `mapstructure:"expr"`
	Task     string `mapstructure:"task"`
	Call     string `mapstructure:"call"`
	Script   string `mapstructure:"script"`
	Language string `mapstructure:"language"`

	If   string `mapstructure:"if"`
	Then []any  `mapstructure:"then"`
	Else []any  `mapstructure:"else"`

	Switch  string       `mapstructure:"switch"`
	Cases   []CaseRecord `mapstructure:"cases"`
	Default []any        `mapstructure:"default"`

	Parallel [][]any `mapstructure:"parallel"`
	Steps    []any   `mapstructure:"steps"`

	Return     any    `mapstructure:"return"`
	Checkpoint string `mapstructure:"checkpoint"`

	Form   string             `mapstructure:"form"`
	Fields []domain.FormField `mapstructure:"fields"`

	In  map[string]any `mapstructure:"in"`
	Out any            `mapstructure:"out"`

	// Options
	Retry     *domain.Retry     `mapstructure:"retry"`
	WithItems *domain.WithItems `mapstructure:"withItems"`
	Error     []any             `mapstructure:"error"`
}

// CaseRecord is one labelled switch branch.
type CaseRecord struct {
	Value string `mapstructure:"value"`
	Steps []any  `mapstructure:"steps"`
}

// Discriminators are the keys that select a step kind, in precedence order.
var Discriminators = []struct {
	Key  string
	Kind domain.StepKind
}{
	{"expr", domain.KindExpression},
	{"task", domain.KindTaskCall},
	{"call", domain.KindFlowCall},
	{"script", domain.KindScriptCall},
	{"if", domain.KindIf},
	{"switch", domain.KindSwitch},
	{"parallel", domain.KindParallel},
	{"steps", domain.KindGroup},
	{"return", domain.KindReturn},
	{"checkpoint", domain.KindCheckpoint},
	{"form", domain.KindFormCall},
}
