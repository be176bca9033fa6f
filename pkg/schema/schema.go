package schema

import (
	"fmt"
	"sort"

	"github.com/aretw0/tendril/pkg/domain"
)

// Field is the expected shape of one submitted value.
type Field struct {
	Type    Type
	Default any
}

// Required reports whether the field must be submitted.
func (f Field) Required() bool { return f.Default == nil }

// Schema maps field names to their expectations.
type Schema map[string]Field

// FromFields builds the schema of a form.
func FromFields(fields []domain.FormField) (Schema, error) {
	s := make(Schema, len(fields))
	for _, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("form field without a name")
		}
		t, err := ParseType(f.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		if f.Default != nil {
			if err := t.Validate(f.Default); err != nil {
				return nil, fmt.Errorf("field %s: default: %w", f.Name, err)
			}
		}
		s[f.Name] = Field{Type: t, Default: f.Default}
	}
	return s, nil
}

// Apply checks a submission and returns it with defaults filled in. A nil
// submission is an empty one. Every failing field is reported.
func (s Schema) Apply(submission any) (map[string]any, error) {
	var data map[string]any
	switch v := submission.(type) {
	case nil:
	case map[string]any:
		data = v
	default:
		return nil, &ValidationError{Key: "", Reason: "submission must be an object", Value: submission}
	}

	out := make(map[string]any, len(data)+len(s))
	for k, v := range data {
		out[k] = v
	}

	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		field := s[name]
		value, ok := out[name]
		if !ok || value == nil {
			if field.Required() {
				errs = append(errs, &ValidationError{Key: name, Reason: "required"})
				continue
			}
			out[name] = field.Default
			continue
		}
		if err := field.Type.Validate(value); err != nil {
			errs = append(errs, &ValidationError{Key: name, Reason: err.Error(), Value: value})
		}
	}
	if len(errs) > 0 {
		return nil, &AggregateError{Errors: errs}
	}
	return out, nil
}
