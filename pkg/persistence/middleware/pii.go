package middleware

import (
	"context"
	"regexp"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
)

// Mask replaces the value of every masked key.
const Mask = "***"

type piiMiddleware struct {
	next     ports.StateStore
	patterns []*regexp.Regexp
}

// NewPIIMiddleware creates a middleware that masks the values of variables
// whose keys match any pattern once a process is terminal. Live processes
// pass through untouched: their scopes are still needed to resume.
func NewPIIMiddleware(patternStrings []string) Middleware {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		patterns[i] = regexp.MustCompile(p)
	}
	return func(next ports.StateStore) ports.StateStore {
		return &piiMiddleware{next: next, patterns: patterns}
	}
}

func (m *piiMiddleware) Save(ctx context.Context, processID string, state *domain.ProcessState) error {
	if !state.Status.Terminal() {
		return m.next.Save(ctx, processID, state)
	}

	cloned := *state
	cloned.Variables = maskMap(state.Variables, m.patterns)
	cloned.Lanes = make([]*domain.Lane, len(state.Lanes))
	for i, l := range state.Lanes {
		lane := *l
		lane.Final = maskMap(l.Final, m.patterns)
		cloned.Lanes[i] = &lane
	}
	return m.next.Save(ctx, processID, &cloned)
}

func (m *piiMiddleware) Load(ctx context.Context, processID string) (*domain.ProcessState, error) {
	return m.next.Load(ctx, processID)
}

func (m *piiMiddleware) Delete(ctx context.Context, processID string) error {
	return m.next.Delete(ctx, processID)
}

func (m *piiMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

// maskMap returns a masked copy of in; in is never modified.
func maskMap(in map[string]any, patterns []*regexp.Regexp) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if matches(k, patterns) {
			out[k] = Mask
			continue
		}
		out[k] = maskValue(v, patterns)
	}
	return out
}

func maskValue(v any, patterns []*regexp.Regexp) any {
	switch t := v.(type) {
	case map[string]any:
		return maskMap(t, patterns)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = maskValue(e, patterns)
		}
		return out
	default:
		return v
	}
}

func matches(key string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(key) {
			return true
		}
	}
	return false
}
