package ports

import (
	"context"

	"github.com/aretw0/tendril/pkg/domain"
)

// FlowSource supplies the flow definitions a program is compiled from.
// This allows the front end (YAML files, Go builders, memory) to be decoupled.
type FlowSource interface {
	// LoadFlows returns every flow keyed by name.
	LoadFlows(ctx context.Context) (domain.Flows, error)
}
