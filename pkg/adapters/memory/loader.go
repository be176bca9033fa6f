package memory

import (
	"context"
	"fmt"

	"github.com/aretw0/tendril/pkg/domain"
)

// FlowSource implements ports.FlowSource over flows built in Go.
type FlowSource struct {
	flows domain.Flows
}

// NewFlowSource creates a source serving flows.
func NewFlowSource(flows domain.Flows) *FlowSource {
	return &FlowSource{flows: flows}
}

// LoadFlows returns a shallow copy of the flow table.
func (l *FlowSource) LoadFlows(ctx context.Context) (domain.Flows, error) {
	if len(l.flows) == 0 {
		return nil, fmt.Errorf("no flows defined")
	}
	out := make(domain.Flows, len(l.flows))
	for name, steps := range l.flows {
		out[name] = steps
	}
	return out, nil
}
