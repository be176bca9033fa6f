package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/tendril/pkg/domain"
)

// Audit returns hooks that write every command and transition to logger.
// Commands are logged at debug level, failures at warn, transitions at info.
func Audit(logger *slog.Logger) domain.Listeners {
	return domain.Listeners{
		AfterCommand: func(ctx context.Context, e *domain.CommandEvent) {
			logger.DebugContext(ctx, "command",
				"process_id", e.ProcessID,
				"lane_id", e.LaneID,
				"command_id", e.CommandID,
				"command", e.Command,
				"outcome", e.Outcome,
				"duration", e.Duration,
			)
		},
		OnError: func(ctx context.Context, e *domain.CommandEvent) {
			attrs := []any{"process_id", e.ProcessID, "lane_id", e.LaneID}
			if e.Failure != nil {
				attrs = append(attrs, "kind", e.Failure.Kind, "step", e.Failure.Step, "err", e.Failure.Message)
			}
			logger.WarnContext(ctx, "failure raised", attrs...)
		},
		OnProcess: func(ctx context.Context, e *domain.ProcessEvent) {
			attrs := []any{"process_id", e.ProcessID, "flow", e.Flow, "status", e.Status}
			if e.Error != nil {
				attrs = append(attrs, "err", e.Error.Error())
			}
			logger.InfoContext(ctx, "process transition", attrs...)
		},
	}
}
