package observability_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var t0 = time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)

func commandEvent(outcome domain.Outcome, failure *domain.Failure) *domain.CommandEvent {
	return &domain.CommandEvent{
		EventBase: domain.EventBase{Timestamp: t0, Type: domain.EventAfterCommand, ProcessID: "p-1"},
		LaneID:    "lane-0",
		CommandID: "main/0",
		Command:   "task",
		Step:      "charge",
		Outcome:   outcome,
		Failure:   failure,
		Duration:  250 * time.Millisecond,
	}
}

func processEvent(status domain.ProcessStatus) *domain.ProcessEvent {
	return &domain.ProcessEvent{
		EventBase: domain.EventBase{Timestamp: t0, Type: domain.EventProcess, ProcessID: "p-1"},
		Flow:      "main",
		Status:    status,
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := observability.NewMetrics(reg)
	require.NoError(t, err)
	l := m.Listeners()
	ctx := context.Background()

	l.AfterCommand(ctx, commandEvent(domain.OutcomeContinue, nil))
	l.AfterCommand(ctx, commandEvent(domain.OutcomeContinue, nil))
	l.AfterCommand(ctx, commandEvent(domain.OutcomeSuspend, nil))
	l.OnError(ctx, commandEvent(domain.OutcomeFail, domain.Failuref(domain.TaskFailure, "charge", "declined")))
	l.OnProcess(ctx, processEvent(domain.StatusFinished))

	expected := `
# HELP tendril_commands_total Total number of dispatched commands by kind and outcome
# TYPE tendril_commands_total counter
tendril_commands_total{command="task",outcome="continue"} 2
tendril_commands_total{command="task",outcome="suspend"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "tendril_commands_total"))

	count, err := testutil.GatherAndCount(reg, "tendril_failures_total", "tendril_process_transitions_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	_, err = observability.NewMetrics(reg)
	assert.Error(t, err, "collectors cannot be registered twice")
}

func TestTracing(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	l := observability.Tracing(tp.Tracer(observability.TracerName))
	ctx := context.Background()

	l.AfterCommand(ctx, commandEvent(domain.OutcomeContinue, nil))
	l.AfterCommand(ctx, commandEvent(domain.OutcomeFail, domain.Failuref(domain.TaskFailure, "charge", "declined")))
	l.OnProcess(ctx, processEvent(domain.StatusFailed))

	spans := sr.Ended()
	require.Len(t, spans, 3)

	ok := spans[0]
	assert.Equal(t, "tendril.command.task", ok.Name())
	assert.Equal(t, t0.Add(-250*time.Millisecond), ok.StartTime())
	assert.Equal(t, t0, ok.EndTime())
	assert.Equal(t, codes.Ok, ok.Status().Code)

	failed := spans[1]
	assert.Equal(t, codes.Error, failed.Status().Code)
	assert.Equal(t, "declined", failed.Status().Description)
	require.NotEmpty(t, failed.Events(), "error is recorded as a span event")

	assert.Equal(t, "tendril.process", spans[2].Name())
}

func TestAudit(t *testing.T) {
	var buf bytes.Buffer
	l := observability.Audit(logging.NewJSON(&buf, slog.LevelDebug))
	ctx := context.Background()

	l.AfterCommand(ctx, commandEvent(domain.OutcomeContinue, nil))
	l.OnError(ctx, commandEvent(domain.OutcomeFail, domain.Failuref(domain.TaskFailure, "charge", "declined")))
	l.OnProcess(ctx, processEvent(domain.StatusFinished))

	out := buf.String()
	assert.Contains(t, out, `"msg":"command"`)
	assert.Contains(t, out, `"command_id":"main/0"`)
	assert.Contains(t, out, `"msg":"failure raised"`)
	assert.Contains(t, out, `"kind":"task"`)
	assert.Contains(t, out, `"status":"finished"`)
}

func TestMergedListeners(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := observability.NewMetrics(reg)
	require.NoError(t, err)
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	l := domain.MergeListeners(m.Listeners(), observability.Tracing(tp.Tracer(observability.TracerName)))
	l.AfterCommand(context.Background(), commandEvent(domain.OutcomeContinue, nil))

	count, err := testutil.GatherAndCount(reg, "tendril_commands_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Len(t, sr.Ended(), 1)
}
