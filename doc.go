/*
Package tendril compiles workflow definitions into a resumable stack machine
and runs them as durable processes.

A flow is a list of steps (expressions, task calls, sub-flow calls, scripts,
conditionals, parallel branches, groups, checkpoints and forms). The compiler
turns every step into a command with a stable path ID; a process is a set of
lanes, each a stack of frames holding variables and the IDs of the commands
still to run. Because that continuation is plain data, a process can stop at
any form or timer, be saved by a StateStore, and resume on another host.

# Usage

	flows, err := loader.LoadFile("order.yaml")
	if err != nil {
		log.Fatal(err)
	}

	eng, err := tendril.New(flows,
		tendril.WithStore(file.New(".tendril/processes")),
		tendril.WithTask("charge", chargeCard),
	)
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	state, err := eng.Start(ctx, "order-42", "main", map[string]any{"total": 10})
	if err != nil {
		log.Fatal(err)
	}

	// The flow stopped at a form; deliver the submission later.
	if s := state.Suspension(); s != nil {
		state, err = eng.Resume(ctx, state.ID, s.Event, map[string]any{"ok": true})
	}

# Architecture

  - pkg/domain: steps, process state, failures and listener hooks.
  - pkg/ports: interfaces for tasks, expressions, storage and locking.
  - pkg/loader: YAML front end.
  - pkg/adapters: memory, file, redis, sqlite and blob storage; HTTP dispatcher.
  - pkg/session: per-process locking around load, run, save.
  - pkg/observability: Prometheus, OpenTelemetry and audit-log listeners.
*/
package tendril
