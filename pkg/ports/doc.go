/*
Package ports defines the driven ports (interfaces) of the tendril runtime.

These interfaces decouple the engine from its collaborators, so the same
compiled program can run against different task providers, expression
languages, storage backends and event sources.

# Key Interfaces

  - TaskRegistry / Invocable: resolves and invokes named tasks.
  - ScriptRunner: runs inline scripts for one language.
  - Evaluator: evaluates expressions and conditions against a scope.
  - StateStore: persists and loads ProcessState across suspensions.
  - CheckpointStore: durable storage for checkpoint snapshots.
  - DistributedLocker: serializes access to one process across replicas.
  - FlowSource: supplies flow definitions to the compiler.
*/
package ports
