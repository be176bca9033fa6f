/*
Package domain contains the core data model of the tendril runtime.

It defines the declarative step model that flows are written in, the
serializable process state the engine executes against, and the failure
values that travel along the error path. This package is kept pure and free
of I/O so that every other layer (compiler, runtime, adapters) can share it.

# Key Entities

  - Step: one declarative unit of a flow (task call, branch, loop, form, ...).
  - ProcessState: the complete continuation of a process instance.
  - Lane: one cursor over a stack of Frames; Parallel steps create more lanes.
  - Frame: one lexical scope plus its queue of pending commands.
  - Failure: a typed error value that flow logic can catch and inspect.
  - Listeners: fire-and-forget hooks invoked around every command.
*/
package domain
