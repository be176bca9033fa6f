/*
Package session orchestrates access to persisted processes.

Every suspend/resume transition is a load, run, save cycle. The Manager runs
that cycle under a per-process lock: a ref-counted local mutex for goroutines
in this replica, plus an optional ports.DistributedLocker (e.g. Redis) so two
replicas never resume the same process at once.
*/
package session
