// Package reconcile keeps the in-memory device set in step with the
// system store and serializes every flag write through it.
//
// One goroutine owns all mutation. It re-enumerates on a fixed cadence,
// serves queued write requests strictly in arrival order and re-reads the
// store immediately after each write so that outcomes reflect what the
// store actually holds, not what the write call claimed. Snapshot reads
// are concurrent; subscribers receive an Update whenever the observable
// set changes.
package reconcile
