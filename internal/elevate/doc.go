// Package elevate implements the privilege boundary for registry flag
// writes.
//
// The Broker is the only component allowed to write the power-management
// flag. It probes with direct writes first and falls back to a separate
// elevated helper process when the system denies access. The two processes
// exchange JSON request and response files, because the elevation mechanism
// does not let the helper inherit the parent's stdio.
//
// Guarantees held by the broker:
//
//   - One batch costs at most one elevation prompt.
//   - At most one elevation round trip is in flight at a time.
//   - Every submitted operation resolves to exactly one outcome within a
//     bounded time, whatever the helper does.
package elevate
