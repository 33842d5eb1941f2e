// Package audit persists resolved write outcomes.
//
// Every toggle that reaches the write path leaves one row per operation:
// which value was written where, whether it stuck, whether the elevated
// path was used and why it failed if it did. Device state itself is never
// persisted, the registry is re-read as the source of truth; the audit
// trail exists so past writes can be inspected after the fact.
package audit
