// Package database provides the SQLite persistence layer for USB Power Core.
//
// The only persisted relation is the write-audit trail; device state is
// always derived fresh from the registry and never stored. The package
// handles connection lifecycle, pragmas (WAL, busy timeout, foreign keys),
// file permissions, and idempotent schema bootstrap.
package database
