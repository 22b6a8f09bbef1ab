// Package storage keeps an operator-facing audit trail of task lifecycle
// events. It is history only; task state itself lives in memory.
//
// Drivers:
//   - "file": JSON Lines, no external dependencies
//   - "sqlite": modernc.org/sqlite (pure Go)
package storage
