// Package store is the SQLite data log of program and read operations.
//
// Two tables make up the log:
//   - runs: one row per operation, numbered per (day, name)
//   - records: one row per (cell, operation) with the measured values and
//     the recipe that brought the cell to target
//
// Records are ordered by seq, the autoincrement key, never by timestamp.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
