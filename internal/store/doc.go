// Package store provides SQLite-backed durable storage for mercury.
//
// The store keeps:
//   - Documents: the shared executed flag per notebook path
//   - Executions: append-only record of scheduled and finished cells
//   - Widget updates: append-only record of control updates and the
//     downstream cells they re-ran
//
// # Critical Patterns
//
// Logical Time
//   - All ordering uses seq INTEGER (the event loop's logical clock),
//     NEVER timestamps
//   - Trace queries MUST include: ORDER BY seq ASC, id ASC
//
// Source Fingerprints
//   - Cell sources are NFC-normalized and hashed with SHA-256, so the same
//     text typed on different platforms fingerprints identically
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
