// Package storage persists spending-cap state across restarts.
//
// Two backends are provided:
//
//   - MemoryStore: in-process map, the default. State is lost on exit.
//   - SQLiteStore: durable single-instance storage (modernc.org/sqlite, no
//     cgo) with WAL journaling and periodic checkpoints.
//
// Amounts are stored as decimal strings so arbitrary-precision values
// round-trip exactly. Load returns (nil, nil) when no state exists.
package storage
