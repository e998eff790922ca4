// Package storage records a write-only audit trail of deliveries and handled
// inbound messages. Nothing is read back at startup; conversations always
// start empty.
//
// Drivers:
//   - "file": append-only JSON Lines
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
package storage
