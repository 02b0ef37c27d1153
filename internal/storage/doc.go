// Package storage persists speed test records.
//
// It currently supports:
//   - CSV (the historical speed_log.csv schema, readable by spreadsheets)
//   - SQLite (modernc.org/sqlite, no cgo)
package storage
