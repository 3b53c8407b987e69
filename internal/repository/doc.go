// Package repository defines the data access interfaces for the relay.
//
// The relay persists the shared record space, content-addressed asset blobs
// and the peers it has seen, so a restarted relay still serves the last value
// of every path and every asset a record points at. The implementation lives
// in the sqlite subpackage.
//
// # SQLite Implementation
//
// The sqlite implementation uses the pure-Go modernc driver with WAL mode.
// Record payloads are stored as deterministic CBOR. Asset blobs are
// compressed with zstd or lz4 when that pays off; already compressed images
// are stored raw.
//
// # Schema Migration
//
// The schema is created on startup with CREATE TABLE IF NOT EXISTS.
//
// # Testing
//
// Tests run against in-memory databases.
package repository
