// Package memory provides an in-memory KVEngine.
//
// Entries live in a sharded concurrent map and may carry an expiry. Scans
// snapshot the matching keys and visit them in byte order, so callers see the
// same ordering as with Badger.
//
// It backs the "memory" storage backend and most unit tests.
package memory
