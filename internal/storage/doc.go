// Package storage is the persistence layer of the chat node.
//
// It defines the repository interfaces consumed by domain services and the
// database sync coordinator, and provides:
//
//   - KVEngine, a minimal embedded key-value contract, with a Badger
//     implementation (default backend) and an in-memory implementation in
//     the memory subpackage.
//   - KVStore, the repositories implemented on top of any KVEngine.
//   - IDAllocator, which hands out int64 ids that are unique across nodes
//     by tagging each id with a hash of the owning server id.
//
// A relational backend built on pgx lives in the postgres subpackage.
package storage
