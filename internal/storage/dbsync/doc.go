// Package dbsync reconciles persisted state across cluster nodes.
//
// After a local write, replication listeners capture the affected rows into
// a Snapshot and broadcast it. Receiving nodes call Coordinator.Apply, which
// is idempotent twice over: each snapshot carries an operation id recorded
// in an applied-op ledger, and every row is applied with an upsert that only
// reports a change when stored state actually differs.
package dbsync
