// Package postgres implements storage.Store on PostgreSQL through pgxpool.
//
// Several nodes may share one database or each run their own; replicated
// writes use ON CONFLICT upserts that report whether a row actually changed,
// which is what the database sync coordinator needs for idempotent applies.
package postgres
