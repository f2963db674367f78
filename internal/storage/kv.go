package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrKeyNotFound is returned by KVEngine.Get for missing or expired keys.
	ErrKeyNotFound = errors.New("storage: key not found")
	// ErrClosed is returned by every KVEngine call after Close.
	ErrClosed = errors.New("storage: engine closed")
)

// KVEngine is the byte-level store KVStore lays its records over. It must
// be safe for concurrent use.
type KVEngine interface {
	Get(ctx context.Context, key []byte) ([]byte, error)
	Set(ctx context.Context, key, value []byte) error
	SetWithTTL(ctx context.Context, key, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key []byte) error
	// Scan calls fn for each key under prefix in ascending order and stops
	// early when fn returns false.
	Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) bool) error
	Close() error
}

// KVConfig locates and tunes the badger backend.
type KVConfig struct {
	Dir    string
	Badger BadgerConfig
}

type BadgerConfig struct {
	GCInterval  time.Duration
	GCThreshold float64 // discard ratio for RunValueLogGC
	CacheSize   int64
	// ValueLogFileSize caps a single value-log file.
	ValueLogFileSize int64
	// SyncWrites fsyncs each commit. Chat history has no other copy on
	// this node, so it defaults to on.
	SyncWrites bool
	InMemory   bool
}

func DefaultKVConfig(dir string) KVConfig {
	return KVConfig{Dir: dir, Badger: DefaultBadgerConfig()}
}

func DefaultBadgerConfig() BadgerConfig {
	return BadgerConfig{
		GCInterval:       10 * time.Minute,
		GCThreshold:      0.5,
		CacheSize:        64 << 20,
		ValueLogFileSize: 256 << 20,
		SyncWrites:       true,
	}
}
