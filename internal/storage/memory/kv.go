package memory

import (
	"bytes"
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/yndnr/chatmesh-go/internal/storage"
	"github.com/yndnr/chatmesh-go/pkg/cmap"
)

type entry struct {
	value     []byte
	expiresAt int64 // unix nanoseconds, 0 = never
}

func (e entry) expired(now int64) bool {
	return e.expiresAt != 0 && now >= e.expiresAt
}

// Engine is an in-memory storage.KVEngine.
type Engine struct {
	data   *cmap.Map[string, entry]
	closed atomic.Bool
	now    func() time.Time
}

var _ storage.KVEngine = (*Engine)(nil)

// New creates an empty engine.
func New() *Engine {
	return &Engine{data: cmap.NewString[entry](), now: time.Now}
}

// NewStore returns a KVStore over a fresh in-memory engine.
func NewStore(ctx context.Context, serverID string, logger *slog.Logger) (*storage.KVStore, error) {
	return storage.NewKVStore(ctx, New(), serverID, logger)
}

// Get implements storage.KVEngine.
func (e *Engine) Get(_ context.Context, key []byte) ([]byte, error) {
	if e.closed.Load() {
		return nil, storage.ErrClosed
	}
	ent, ok := e.data.Get(string(key))
	if !ok || ent.expired(e.now().UnixNano()) {
		return nil, storage.ErrKeyNotFound
	}
	return bytes.Clone(ent.value), nil
}

// Set implements storage.KVEngine.
func (e *Engine) Set(_ context.Context, key, value []byte) error {
	if e.closed.Load() {
		return storage.ErrClosed
	}
	e.data.Set(string(key), entry{value: bytes.Clone(value)})
	return nil
}

// SetWithTTL implements storage.KVEngine.
func (e *Engine) SetWithTTL(_ context.Context, key, value []byte, ttl time.Duration) error {
	if e.closed.Load() {
		return storage.ErrClosed
	}
	e.data.Set(string(key), entry{value: bytes.Clone(value), expiresAt: e.now().Add(ttl).UnixNano()})
	return nil
}

// Delete implements storage.KVEngine.
func (e *Engine) Delete(_ context.Context, key []byte) error {
	if e.closed.Load() {
		return storage.ErrClosed
	}
	e.data.Delete(string(key))
	return nil
}

// Scan implements storage.KVEngine. Expired entries are skipped and dropped.
func (e *Engine) Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) bool) error {
	if e.closed.Load() {
		return storage.ErrClosed
	}
	p := string(prefix)
	now := e.now().UnixNano()

	type kv struct {
		key   string
		value []byte
	}
	var matches []kv
	var expired []string
	e.data.Range(func(k string, ent entry) bool {
		if !strings.HasPrefix(k, p) {
			return true
		}
		if ent.expired(now) {
			expired = append(expired, k)
			return true
		}
		matches = append(matches, kv{k, ent.value})
		return true
	})
	for _, k := range expired {
		e.data.Delete(k)
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].key < matches[j].key })
	for _, m := range matches {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !fn([]byte(m.key), bytes.Clone(m.value)) {
			break
		}
	}
	return nil
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (e *Engine) Len() int { return e.data.Count() }

// Close implements storage.KVEngine.
func (e *Engine) Close() error {
	e.closed.Store(true)
	return nil
}
