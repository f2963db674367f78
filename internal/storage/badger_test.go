package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func newTestBadger(t *testing.T) *BadgerEngine {
	t.Helper()
	cfg := DefaultKVConfig(t.TempDir())
	cfg.Badger.GCInterval = time.Hour
	cfg.Badger.SyncWrites = false

	engine, err := NewBadgerEngine(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { engine.Close() })
	return engine
}

func TestBadgerEngine_BasicOperations(t *testing.T) {
	engine := newTestBadger(t)
	ctx := context.Background()

	t.Run("Set and Get", func(t *testing.T) {
		if err := engine.Set(ctx, []byte("k"), []byte("v")); err != nil {
			t.Fatal(err)
		}
		got, err := engine.Get(ctx, []byte("k"))
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != "v" {
			t.Errorf("expected v, got %s", got)
		}
	})

	t.Run("Get non-existent key", func(t *testing.T) {
		_, err := engine.Get(ctx, []byte("missing"))
		if !errors.Is(err, ErrKeyNotFound) {
			t.Errorf("expected ErrKeyNotFound, got %v", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := engine.Set(ctx, []byte("d"), []byte("x")); err != nil {
			t.Fatal(err)
		}
		if err := engine.Delete(ctx, []byte("d")); err != nil {
			t.Fatal(err)
		}
		if _, err := engine.Get(ctx, []byte("d")); !errors.Is(err, ErrKeyNotFound) {
			t.Errorf("expected ErrKeyNotFound after delete, got %v", err)
		}
	})

	t.Run("SetWithTTL stores value", func(t *testing.T) {
		if err := engine.SetWithTTL(ctx, []byte("ttl"), []byte("1"), time.Hour); err != nil {
			t.Fatal(err)
		}
		if _, err := engine.Get(ctx, []byte("ttl")); err != nil {
			t.Errorf("expected value before expiry, got %v", err)
		}
	})
}

func TestBadgerEngine_Scan(t *testing.T) {
	engine := newTestBadger(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		engine.Set(ctx, []byte(fmt.Sprintf("a/%d", i)), []byte("x"))
	}
	engine.Set(ctx, []byte("b/0"), []byte("y"))

	var keys []string
	err := engine.Scan(ctx, []byte("a/"), func(k, _ []byte) bool {
		keys = append(keys, string(k))
		return true
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 5 {
		t.Fatalf("expected 5 keys, got %d: %v", len(keys), keys)
	}
	if keys[0] != "a/0" || keys[4] != "a/4" {
		t.Errorf("keys out of order: %v", keys)
	}

	t.Run("early stop", func(t *testing.T) {
		n := 0
		engine.Scan(ctx, []byte("a/"), func(_, _ []byte) bool {
			n++
			return n < 2
		})
		if n != 2 {
			t.Errorf("expected 2 visits, got %d", n)
		}
	})
}

func TestBadgerEngine_Closed(t *testing.T) {
	engine := newTestBadger(t)
	if err := engine.Close(); err != nil {
		t.Fatal(err)
	}
	if err := engine.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
	if _, err := engine.Get(context.Background(), []byte("k")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestBadgerEngine_InMemory(t *testing.T) {
	cfg := DefaultKVConfig("")
	cfg.Badger.InMemory = true
	engine, err := NewBadgerEngine(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer engine.Close()

	engine.RegisterMetrics(prometheus.NewRegistry())
	if err := engine.Set(context.Background(), []byte("k"), []byte("v")); err != nil {
		t.Fatal(err)
	}
}

func TestBadgerEngine_GCAndMetrics(t *testing.T) {
	engine := newTestBadger(t)
	reg := prometheus.NewRegistry()
	engine.RegisterMetrics(reg)

	if _, err := engine.GC(); err != nil {
		t.Fatalf("GC() error = %v", err)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	var lastGC float64
	for _, f := range families {
		if f.GetName() == "chatmesh_badger_last_gc_timestamp_seconds" {
			lastGC = f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	if lastGC == 0 {
		t.Error("last gc timestamp not exported after GC")
	}
}
