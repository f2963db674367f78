package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/prometheus/client_golang/prometheus"
)

// BadgerEngine is the on-disk KVEngine backing the badger storage backend.
type BadgerEngine struct {
	db     *badger.DB
	cfg    BadgerConfig
	logger *slog.Logger

	closed   atomic.Bool
	lastGC   atomic.Int64 // unix seconds, 0 before the first run
	stop     chan struct{}
	loopDone sync.WaitGroup
}

// NewBadgerEngine opens the database under cfg.Dir, or an in-memory one
// when cfg.Badger.InMemory is set, and starts periodic value-log GC.
func NewBadgerEngine(cfg KVConfig, logger *slog.Logger) (*BadgerEngine, error) {
	bc := cfg.Badger
	if !bc.InMemory && cfg.Dir == "" {
		return nil, errors.New("badger: dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "badger")

	dir := cfg.Dir
	if bc.InMemory {
		dir = ""
	}
	db, err := badger.Open(badger.DefaultOptions(dir).
		WithInMemory(bc.InMemory).
		WithSyncWrites(bc.SyncWrites).
		WithBlockCacheSize(bc.CacheSize).
		WithValueLogFileSize(bc.ValueLogFileSize).
		WithLogger(badgerLog{logger}))
	if err != nil {
		return nil, fmt.Errorf("badger: open %q: %w", cfg.Dir, err)
	}

	e := &BadgerEngine{db: db, cfg: bc, logger: logger, stop: make(chan struct{})}
	if !bc.InMemory {
		e.loopDone.Add(1)
		go e.maintain()
	}
	logger.Info("badger opened", "dir", cfg.Dir, "in_memory", bc.InMemory)
	return e, nil
}

func (e *BadgerEngine) view(fn func(*badger.Txn) error) error {
	if e.closed.Load() {
		return ErrClosed
	}
	return e.db.View(fn)
}

func (e *BadgerEngine) update(fn func(*badger.Txn) error) error {
	if e.closed.Load() {
		return ErrClosed
	}
	return e.db.Update(fn)
}

func (e *BadgerEngine) Get(_ context.Context, key []byte) ([]byte, error) {
	var out []byte
	err := e.view(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrKeyNotFound
		}
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	return out, err
}

func (e *BadgerEngine) Set(_ context.Context, key, value []byte) error {
	return e.update(func(txn *badger.Txn) error { return txn.Set(key, value) })
}

func (e *BadgerEngine) SetWithTTL(_ context.Context, key, value []byte, ttl time.Duration) error {
	return e.update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(key, value).WithTTL(ttl))
	})
}

func (e *BadgerEngine) Delete(_ context.Context, key []byte) error {
	return e.update(func(txn *badger.Txn) error { return txn.Delete(key) })
}

// Scan walks keys under prefix in byte order. Keys and values passed to fn
// are copies and stay valid after it returns.
func (e *BadgerEngine) Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) bool) error {
	return e.view(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 64, Prefix: prefix})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			var cont bool
			err := item.Value(func(v []byte) error {
				cont = fn(item.KeyCopy(nil), append([]byte(nil), v...))
				return nil
			})
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
		}
		return nil
	})
}

// GC rewrites value-log files until Badger finds nothing worth
// reclaiming and returns how many files were rewritten.
func (e *BadgerEngine) GC() (int, error) {
	if e.closed.Load() {
		return 0, ErrClosed
	}
	n := 0
	for {
		err := e.db.RunValueLogGC(e.cfg.GCThreshold)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
			break
		}
		if err != nil {
			return n, fmt.Errorf("badger: value log gc: %w", err)
		}
		n++
	}
	e.lastGC.Store(time.Now().Unix())
	return n, nil
}

func (e *BadgerEngine) maintain() {
	defer e.loopDone.Done()
	every := e.cfg.GCInterval
	if every <= 0 {
		every = DefaultBadgerConfig().GCInterval
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-t.C:
			n, err := e.GC()
			switch {
			case err != nil:
				e.logger.Error("value log gc failed", "error", err)
			case n > 0:
				e.logger.Info("value log gc reclaimed files", "rewrites", n)
			}
		}
	}
}

// Close waits for the GC loop and closes the database. Later calls are no-ops.
func (e *BadgerEngine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	close(e.stop)
	e.loopDone.Wait()
	if err := e.db.Close(); err != nil {
		return fmt.Errorf("badger: close: %w", err)
	}
	e.logger.Info("badger closed")
	return nil
}

// RegisterMetrics exports on-disk sizes and the last GC time. The gauges
// are read on scrape. A nil registry is ignored.
func (e *BadgerEngine) RegisterMetrics(reg *prometheus.Registry) *BadgerEngine {
	if reg == nil {
		return e
	}
	gauge := func(name, help string, read func() float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "chatmesh", Subsystem: "badger", Name: name, Help: help,
		}, read)
	}
	reg.MustRegister(
		gauge("lsm_size_bytes", "Size of the Badger LSM tree.", func() float64 {
			lsm, _ := e.db.Size()
			return float64(lsm)
		}),
		gauge("value_log_size_bytes", "Size of the Badger value log.", func() float64 {
			_, vlog := e.db.Size()
			return float64(vlog)
		}),
		gauge("last_gc_timestamp_seconds", "Unix time of the last value log GC.", func() float64 {
			return float64(e.lastGC.Load())
		}),
	)
	return e
}

// badgerLog routes Badger's printf logging into slog. Badger's info output
// is chatty, so it is demoted to debug.
type badgerLog struct{ l *slog.Logger }

func (b badgerLog) Errorf(f string, args ...interface{})   { b.l.Error(fmt.Sprintf(f, args...)) }
func (b badgerLog) Warningf(f string, args ...interface{}) { b.l.Warn(fmt.Sprintf(f, args...)) }
func (b badgerLog) Infof(f string, args ...interface{})    { b.l.Debug(fmt.Sprintf(f, args...)) }
func (b badgerLog) Debugf(f string, args ...interface{})   { b.l.Debug(fmt.Sprintf(f, args...)) }
