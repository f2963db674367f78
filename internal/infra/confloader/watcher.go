package confloader

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports writes to one configuration file.
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	onChange func(path string)
	done     chan struct{}
	stopOnce sync.Once
	logger   *slog.Logger
}

// NewWatcher watches path. The parent directory is watched so that
// editors that replace the file by rename are still seen.
func NewWatcher(path string, onChange func(string), logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		fw.Close()
		return nil, err
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{
		watcher:  fw,
		path:     abs,
		onChange: onChange,
		done:     make(chan struct{}),
		logger:   logger.With("component", "confloader", "file", abs),
	}, nil
}

// Start runs the event loop in a goroutine.
func (w *Watcher) Start() {
	go w.run()
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				w.logger.Debug("configuration file changed", "op", ev.Op.String())
				w.onChange(w.path)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("configuration watcher error", "error", err)
		case <-w.done:
			return
		}
	}
}

// Stop ends the event loop. It is safe to call more than once.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
	})
	return err
}

// WatchLogLevel re-reads log.level from path and the environment on every
// change and calls apply when it differs from the last applied level.
// Other keys are ignored.
func WatchLogLevel(path, current string, apply func(slog.Level), logger *slog.Logger) (*Watcher, error) {
	var mu sync.Mutex
	last := current
	return NewWatcher(path, func(p string) {
		l := NewLoader(WithConfigFile(p))
		var peek struct {
			Log struct {
				Level string `koanf:"level"`
			} `koanf:"log"`
		}
		if err := l.Load(&peek); err != nil {
			if logger != nil {
				logger.Warn("reload log level failed", "error", err)
			}
			return
		}
		var level slog.Level
		if err := level.UnmarshalText([]byte(peek.Log.Level)); err != nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if peek.Log.Level == last {
			return
		}
		last = peek.Log.Level
		apply(level)
	}, logger)
}
