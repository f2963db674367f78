package clusterserver

import (
	"sync"

	"github.com/spaolacci/murmur3"
)

// DefaultDedupWindow is the number of envelope ids remembered.
const DefaultDedupWindow = 4096

// dedupWindow remembers the most recent envelope ids by 64-bit fingerprint.
// The oldest fingerprint is evicted once the window is full.
type dedupWindow struct {
	mu   sync.Mutex
	ring []uint64
	next int
	full bool
	seen map[uint64]struct{}
}

func newDedupWindow(size int) *dedupWindow {
	if size <= 0 {
		size = DefaultDedupWindow
	}
	return &dedupWindow{ring: make([]uint64, size), seen: make(map[uint64]struct{}, size)}
}

// Seen records id and reports whether it was already present.
func (w *dedupWindow) Seen(id string) bool {
	fp := murmur3.Sum64([]byte(id))

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.seen[fp]; ok {
		return true
	}
	if w.full {
		delete(w.seen, w.ring[w.next])
	}
	w.ring[w.next] = fp
	w.seen[fp] = struct{}{}
	w.next++
	if w.next == len(w.ring) {
		w.next = 0
		w.full = true
	}
	return false
}

// Len returns the number of remembered ids.
func (w *dedupWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}
