package storage

import (
	"sync"

	"github.com/spaolacci/murmur3"
)

const (
	nodeTagBits = 10
	nodeTagMask = 1<<nodeTagBits - 1
)

// Id kinds handed out by IDAllocator.
const (
	KindUser       = "user"
	KindChannel    = "channel"
	KindMessage    = "message"
	KindInvitation = "invitation"
	KindLog        = "log"
)

// NodeTag returns the low id bits reserved for serverID.
func NodeTag(serverID string) int64 {
	return int64(murmur3.Sum32([]byte(serverID)) & nodeTagMask)
}

// IDAllocator issues int64 ids of the form seq<<10 | nodeTag. Two nodes with
// different tags never allocate the same id, so records created concurrently
// on separate stores merge without collisions.
type IDAllocator struct {
	tag int64

	mu  sync.Mutex
	seq map[string]int64
}

// NewIDAllocator creates an allocator for serverID.
func NewIDAllocator(serverID string) *IDAllocator {
	return &IDAllocator{tag: NodeTag(serverID), seq: make(map[string]int64)}
}

// Tag returns the node tag.
func (a *IDAllocator) Tag() int64 { return a.tag }

// Observe advances the kind's counter past id when id carries this node's tag.
func (a *IDAllocator) Observe(kind string, id int64) {
	if id <= 0 || id&nodeTagMask != a.tag {
		return
	}
	seq := id >> nodeTagBits
	a.mu.Lock()
	if seq > a.seq[kind] {
		a.seq[kind] = seq
	}
	a.mu.Unlock()
}

// Next returns a fresh id for kind.
func (a *IDAllocator) Next(kind string) int64 {
	a.mu.Lock()
	a.seq[kind]++
	seq := a.seq[kind]
	a.mu.Unlock()
	return seq<<nodeTagBits | a.tag
}
