package chatserver

import (
	"sync"
)

// HandlerPool hands out Handlers bound to sockets, up to a fixed capacity.
// Released handlers are reset and kept for reuse.
type HandlerPool struct {
	deps     *Deps
	capacity int

	mu    sync.Mutex
	idle  []*Handler
	inUse int
}

// NewHandlerPool creates a pool that never has more than capacity handlers
// in use.
func NewHandlerPool(deps *Deps, capacity int) *HandlerPool {
	if capacity < 1 {
		capacity = 1
	}
	return &HandlerPool{deps: deps, capacity: capacity}
}

// Acquire returns a handler bound to conn, or nil when the pool is exhausted.
func (p *HandlerPool) Acquire(conn *Conn) *Handler {
	p.mu.Lock()
	if p.inUse >= p.capacity {
		p.mu.Unlock()
		return nil
	}
	p.inUse++
	var h *Handler
	if n := len(p.idle); n > 0 {
		h = p.idle[n-1]
		p.idle = p.idle[:n-1]
	}
	p.mu.Unlock()

	if h == nil {
		h = newHandler(p.deps)
	}
	h.bind(conn)
	return h
}

// Release resets h and returns it to the pool.
func (p *HandlerPool) Release(h *Handler) {
	h.reset()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inUse--
	p.idle = append(p.idle, h)
}

// InUse returns the number of handlers currently bound to sockets.
func (p *HandlerPool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

// Capacity returns the maximum number of handlers in use.
func (p *HandlerPool) Capacity() int { return p.capacity }
