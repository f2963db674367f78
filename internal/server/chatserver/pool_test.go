package chatserver

import (
	"net"
	"testing"

	"github.com/yndnr/chatmesh-go/internal/core/event"
	"github.com/yndnr/chatmesh-go/internal/server/registry"
)

func pipeConn(t *testing.T) *Conn {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return newConn(a, 0)
}

func TestHandlerPool(t *testing.T) {
	reg := registry.New("server-a", event.NewBus(nil), nil)
	deps := &Deps{Sessions: reg, cfg: DefaultConfig().withDefaults()}
	pool := NewHandlerPool(deps, 2)

	h1 := pool.Acquire(pipeConn(t))
	h2 := pool.Acquire(pipeConn(t))
	if h1 == nil || h2 == nil {
		t.Fatal("Acquire below capacity returned nil")
	}
	if h1.SessionID() == "" || h1.SessionID() == h2.SessionID() {
		t.Errorf("session ids %q, %q", h1.SessionID(), h2.SessionID())
	}
	if pool.Acquire(pipeConn(t)) != nil {
		t.Error("Acquire at capacity should return nil")
	}
	if pool.InUse() != 2 {
		t.Errorf("InUse() = %d, want 2", pool.InUse())
	}

	h1.clienteID = 42
	h1.usuario = "alice"
	oldSession := h1.SessionID()
	pool.Release(h1)
	if h1.clienteID != 0 || h1.usuario != "" || h1.conn != nil || h1.sessionID != "" {
		t.Errorf("released handler kept state: %+v", h1)
	}

	h3 := pool.Acquire(pipeConn(t))
	if h3 != h1 {
		t.Error("Acquire should reuse the released handler")
	}
	if h3.SessionID() == oldSession || h3.clienteID != 0 {
		t.Error("reused handler leaked the previous session")
	}
}
