package chatserver

import (
	"bufio"
	"encoding/json"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yndnr/chatmesh-go/internal/server/registry"
)

// Conn is the write side of a client socket. It implements registry.Sink so
// that deliveries from other goroutines interleave whole lines only.
type Conn struct {
	netConn      net.Conn
	writeTimeout time.Duration

	mu sync.Mutex
	bw *bufio.Writer

	closed atomic.Bool
}

func newConn(c net.Conn, writeTimeout time.Duration) *Conn {
	return &Conn{netConn: c, writeTimeout: writeTimeout, bw: bufio.NewWriter(c)}
}

// Send implements registry.Sink.
func (c *Conn) Send(f registry.Frame) error {
	line, err := json.Marshal(f)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return net.ErrClosed
	}
	if c.writeTimeout > 0 {
		_ = c.netConn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if _, err := c.bw.Write(line); err != nil {
		return err
	}
	return c.bw.Flush()
}

// Close implements registry.Sink. It is safe to call more than once.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.netConn.Close()
}

// RemoteIP returns the peer address without the port.
func (c *Conn) RemoteIP() string {
	addr := c.netConn.RemoteAddr()
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
