package clusterserver

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// link is one established, handshaken connection to a peer.
type link struct {
	peerID     string
	instanceID string
	peerAddr   string
	dialerID   string
	outbound   bool

	conn         net.Conn
	br           *bufio.Reader
	writeTimeout time.Duration
	limiter      *rate.Limiter
	logger       *slog.Logger

	sendq   chan []byte
	goodbye chan []byte
	done    chan struct{}
	once    sync.Once
}

func newLink(conn net.Conn, br *bufio.Reader, hello helloPayload, peerID, dialerID string, outbound bool, cfg Config, logger *slog.Logger) *link {
	var limiter *rate.Limiter
	if cfg.InboundRate > 0 {
		burst := int(cfg.InboundRate)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.InboundRate), burst)
	}
	return &link{
		peerID:       peerID,
		instanceID:   hello.InstanceID,
		peerAddr:     hello.PeerAddr,
		dialerID:     dialerID,
		outbound:     outbound,
		conn:         conn,
		br:           br,
		writeTimeout: cfg.WriteTimeout,
		limiter:      limiter,
		logger:       logger.With("peer_id", peerID, "remote_addr", conn.RemoteAddr().String()),
		sendq:        make(chan []byte, cfg.SendQueue),
		goodbye:      make(chan []byte, 1),
		done:         make(chan struct{}),
	}
}

// send queues frame without blocking. A peer that cannot keep up is dropped
// and resynchronised on reconnect.
func (l *link) send(frame []byte) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.sendq <- frame:
		return true
	case <-l.done:
		return false
	default:
		l.logger.Warn("peer send queue full, dropping link", "queue", cap(l.sendq))
		l.close()
		return false
	}
}

// sayGoodbye asks the writer to flush pending frames, write frame and close.
func (l *link) sayGoodbye(frame []byte) {
	select {
	case l.goodbye <- frame:
	default:
	}
}

func (l *link) close() {
	l.once.Do(func() {
		close(l.done)
		l.conn.Close()
	})
}

func (l *link) closed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

func (l *link) write(bw *bufio.Writer, frame []byte) error {
	if l.writeTimeout > 0 {
		l.conn.SetWriteDeadline(time.Now().Add(l.writeTimeout))
	}
	_, err := bw.Write(frame)
	return err
}

func (l *link) writeLoop() {
	bw := bufio.NewWriter(l.conn)
	defer l.close()
	for {
		select {
		case <-l.done:
			return
		case frame := <-l.sendq:
			if err := l.write(bw, frame); err != nil {
				l.logger.Debug("peer write failed", "error", err)
				return
			}
			if len(l.sendq) == 0 {
				if err := bw.Flush(); err != nil {
					l.logger.Debug("peer flush failed", "error", err)
					return
				}
			}
		case bye := <-l.goodbye:
			for pending := len(l.sendq); pending > 0; pending-- {
				if err := l.write(bw, <-l.sendq); err != nil {
					return
				}
			}
			if err := l.write(bw, bye); err == nil {
				bw.Flush()
			}
			return
		}
	}
}

// readLoop decodes frames until the connection fails or the peer says
// goodbye. handle is called for every other envelope.
func (l *link) readLoop(ctx context.Context, handle func(*Envelope)) error {
	for {
		env, err := ReadFrame(l.br)
		if err != nil {
			if errors.Is(err, io.EOF) || l.closed() {
				return nil
			}
			return err
		}
		if env.Type == TypeGoodbye {
			l.logger.Info("peer said goodbye")
			return nil
		}
		if l.limiter != nil {
			if err := l.limiter.Wait(ctx); err != nil {
				return nil
			}
		}
		handle(env)
	}
}
