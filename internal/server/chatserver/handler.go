package chatserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/yndnr/chatmesh-go/internal/core/domain"
	"github.com/yndnr/chatmesh-go/internal/core/service"
	"github.com/yndnr/chatmesh-go/internal/server/registry"
	"github.com/yndnr/chatmesh-go/internal/telemetry/logger"
)

// Client-visible error texts.
const (
	msgInvalidJSON     = "Formato JSON inválido"
	msgUnsupported     = "Comando no soportado: "
	msgInternal        = "Error interno del servidor"
	msgTooManyRequests = "Demasiadas solicitudes"
	msgServerFull      = "Servidor lleno. Máximo de conexiones alcanzado."
	msgLineTooLong     = "Mensaje demasiado grande"
)

// Sessions is the registry surface used by the server and its handlers.
type Sessions interface {
	Register(sink registry.Sink, ip string) string
	Unregister(sessionID string) bool
	Broadcast(payload any) int
	TotalConnections() int
	ServerID() string
}

// Metrics receives command and admission outcomes.
type Metrics interface {
	ObserveCommand(command, result string, seconds float64)
	IncAdmission(result string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveCommand(string, string, float64) {}
func (noopMetrics) IncAdmission(string)                    {}

// Deps are the collaborators shared by every handler of a server.
type Deps struct {
	Sessions Sessions
	Users    *service.UserService
	Channels *service.ChannelService
	Messages *service.MessagingService
	Reports  *service.ReportService
	Audio    service.AudioStore
	Metrics  Metrics
	Logger   *slog.Logger

	cfg *Config
}

// request is one decoded client line.
type request struct {
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload"`
}

// errBadPayload marks payloads that are not valid JSON for the command.
var errBadPayload = errors.New("invalid payload")

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", errBadPayload, err)
	}
	return nil
}

// Handler serves one client socket. Handlers are pooled: bind attaches a
// socket and registers its session, reset clears every per-connection field.
type Handler struct {
	deps   *Deps
	logger *slog.Logger

	conn      *Conn
	limiter   *rate.Limiter
	sessionID string
	clienteID int64
	usuario   string
	closing   bool
}

func newHandler(deps *Deps) *Handler {
	l := deps.Logger
	if l == nil {
		l = slog.Default()
	}
	return &Handler{deps: deps, logger: l.With("component", "chat-handler")}
}

func (h *Handler) bind(conn *Conn) {
	h.conn = conn
	h.limiter = rate.NewLimiter(rate.Limit(h.deps.cfg.CommandRate), h.deps.cfg.CommandBurst)
	h.sessionID = h.deps.Sessions.Register(conn, conn.RemoteIP())
}

func (h *Handler) reset() {
	h.conn = nil
	h.limiter = nil
	h.sessionID = ""
	h.clienteID = 0
	h.usuario = ""
	h.closing = false
}

// SessionID returns the registry session served by h.
func (h *Handler) SessionID() string { return h.sessionID }

// Serve reads commands until the socket closes, the client sends CLOSE_CONN
// or ctx is cancelled, then unregisters the session. A panic while serving
// closes this session only.
func (h *Handler) Serve(ctx context.Context) {
	defer func() {
		if v := recover(); v != nil {
			h.logger.Error("handler panicked, closing session",
				"session_id", h.sessionID,
				"panic", v,
				"stack", string(debug.Stack()))
		}
		h.deps.Sessions.Unregister(h.sessionID)
		_ = h.conn.Close()
	}()

	cfg := h.deps.cfg
	sc := bufio.NewScanner(h.conn.netConn)
	sc.Buffer(make([]byte, 0, 64*1024), cfg.MaxLineBytes)
	for {
		if cfg.IdleTimeout > 0 {
			if err := h.conn.netConn.SetReadDeadline(time.Now().Add(cfg.IdleTimeout)); err != nil {
				return
			}
		}
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				if errors.Is(err, bufio.ErrTooLong) {
					h.logger.Warn("client line too long", "session_id", h.sessionID)
					_ = h.conn.Send(errorFrame(msgLineTooLong))
				} else {
					h.logger.Debug("connection read error", "session_id", h.sessionID, "error", err)
				}
			}
			return
		}
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		h.handleLine(ctx, line)
		if h.closing || ctx.Err() != nil {
			return
		}
	}
}

func errorFrame(msg string) registry.Frame {
	return registry.Frame{Command: "ERROR", Payload: service.ErrorResponse{Error: msg}}
}

func (h *Handler) send(f registry.Frame) {
	if err := h.conn.Send(f); err != nil {
		h.logger.Debug("write failed", "session_id", h.sessionID, "error", err)
	}
}

func (h *Handler) handleLine(ctx context.Context, line []byte) {
	start := time.Now()
	var req request
	if err := json.Unmarshal(line, &req); err != nil || strings.TrimSpace(req.Command) == "" {
		h.send(errorFrame(msgInvalidJSON))
		h.deps.Metrics.ObserveCommand("INVALID", "error", time.Since(start).Seconds())
		return
	}
	cmd := strings.ToUpper(strings.TrimSpace(req.Command))

	if !h.limiter.Allow() {
		h.send(errorFrame(msgTooManyRequests))
		h.deps.Metrics.ObserveCommand(cmd, "throttled", time.Since(start).Seconds())
		return
	}

	fn, ok := commands[cmd]
	if !ok {
		h.send(errorFrame(msgUnsupported + req.Command))
		h.deps.Metrics.ObserveCommand("UNSUPPORTED", "error", time.Since(start).Seconds())
		return
	}

	h.logger.Debug("command received", "session_id", h.sessionID, "command", cmd, "payload", logger.SanitizeJSON(req.Payload))
	reply, err := fn(h, ctx, req.Payload)
	result := "ok"
	switch {
	case err != nil:
		result = "error"
		h.send(h.errorFor(cmd, err))
	case reply != nil:
		h.send(registry.Frame{Command: cmd, Payload: reply})
	}
	h.deps.Metrics.ObserveCommand(cmd, result, time.Since(start).Seconds())
}

func (h *Handler) errorFor(cmd string, err error) registry.Frame {
	var de *domain.DomainError
	switch {
	case errors.Is(err, errBadPayload):
		return errorFrame(msgInvalidJSON)
	case domain.IsClientError(err) && errors.As(err, &de):
		return errorFrame(de.ClientMessage())
	default:
		h.logger.Error("command failed", "session_id", h.sessionID, "command", cmd, "error", err)
		return errorFrame(msgInternal)
	}
}

func (h *Handler) requireAuth() error {
	if h.clienteID == 0 {
		return domain.ErrUnauthenticated
	}
	return nil
}
