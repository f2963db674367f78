package chatserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/yndnr/chatmesh-go/internal/core/domain"
	"github.com/yndnr/chatmesh-go/internal/core/service"
	"github.com/yndnr/chatmesh-go/internal/server/registry"
)

// commandFunc runs one command. A nil reply with a nil error means the
// command already wrote its own frames.
type commandFunc func(h *Handler, ctx context.Context, raw json.RawMessage) (any, error)

var commands = map[string]commandFunc{
	"PING":                      (*Handler).ping,
	"REGISTER":                  (*Handler).register,
	"LOGIN":                     (*Handler).login,
	"LOGOUT":                    (*Handler).logout,
	"UPLOAD_AUDIO":              (*Handler).uploadAudio,
	"SEND_USER":                 (*Handler).sendUser,
	"SEND_CHANNEL":              (*Handler).sendChannel,
	"CREATE_CHANNEL":            (*Handler).createChannel,
	"INVITE":                    (*Handler).invite,
	"ACCEPT":                    (*Handler).accept,
	"REJECT":                    (*Handler).reject,
	"LIST_RECEIVED_INVITATIONS": (*Handler).listReceived,
	"LIST_SENT_INVITATIONS":     (*Handler).listSent,
	"LIST_CHANNELS":             (*Handler).listChannels,
	"LIST_USERS":                (*Handler).listUsers,
	"LIST_CONNECTED":            (*Handler).listConnected,
	"REPORT_USUARIOS":           (*Handler).reportUsers,
	"REPORT_CANALES":            (*Handler).reportChannels,
	"REPORT_CONECTADOS":         (*Handler).reportConnected,
	"REPORT_AUDIO":              (*Handler).reportAudio,
	"REPORT_LOGS":               (*Handler).reportLogs,
	"BROADCAST":                 (*Handler).broadcast,
	"CLOSE_CONN":                (*Handler).closeConn,
}

// Commands returns the supported command names.
func Commands() []string {
	out := make([]string, 0, len(commands))
	for name := range commands {
		out = append(out, name)
	}
	return out
}

func (h *Handler) ping(context.Context, json.RawMessage) (any, error) {
	return service.Ack("PONG"), nil
}

// ============================================================================
// Accounts
// ============================================================================

func (h *Handler) register(ctx context.Context, raw json.RawMessage) (any, error) {
	var req service.RegisterRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	if req.IP == "" {
		req.IP = h.conn.RemoteIP()
	}
	if _, err := h.deps.Users.Register(ctx, h.sessionID, &req); err != nil {
		return nil, err
	}
	return service.Ack("Usuario registrado correctamente"), nil
}

func (h *Handler) login(ctx context.Context, raw json.RawMessage) (any, error) {
	if h.clienteID != 0 {
		return nil, domain.ErrAlreadyAuthenticated
	}
	var req service.LoginRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	if req.IP == "" {
		req.IP = h.conn.RemoteIP()
	}
	res, err := h.deps.Users.Login(ctx, h.sessionID, &req)
	if err != nil {
		return nil, err
	}
	h.clienteID = res.User.ID
	h.usuario = res.User.Username

	resp := service.LoginResponse{
		Success:   true,
		Message:   "Login exitoso",
		ClienteID: res.User.ID,
		Usuario:   res.User.Username,
	}
	if len(res.User.Photo) > 0 {
		resp.FotoBase64 = base64.StdEncoding.EncodeToString(res.User.Photo)
	}
	h.send(registry.Frame{Command: "LOGIN", Payload: resp})

	sync, err := h.deps.Messages.Sync(ctx, res.User.ID)
	if err != nil {
		h.logger.Warn("message sync failed", "session_id", h.sessionID, "cliente_id", res.User.ID, "error", err)
		return nil, nil
	}
	h.send(registry.Frame{Command: "MESSAGE_SYNC", Payload: sync})
	return nil, nil
}

func (h *Handler) logout(ctx context.Context, _ json.RawMessage) (any, error) {
	if err := h.requireAuth(); err != nil {
		return nil, err
	}
	if err := h.deps.Users.Logout(ctx, h.sessionID, h.clienteID); err != nil {
		return nil, err
	}
	h.clienteID = 0
	h.usuario = ""
	return service.Ack("Sesión cerrada"), nil
}

// ============================================================================
// Messages
// ============================================================================

func (h *Handler) uploadAudio(ctx context.Context, raw json.RawMessage) (any, error) {
	if err := h.requireAuth(); err != nil {
		return nil, err
	}
	var req service.UploadAudioRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	data, err := service.DecodeAudio(&req)
	if err != nil {
		return nil, err
	}
	path, err := h.deps.Audio.Save(ctx, h.clienteID, data, req.Mime)
	if err != nil {
		return nil, domain.ErrStorage.WithCause(err)
	}
	return service.UploadAudioResponse{Success: true, RutaArchivo: path, Message: "Audio almacenado"}, nil
}

func (h *Handler) sendUser(ctx context.Context, raw json.RawMessage) (any, error) {
	if err := h.requireAuth(); err != nil {
		return nil, err
	}
	var req service.MessageRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	if _, err := h.deps.Messages.SendDirect(ctx, h.sessionID, h.clienteID, &req); err != nil {
		return nil, err
	}
	return service.Ack("Mensaje enviado"), nil
}

func (h *Handler) sendChannel(ctx context.Context, raw json.RawMessage) (any, error) {
	if err := h.requireAuth(); err != nil {
		return nil, err
	}
	var req service.MessageRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	if _, err := h.deps.Messages.SendChannel(ctx, h.sessionID, h.clienteID, &req); err != nil {
		return nil, err
	}
	return service.Ack("Mensaje enviado al canal"), nil
}

func (h *Handler) broadcast(_ context.Context, raw json.RawMessage) (any, error) {
	if err := h.requireAuth(); err != nil {
		return nil, err
	}
	var req service.BroadcastRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, domain.ErrValidation.WithDetails("message is required")
	}
	n := h.deps.Sessions.Broadcast(service.BroadcastNotice{
		Evento:       service.EventoBroadcast,
		Message:      req.Message,
		EmisorID:     h.clienteID,
		EmisorNombre: h.usuario,
		ServerID:     h.deps.Sessions.ServerID(),
		Timestamp:    time.Now().UTC(),
	})
	h.logger.Info("broadcast sent", "session_id", h.sessionID, "local_recipients", n)
	return service.Ack("Broadcast enviado"), nil
}

// ============================================================================
// Channels and invitations
// ============================================================================

func (h *Handler) createChannel(ctx context.Context, raw json.RawMessage) (any, error) {
	if err := h.requireAuth(); err != nil {
		return nil, err
	}
	var req service.ChannelRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	c, err := h.deps.Channels.Create(ctx, h.sessionID, h.clienteID, &req)
	if err != nil {
		return nil, err
	}
	return service.NewChannelView(c), nil
}

func (h *Handler) invitation(ctx context.Context, raw json.RawMessage,
	fn func(context.Context, string, int64, *service.InviteRequest) (*domain.Invitation, error), msg string) (any, error) {
	if err := h.requireAuth(); err != nil {
		return nil, err
	}
	var req service.InviteRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	if _, err := fn(ctx, h.sessionID, h.clienteID, &req); err != nil {
		return nil, err
	}
	return service.Ack(msg), nil
}

func (h *Handler) invite(ctx context.Context, raw json.RawMessage) (any, error) {
	return h.invitation(ctx, raw, h.deps.Channels.Invite, "Invitación enviada")
}

func (h *Handler) accept(ctx context.Context, raw json.RawMessage) (any, error) {
	return h.invitation(ctx, raw, h.deps.Channels.Accept, "Invitación aceptada")
}

func (h *Handler) reject(ctx context.Context, raw json.RawMessage) (any, error) {
	return h.invitation(ctx, raw, h.deps.Channels.Reject, "Invitación rechazada")
}

func (h *Handler) listReceived(ctx context.Context, _ json.RawMessage) (any, error) {
	if err := h.requireAuth(); err != nil {
		return nil, err
	}
	return h.deps.Channels.ListReceived(ctx, h.clienteID)
}

func (h *Handler) listSent(ctx context.Context, _ json.RawMessage) (any, error) {
	if err := h.requireAuth(); err != nil {
		return nil, err
	}
	return h.deps.Channels.ListSent(ctx, h.clienteID)
}

func (h *Handler) listChannels(ctx context.Context, _ json.RawMessage) (any, error) {
	if err := h.requireAuth(); err != nil {
		return nil, err
	}
	return h.deps.Channels.ListUserChannels(ctx, h.clienteID)
}

// ============================================================================
// Listings and reports
// ============================================================================

func (h *Handler) listUsers(ctx context.Context, _ json.RawMessage) (any, error) {
	return h.deps.Reports.Users(ctx, h.clienteID)
}

func (h *Handler) listConnected(ctx context.Context, _ json.RawMessage) (any, error) {
	return h.deps.Reports.Connected(ctx, h.clienteID)
}

func (h *Handler) reportUsers(ctx context.Context, _ json.RawMessage) (any, error) {
	return h.deps.Reports.Users(ctx, 0)
}

func (h *Handler) reportChannels(ctx context.Context, _ json.RawMessage) (any, error) {
	return h.deps.Reports.Channels(ctx)
}

func (h *Handler) reportConnected(ctx context.Context, _ json.RawMessage) (any, error) {
	return h.deps.Reports.Connected(ctx, 0)
}

func (h *Handler) reportAudio(ctx context.Context, _ json.RawMessage) (any, error) {
	return h.deps.Reports.Audio(ctx)
}

func (h *Handler) reportLogs(ctx context.Context, _ json.RawMessage) (any, error) {
	return h.deps.Reports.Logs(ctx)
}

func (h *Handler) closeConn(context.Context, json.RawMessage) (any, error) {
	h.send(registry.Frame{Command: "CLOSE_CONN", Payload: service.Ack("Conexión cerrada")})
	h.closing = true
	return nil, nil
}
