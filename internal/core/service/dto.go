package service

import (
	"time"

	"github.com/yndnr/chatmesh-go/internal/core/domain"
)

// Client request payloads.

// RegisterRequest is the REGISTER payload.
type RegisterRequest struct {
	Usuario     string `json:"usuario"`
	Email       string `json:"email"`
	Password    string `json:"password,omitempty"`
	Contrasenia string `json:"contrasenia,omitempty"`
	FotoBase64  string `json:"fotoBase64,omitempty"`
	IP          string `json:"ip,omitempty"`
}

// Secret returns whichever password field the client used.
func (r *RegisterRequest) Secret() string {
	if r.Contrasenia != "" {
		return r.Contrasenia
	}
	return r.Password
}

// LoginRequest is the LOGIN payload.
type LoginRequest struct {
	Email       string `json:"email"`
	Contrasenia string `json:"contrasenia"`
	IP          string `json:"ip,omitempty"`
}

// MessageRequest is the SEND_USER and SEND_CHANNEL payload.
type MessageRequest struct {
	Tipo          string `json:"tipo"`
	Contenido     string `json:"contenido,omitempty"`
	RutaArchivo   string `json:"rutaArchivo,omitempty"`
	Mime          string `json:"mime,omitempty"`
	DuracionSeg   int    `json:"duracionSeg,omitempty"`
	Transcripcion string `json:"transcripcion,omitempty"`
	Emisor        int64  `json:"emisor,omitempty"`
	Receptor      int64  `json:"receptor,omitempty"`
	CanalID       int64  `json:"canalId,omitempty"`
}

// ChannelRequest is the CREATE_CHANNEL payload.
type ChannelRequest struct {
	Nombre  string `json:"nombre"`
	Privado bool   `json:"privado"`
}

// InviteRequest is the INVITE, ACCEPT and REJECT payload.
type InviteRequest struct {
	CanalID       int64  `json:"canalId,omitempty"`
	CanalUUID     string `json:"canalUuid,omitempty"`
	InvitadoID    int64  `json:"invitadoId,omitempty"`
	SolicitanteID int64  `json:"solicitanteId,omitempty"`
}

// UploadAudioRequest is the UPLOAD_AUDIO payload.
type UploadAudioRequest struct {
	AudioBase64 string `json:"audioBase64"`
	Mime        string `json:"mime,omitempty"`
}

// BroadcastRequest is the BROADCAST payload.
type BroadcastRequest struct {
	Message string `json:"message"`
}

// Responses.

// AckResponse acknowledges a command.
type AckResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Ack returns a successful acknowledgement.
func Ack(msg string) AckResponse {
	return AckResponse{Success: true, Message: msg}
}

// ErrorResponse is the payload of an ERROR frame.
type ErrorResponse struct {
	Error string `json:"error"`
}

// LoginResponse is the LOGIN reply.
type LoginResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	FotoBase64 string `json:"fotoBase64,omitempty"`
	ClienteID  int64  `json:"clienteId"`
	Usuario    string `json:"usuario"`
}

// UploadAudioResponse is the UPLOAD_AUDIO reply.
type UploadAudioResponse struct {
	Success     bool   `json:"success"`
	RutaArchivo string `json:"rutaArchivo"`
	Message     string `json:"message"`
}

// ChannelView is how channels are shown to clients.
type ChannelView struct {
	ID      int64  `json:"id"`
	UUID    string `json:"uuid"`
	Nombre  string `json:"nombre"`
	Privado bool   `json:"privado"`
}

// NewChannelView converts a channel.
func NewChannelView(c *domain.Channel) ChannelView {
	return ChannelView{ID: c.ID, UUID: c.UUID, Nombre: c.Name, Privado: c.Private}
}

// UserSummary is one row of the user listings.
type UserSummary struct {
	ID        int64  `json:"id"`
	Usuario   string `json:"usuario"`
	Email     string `json:"email"`
	Conectado bool   `json:"conectado"`
}

// ChannelSummary is one row of REPORT_CANALES.
type ChannelSummary struct {
	ID       int64         `json:"id"`
	Nombre   string        `json:"nombre"`
	Privado  bool          `json:"privado"`
	Usuarios []UserSummary `json:"usuarios"`
}

// AudioSummary is one row of REPORT_AUDIO.
type AudioSummary struct {
	MensajeID     int64     `json:"mensajeId"`
	EmisorID      int64     `json:"emisorId"`
	EmisorNombre  string    `json:"emisorNombre"`
	RutaArchivo   string    `json:"rutaArchivo"`
	Mime          string    `json:"mime"`
	DuracionSeg   int       `json:"duracionSeg"`
	Transcripcion string    `json:"transcripcion,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	Conversacion  string    `json:"tipoConversacion"`
}

// LogSummary is one row of REPORT_LOGS.
type LogSummary struct {
	ID        int64     `json:"id"`
	Tipo      string    `json:"tipo"`
	Detalle   string    `json:"detalle"`
	FechaHora time.Time `json:"fechaHora"`
}

// InvitationView is one row of the invitation listings.
type InvitationView struct {
	ID              int64     `json:"invitacionId"`
	CanalID         int64     `json:"canalId"`
	CanalUUID       string    `json:"canalUuid"`
	CanalNombre     string    `json:"canalNombre"`
	InvitadorID     int64     `json:"invitadorId"`
	InvitadorNombre string    `json:"invitadorNombre"`
	InvitadoID      int64     `json:"invitadoId"`
	InvitadoNombre  string    `json:"invitadoNombre"`
	Estado          string    `json:"estado"`
	FechaInvitacion time.Time `json:"fechaInvitacion"`
}

// Server-pushed event payloads.

// Event names carried in the evento field.
const (
	EventoNewMessage        = "NEW_MESSAGE"
	EventoNewChannelMessage = "NEW_CHANNEL_MESSAGE"
	EventoInviteReceived    = "INVITE_RECEIVED"
	EventoInviteAccepted    = "INVITE_ACCEPTED"
	EventoInviteRejected    = "INVITE_REJECTED"
	EventoUserStatusChanged = "USER_STATUS_CHANGED"
	EventoBroadcast         = "BROADCAST"
)

// RealtimeMessage is the NEW_MESSAGE / NEW_CHANNEL_MESSAGE payload and the
// MESSAGE_SYNC history row.
type RealtimeMessage struct {
	Evento           string         `json:"evento"`
	ID               int64          `json:"id"`
	TipoMensaje      string         `json:"tipoMensaje"`
	Timestamp        time.Time      `json:"timestamp"`
	EmisorID         int64          `json:"emisorId"`
	EmisorNombre     string         `json:"emisorNombre"`
	ReceptorID       int64          `json:"receptorId,omitempty"`
	ReceptorNombre   string         `json:"receptorNombre,omitempty"`
	CanalID          int64          `json:"canalId,omitempty"`
	CanalNombre      string         `json:"canalNombre,omitempty"`
	TipoConversacion string         `json:"tipoConversacion"`
	Contenido        map[string]any `json:"contenido"`
}

// MessageSyncResponse is the MESSAGE_SYNC payload sent after LOGIN.
type MessageSyncResponse struct {
	Mensajes             []RealtimeMessage `json:"mensajes"`
	TotalMensajes        int               `json:"totalMensajes"`
	UltimaSincronizacion time.Time         `json:"ultimaSincronizacion"`
}

// RealtimeInvitation is the INVITE_* event payload.
type RealtimeInvitation struct {
	Evento          string    `json:"evento"`
	Timestamp       time.Time `json:"timestamp"`
	CanalID         int64     `json:"canalId"`
	CanalUUID       string    `json:"canalUuid"`
	CanalNombre     string    `json:"canalNombre"`
	CanalPrivado    bool      `json:"canalPrivado"`
	InvitadorID     int64     `json:"invitadorId"`
	InvitadorNombre string    `json:"invitadorNombre"`
	InvitadoID      int64     `json:"invitadoId"`
	InvitadoNombre  string    `json:"invitadoNombre"`
	Estado          string    `json:"estado"`
	InvitacionID    int64     `json:"invitacionId"`
}

// UserStatusUpdate is the USER_STATUS_CHANGED payload, both on the client
// wire and between peers.
type UserStatusUpdate struct {
	Evento          string    `json:"evento"`
	UsuarioID       int64     `json:"usuarioId"`
	UsuarioNombre   string    `json:"usuarioNombre"`
	UsuarioEmail    string    `json:"usuarioEmail"`
	Conectado       bool      `json:"conectado"`
	SesionesActivas int       `json:"sesionesActivas"`
	Timestamp       time.Time `json:"timestamp"`
}

// BroadcastNotice is the BROADCAST event payload.
type BroadcastNotice struct {
	Evento       string    `json:"evento"`
	Message      string    `json:"message"`
	EmisorID     int64     `json:"emisorId"`
	EmisorNombre string    `json:"emisorNombre"`
	ServerID     string    `json:"serverId"`
	Timestamp    time.Time `json:"timestamp"`
}
