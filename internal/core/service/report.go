package service

import (
	"context"

	"github.com/yndnr/chatmesh-go/internal/core/domain"
	"github.com/yndnr/chatmesh-go/internal/storage"
)

// Presence answers whether a user has a live session anywhere in the cluster.
type Presence interface {
	IsUserConnected(clienteID int64) bool
	ConnectedUserIDs() []int64
}

// ReportService builds the LIST_* and REPORT_* responses.
type ReportService struct {
	users    storage.UserRepository
	channels storage.ChannelRepository
	messages storage.MessageRepository
	logs     storage.LogRepository
	presence Presence
}

// NewReportService creates a ReportService.
func NewReportService(users storage.UserRepository, channels storage.ChannelRepository,
	messages storage.MessageRepository, logs storage.LogRepository, presence Presence) *ReportService {
	return &ReportService{users: users, channels: channels, messages: messages, logs: logs, presence: presence}
}

func (s *ReportService) summary(u *domain.User) UserSummary {
	return UserSummary{ID: u.ID, Usuario: u.Username, Email: u.Email, Conectado: s.presence.IsUserConnected(u.ID)}
}

// Users lists every registered user, excluding the caller when non-zero.
func (s *ReportService) Users(ctx context.Context, exclude int64) ([]UserSummary, error) {
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]UserSummary, 0, len(users))
	for _, u := range users {
		if u.ID != exclude {
			out = append(out, s.summary(u))
		}
	}
	return out, nil
}

// Connected lists the users with a live session, excluding the caller when non-zero.
func (s *ReportService) Connected(ctx context.Context, exclude int64) ([]UserSummary, error) {
	out := make([]UserSummary, 0)
	for _, id := range s.presence.ConnectedUserIDs() {
		if id == exclude {
			continue
		}
		u, err := s.users.GetUser(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, s.summary(u))
	}
	return out, nil
}

// Channels lists every channel with its members.
func (s *ReportService) Channels(ctx context.Context) ([]ChannelSummary, error) {
	chans, err := s.channels.ListChannels(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ChannelSummary, 0, len(chans))
	for _, c := range chans {
		members, err := s.channels.ListMembers(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		cs := ChannelSummary{ID: c.ID, Nombre: c.Name, Privado: c.Private, Usuarios: make([]UserSummary, 0, len(members))}
		for _, uid := range members {
			if u, err := s.users.GetUser(ctx, uid); err == nil {
				cs.Usuarios = append(cs.Usuarios, s.summary(u))
			}
		}
		out = append(out, cs)
	}
	return out, nil
}

// Audio lists every audio message with its transcription when known.
func (s *ReportService) Audio(ctx context.Context) ([]AudioSummary, error) {
	msgs, err := s.messages.ListMessages(ctx)
	if err != nil {
		return nil, err
	}
	names := newNameCache(s.users, s.channels)
	out := make([]AudioSummary, 0)
	for _, m := range msgs {
		if m.Kind != domain.KindAudio || m.Audio == nil {
			continue
		}
		out = append(out, AudioSummary{
			MensajeID:     m.ID,
			EmisorID:      m.SenderID,
			EmisorNombre:  names.user(ctx, m.SenderID),
			RutaArchivo:   m.Audio.Path,
			Mime:          m.Audio.Mime,
			DuracionSeg:   m.Audio.DurationSec,
			Transcripcion: m.Audio.Transcription,
			Timestamp:     m.Timestamp,
			Conversacion:  m.Conversation(),
		})
	}
	return out, nil
}

// DefaultLogReportSize bounds REPORT_LOGS.
const DefaultLogReportSize = 200

// Logs returns the most recent audit entries.
func (s *ReportService) Logs(ctx context.Context) ([]LogSummary, error) {
	logs, err := s.logs.ListLogs(ctx, DefaultLogReportSize)
	if err != nil {
		return nil, err
	}
	out := make([]LogSummary, len(logs))
	for i, e := range logs {
		out[i] = LogSummary{ID: e.ID, Tipo: e.Kind, Detalle: e.Detail, FechaHora: e.Timestamp}
	}
	return out, nil
}
