package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/yndnr/chatmesh-go/internal/core/domain"
	"github.com/yndnr/chatmesh-go/internal/core/event"
	"github.com/yndnr/chatmesh-go/internal/storage"
)

// MessagingService persists messages and publishes their events.
type MessagingService struct {
	messages storage.MessageRepository
	channels storage.ChannelRepository
	users    storage.UserRepository
	bus      Publisher
	logger   *slog.Logger
	now      func() time.Time
}

// NewMessagingService creates a MessagingService.
func NewMessagingService(messages storage.MessageRepository, channels storage.ChannelRepository,
	users storage.UserRepository, bus Publisher, logger *slog.Logger) *MessagingService {
	if logger == nil {
		logger = slog.Default()
	}
	return &MessagingService{
		messages: messages,
		channels: channels,
		users:    users,
		bus:      bus,
		logger:   logger.With("component", "messaging"),
		now:      time.Now,
	}
}

// buildMessage turns a request into a message with the tagged body set.
func buildMessage(senderID int64, req *MessageRequest) (*domain.Message, error) {
	kind, err := domain.ParseMessageKind(req.Tipo)
	if err != nil {
		return nil, err
	}
	m := &domain.Message{Kind: kind, SenderID: senderID}
	switch kind {
	case domain.KindAudio:
		m.Audio = &domain.AudioBody{Path: req.RutaArchivo, Mime: req.Mime, DurationSec: req.DuracionSeg, Transcription: req.Transcripcion}
	case domain.KindFile:
		m.File = &domain.FileBody{Path: req.RutaArchivo, Mime: req.Mime}
	default:
		m.Text = &domain.TextBody{Content: req.Contenido}
	}
	return m, nil
}

// SendDirect stores a direct message and publishes MESSAGE_SENT,
// AUDIO_SENT for audio, and NEW_MESSAGE.
func (s *MessagingService) SendDirect(ctx context.Context, sessionID string, senderID int64, req *MessageRequest) (*domain.Message, error) {
	if senderID == 0 {
		return nil, domain.ErrUnauthenticated
	}
	m, err := buildMessage(senderID, req)
	if err != nil {
		return nil, err
	}
	m.ReceiverID = req.Receptor
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.users.GetUser(ctx, m.ReceiverID); err != nil {
		return nil, err
	}
	return m, s.persist(ctx, sessionID, m, event.NewMessage)
}

// SendChannel stores a channel message from a member and publishes
// MESSAGE_SENT, AUDIO_SENT for audio, and NEW_CHANNEL_MESSAGE.
func (s *MessagingService) SendChannel(ctx context.Context, sessionID string, senderID int64, req *MessageRequest) (*domain.Message, error) {
	if senderID == 0 {
		return nil, domain.ErrUnauthenticated
	}
	m, err := buildMessage(senderID, req)
	if err != nil {
		return nil, err
	}
	m.ChannelID = req.CanalID
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.channels.GetChannel(ctx, m.ChannelID); err != nil {
		return nil, err
	}
	ok, err := s.channels.IsMember(ctx, m.ChannelID, senderID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrNotChannelMember
	}
	return m, s.persist(ctx, sessionID, m, event.NewChannelMessage)
}

func (s *MessagingService) persist(ctx context.Context, sessionID string, m *domain.Message, kind event.Type) error {
	m.Timestamp = s.now().UTC()
	if err := s.messages.SaveMessage(ctx, m); err != nil {
		return err
	}
	s.logger.Debug("message stored", "message_id", m.ID, "kind", m.Kind, "conversation", m.Conversation())

	s.bus.Publish(event.New(event.MessageSent, sessionID, m.SenderID, m))
	if m.Kind == domain.KindAudio {
		s.bus.Publish(event.New(event.AudioSent, sessionID, m.SenderID, m))
	}
	s.bus.Publish(event.New(kind, sessionID, m.SenderID, m))
	return nil
}

// Realtime renders m for clients.
func (s *MessagingService) Realtime(ctx context.Context, m *domain.Message) RealtimeMessage {
	return realtime(ctx, newNameCache(s.users, s.channels), m)
}

func realtime(ctx context.Context, names *nameCache, m *domain.Message) RealtimeMessage {
	rm := RealtimeMessage{
		Evento:           EventoNewMessage,
		ID:               m.ID,
		TipoMensaje:      string(m.Kind),
		Timestamp:        m.Timestamp,
		EmisorID:         m.SenderID,
		EmisorNombre:     names.user(ctx, m.SenderID),
		TipoConversacion: m.Conversation(),
		Contenido:        m.Content(),
	}
	if m.IsChannel() {
		rm.Evento = EventoNewChannelMessage
		rm.CanalID = m.ChannelID
		rm.CanalNombre = names.channel(ctx, m.ChannelID).Name
	} else {
		rm.ReceptorID = m.ReceiverID
		rm.ReceptorNombre = names.user(ctx, m.ReceiverID)
	}
	return rm
}

// Sync returns the history visible to userID: direct messages plus every
// message of the user's channels, oldest first.
func (s *MessagingService) Sync(ctx context.Context, userID int64) (*MessageSyncResponse, error) {
	chans, err := s.channels.ListUserChannels(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(chans))
	for i, c := range chans {
		ids[i] = c.ID
	}
	msgs, err := s.messages.ListUserMessages(ctx, userID, ids)
	if err != nil {
		return nil, err
	}
	names := newNameCache(s.users, s.channels)
	out := make([]RealtimeMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, realtime(ctx, names, m))
	}
	return &MessageSyncResponse{
		Mensajes:             out,
		TotalMensajes:        len(out),
		UltimaSincronizacion: s.now().UTC(),
	}, nil
}
