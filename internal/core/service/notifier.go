package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/yndnr/chatmesh-go/internal/core/domain"
	"github.com/yndnr/chatmesh-go/internal/core/event"
	"github.com/yndnr/chatmesh-go/internal/storage"
)

// Delivery routes event payloads to every session of a user, local or mirrored.
type Delivery interface {
	SendToUser(clienteID int64, payload any) int
}

// notifyTimeout bounds the lookups an observer does while rendering a payload.
const notifyTimeout = time.Second

// MessageNotifier pushes NEW_MESSAGE and NEW_CHANNEL_MESSAGE frames.
type MessageNotifier struct {
	users    storage.UserRepository
	channels storage.ChannelRepository
	delivery Delivery
	logger   *slog.Logger
}

// NewMessageNotifier creates a MessageNotifier.
func NewMessageNotifier(users storage.UserRepository, channels storage.ChannelRepository,
	delivery Delivery, logger *slog.Logger) *MessageNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &MessageNotifier{users: users, channels: channels, delivery: delivery, logger: logger.With("component", "message-notifier")}
}

// OnEvent implements event.Observer.
func (n *MessageNotifier) OnEvent(e event.Event) {
	if e.Remote() {
		return
	}
	m, ok := e.Payload.(*domain.Message)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	switch e.Type {
	case event.NewMessage:
		rm := realtime(ctx, newNameCache(n.users, n.channels), m)
		n.delivery.SendToUser(m.ReceiverID, rm)
		if m.SenderID != m.ReceiverID {
			n.delivery.SendToUser(m.SenderID, rm)
		}
	case event.NewChannelMessage:
		members, err := n.channels.ListMembers(ctx, m.ChannelID)
		if err != nil {
			n.logger.Warn("list channel members", "channel_id", m.ChannelID, "error", err)
			return
		}
		rm := realtime(ctx, newNameCache(n.users, n.channels), m)
		for _, uid := range members {
			if uid != m.SenderID {
				n.delivery.SendToUser(uid, rm)
			}
		}
		n.delivery.SendToUser(m.SenderID, rm)
	}
}

// InvitationNotifier pushes INVITE_RECEIVED to invitees and
// INVITE_ACCEPTED / INVITE_REJECTED to inviters.
type InvitationNotifier struct {
	users       storage.UserRepository
	channels    storage.ChannelRepository
	invitations storage.InvitationRepository
	delivery    Delivery
	logger      *slog.Logger
}

// NewInvitationNotifier creates an InvitationNotifier.
func NewInvitationNotifier(users storage.UserRepository, channels storage.ChannelRepository,
	invitations storage.InvitationRepository, delivery Delivery, logger *slog.Logger) *InvitationNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &InvitationNotifier{
		users:       users,
		channels:    channels,
		invitations: invitations,
		delivery:    delivery,
		logger:      logger.With("component", "invitation-notifier"),
	}
}

// OnEvent implements event.Observer.
func (n *InvitationNotifier) OnEvent(e event.Event) {
	if e.Remote() {
		return
	}
	var evento string
	switch e.Type {
	case event.InviteSent:
		evento = EventoInviteReceived
	case event.InviteAccepted:
		evento = EventoInviteAccepted
	case event.InviteRejected:
		evento = EventoInviteRejected
	default:
		return
	}
	ref, ok := e.Payload.(event.InvitationRef)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	inv, err := n.invitations.GetInvitation(ctx, ref.ChannelID, ref.InviteeID)
	if err != nil {
		n.logger.Warn("load invitation", "channel_id", ref.ChannelID, "invitee_id", ref.InviteeID, "error", err)
		return
	}
	names := newNameCache(n.users, n.channels)
	c := names.channel(ctx, inv.ChannelID)
	payload := RealtimeInvitation{
		Evento:          evento,
		Timestamp:       e.Timestamp,
		CanalID:         inv.ChannelID,
		CanalUUID:       inv.ChannelUUID,
		CanalNombre:     c.Name,
		CanalPrivado:    c.Private,
		InvitadorID:     inv.InviterID,
		InvitadorNombre: names.user(ctx, inv.InviterID),
		InvitadoID:      inv.InviteeID,
		InvitadoNombre:  names.user(ctx, inv.InviteeID),
		Estado:          string(inv.State),
		InvitacionID:    inv.ID,
	}
	target := inv.InviterID
	if e.Type == event.InviteSent {
		target = inv.InviteeID
	}
	n.delivery.SendToUser(target, payload)
}
