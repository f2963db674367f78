package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yndnr/chatmesh-go/internal/core/domain"
	"github.com/yndnr/chatmesh-go/internal/core/event"
	"github.com/yndnr/chatmesh-go/internal/storage"
)

// ChannelJoiner adds channels to the registry sessions of a user.
type ChannelJoiner interface {
	JoinChannel(sessionID string, channelID int64) bool
	JoinChannelForUser(clienteID int64, channelID int64) int
}

// ChannelService handles channels and invitations.
type ChannelService struct {
	channels    storage.ChannelRepository
	invitations storage.InvitationRepository
	users       storage.UserRepository
	joiner      ChannelJoiner
	bus         Publisher
	logger      *slog.Logger
}

// NewChannelService creates a ChannelService.
func NewChannelService(channels storage.ChannelRepository, invitations storage.InvitationRepository,
	users storage.UserRepository, joiner ChannelJoiner, bus Publisher, logger *slog.Logger) *ChannelService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChannelService{
		channels:    channels,
		invitations: invitations,
		users:       users,
		joiner:      joiner,
		bus:         bus,
		logger:      logger.With("component", "channel-service"),
	}
}

// Create makes a channel owned by ownerID, adds the owner as member, joins
// it on the calling session and publishes CHANNEL_CREATED.
func (s *ChannelService) Create(ctx context.Context, sessionID string, ownerID int64, req *ChannelRequest) (*domain.Channel, error) {
	if ownerID == 0 {
		return nil, domain.ErrUnauthenticated
	}
	if err := domain.ValidateChannelName(req.Nombre); err != nil {
		return nil, err
	}
	c := &domain.Channel{
		UUID:    uuid.NewString(),
		Name:    strings.TrimSpace(req.Nombre),
		Private: req.Privado,
		OwnerID: ownerID,
	}
	if err := s.channels.CreateChannel(ctx, c); err != nil {
		return nil, err
	}
	if _, err := s.channels.AddMember(ctx, c.ID, ownerID); err != nil {
		return nil, err
	}
	s.joiner.JoinChannel(sessionID, c.ID)

	s.logger.Info("channel created", "channel_id", c.ID, "owner_id", ownerID)
	s.bus.Publish(event.New(event.ChannelCreated, sessionID, ownerID, c))
	return c, nil
}

// Resolve finds a channel by id, falling back to uuid.
func (s *ChannelService) Resolve(ctx context.Context, id int64, uuid string) (*domain.Channel, error) {
	if id != 0 {
		return s.channels.GetChannel(ctx, id)
	}
	if uuid != "" {
		return s.channels.GetChannelByUUID(ctx, uuid)
	}
	return nil, domain.ErrValidation.WithDetails("canalId or canalUuid is required")
}

// Invite creates a pending invitation from inviterID, who must be a member.
func (s *ChannelService) Invite(ctx context.Context, sessionID string, inviterID int64, req *InviteRequest) (*domain.Invitation, error) {
	if inviterID == 0 {
		return nil, domain.ErrUnauthenticated
	}
	if req.InvitadoID == 0 {
		return nil, domain.ErrValidation.WithDetails("invitadoId is required")
	}
	c, err := s.Resolve(ctx, req.CanalID, req.CanalUUID)
	if err != nil {
		return nil, err
	}
	if ok, err := s.channels.IsMember(ctx, c.ID, inviterID); err != nil {
		return nil, err
	} else if !ok {
		return nil, domain.ErrNotChannelMember
	}
	if _, err := s.users.GetUser(ctx, req.InvitadoID); err != nil {
		return nil, err
	}
	if ok, err := s.channels.IsMember(ctx, c.ID, req.InvitadoID); err != nil {
		return nil, err
	} else if ok {
		return nil, domain.ErrValidation.WithDetails("user is already a member")
	}

	existing, err := s.invitations.GetInvitation(ctx, c.ID, req.InvitadoID)
	switch {
	case err == nil && existing.State == domain.InvitationPending:
		return nil, domain.ErrInvitationExists
	case err != nil && !errors.Is(err, domain.ErrInvitationNotFound):
		return nil, err
	}

	inv := &domain.Invitation{
		ChannelID:   c.ID,
		ChannelUUID: c.UUID,
		InviterID:   inviterID,
		InviteeID:   req.InvitadoID,
		CreatedAt:   time.Now().UTC(),
		State:       domain.InvitationPending,
	}
	if err := s.invitations.SaveInvitation(ctx, inv); err != nil {
		return nil, err
	}
	s.bus.Publish(event.New(event.InviteSent, sessionID, inviterID, ref(inv)))
	return inv, nil
}

// Accept moves the caller's pending invitation to ACEPTADA, adds the
// membership and joins the channel on every local session of the user.
func (s *ChannelService) Accept(ctx context.Context, sessionID string, userID int64, req *InviteRequest) (*domain.Invitation, error) {
	inv, err := s.respond(ctx, userID, req, domain.InvitationAccepted)
	if err != nil {
		return nil, err
	}
	if _, err := s.channels.AddMember(ctx, inv.ChannelID, userID); err != nil {
		return nil, err
	}
	s.joiner.JoinChannel(sessionID, inv.ChannelID)
	s.joiner.JoinChannelForUser(userID, inv.ChannelID)
	s.bus.Publish(event.New(event.InviteAccepted, sessionID, userID, ref(inv)))
	return inv, nil
}

// Reject moves the caller's pending invitation to RECHAZADA.
func (s *ChannelService) Reject(ctx context.Context, sessionID string, userID int64, req *InviteRequest) (*domain.Invitation, error) {
	inv, err := s.respond(ctx, userID, req, domain.InvitationRejected)
	if err != nil {
		return nil, err
	}
	s.bus.Publish(event.New(event.InviteRejected, sessionID, userID, ref(inv)))
	return inv, nil
}

func (s *ChannelService) respond(ctx context.Context, userID int64, req *InviteRequest, state domain.InvitationState) (*domain.Invitation, error) {
	if userID == 0 {
		return nil, domain.ErrUnauthenticated
	}
	c, err := s.Resolve(ctx, req.CanalID, req.CanalUUID)
	if err != nil {
		return nil, err
	}
	inv, err := s.invitations.GetInvitation(ctx, c.ID, userID)
	if err != nil {
		return nil, err
	}
	if inv.State != domain.InvitationPending {
		return nil, domain.ErrInvitationClosed
	}
	inv.State = state
	if err := s.invitations.SaveInvitation(ctx, inv); err != nil {
		return nil, err
	}
	s.logger.Info("invitation answered", "channel_id", c.ID, "user_id", userID, "state", state)
	return inv, nil
}

func ref(inv *domain.Invitation) event.InvitationRef {
	return event.InvitationRef{ChannelID: inv.ChannelID, ChannelUUID: inv.ChannelUUID, InviteeID: inv.InviteeID}
}

// ListUserChannels returns the channels userID belongs to.
func (s *ChannelService) ListUserChannels(ctx context.Context, userID int64) ([]ChannelView, error) {
	if userID == 0 {
		return nil, domain.ErrUnauthenticated
	}
	chans, err := s.channels.ListUserChannels(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]ChannelView, len(chans))
	for i, c := range chans {
		out[i] = NewChannelView(c)
	}
	return out, nil
}

// ListReceived returns the invitations addressed to userID.
func (s *ChannelService) ListReceived(ctx context.Context, userID int64) ([]InvitationView, error) {
	if userID == 0 {
		return nil, domain.ErrUnauthenticated
	}
	invs, err := s.invitations.ListReceived(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.views(ctx, invs), nil
}

// ListSent returns the invitations sent by userID.
func (s *ChannelService) ListSent(ctx context.Context, userID int64) ([]InvitationView, error) {
	if userID == 0 {
		return nil, domain.ErrUnauthenticated
	}
	invs, err := s.invitations.ListSent(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.views(ctx, invs), nil
}

func (s *ChannelService) views(ctx context.Context, invs []*domain.Invitation) []InvitationView {
	names := newNameCache(s.users, s.channels)
	out := make([]InvitationView, 0, len(invs))
	for _, inv := range invs {
		ch := names.channel(ctx, inv.ChannelID)
		out = append(out, InvitationView{
			ID:              inv.ID,
			CanalID:         inv.ChannelID,
			CanalUUID:       inv.ChannelUUID,
			CanalNombre:     ch.Name,
			InvitadorID:     inv.InviterID,
			InvitadorNombre: names.user(ctx, inv.InviterID),
			InvitadoID:      inv.InviteeID,
			InvitadoNombre:  names.user(ctx, inv.InviteeID),
			Estado:          string(inv.State),
			FechaInvitacion: inv.CreatedAt,
		})
	}
	return out
}
