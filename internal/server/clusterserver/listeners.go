package clusterserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/yndnr/chatmesh-go/internal/core/domain"
	"github.com/yndnr/chatmesh-go/internal/core/event"
	"github.com/yndnr/chatmesh-go/internal/core/service"
	"github.com/yndnr/chatmesh-go/internal/storage/dbsync"
)

// listenerTimeout bounds the store reads a listener performs per event.
const listenerTimeout = 2 * time.Second

// Replicator is the peer manager surface used by listeners.
type Replicator interface {
	Broadcast(t Type, payload any) error
	BroadcastDatabaseUpdate(snap *dbsync.Snapshot)
	Handle(t Type, h InboundHandler)
}

// Snapshotter builds database snapshots of single records.
type Snapshotter interface {
	UserSnapshot(ctx context.Context, userID int64) (*dbsync.Snapshot, error)
	ChannelSnapshot(ctx context.Context, channelID int64) (*dbsync.Snapshot, error)
	InvitationSnapshot(ctx context.Context, channelID, inviteeID int64) (*dbsync.Snapshot, error)
	MessageSnapshot(m *domain.Message) *dbsync.Snapshot
}

// replicable reports whether a listener should act on e: it must be a local
// event with an authenticated actor. Events re-published while applying
// peer state carry an origin and are never replicated again.
func replicable(e event.Event) bool {
	return !e.Remote() && e.ActorID != 0
}

func listenerLogger(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", "replication", "listener", name)
}

// ====================================================================
// User registration
// ====================================================================

// UserRegistrationListener replicates newly registered accounts.
type UserRegistrationListener struct {
	peers  Replicator
	snaps  Snapshotter
	logger *slog.Logger
}

// NewUserRegistrationListener creates a UserRegistrationListener.
func NewUserRegistrationListener(peers Replicator, snaps Snapshotter, logger *slog.Logger) *UserRegistrationListener {
	return &UserRegistrationListener{peers: peers, snaps: snaps, logger: listenerLogger(logger, "user_registration")}
}

// OnEvent implements event.Observer.
func (l *UserRegistrationListener) OnEvent(e event.Event) {
	if e.Type != event.UserRegistered || !replicable(e) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), listenerTimeout)
	defer cancel()
	snap, err := l.snaps.UserSnapshot(ctx, e.ActorID)
	if err != nil {
		l.logger.Warn("snapshot user failed", "user_id", e.ActorID, "error", err)
		return
	}
	l.peers.BroadcastDatabaseUpdate(snap)
}

// ====================================================================
// User status
// ====================================================================

// UserDirectory reads users and records their presence flag.
type UserDirectory interface {
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	SetConnected(ctx context.Context, id int64, connected bool) error
}

// LocalBroadcaster writes an event payload to every local session.
type LocalBroadcaster interface {
	BroadcastLocally(payload any) int
}

// UserStatusListener tracks the local sessions of each user. The first
// login and the last logout on this node are announced to local sessions
// and to every peer as USER_STATUS_CHANGED.
type UserStatusListener struct {
	users  UserDirectory
	local  LocalBroadcaster
	peers  Replicator
	bus    Publisher
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	sessions map[int64]map[string]struct{}
}

// NewUserStatusListener creates a UserStatusListener and registers its
// inbound USER_STATUS handler on peers.
func NewUserStatusListener(users UserDirectory, local LocalBroadcaster, peers Replicator, bus Publisher, logger *slog.Logger) *UserStatusListener {
	l := &UserStatusListener{
		users:    users,
		local:    local,
		peers:    peers,
		bus:      bus,
		logger:   listenerLogger(logger, "user_status"),
		now:      time.Now,
		sessions: make(map[int64]map[string]struct{}),
	}
	peers.Handle(TypeUserStatus, l.applyRemote)
	return l
}

// OnEvent implements event.Observer.
func (l *UserStatusListener) OnEvent(e event.Event) {
	if !replicable(e) {
		return
	}
	var first, last bool
	var active int
	l.mu.Lock()
	switch e.Type {
	case event.Login:
		set := l.sessions[e.ActorID]
		if set == nil {
			set = make(map[string]struct{})
			l.sessions[e.ActorID] = set
		}
		if _, ok := set[e.SessionID]; ok {
			l.mu.Unlock()
			return
		}
		set[e.SessionID] = struct{}{}
		active = len(set)
		first = active == 1
	case event.Logout:
		set, ok := l.sessions[e.ActorID]
		if !ok {
			l.mu.Unlock()
			return
		}
		if _, ok := set[e.SessionID]; !ok {
			l.mu.Unlock()
			return
		}
		delete(set, e.SessionID)
		active = len(set)
		if active == 0 {
			delete(l.sessions, e.ActorID)
			last = true
		}
	default:
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()

	if first || last {
		l.announce(e.ActorID, first, active)
	}
}

// ActiveSessions returns the number of local sessions tracked for userID.
func (l *UserStatusListener) ActiveSessions(userID int64) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sessions[userID])
}

func (l *UserStatusListener) announce(userID int64, connected bool, active int) {
	ctx, cancel := context.WithTimeout(context.Background(), listenerTimeout)
	defer cancel()

	if err := l.users.SetConnected(ctx, userID, connected); err != nil {
		l.logger.Warn("update presence failed", "user_id", userID, "error", err)
	}
	u, err := l.users.GetUser(ctx, userID)
	if err != nil {
		l.logger.Warn("load user for status failed", "user_id", userID, "error", err)
		return
	}
	upd := service.UserStatusUpdate{
		Evento:          service.EventoUserStatusChanged,
		UsuarioID:       u.ID,
		UsuarioNombre:   u.Username,
		UsuarioEmail:    u.Email,
		Conectado:       connected,
		SesionesActivas: active,
		Timestamp:       l.now().UTC(),
	}
	l.local.BroadcastLocally(upd)
	if err := l.peers.Broadcast(TypeUserStatus, upd); err != nil {
		l.logger.Warn("replicate user status failed", "user_id", userID, "error", err)
	}
}

func (l *UserStatusListener) applyRemote(ctx context.Context, origin string, payload json.RawMessage) error {
	var upd service.UserStatusUpdate
	if err := json.Unmarshal(payload, &upd); err != nil {
		return fmt.Errorf("decode user status: %w", err)
	}
	if upd.UsuarioID == 0 {
		return fmt.Errorf("user status without user id")
	}
	if err := l.users.SetConnected(ctx, upd.UsuarioID, upd.Conectado); err != nil {
		l.logger.Debug("update remote presence failed", "user_id", upd.UsuarioID, "origin", origin, "error", err)
	}
	l.local.BroadcastLocally(upd)
	if l.bus != nil {
		l.bus.Publish(event.FromPeer(event.UserStatusChanged, origin, upd.UsuarioID, &upd))
	}
	return nil
}

// ====================================================================
// Channels, invitations, messages
// ====================================================================

// ChannelListener replicates newly created channels with their members.
type ChannelListener struct {
	peers  Replicator
	snaps  Snapshotter
	logger *slog.Logger
}

// NewChannelListener creates a ChannelListener.
func NewChannelListener(peers Replicator, snaps Snapshotter, logger *slog.Logger) *ChannelListener {
	return &ChannelListener{peers: peers, snaps: snaps, logger: listenerLogger(logger, "channel")}
}

// OnEvent implements event.Observer.
func (l *ChannelListener) OnEvent(e event.Event) {
	if e.Type != event.ChannelCreated || !replicable(e) {
		return
	}
	c, ok := e.Payload.(*domain.Channel)
	if !ok || c == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), listenerTimeout)
	defer cancel()
	snap, err := l.snaps.ChannelSnapshot(ctx, c.ID)
	if err != nil {
		l.logger.Warn("snapshot channel failed", "channel_id", c.ID, "error", err)
		return
	}
	l.peers.BroadcastDatabaseUpdate(snap)
}

// InvitationListener replicates invitation state changes, including the
// membership an accepted invitation creates.
type InvitationListener struct {
	peers  Replicator
	snaps  Snapshotter
	logger *slog.Logger
}

// NewInvitationListener creates an InvitationListener.
func NewInvitationListener(peers Replicator, snaps Snapshotter, logger *slog.Logger) *InvitationListener {
	return &InvitationListener{peers: peers, snaps: snaps, logger: listenerLogger(logger, "invitation")}
}

// OnEvent implements event.Observer.
func (l *InvitationListener) OnEvent(e event.Event) {
	switch e.Type {
	case event.InviteSent, event.InviteAccepted, event.InviteRejected:
	default:
		return
	}
	if !replicable(e) {
		return
	}
	ref, ok := e.Payload.(event.InvitationRef)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), listenerTimeout)
	defer cancel()
	snap, err := l.snaps.InvitationSnapshot(ctx, ref.ChannelID, ref.InviteeID)
	if err != nil {
		l.logger.Warn("snapshot invitation failed", "channel_id", ref.ChannelID, "invitee_id", ref.InviteeID, "error", err)
		return
	}
	l.peers.BroadcastDatabaseUpdate(snap)
}

// MessageListener replicates persisted messages so history converges on
// nodes that do not share a store.
type MessageListener struct {
	peers Replicator
	snaps Snapshotter
}

// NewMessageListener creates a MessageListener.
func NewMessageListener(peers Replicator, snaps Snapshotter) *MessageListener {
	return &MessageListener{peers: peers, snaps: snaps}
}

// OnEvent implements event.Observer.
func (l *MessageListener) OnEvent(e event.Event) {
	if e.Type != event.MessageSent || !replicable(e) {
		return
	}
	if m, ok := e.Payload.(*domain.Message); ok && m != nil {
		l.peers.BroadcastDatabaseUpdate(l.snaps.MessageSnapshot(m))
	}
}
