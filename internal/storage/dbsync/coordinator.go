package dbsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/yndnr/chatmesh-go/internal/core/domain"
	"github.com/yndnr/chatmesh-go/internal/storage"
)

// DefaultLedgerTTL is how long an applied operation id is remembered.
const DefaultLedgerTTL = 24 * time.Hour

// Store is the persistence surface the coordinator reads and writes.
type Store interface {
	storage.UserRepository
	storage.ChannelRepository
	storage.MessageRepository
	storage.InvitationRepository
	storage.OpLedger
}

// Metrics receives apply outcomes: "applied", "unchanged", "duplicate" or "error".
type Metrics interface {
	IncSyncApply(result string)
}

// Coordinator captures and applies Snapshots.
type Coordinator struct {
	store     Store
	logger    *slog.Logger
	metrics   Metrics
	ledgerTTL time.Duration
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithLedgerTTL overrides DefaultLedgerTTL.
func WithLedgerTTL(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.ledgerTTL = d
		}
	}
}

// New creates a Coordinator.
func New(store Store, logger *slog.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		store:     store,
		logger:    logger.With("component", "dbsync"),
		ledgerTTL: DefaultLedgerTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewOp returns a fresh operation id.
func (c *Coordinator) NewOp() string {
	return domain.NewOpID()
}

// Capture returns every replicated record held by this node.
func (c *Coordinator) Capture(ctx context.Context) (*Snapshot, error) {
	users, err := c.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture users: %w", err)
	}
	chans, err := c.store.ListChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture channels: %w", err)
	}
	members, err := c.store.ListMemberships(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture memberships: %w", err)
	}
	msgs, err := c.store.ListMessages(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture messages: %w", err)
	}
	invs, err := c.store.ListInvitations(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture invitations: %w", err)
	}
	return &Snapshot{
		OpID:        c.NewOp(),
		Users:       users,
		Channels:    chans,
		Memberships: members,
		Messages:    msgs,
		Invitations: invs,
	}, nil
}

// UserSnapshot captures one user record.
func (c *Coordinator) UserSnapshot(ctx context.Context, userID int64) (*Snapshot, error) {
	u, err := c.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Snapshot{OpID: c.NewOp(), Users: []*domain.User{u}}, nil
}

// ChannelSnapshot captures a channel with its membership set and the member
// user records, so a receiver that never saw a member can still resolve it.
func (c *Coordinator) ChannelSnapshot(ctx context.Context, channelID int64) (*Snapshot, error) {
	ch, err := c.store.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	members, err := c.store.ListMembers(ctx, channelID)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{OpID: c.NewOp(), Channels: []*domain.Channel{ch}}
	for _, uid := range members {
		snap.Memberships = append(snap.Memberships, domain.Membership{ChannelID: channelID, UserID: uid})
		if u, err := c.store.GetUser(ctx, uid); err == nil {
			snap.Users = append(snap.Users, u)
		}
	}
	return snap, nil
}

// InvitationSnapshot captures the channel, its members, the invitation and
// both parties of the invitation.
func (c *Coordinator) InvitationSnapshot(ctx context.Context, channelID, inviteeID int64) (*Snapshot, error) {
	snap, err := c.ChannelSnapshot(ctx, channelID)
	if err != nil {
		return nil, err
	}
	inv, err := c.store.GetInvitation(ctx, channelID, inviteeID)
	if err != nil {
		return nil, err
	}
	snap.Invitations = []*domain.Invitation{inv}
	seen := make(map[int64]bool, len(snap.Users))
	for _, u := range snap.Users {
		seen[u.ID] = true
	}
	for _, uid := range []int64{inv.InviterID, inv.InviteeID} {
		if seen[uid] {
			continue
		}
		if u, err := c.store.GetUser(ctx, uid); err == nil {
			snap.Users = append(snap.Users, u)
			seen[uid] = true
		}
	}
	return snap, nil
}

// MessageSnapshot wraps one persisted message.
func (c *Coordinator) MessageSnapshot(m *domain.Message) *Snapshot {
	return &Snapshot{OpID: c.NewOp(), Messages: []*domain.Message{m}}
}

// Apply converges local storage on snap and reports whether anything
// changed. A snapshot whose OpID was already applied is a no-op. Record
// failures are collected so one bad row does not block the rest.
func (c *Coordinator) Apply(ctx context.Context, snap *Snapshot) (bool, error) {
	if snap.Empty() {
		return false, nil
	}
	if snap.OpID != "" {
		first, err := c.store.MarkApplied(ctx, snap.OpID, c.ledgerTTL)
		if err != nil {
			c.record("error")
			return false, fmt.Errorf("ledger: %w", err)
		}
		if !first {
			c.record("duplicate")
			c.logger.Debug("snapshot already applied", "op_id", snap.OpID)
			return false, nil
		}
	}

	var changed bool
	var errs []error
	mark := func(ok bool, err error) {
		if err != nil {
			errs = append(errs, err)
			return
		}
		changed = changed || ok
	}

	for _, u := range snap.Users {
		mark(c.store.UpsertUser(ctx, u))
	}
	for _, ch := range snap.Channels {
		mark(c.store.UpsertChannel(ctx, ch))
	}
	for _, m := range snap.Memberships {
		mark(c.store.AddMember(ctx, m.ChannelID, m.UserID))
	}
	for _, inv := range snap.Invitations {
		mark(c.store.UpsertInvitation(ctx, inv))
	}
	for _, m := range snap.Messages {
		if err := m.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("message %d: %w", m.ID, err))
			continue
		}
		mark(c.store.InsertMessage(ctx, m))
	}

	err := errors.Join(errs...)
	switch {
	case err != nil:
		c.record("error")
		c.logger.Warn("snapshot applied with errors", "op_id", snap.OpID, "records", snap.Size(), "error", err)
	case changed:
		c.record("applied")
		c.logger.Debug("snapshot applied", "op_id", snap.OpID, "records", snap.Size())
	default:
		c.record("unchanged")
	}
	return changed, err
}

func (c *Coordinator) record(result string) {
	if c.metrics != nil {
		c.metrics.IncSyncApply(result)
	}
}
