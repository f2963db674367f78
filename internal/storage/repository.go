package storage

import (
	"context"
	"time"

	"github.com/yndnr/chatmesh-go/internal/core/domain"
)

// UserRepository persists user accounts.
type UserRepository interface {
	// CreateUser assigns an id when u.ID is zero. Returns domain.ErrUserExists
	// when the email is taken.
	CreateUser(ctx context.Context, u *domain.User) error
	// UpsertUser applies a replicated record and reports whether stored state changed.
	UpsertUser(ctx context.Context, u *domain.User) (bool, error)
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	ListUsers(ctx context.Context) ([]*domain.User, error)
	SetConnected(ctx context.Context, id int64, connected bool) error
}

// ChannelRepository persists channels and their membership sets.
type ChannelRepository interface {
	CreateChannel(ctx context.Context, c *domain.Channel) error
	UpsertChannel(ctx context.Context, c *domain.Channel) (bool, error)
	GetChannel(ctx context.Context, id int64) (*domain.Channel, error)
	GetChannelByUUID(ctx context.Context, uuid string) (*domain.Channel, error)
	ListChannels(ctx context.Context) ([]*domain.Channel, error)
	// AddMember reports whether the membership was new.
	AddMember(ctx context.Context, channelID, userID int64) (bool, error)
	IsMember(ctx context.Context, channelID, userID int64) (bool, error)
	ListMembers(ctx context.Context, channelID int64) ([]int64, error)
	ListUserChannels(ctx context.Context, userID int64) ([]*domain.Channel, error)
	ListMemberships(ctx context.Context) ([]domain.Membership, error)
}

// MessageRepository persists chat messages. Messages are insert-only.
type MessageRepository interface {
	// SaveMessage assigns an id when m.ID is zero.
	SaveMessage(ctx context.Context, m *domain.Message) error
	// InsertMessage stores m unless its id already exists.
	InsertMessage(ctx context.Context, m *domain.Message) (bool, error)
	GetMessage(ctx context.Context, id int64) (*domain.Message, error)
	ListMessages(ctx context.Context) ([]*domain.Message, error)
	// ListUserMessages returns the direct messages sent or received by userID
	// plus every message of channelIDs, oldest first.
	ListUserMessages(ctx context.Context, userID int64, channelIDs []int64) ([]*domain.Message, error)
}

// InvitationRepository persists channel invitations, one per channel and invitee.
type InvitationRepository interface {
	// SaveInvitation assigns an id when inv.ID is zero and overwrites the stored row.
	SaveInvitation(ctx context.Context, inv *domain.Invitation) error
	// UpsertInvitation applies a replicated record. State never moves backwards.
	UpsertInvitation(ctx context.Context, inv *domain.Invitation) (bool, error)
	GetInvitation(ctx context.Context, channelID, inviteeID int64) (*domain.Invitation, error)
	ListReceived(ctx context.Context, inviteeID int64) ([]*domain.Invitation, error)
	ListSent(ctx context.Context, inviterID int64) ([]*domain.Invitation, error)
	ListInvitations(ctx context.Context) ([]*domain.Invitation, error)
}

// LogRepository persists the audit trail.
type LogRepository interface {
	AppendLog(ctx context.Context, e *domain.LogEntry) error
	// ListLogs returns at most limit entries, newest last. limit <= 0 means all.
	ListLogs(ctx context.Context, limit int) ([]*domain.LogEntry, error)
}

// OpLedger records replication operations that were already applied.
type OpLedger interface {
	// MarkApplied returns true the first time opID is seen within ttl.
	MarkApplied(ctx context.Context, opID string, ttl time.Duration) (bool, error)
}

// Store aggregates every repository served by one backend.
type Store interface {
	UserRepository
	ChannelRepository
	MessageRepository
	InvitationRepository
	LogRepository
	OpLedger
	Close() error
}
