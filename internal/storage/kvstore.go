package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/yndnr/chatmesh-go/internal/core/domain"
)

// Key layout. Numeric ids are zero padded so prefix scans return them in order.
const (
	prefixUserID      = "u/id/"
	prefixUserEmail   = "u/email/"
	prefixChannelID   = "c/id/"
	prefixChannelUUID = "c/uuid/"
	prefixMember      = "m/"  // m/<channel>/<user>
	prefixUserMember  = "um/" // um/<user>/<channel>
	prefixMessage     = "msg/"
	prefixInvitation  = "inv/" // inv/<channel>/<invitee>
	prefixLog         = "log/"
	prefixApplied     = "dbsync/applied/"
)

func idKey(prefix string, id int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefix, id))
}

func pairKey(prefix string, a, b int64) []byte {
	return []byte(fmt.Sprintf("%s%020d/%020d", prefix, a, b))
}

// KVStore implements Store on top of a KVEngine. Writes are serialised by a
// store-wide mutex so secondary indexes stay consistent with primary records.
type KVStore struct {
	kv     KVEngine
	ids    *IDAllocator
	logger *slog.Logger

	mu sync.Mutex
}

var _ Store = (*KVStore)(nil)

// NewKVStore wraps kv and seeds the id allocator from the records already
// present, so a restarted node never reissues an id.
func NewKVStore(ctx context.Context, kv KVEngine, serverID string, logger *slog.Logger) (*KVStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &KVStore{
		kv:     kv,
		ids:    NewIDAllocator(serverID),
		logger: logger.With("component", "kvstore"),
	}
	seeds := []struct {
		prefix string
		kind   string
	}{
		{prefixUserID, KindUser},
		{prefixChannelID, KindChannel},
		{prefixMessage, KindMessage},
		{prefixLog, KindLog},
	}
	for _, sd := range seeds {
		kind := sd.kind
		err := kv.Scan(ctx, []byte(sd.prefix), func(key, _ []byte) bool {
			if id, err := strconv.ParseInt(string(key[len(sd.prefix):]), 10, 64); err == nil {
				s.ids.Observe(kind, id)
			}
			return true
		})
		if err != nil {
			return nil, fmt.Errorf("seed %s ids: %w", kind, err)
		}
	}
	invs, err := s.ListInvitations(ctx)
	if err != nil {
		return nil, fmt.Errorf("seed invitation ids: %w", err)
	}
	for _, inv := range invs {
		s.ids.Observe(KindInvitation, inv.ID)
	}
	return s, nil
}

// IDs exposes the allocator.
func (s *KVStore) IDs() *IDAllocator { return s.ids }

// Close closes the underlying engine.
func (s *KVStore) Close() error { return s.kv.Close() }

func (s *KVStore) getJSON(ctx context.Context, key []byte, v any) error {
	raw, err := s.kv.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

func (s *KVStore) putJSON(ctx context.Context, key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, key, raw)
}

func scanJSON[T any](ctx context.Context, kv KVEngine, prefix string) ([]*T, error) {
	var out []*T
	var decodeErr error
	err := kv.Scan(ctx, []byte(prefix), func(_, value []byte) bool {
		v := new(T)
		if err := json.Unmarshal(value, v); err != nil {
			decodeErr = err
			return false
		}
		out = append(out, v)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, decodeErr
}

func storageErr(op string, err error) error {
	return domain.ErrStorage.WithDetails(op).WithCause(err)
}

// --- users ---

// CreateUser implements UserRepository.
func (s *KVStore) CreateUser(ctx context.Context, u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u.Email = domain.NormalizeEmail(u.Email)
	if _, err := s.kv.Get(ctx, []byte(prefixUserEmail+u.Email)); err == nil {
		return domain.ErrUserExists
	} else if !errors.Is(err, ErrKeyNotFound) {
		return storageErr("create user", err)
	}
	if u.ID == 0 {
		u.ID = s.ids.Next(KindUser)
	}
	return s.writeUser(ctx, u)
}

func (s *KVStore) writeUser(ctx context.Context, u *domain.User) error {
	if err := s.putJSON(ctx, idKey(prefixUserID, u.ID), u); err != nil {
		return storageErr("write user", err)
	}
	if err := s.kv.Set(ctx, []byte(prefixUserEmail+u.Email), []byte(strconv.FormatInt(u.ID, 10))); err != nil {
		return storageErr("write user email", err)
	}
	return nil
}

// UpsertUser implements UserRepository. An email already owned by another id
// stays with the smaller id. An existing record keeps its presence flag.
func (s *KVStore) UpsertUser(ctx context.Context, u *domain.User) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u.Email = domain.NormalizeEmail(u.Email)
	s.ids.Observe(KindUser, u.ID)

	var current domain.User
	err := s.getJSON(ctx, idKey(prefixUserID, u.ID), &current)
	exists := err == nil
	if err != nil && !errors.Is(err, ErrKeyNotFound) {
		return false, storageErr("upsert user", err)
	}
	if exists && current.Equal(u) {
		return false, nil
	}

	if raw, err := s.kv.Get(ctx, []byte(prefixUserEmail+u.Email)); err == nil {
		owner, _ := strconv.ParseInt(string(raw), 10, 64)
		if owner != u.ID {
			if owner < u.ID {
				return false, nil
			}
			if err := s.kv.Delete(ctx, idKey(prefixUserID, owner)); err != nil {
				return false, storageErr("replace user", err)
			}
			s.logger.Warn("email clash resolved", "email", u.Email, "kept", u.ID, "dropped", owner)
		}
	}
	if exists && current.Email != u.Email {
		if err := s.kv.Delete(ctx, []byte(prefixUserEmail+current.Email)); err != nil {
			return false, storageErr("move user email", err)
		}
	}
	rec := *u
	if exists {
		rec.Connected = current.Connected
	}
	if err := s.writeUser(ctx, &rec); err != nil {
		return false, err
	}
	return true, nil
}

// GetUser implements UserRepository.
func (s *KVStore) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	var u domain.User
	if err := s.getJSON(ctx, idKey(prefixUserID, id), &u); err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, storageErr("get user", err)
	}
	return &u, nil
}

// GetUserByEmail implements UserRepository.
func (s *KVStore) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	raw, err := s.kv.Get(ctx, []byte(prefixUserEmail+domain.NormalizeEmail(email)))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, storageErr("get user by email", err)
	}
	id, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return nil, storageErr("decode email index", err)
	}
	return s.GetUser(ctx, id)
}

// ListUsers implements UserRepository.
func (s *KVStore) ListUsers(ctx context.Context) ([]*domain.User, error) {
	users, err := scanJSON[domain.User](ctx, s.kv, prefixUserID)
	if err != nil {
		return nil, storageErr("list users", err)
	}
	return users, nil
}

// SetConnected implements UserRepository.
func (s *KVStore) SetConnected(ctx context.Context, id int64, connected bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if u.Connected == connected {
		return nil
	}
	u.Connected = connected
	if err := s.putJSON(ctx, idKey(prefixUserID, id), u); err != nil {
		return storageErr("set connected", err)
	}
	return nil
}

// --- channels ---

// CreateChannel implements ChannelRepository.
func (s *KVStore) CreateChannel(ctx context.Context, c *domain.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.kv.Get(ctx, []byte(prefixChannelUUID+c.UUID)); err == nil {
		return domain.ErrChannelExists
	}
	if c.ID == 0 {
		c.ID = s.ids.Next(KindChannel)
	}
	return s.writeChannel(ctx, c)
}

func (s *KVStore) writeChannel(ctx context.Context, c *domain.Channel) error {
	if err := s.putJSON(ctx, idKey(prefixChannelID, c.ID), c); err != nil {
		return storageErr("write channel", err)
	}
	if c.UUID != "" {
		if err := s.kv.Set(ctx, []byte(prefixChannelUUID+c.UUID), []byte(strconv.FormatInt(c.ID, 10))); err != nil {
			return storageErr("write channel uuid", err)
		}
	}
	return nil
}

// UpsertChannel implements ChannelRepository.
func (s *KVStore) UpsertChannel(ctx context.Context, c *domain.Channel) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ids.Observe(KindChannel, c.ID)
	var current domain.Channel
	err := s.getJSON(ctx, idKey(prefixChannelID, c.ID), &current)
	if err == nil && current == *c {
		return false, nil
	}
	if err != nil && !errors.Is(err, ErrKeyNotFound) {
		return false, storageErr("upsert channel", err)
	}
	if err := s.writeChannel(ctx, c); err != nil {
		return false, err
	}
	return true, nil
}

// GetChannel implements ChannelRepository.
func (s *KVStore) GetChannel(ctx context.Context, id int64) (*domain.Channel, error) {
	var c domain.Channel
	if err := s.getJSON(ctx, idKey(prefixChannelID, id), &c); err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, domain.ErrChannelNotFound
		}
		return nil, storageErr("get channel", err)
	}
	return &c, nil
}

// GetChannelByUUID implements ChannelRepository.
func (s *KVStore) GetChannelByUUID(ctx context.Context, uuid string) (*domain.Channel, error) {
	raw, err := s.kv.Get(ctx, []byte(prefixChannelUUID+uuid))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, domain.ErrChannelNotFound
		}
		return nil, storageErr("get channel by uuid", err)
	}
	id, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return nil, storageErr("decode uuid index", err)
	}
	return s.GetChannel(ctx, id)
}

// ListChannels implements ChannelRepository.
func (s *KVStore) ListChannels(ctx context.Context) ([]*domain.Channel, error) {
	chans, err := scanJSON[domain.Channel](ctx, s.kv, prefixChannelID)
	if err != nil {
		return nil, storageErr("list channels", err)
	}
	return chans, nil
}

// AddMember implements ChannelRepository.
func (s *KVStore) AddMember(ctx context.Context, channelID, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey(prefixMember, channelID, userID)
	if _, err := s.kv.Get(ctx, key); err == nil {
		return false, nil
	}
	if err := s.kv.Set(ctx, key, nil); err != nil {
		return false, storageErr("add member", err)
	}
	if err := s.kv.Set(ctx, pairKey(prefixUserMember, userID, channelID), nil); err != nil {
		return false, storageErr("add member index", err)
	}
	return true, nil
}

// IsMember implements ChannelRepository.
func (s *KVStore) IsMember(ctx context.Context, channelID, userID int64) (bool, error) {
	_, err := s.kv.Get(ctx, pairKey(prefixMember, channelID, userID))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrKeyNotFound):
		return false, nil
	}
	return false, storageErr("is member", err)
}

// scanPairs returns the second id of every pair key under prefix.
func (s *KVStore) scanPairs(ctx context.Context, prefix string) ([]int64, error) {
	var ids []int64
	err := s.kv.Scan(ctx, []byte(prefix), func(key, _ []byte) bool {
		if id, err := strconv.ParseInt(string(key[len(prefix):]), 10, 64); err == nil {
			ids = append(ids, id)
		}
		return true
	})
	return ids, err
}

// ListMembers implements ChannelRepository.
func (s *KVStore) ListMembers(ctx context.Context, channelID int64) ([]int64, error) {
	ids, err := s.scanPairs(ctx, fmt.Sprintf("%s%020d/", prefixMember, channelID))
	if err != nil {
		return nil, storageErr("list members", err)
	}
	return ids, nil
}

// ListUserChannels implements ChannelRepository.
func (s *KVStore) ListUserChannels(ctx context.Context, userID int64) ([]*domain.Channel, error) {
	ids, err := s.scanPairs(ctx, fmt.Sprintf("%s%020d/", prefixUserMember, userID))
	if err != nil {
		return nil, storageErr("list user channels", err)
	}
	out := make([]*domain.Channel, 0, len(ids))
	for _, id := range ids {
		c, err := s.GetChannel(ctx, id)
		if errors.Is(err, domain.ErrChannelNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// ListMemberships implements ChannelRepository.
func (s *KVStore) ListMemberships(ctx context.Context) ([]domain.Membership, error) {
	var out []domain.Membership
	err := s.kv.Scan(ctx, []byte(prefixMember), func(key, _ []byte) bool {
		chanPart, userPart, ok := strings.Cut(string(key[len(prefixMember):]), "/")
		if !ok {
			return true
		}
		c, err1 := strconv.ParseInt(chanPart, 10, 64)
		u, err2 := strconv.ParseInt(userPart, 10, 64)
		if err1 == nil && err2 == nil {
			out = append(out, domain.Membership{ChannelID: c, UserID: u})
		}
		return true
	})
	if err != nil {
		return nil, storageErr("list memberships", err)
	}
	return out, nil
}

// --- messages ---

// SaveMessage implements MessageRepository.
func (s *KVStore) SaveMessage(ctx context.Context, m *domain.Message) error {
	if m.ID == 0 {
		m.ID = s.ids.Next(KindMessage)
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	if err := s.putJSON(ctx, idKey(prefixMessage, m.ID), m); err != nil {
		return storageErr("save message", err)
	}
	return nil
}

// InsertMessage implements MessageRepository.
func (s *KVStore) InsertMessage(ctx context.Context, m *domain.Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ids.Observe(KindMessage, m.ID)
	if _, err := s.kv.Get(ctx, idKey(prefixMessage, m.ID)); err == nil {
		return false, nil
	} else if !errors.Is(err, ErrKeyNotFound) {
		return false, storageErr("insert message", err)
	}
	if err := s.putJSON(ctx, idKey(prefixMessage, m.ID), m); err != nil {
		return false, storageErr("insert message", err)
	}
	return true, nil
}

// GetMessage implements MessageRepository.
func (s *KVStore) GetMessage(ctx context.Context, id int64) (*domain.Message, error) {
	var m domain.Message
	if err := s.getJSON(ctx, idKey(prefixMessage, id), &m); err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, storageErr("get message", err)
	}
	return &m, nil
}

// ListMessages implements MessageRepository.
func (s *KVStore) ListMessages(ctx context.Context) ([]*domain.Message, error) {
	msgs, err := scanJSON[domain.Message](ctx, s.kv, prefixMessage)
	if err != nil {
		return nil, storageErr("list messages", err)
	}
	SortMessages(msgs)
	return msgs, nil
}

// ListUserMessages implements MessageRepository.
func (s *KVStore) ListUserMessages(ctx context.Context, userID int64, channelIDs []int64) ([]*domain.Message, error) {
	all, err := s.ListMessages(ctx)
	if err != nil {
		return nil, err
	}
	return FilterUserMessages(all, userID, channelIDs), nil
}

// FilterUserMessages keeps the messages visible to userID.
func FilterUserMessages(all []*domain.Message, userID int64, channelIDs []int64) []*domain.Message {
	chans := make(map[int64]struct{}, len(channelIDs))
	for _, id := range channelIDs {
		chans[id] = struct{}{}
	}
	out := make([]*domain.Message, 0)
	for _, m := range all {
		if m.IsChannel() {
			if _, ok := chans[m.ChannelID]; ok {
				out = append(out, m)
			}
			continue
		}
		if m.SenderID == userID || m.ReceiverID == userID {
			out = append(out, m)
		}
	}
	return out
}

// SortMessages orders messages by timestamp, then id.
func SortMessages(msgs []*domain.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].Timestamp.Before(msgs[j].Timestamp)
		}
		return msgs[i].ID < msgs[j].ID
	})
}

// --- invitations ---

// SaveInvitation implements InvitationRepository.
func (s *KVStore) SaveInvitation(ctx context.Context, inv *domain.Invitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if inv.ID == 0 {
		inv.ID = s.ids.Next(KindInvitation)
	}
	if err := s.putJSON(ctx, pairKey(prefixInvitation, inv.ChannelID, inv.InviteeID), inv); err != nil {
		return storageErr("save invitation", err)
	}
	return nil
}

// UpsertInvitation implements InvitationRepository.
func (s *KVStore) UpsertInvitation(ctx context.Context, inv *domain.Invitation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ids.Observe(KindInvitation, inv.ID)
	key := pairKey(prefixInvitation, inv.ChannelID, inv.InviteeID)
	var current domain.Invitation
	err := s.getJSON(ctx, key, &current)
	switch {
	case err == nil:
		if !InvitationSupersedes(&current, inv) {
			return false, nil
		}
	case !errors.Is(err, ErrKeyNotFound):
		return false, storageErr("upsert invitation", err)
	}
	if err := s.putJSON(ctx, key, inv); err != nil {
		return false, storageErr("upsert invitation", err)
	}
	return true, nil
}

// InvitationSupersedes reports whether incoming should replace current. State
// only advances; between rows of the same rank the newer one wins, and exact
// replays are ignored.
func InvitationSupersedes(current, incoming *domain.Invitation) bool {
	if incoming.State.Rank() != current.State.Rank() {
		return incoming.State.Rank() > current.State.Rank()
	}
	if current.State.Terminal() {
		return false
	}
	if incoming.ID == current.ID {
		return incoming.InviterID != current.InviterID || !incoming.CreatedAt.Equal(current.CreatedAt)
	}
	return incoming.CreatedAt.After(current.CreatedAt)
}

// GetInvitation implements InvitationRepository.
func (s *KVStore) GetInvitation(ctx context.Context, channelID, inviteeID int64) (*domain.Invitation, error) {
	var inv domain.Invitation
	if err := s.getJSON(ctx, pairKey(prefixInvitation, channelID, inviteeID), &inv); err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, domain.ErrInvitationNotFound
		}
		return nil, storageErr("get invitation", err)
	}
	return &inv, nil
}

// ListInvitations implements InvitationRepository.
func (s *KVStore) ListInvitations(ctx context.Context) ([]*domain.Invitation, error) {
	invs, err := scanJSON[domain.Invitation](ctx, s.kv, prefixInvitation)
	if err != nil {
		return nil, storageErr("list invitations", err)
	}
	return invs, nil
}

// ListReceived implements InvitationRepository.
func (s *KVStore) ListReceived(ctx context.Context, inviteeID int64) ([]*domain.Invitation, error) {
	return s.filterInvitations(ctx, func(inv *domain.Invitation) bool { return inv.InviteeID == inviteeID })
}

// ListSent implements InvitationRepository.
func (s *KVStore) ListSent(ctx context.Context, inviterID int64) ([]*domain.Invitation, error) {
	return s.filterInvitations(ctx, func(inv *domain.Invitation) bool { return inv.InviterID == inviterID })
}

func (s *KVStore) filterInvitations(ctx context.Context, keep func(*domain.Invitation) bool) ([]*domain.Invitation, error) {
	all, err := s.ListInvitations(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Invitation, 0)
	for _, inv := range all {
		if keep(inv) {
			out = append(out, inv)
		}
	}
	return out, nil
}

// --- logs ---

// AppendLog implements LogRepository.
func (s *KVStore) AppendLog(ctx context.Context, e *domain.LogEntry) error {
	if e.ID == 0 {
		e.ID = s.ids.Next(KindLog)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if err := s.putJSON(ctx, idKey(prefixLog, e.ID), e); err != nil {
		return storageErr("append log", err)
	}
	return nil
}

// ListLogs implements LogRepository.
func (s *KVStore) ListLogs(ctx context.Context, limit int) ([]*domain.LogEntry, error) {
	logs, err := scanJSON[domain.LogEntry](ctx, s.kv, prefixLog)
	if err != nil {
		return nil, storageErr("list logs", err)
	}
	sort.SliceStable(logs, func(i, j int) bool { return logs[i].Timestamp.Before(logs[j].Timestamp) })
	if limit > 0 && len(logs) > limit {
		logs = logs[len(logs)-limit:]
	}
	return logs, nil
}

// --- ledger ---

// MarkApplied implements OpLedger.
func (s *KVStore) MarkApplied(ctx context.Context, opID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := []byte(prefixApplied + opID)
	if _, err := s.kv.Get(ctx, key); err == nil {
		return false, nil
	} else if !errors.Is(err, ErrKeyNotFound) {
		return false, storageErr("mark applied", err)
	}
	if err := s.kv.SetWithTTL(ctx, key, []byte{1}, ttl); err != nil {
		return false, storageErr("mark applied", err)
	}
	return true, nil
}
