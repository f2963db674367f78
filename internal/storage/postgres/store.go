package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yndnr/chatmesh-go/internal/core/domain"
	"github.com/yndnr/chatmesh-go/internal/storage"
)

const uniqueViolation = "23505"

// Store implements storage.Store on PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	ids    *storage.IDAllocator
	logger *slog.Logger
}

var _ storage.Store = (*Store)(nil)

// Open connects to dsn, creates the schema when missing and seeds the id
// allocator for serverID.
func Open(ctx context.Context, dsn, serverID string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	s := &Store{
		pool:   pool,
		ids:    storage.NewIDAllocator(serverID),
		logger: logger.With("component", "postgres"),
	}
	if err := s.seedIDs(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	s.logger.Info("postgres store ready")
	return s, nil
}

func (s *Store) seedIDs(ctx context.Context) error {
	tables := map[string]string{
		storage.KindUser:       "users",
		storage.KindChannel:    "channels",
		storage.KindMessage:    "messages",
		storage.KindInvitation: "invitations",
		storage.KindLog:        "audit_logs",
	}
	for kind, table := range tables {
		var max int64
		q := fmt.Sprintf("SELECT COALESCE(MAX(id), 0) FROM %s WHERE id & 1023 = $1", table)
		if err := s.pool.QueryRow(ctx, q, s.ids.Tag()).Scan(&max); err != nil {
			return fmt.Errorf("postgres: seed %s ids: %w", kind, err)
		}
		s.ids.Observe(kind, max)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func storageErr(op string, err error) error {
	return domain.ErrStorage.WithDetails(op).WithCause(err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// --- users ---

const userColumns = "id, username, email, password_hash, photo, ip, connected"

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Photo, &u.IP, &u.Connected); err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser implements storage.UserRepository.
func (s *Store) CreateUser(ctx context.Context, u *domain.User) error {
	u.Email = domain.NormalizeEmail(u.Email)
	if u.ID == 0 {
		u.ID = s.ids.Next(storage.KindUser)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.Photo, u.IP, u.Connected)
	if isUniqueViolation(err) {
		return domain.ErrUserExists
	}
	if err != nil {
		return storageErr("create user", err)
	}
	return nil
}

// UpsertUser implements storage.UserRepository. An email already owned by
// another id stays with the smaller id. An existing row keeps its presence
// flag.
func (s *Store) UpsertUser(ctx context.Context, u *domain.User) (bool, error) {
	u.Email = domain.NormalizeEmail(u.Email)
	s.ids.Observe(storage.KindUser, u.ID)

	var changed bool
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var owner int64
		err := tx.QueryRow(ctx, `SELECT id FROM users WHERE email = $1 FOR UPDATE`, u.Email).Scan(&owner)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return err
		case owner != u.ID && owner < u.ID:
			return nil
		case owner != u.ID:
			if _, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, owner); err != nil {
				return err
			}
			s.logger.Warn("email clash resolved", "email", u.Email, "kept", u.ID, "dropped", owner)
		}
		tag, err := tx.Exec(ctx, `
			INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET
				username = EXCLUDED.username, email = EXCLUDED.email,
				password_hash = EXCLUDED.password_hash, photo = EXCLUDED.photo,
				ip = EXCLUDED.ip
			WHERE (users.username, users.email, users.password_hash, users.photo, users.ip)
				IS DISTINCT FROM
				(EXCLUDED.username, EXCLUDED.email, EXCLUDED.password_hash, EXCLUDED.photo, EXCLUDED.ip)`,
			u.ID, u.Username, u.Email, u.PasswordHash, u.Photo, u.IP, u.Connected)
		if err != nil {
			return err
		}
		changed = tag.RowsAffected() > 0
		return nil
	})
	if err != nil {
		return false, storageErr("upsert user", err)
	}
	return changed, nil
}

// GetUser implements storage.UserRepository.
func (s *Store) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, storageErr("get user", err)
	}
	return u, nil
}

// GetUserByEmail implements storage.UserRepository.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, domain.NormalizeEmail(email)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, storageErr("get user by email", err)
	}
	return u, nil
}

// ListUsers implements storage.UserRepository.
func (s *Store) ListUsers(ctx context.Context) ([]*domain.User, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, storageErr("list users", err)
	}
	users, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (*domain.User, error) { return scanUser(r) })
	if err != nil {
		return nil, storageErr("list users", err)
	}
	return users, nil
}

// SetConnected implements storage.UserRepository.
func (s *Store) SetConnected(ctx context.Context, id int64, connected bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET connected = $2 WHERE id = $1`, id, connected)
	if err != nil {
		return storageErr("set connected", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// --- channels ---

const channelColumns = "id, uuid, name, private, owner_id"

func scanChannel(row pgx.Row) (*domain.Channel, error) {
	var c domain.Channel
	if err := row.Scan(&c.ID, &c.UUID, &c.Name, &c.Private, &c.OwnerID); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) queryChannels(ctx context.Context, op, q string, args ...any) ([]*domain.Channel, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	chans, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (*domain.Channel, error) { return scanChannel(r) })
	if err != nil {
		return nil, storageErr(op, err)
	}
	return chans, nil
}

// CreateChannel implements storage.ChannelRepository.
func (s *Store) CreateChannel(ctx context.Context, c *domain.Channel) error {
	if c.ID == 0 {
		c.ID = s.ids.Next(storage.KindChannel)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO channels (`+channelColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.UUID, c.Name, c.Private, c.OwnerID)
	if isUniqueViolation(err) {
		return domain.ErrChannelExists
	}
	if err != nil {
		return storageErr("create channel", err)
	}
	return nil
}

// UpsertChannel implements storage.ChannelRepository.
func (s *Store) UpsertChannel(ctx context.Context, c *domain.Channel) (bool, error) {
	s.ids.Observe(storage.KindChannel, c.ID)
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO channels (`+channelColumns+`) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			uuid = EXCLUDED.uuid, name = EXCLUDED.name,
			private = EXCLUDED.private, owner_id = EXCLUDED.owner_id
		WHERE (channels.uuid, channels.name, channels.private, channels.owner_id)
			IS DISTINCT FROM (EXCLUDED.uuid, EXCLUDED.name, EXCLUDED.private, EXCLUDED.owner_id)`,
		c.ID, c.UUID, c.Name, c.Private, c.OwnerID)
	if err != nil {
		return false, storageErr("upsert channel", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetChannel implements storage.ChannelRepository.
func (s *Store) GetChannel(ctx context.Context, id int64) (*domain.Channel, error) {
	c, err := scanChannel(s.pool.QueryRow(ctx, `SELECT `+channelColumns+` FROM channels WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrChannelNotFound
	}
	if err != nil {
		return nil, storageErr("get channel", err)
	}
	return c, nil
}

// GetChannelByUUID implements storage.ChannelRepository.
func (s *Store) GetChannelByUUID(ctx context.Context, uuid string) (*domain.Channel, error) {
	c, err := scanChannel(s.pool.QueryRow(ctx, `SELECT `+channelColumns+` FROM channels WHERE uuid = $1`, uuid))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrChannelNotFound
	}
	if err != nil {
		return nil, storageErr("get channel by uuid", err)
	}
	return c, nil
}

// ListChannels implements storage.ChannelRepository.
func (s *Store) ListChannels(ctx context.Context) ([]*domain.Channel, error) {
	return s.queryChannels(ctx, "list channels", `SELECT `+channelColumns+` FROM channels ORDER BY id`)
}

// AddMember implements storage.ChannelRepository.
func (s *Store) AddMember(ctx context.Context, channelID, userID int64) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO channel_members (channel_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		channelID, userID)
	if err != nil {
		return false, storageErr("add member", err)
	}
	return tag.RowsAffected() > 0, nil
}

// IsMember implements storage.ChannelRepository.
func (s *Store) IsMember(ctx context.Context, channelID, userID int64) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM channel_members WHERE channel_id = $1 AND user_id = $2)`,
		channelID, userID).Scan(&ok)
	if err != nil {
		return false, storageErr("is member", err)
	}
	return ok, nil
}

// ListMembers implements storage.ChannelRepository.
func (s *Store) ListMembers(ctx context.Context, channelID int64) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT user_id FROM channel_members WHERE channel_id = $1 ORDER BY user_id`, channelID)
	if err != nil {
		return nil, storageErr("list members", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, storageErr("list members", err)
	}
	return ids, nil
}

// ListUserChannels implements storage.ChannelRepository.
func (s *Store) ListUserChannels(ctx context.Context, userID int64) ([]*domain.Channel, error) {
	return s.queryChannels(ctx, "list user channels", `
		SELECT c.id, c.uuid, c.name, c.private, c.owner_id
		FROM channels c JOIN channel_members m ON m.channel_id = c.id
		WHERE m.user_id = $1 ORDER BY c.id`, userID)
}

// ListMemberships implements storage.ChannelRepository.
func (s *Store) ListMemberships(ctx context.Context) ([]domain.Membership, error) {
	rows, err := s.pool.Query(ctx, `SELECT channel_id, user_id FROM channel_members ORDER BY channel_id, user_id`)
	if err != nil {
		return nil, storageErr("list memberships", err)
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Membership, error) {
		var m domain.Membership
		err := r.Scan(&m.ChannelID, &m.UserID)
		return m, err
	})
	if err != nil {
		return nil, storageErr("list memberships", err)
	}
	return out, nil
}

// --- messages ---

type messageBody struct {
	Text  *domain.TextBody  `json:"text,omitempty"`
	Audio *domain.AudioBody `json:"audio,omitempty"`
	File  *domain.FileBody  `json:"file,omitempty"`
}

const messageColumns = "id, ts, kind, sender_id, receiver_id, channel_id, body"

func scanMessage(row pgx.Row) (*domain.Message, error) {
	var m domain.Message
	var body []byte
	if err := row.Scan(&m.ID, &m.Timestamp, &m.Kind, &m.SenderID, &m.ReceiverID, &m.ChannelID, &body); err != nil {
		return nil, err
	}
	var b messageBody
	if err := json.Unmarshal(body, &b); err != nil {
		return nil, err
	}
	m.Text, m.Audio, m.File = b.Text, b.Audio, b.File
	m.Timestamp = m.Timestamp.UTC()
	return &m, nil
}

func (s *Store) queryMessages(ctx context.Context, op, q string, args ...any) ([]*domain.Message, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	msgs, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (*domain.Message, error) { return scanMessage(r) })
	if err != nil {
		return nil, storageErr(op, err)
	}
	return msgs, nil
}

func (s *Store) insertMessage(ctx context.Context, m *domain.Message) (bool, error) {
	body, err := json.Marshal(messageBody{Text: m.Text, Audio: m.Audio, File: m.File})
	if err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO messages (`+messageColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (id) DO NOTHING`,
		m.ID, m.Timestamp, string(m.Kind), m.SenderID, m.ReceiverID, m.ChannelID, body)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// SaveMessage implements storage.MessageRepository.
func (s *Store) SaveMessage(ctx context.Context, m *domain.Message) error {
	if m.ID == 0 {
		m.ID = s.ids.Next(storage.KindMessage)
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	if _, err := s.insertMessage(ctx, m); err != nil {
		return storageErr("save message", err)
	}
	return nil
}

// InsertMessage implements storage.MessageRepository.
func (s *Store) InsertMessage(ctx context.Context, m *domain.Message) (bool, error) {
	s.ids.Observe(storage.KindMessage, m.ID)
	inserted, err := s.insertMessage(ctx, m)
	if err != nil {
		return false, storageErr("insert message", err)
	}
	return inserted, nil
}

// GetMessage implements storage.MessageRepository.
func (s *Store) GetMessage(ctx context.Context, id int64) (*domain.Message, error) {
	m, err := scanMessage(s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrMessageNotFound
	}
	if err != nil {
		return nil, storageErr("get message", err)
	}
	return m, nil
}

// ListMessages implements storage.MessageRepository.
func (s *Store) ListMessages(ctx context.Context) ([]*domain.Message, error) {
	return s.queryMessages(ctx, "list messages", `SELECT `+messageColumns+` FROM messages ORDER BY ts, id`)
}

// ListUserMessages implements storage.MessageRepository.
func (s *Store) ListUserMessages(ctx context.Context, userID int64, channelIDs []int64) ([]*domain.Message, error) {
	if channelIDs == nil {
		channelIDs = []int64{}
	}
	return s.queryMessages(ctx, "list user messages", `
		SELECT `+messageColumns+` FROM messages
		WHERE (channel_id = 0 AND (sender_id = $1 OR receiver_id = $1))
			OR channel_id = ANY($2)
		ORDER BY ts, id`, userID, channelIDs)
}

// --- invitations ---

const invitationColumns = "id, channel_id, channel_uuid, inviter_id, invitee_id, created_at, state"

func scanInvitation(row pgx.Row) (*domain.Invitation, error) {
	var inv domain.Invitation
	if err := row.Scan(&inv.ID, &inv.ChannelID, &inv.ChannelUUID, &inv.InviterID, &inv.InviteeID, &inv.CreatedAt, &inv.State); err != nil {
		return nil, err
	}
	inv.CreatedAt = inv.CreatedAt.UTC()
	return &inv, nil
}

func (s *Store) queryInvitations(ctx context.Context, op, q string, args ...any) ([]*domain.Invitation, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	invs, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (*domain.Invitation, error) { return scanInvitation(r) })
	if err != nil {
		return nil, storageErr(op, err)
	}
	return invs, nil
}

// SaveInvitation implements storage.InvitationRepository.
func (s *Store) SaveInvitation(ctx context.Context, inv *domain.Invitation) error {
	if inv.ID == 0 {
		inv.ID = s.ids.Next(storage.KindInvitation)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO invitations (`+invitationColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (channel_id, invitee_id) DO UPDATE SET
			id = EXCLUDED.id, channel_uuid = EXCLUDED.channel_uuid, inviter_id = EXCLUDED.inviter_id,
			created_at = EXCLUDED.created_at, state = EXCLUDED.state`,
		inv.ID, inv.ChannelID, inv.ChannelUUID, inv.InviterID, inv.InviteeID, inv.CreatedAt, string(inv.State))
	if err != nil {
		return storageErr("save invitation", err)
	}
	return nil
}

// UpsertInvitation implements storage.InvitationRepository.
func (s *Store) UpsertInvitation(ctx context.Context, inv *domain.Invitation) (bool, error) {
	s.ids.Observe(storage.KindInvitation, inv.ID)

	var changed bool
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		current, err := scanInvitation(tx.QueryRow(ctx,
			`SELECT `+invitationColumns+` FROM invitations WHERE channel_id = $1 AND invitee_id = $2 FOR UPDATE`,
			inv.ChannelID, inv.InviteeID))
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return err
		case !storage.InvitationSupersedes(current, inv):
			return nil
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO invitations (`+invitationColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (channel_id, invitee_id) DO UPDATE SET
				id = EXCLUDED.id, channel_uuid = EXCLUDED.channel_uuid, inviter_id = EXCLUDED.inviter_id,
				created_at = EXCLUDED.created_at, state = EXCLUDED.state`,
			inv.ID, inv.ChannelID, inv.ChannelUUID, inv.InviterID, inv.InviteeID, inv.CreatedAt, string(inv.State))
		if err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return false, storageErr("upsert invitation", err)
	}
	return changed, nil
}

// GetInvitation implements storage.InvitationRepository.
func (s *Store) GetInvitation(ctx context.Context, channelID, inviteeID int64) (*domain.Invitation, error) {
	inv, err := scanInvitation(s.pool.QueryRow(ctx,
		`SELECT `+invitationColumns+` FROM invitations WHERE channel_id = $1 AND invitee_id = $2`,
		channelID, inviteeID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrInvitationNotFound
	}
	if err != nil {
		return nil, storageErr("get invitation", err)
	}
	return inv, nil
}

// ListReceived implements storage.InvitationRepository.
func (s *Store) ListReceived(ctx context.Context, inviteeID int64) ([]*domain.Invitation, error) {
	return s.queryInvitations(ctx, "list received invitations",
		`SELECT `+invitationColumns+` FROM invitations WHERE invitee_id = $1 ORDER BY created_at`, inviteeID)
}

// ListSent implements storage.InvitationRepository.
func (s *Store) ListSent(ctx context.Context, inviterID int64) ([]*domain.Invitation, error) {
	return s.queryInvitations(ctx, "list sent invitations",
		`SELECT `+invitationColumns+` FROM invitations WHERE inviter_id = $1 ORDER BY created_at`, inviterID)
}

// ListInvitations implements storage.InvitationRepository.
func (s *Store) ListInvitations(ctx context.Context) ([]*domain.Invitation, error) {
	return s.queryInvitations(ctx, "list invitations",
		`SELECT `+invitationColumns+` FROM invitations ORDER BY channel_id, invitee_id`)
}

// --- logs ---

// AppendLog implements storage.LogRepository.
func (s *Store) AppendLog(ctx context.Context, e *domain.LogEntry) error {
	if e.ID == 0 {
		e.ID = s.ids.Next(storage.KindLog)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_logs (id, ts, kind, actor_id, session_id, origin, detail) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.Timestamp, e.Kind, e.ActorID, e.SessionID, e.Origin, e.Detail)
	if err != nil {
		return storageErr("append log", err)
	}
	return nil
}

// ListLogs implements storage.LogRepository.
func (s *Store) ListLogs(ctx context.Context, limit int) ([]*domain.LogEntry, error) {
	q := `SELECT id, ts, kind, actor_id, session_id, origin, detail FROM audit_logs ORDER BY ts DESC, id DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, storageErr("list logs", err)
	}
	logs, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (*domain.LogEntry, error) {
		var e domain.LogEntry
		err := r.Scan(&e.ID, &e.Timestamp, &e.Kind, &e.ActorID, &e.SessionID, &e.Origin, &e.Detail)
		return &e, err
	})
	if err != nil {
		return nil, storageErr("list logs", err)
	}
	for i, j := 0, len(logs)-1; i < j; i, j = i+1, j-1 {
		logs[i], logs[j] = logs[j], logs[i]
	}
	return logs, nil
}

// --- ledger ---

// MarkApplied implements storage.OpLedger.
func (s *Store) MarkApplied(ctx context.Context, opID string, ttl time.Duration) (bool, error) {
	if _, err := s.pool.Exec(ctx, `DELETE FROM applied_ops WHERE expires_at < now()`); err != nil {
		return false, storageErr("mark applied", err)
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO applied_ops (op_id, expires_at) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		opID, time.Now().Add(ttl))
	if err != nil {
		return false, storageErr("mark applied", err)
	}
	return tag.RowsAffected() > 0, nil
}
