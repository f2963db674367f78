package service

import (
	"context"
	"encoding/base64"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/yndnr/chatmesh-go/internal/core/domain"
	"github.com/yndnr/chatmesh-go/internal/core/event"
	"github.com/yndnr/chatmesh-go/internal/storage"
)

// Publisher publishes session events.
type Publisher interface {
	Publish(e event.Event)
}

// SessionBinder attaches and detaches identities on registry sessions.
type SessionBinder interface {
	UpdateCliente(sessionID string, clienteID int64, usuario, ip string, channels ...int64) error
	ClearCliente(sessionID string) error
}

// UserService handles REGISTER, LOGIN and LOGOUT.
type UserService struct {
	users    storage.UserRepository
	channels storage.ChannelRepository
	hasher   PasswordHasher
	sessions SessionBinder
	bus      Publisher
	logger   *slog.Logger

	loginLimiter *LimiterRegistry
}

// NewUserService creates a UserService. Failed logins are throttled per
// email at one attempt per second with a burst of five.
func NewUserService(users storage.UserRepository, channels storage.ChannelRepository, hasher PasswordHasher,
	sessions SessionBinder, bus Publisher, logger *slog.Logger) *UserService {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserService{
		users:        users,
		channels:     channels,
		hasher:       hasher,
		sessions:     sessions,
		bus:          bus,
		logger:       logger.With("component", "user-service"),
		loginLimiter: NewLimiterRegistry(rate.Limit(1), 5),
	}
}

// ============================================================================
// Register
// ============================================================================

// Register creates an account and publishes USER_REGISTERED.
func (s *UserService) Register(ctx context.Context, sessionID string, req *RegisterRequest) (*domain.User, error) {
	secret := req.Secret()
	if err := domain.ValidateRegistration(req.Usuario, req.Email, secret); err != nil {
		return nil, err
	}

	var photo []byte
	if req.FotoBase64 != "" {
		var err error
		if photo, err = base64.StdEncoding.DecodeString(req.FotoBase64); err != nil {
			return nil, domain.ErrValidation.WithDetails("fotoBase64 is not valid base64")
		}
	}

	hash, err := s.hasher.Hash(secret)
	if err != nil {
		return nil, domain.ErrInternalServer.WithCause(err)
	}
	u := &domain.User{
		Username:     req.Usuario,
		Email:        req.Email,
		PasswordHash: hash,
		Photo:        photo,
		IP:           req.IP,
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		return nil, err
	}

	s.logger.Info("user registered", "user_id", u.ID, "usuario", u.Username)
	s.bus.Publish(event.New(event.UserRegistered, sessionID, u.ID, u))
	return u, nil
}

// ============================================================================
// Login / Logout
// ============================================================================

// LoginResult is the outcome of a successful login.
type LoginResult struct {
	User     *domain.User
	Channels []int64
}

// Login verifies credentials, binds the identity to sessionID and publishes
// LOGIN. The session is bound before the event so observers see it in the
// registry.
func (s *UserService) Login(ctx context.Context, sessionID string, req *LoginRequest) (*LoginResult, error) {
	email := domain.NormalizeEmail(req.Email)
	if email == "" || req.Contrasenia == "" {
		return nil, domain.ErrValidation.WithDetails("email and contrasenia are required")
	}
	if !s.loginLimiter.Allow(email) {
		return nil, domain.ErrTooManyRequests
	}

	u, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if domain.IsDomainError(err, domain.ErrUserNotFound.Code) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}
	ok, err := s.hasher.Verify(req.Contrasenia, u.PasswordHash)
	if err != nil {
		s.logger.Warn("stored hash unreadable", "user_id", u.ID, "error", err)
		return nil, domain.ErrInvalidCredentials
	}
	if !ok {
		return nil, domain.ErrInvalidCredentials
	}
	s.loginLimiter.Delete(email)

	chans, err := s.channels.ListUserChannels(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(chans))
	for i, c := range chans {
		ids[i] = c.ID
	}

	if err := s.sessions.UpdateCliente(sessionID, u.ID, u.Username, req.IP, ids...); err != nil {
		return nil, err
	}
	s.logger.Info("user logged in", "user_id", u.ID, "session_id", sessionID)
	s.bus.Publish(event.New(event.Login, sessionID, u.ID, u))
	return &LoginResult{User: u, Channels: ids}, nil
}

// Logout publishes LOGOUT and returns the session to the anonymous state.
func (s *UserService) Logout(_ context.Context, sessionID string, userID int64) error {
	if userID == 0 {
		return domain.ErrUnauthenticated
	}
	s.bus.Publish(event.New(event.Logout, sessionID, userID, nil))
	if err := s.sessions.ClearCliente(sessionID); err != nil {
		return err
	}
	s.logger.Info("user logged out", "user_id", userID, "session_id", sessionID)
	return nil
}

// Get returns a user.
func (s *UserService) Get(ctx context.Context, id int64) (*domain.User, error) {
	return s.users.GetUser(ctx, id)
}
