package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"bustrack/internal/apperr"
	"bustrack/internal/entity"
)

// Settings configures token issuance and registration.
type Settings struct {
	Issuer      string
	SigningKey  string
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
	EmailDomain string
}

// Account is the public view of a user.
type Account struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	FacultyID string `json:"facultyId,omitempty"`
}

// Session is returned by Login and Refresh.
type Session struct {
	Account Account   `json:"user"`
	Tokens  TokenPair `json:"tokens"`
}

type RegisterInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// Service registers users and exchanges credentials for tokens.
type Service struct {
	users   *entity.UserStore
	faculty *entity.FacultyStore
	cfg     Settings
	log     *zap.Logger
}

func NewService(stores *entity.Stores, cfg Settings, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{users: stores.Users, faculty: stores.Faculty, cfg: cfg, log: log}
}

// Register creates a student account. Faculty accounts cannot be self-registered; they are
// created by an existing faculty member through CreateFacultyAccount.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Account, error) {
	role := strings.ToLower(strings.TrimSpace(in.Role))
	switch role {
	case "", entity.RoleStudent:
		return s.create(ctx, entity.User{Email: in.Email, Role: entity.RoleStudent}, in.Password)
	case entity.RoleFaculty:
		return Account{}, apperr.Forbidden("faculty accounts are created by an existing faculty member")
	default:
		return Account{}, apperr.Validation("role must be one of: student faculty")
	}
}

// CreateFacultyAccount creates a login for the Faculty record with the same email, which must
// already exist.
func (s *Service) CreateFacultyAccount(ctx context.Context, email, password string) (Account, error) {
	f, err := s.faculty.ByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return Account{}, apperr.Validation("no faculty record for this email")
		}
		return Account{}, err
	}
	return s.create(ctx, entity.User{Email: email, Role: entity.RoleFaculty, FacultyID: f.ID}, password)
}

func (s *Service) create(ctx context.Context, u entity.User, password string) (Account, error) {
	if len(password) < MinPasswordLen || len(password) > MaxPasswordLen {
		return Account{}, apperr.Validation("password must be %d to %d characters", MinPasswordLen, MaxPasswordLen)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return Account{}, apperr.Storage("hash password", err)
	}
	u.PasswordHash = hash
	if err := s.users.Create(ctx, &u, s.cfg.EmailDomain); err != nil {
		return Account{}, err
	}
	s.log.Info("user registered", zap.String("user", u.ID), zap.String("role", u.Role))
	return account(u), nil
}

// Login checks the password and issues a token pair.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	u, err := s.users.ByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return Session{}, apperr.Unauthorized("invalid email or password")
		}
		return Session{}, err
	}
	if !CheckPassword(u.PasswordHash, password) {
		return Session{}, apperr.Unauthorized("invalid email or password")
	}
	return s.session(u)
}

// Refresh exchanges a valid refresh token for a new pair. The user is reloaded so a deleted
// account cannot keep refreshing.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	claims, err := Parse(refreshToken, s.cfg.SigningKey, s.cfg.Issuer, TokenRefresh)
	if err != nil {
		return Session{}, apperr.Unauthorized("invalid refresh token")
	}
	u, err := s.users.Get(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return Session{}, apperr.Unauthorized("invalid refresh token")
		}
		return Session{}, err
	}
	return s.session(u)
}

func (s *Service) session(u entity.User) (Session, error) {
	pair, err := Issue(Identity{UserID: u.ID, Role: u.Role, FacultyID: u.FacultyID},
		s.cfg.Issuer, s.cfg.SigningKey, s.cfg.AccessTTL, s.cfg.RefreshTTL)
	if err != nil {
		return Session{}, apperr.Storage("issue token", err)
	}
	return Session{Account: account(u), Tokens: pair}, nil
}

func account(u entity.User) Account {
	return Account{ID: u.ID, Email: u.Email, Role: u.Role, FacultyID: u.FacultyID}
}
