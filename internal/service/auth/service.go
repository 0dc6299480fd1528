package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"github.com/maelisc/boutique/internal/config"
	"github.com/maelisc/boutique/internal/crypto"
	"github.com/maelisc/boutique/internal/domain"
	"github.com/maelisc/boutique/internal/repository"
	"github.com/maelisc/boutique/internal/token"
)

var (
	errUsernameRequired = fmt.Errorf("%w: username required", domain.ErrInvalidInput)
	errPasswordRequired = fmt.Errorf("%w: password required", domain.ErrInvalidInput)
)

// Service handles registration, login and bearer-token authorization.
type Service struct {
	users  repository.UserRepository
	logger *slog.Logger
	cfg    config.APIConfig
}

// New constructs a Service.
func New(users repository.UserRepository, logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{users: users, logger: logger, cfg: cfg}
}

// Token is the login response payload.
type Token struct {
	AccessToken string        `json:"access_token"`
	TokenType   string        `json:"token_type"`
	ExpiresIn   time.Duration `json:"-"`
}

// Register creates a new account. The first account ever created is granted
// the admin flag by the store.
func (s Service) Register(ctx context.Context, username, password string) (*domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, errUsernameRequired
	}
	if password == "" {
		return nil, errPasswordRequired
	}
	// Cheap duplicate probe before paying the bcrypt cost. The unique index
	// remains the authoritative guard.
	if _, err := s.users.GetUserByUsername(ctx, username); err == nil {
		return nil, domain.ErrUsernameTaken
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	hash, err := crypto.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user, err := s.users.CreateUser(ctx, username, hash)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, domain.ErrUsernameTaken
		}
		return nil, err
	}
	s.logger.Info("user registered", "user_id", user.ID, "admin", user.IsAdmin)
	return user, nil
}

// Login authenticates credentials and issues a bearer token.
func (s Service) Login(ctx context.Context, username, password string) (Token, error) {
	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Token{}, domain.ErrInvalidCredential
		}
		return Token{}, err
	}
	if err := crypto.ComparePassword(user.PasswordHash, password); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return Token{}, domain.ErrInvalidCredential
		}
		return Token{}, err
	}

	access, err := token.Generate(user.Username, s.cfg.JWTSecret, s.cfg.AccessTokenTTL)
	if err != nil {
		return Token{}, err
	}
	s.logger.Info("user logged in", "user_id", user.ID)
	return Token{AccessToken: access, TokenType: "bearer", ExpiresIn: s.cfg.AccessTokenTTL}, nil
}

// Authorize validates a bearer token and resolves its subject to the current
// account. A valid token whose subject no longer exists is still rejected.
func (s Service) Authorize(ctx context.Context, bearer string) (*domain.User, error) {
	trimmed := strings.TrimSpace(bearer)
	if trimmed == "" {
		return nil, domain.ErrUnauthorized
	}
	claims, err := token.Parse(trimmed, s.cfg.JWTSecret)
	if err != nil {
		return nil, domain.ErrUnauthorized
	}
	user, err := s.users.GetUserByUsername(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrUnauthorized
		}
		return nil, err
	}
	return user, nil
}

// RequireAdmin checks the privileged flag on an already-authenticated user.
// It is layered on top of Authorize, never a substitute for it.
func (s Service) RequireAdmin(user *domain.User) error {
	if user == nil || !user.IsAdmin {
		return domain.ErrForbidden
	}
	return nil
}
