package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/pscheid92/livepoll/internal/domain"
	"github.com/pscheid92/livepoll/internal/metrics"
	"golang.org/x/crypto/bcrypt"
)

// dummyHash is compared against when the email is unknown so that login
// latency does not reveal which emails are registered.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("livepoll-dummy-password"), bcrypt.MinCost)

// Service registers and authenticates password accounts.
type Service struct {
	users  domain.UserRepository
	tokens *TokenIssuer
	cost   int
}

func NewService(users domain.UserRepository, tokens *TokenIssuer) *Service {
	return &Service{users: users, tokens: tokens, cost: bcrypt.DefaultCost}
}

// Register creates an account and returns a token for it.
func (s *Service) Register(ctx context.Context, email, name, password string) (*Token, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("register", "error").Inc()
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.users.Create(ctx, email, name, string(hash))
	if errors.Is(err, domain.ErrEmailTaken) {
		metrics.AuthAttempts.WithLabelValues("register", "conflict").Inc()
		return nil, err
	}
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("register", "error").Inc()
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	metrics.AuthAttempts.WithLabelValues("register", "success").Inc()
	slog.InfoContext(ctx, "User registered", "user_id", user.ID)
	return s.tokens.Issue(user.ID)
}

// Login checks the password and returns a fresh token. Unknown emails and
// wrong passwords both yield domain.ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (*Token, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, domain.ErrUserNotFound) {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		metrics.AuthAttempts.WithLabelValues("login", "invalid").Inc()
		return nil, domain.ErrInvalidCredentials
	}
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("login", "error").Inc()
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		metrics.AuthAttempts.WithLabelValues("login", "invalid").Inc()
		return nil, domain.ErrInvalidCredentials
	}

	metrics.AuthAttempts.WithLabelValues("login", "success").Inc()
	return s.tokens.Issue(user.ID)
}

// Me returns the account for an authenticated caller.
func (s *Service) Me(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	if userID == uuid.Nil {
		return nil, domain.ErrUnauthenticated
	}
	return s.users.GetByID(ctx, userID)
}
