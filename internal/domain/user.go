package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID           uuid.UUID
	Email        string
	Name         string
	PasswordHash string
	CreatedAt    time.Time
}

// UserRepository stores accounts. Create returns ErrEmailTaken for a
// duplicate email; lookups return ErrUserNotFound.
type UserRepository interface {
	Create(ctx context.Context, email, name, passwordHash string) (*User, error)
	GetByID(ctx context.Context, userID uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
}

// IdentityProvider resolves a bearer credential to the caller's user id.
// Missing, malformed or expired credentials yield ErrUnauthenticated.
type IdentityProvider interface {
	CurrentUserID(credential string) (uuid.UUID, error)
}
