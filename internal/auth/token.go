package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/livepoll/internal/domain"
)

// TokenType is reported alongside every issued access token.
const TokenType = "bearer"

// Token is an issued access token.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// TokenIssuer signs HS256 tokens whose subject is the user id.
type TokenIssuer struct {
	secret []byte
	expiry time.Duration
	clock  clockwork.Clock
	parser *jwt.Parser
}

var _ domain.IdentityProvider = (*TokenIssuer)(nil)

func NewTokenIssuer(secret string, expiry time.Duration, clock clockwork.Clock) *TokenIssuer {
	return &TokenIssuer{
		secret: []byte(secret),
		expiry: expiry,
		clock:  clock,
		// Expiry is checked against the injected clock below.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}
}

func (ti *TokenIssuer) Issue(userID uuid.UUID) (*Token, error) {
	now := ti.clock.Now()
	expiresAt := now.Add(ti.expiry)

	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &Token{AccessToken: signed, TokenType: TokenType, ExpiresAt: expiresAt.UTC()}, nil
}

// CurrentUserID validates credential and returns its subject. Every failure,
// including an empty credential, is reported as domain.ErrUnauthenticated.
func (ti *TokenIssuer) CurrentUserID(credential string) (uuid.UUID, error) {
	if credential == "" {
		return uuid.Nil, domain.ErrUnauthenticated
	}

	var claims jwt.RegisteredClaims
	token, err := ti.parser.ParseWithClaims(credential, &claims, func(*jwt.Token) (any, error) {
		return ti.secret, nil
	})
	if err != nil || !token.Valid {
		return uuid.Nil, errors.Join(domain.ErrUnauthenticated, err)
	}

	if !claims.VerifyExpiresAt(ti.clock.Now(), true) {
		return uuid.Nil, fmt.Errorf("%w: token expired", domain.ErrUnauthenticated)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil || userID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: invalid subject", domain.ErrUnauthenticated)
	}
	return userID, nil
}
