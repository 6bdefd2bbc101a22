package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultSessionTTL = 2 * time.Hour

// SessionClaims is the payload of a minted API session token.
type SessionClaims struct {
	TelegramID string `json:"telegramId"`
	Username   string `json:"username"`
	IsAdmin    bool   `json:"isAdmin"`
	jwt.RegisteredClaims
}

// Sessions mints and validates short-lived HS256 session tokens.
type Sessions struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// SessionsOption configures Sessions.
type SessionsOption func(*Sessions)

// WithSessionTTL overrides the token lifetime. Zero keeps the default of two
// hours.
func WithSessionTTL(ttl time.Duration) SessionsOption {
	return func(s *Sessions) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithSessionsClock overrides the time source. Used in tests.
func WithSessionsClock(now func() time.Time) SessionsOption {
	return func(s *Sessions) {
		s.now = now
	}
}

// NewSessions creates a session minter with the given signing secret.
func NewSessions(secret string, opts ...SessionsOption) *Sessions {
	s := &Sessions{
		secret: []byte(secret),
		ttl:    defaultSessionTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Mint issues a signed session token for the given user.
func (s *Sessions) Mint(userID uuid.UUID, telegramID, username string, isAdmin bool) (string, error) {
	now := s.now()
	claims := SessionClaims{
		TelegramID: telegramID,
		Username:   username,
		IsAdmin:    isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return token, nil
}

// Validate parses and verifies a session token.
func (s *Sessions) Validate(token string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("invalid session token: %w", err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("invalid session token")
	}
	return claims, nil
}
