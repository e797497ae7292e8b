package authbackend

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenService verifies (and, for tests and local development, issues) the
// HS256 access tokens the managed-auth backend signs its sessions with.
//
// The server never mints production tokens — the backend does. What the
// server needs is to verify a token that arrives in the session cookie and
// recover the user it belongs to, without a round-trip to the backend.
//
// VALIDATION CHECKS (performed by the jwt library):
//   - Signature is valid (wasn't tampered with)
//   - Token is not expired
//   - Algorithm is HS256 (prevents algorithm confusion attacks)
type TokenService struct {
	secret []byte
}

// NewTokenService creates a TokenService with the backend's signing secret.
// The secret should be at least 32 bytes of random data in production.
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("authbackend: JWT secret must be at least 16 characters")
	}
	return &TokenService{secret: []byte(secret)}, nil
}

// sessionClaims is the JWT payload. The backend stores the user id in the
// standard "sub" claim and the email in a private "email" claim.
type sessionClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Issue creates a signed access token for the given user. Used by the fake
// backend in tests and by local development tooling; production tokens come
// from the real backend.
func (s *TokenService) Issue(user User, ttl time.Duration) (string, error) {
	now := time.Now()

	c := sessionClaims{
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("authbackend: signing token: %w", err)
	}

	return signed, nil
}

// Verify parses and verifies an access token, returning the user it encodes.
func (s *TokenService) Verify(tokenStr string) (User, error) {
	c, err := s.parse(tokenStr)
	if err != nil {
		return User{}, err
	}
	return User{ID: c.Subject, Email: c.Email}, nil
}

// VerifySession verifies an access token and reconstructs the session view it
// encodes: the user, the expiry, and the token itself as the credential. This
// is how a handler answers "who is THIS caller" without any shared state.
func (s *TokenService) VerifySession(tokenStr string) (*Session, error) {
	c, err := s.parse(tokenStr)
	if err != nil {
		return nil, err
	}
	return &Session{
		AccessToken: tokenStr,
		ExpiresAt:   c.ExpiresAt.Time,
		User:        User{ID: c.Subject, Email: c.Email},
	}, nil
}

func (s *TokenService) parse(tokenStr string) (*sessionClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&sessionClaims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("authbackend: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("authbackend: token expired")
		}
		return nil, fmt.Errorf("authbackend: invalid token: %w", err)
	}

	c, ok := token.Claims.(*sessionClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("authbackend: invalid token claims")
	}
	if c.Subject == "" {
		return nil, fmt.Errorf("authbackend: token has no subject")
	}

	return c, nil
}
