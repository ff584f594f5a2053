package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultCookieName = "facenroll_token"
	DefaultIssuer     = "facenroll"
	DefaultTTL        = 12 * time.Hour
)

var ErrRevoked = errors.New("session revoked")

type Claims struct {
	Username string `json:"sub"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

func (c *Claims) Admin() bool { return c.Role == "admin" }

func NewRandomSecretB64(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Sessions signs and verifies session tokens and remembers revoked IDs.
type Sessions struct {
	secret []byte
	ttl    time.Duration

	mu      sync.Mutex
	revoked map[string]time.Time
}

func NewSessions(secret []byte, ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Sessions{secret: secret, ttl: ttl, revoked: map[string]time.Time{}}
}

func (s *Sessions) TTL() time.Duration { return s.ttl }

func (s *Sessions) Issue(username, role string) (string, error) {
	return SignHS256(s.secret, username, role, s.ttl)
}

func (s *Sessions) Parse(token string) (*Claims, error) {
	c, err := ParseHS256(s.secret, token)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.revoked[c.ID]; ok {
		return nil, ErrRevoked
	}
	return c, nil
}

// Revoke blocks c's token ID until it expires.
func (s *Sessions) Revoke(c *Claims) {
	if c == nil || c.ID == "" {
		return
	}
	exp := time.Now().Add(s.ttl)
	if c.ExpiresAt != nil {
		exp = c.ExpiresAt.Time
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, until := range s.revoked {
		if until.Before(now) {
			delete(s.revoked, id)
		}
	}
	s.revoked[c.ID] = exp
}

func SignHS256(secret []byte, username, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    DefaultIssuer,
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(secret)
}

func ParseHS256(secret []byte, tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	}, jwt.WithLeeway(30*time.Second), jwt.WithIssuer(DefaultIssuer))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
