// Package jwt issues and verifies the signed tickets a client presents on
// the websocket handshake when auth.mode is jwt.
package jwt

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/amoylab/chatmesh/internal/common/cnst"
	"github.com/amoylab/chatmesh/internal/common/config"
)

const (
	// Audience names the only consumer of a ticket
	Audience = "chatmesh-ws"

	minSecretLen = 32
	leeway       = 5 * time.Second
)

var (
	ErrInvalidToken    = errors.New("invalid handshake ticket")
	ErrExpiredToken    = errors.New("handshake ticket has expired")
	ErrWeakSecretKey   = fmt.Errorf("jwt secret key must be at least %d characters", minSecretLen)
	ErrInvalidDuration = errors.New("jwt duration must be positive")
	ErrInvalidSubject  = errors.New("handshake ticket subject is not a user id")
)

// Claims is the ticket body. The user id travels as the registered subject.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// UserID parses the subject as a positive user id
func (c *Claims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSubject, c.Subject)
	}
	return id, nil
}

// Service signs and checks tickets with one HS256 secret
type Service struct {
	secret []byte
	ttl    time.Duration
	parser *jwt.Parser
}

// NewService creates a ticket service from the auth.jwt section
func NewService(cfg config.JWTConfig) (*Service, error) {
	if len(cfg.SecretKey) < minSecretLen {
		return nil, ErrWeakSecretKey
	}
	if cfg.Duration <= 0 {
		return nil, ErrInvalidDuration
	}
	return &Service{
		secret: []byte(cfg.SecretKey),
		ttl:    cfg.Duration,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(cnst.AppName),
			jwt.WithAudience(Audience),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(leeway),
		),
	}, nil
}

// Issue signs a ticket for userID and returns it with its expiry
func (s *Service) Issue(userID int64, name string) (string, time.Time, error) {
	if userID <= 0 {
		return "", time.Time{}, fmt.Errorf("%w: %d", ErrInvalidSubject, userID)
	}
	now := time.Now()
	expires := now.Add(s.ttl)
	claims := &Claims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cnst.AppName,
			Subject:   strconv.FormatInt(userID, 10),
			Audience:  jwt.ClaimStrings{Audience},
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign ticket: %w", err)
	}
	return signed, expires, nil
}

// Verify checks signature, issuer, audience and expiry and returns the user id
func (s *Service) Verify(ticket string) (int64, *Claims, error) {
	claims := &Claims{}
	if _, err := s.parser.ParseWithClaims(ticket, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, nil, ErrExpiredToken
		}
		return 0, nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	userID, err := claims.UserID()
	if err != nil {
		return 0, nil, err
	}
	return userID, claims, nil
}
