// Package auth resolves the user identity of a websocket handshake.
package auth

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/amoylab/chatmesh/internal/auth/jwt"
	"github.com/amoylab/chatmesh/internal/common/cnst"
	"github.com/amoylab/chatmesh/internal/common/config"
)

const (
	// QueryUserID is the handshake query parameter carrying the user id
	QueryUserID = "userId"
	// QueryToken is the handshake query parameter carrying a signed token
	QueryToken = "token"
)

// Authenticator resolves the numeric user id of an upgrade request. Any
// error rejects the upgrade.
type Authenticator interface {
	Authenticate(r *http.Request) (int64, error)
}

// NewAuthenticator creates the authenticator selected by cfg.Mode
func NewAuthenticator(cfg config.AuthConfig) (Authenticator, error) {
	switch cfg.Mode {
	case "", cnst.AuthModeQuery:
		return &QueryAuthenticator{}, nil
	case cnst.AuthModeJWT:
		svc, err := jwt.NewService(cfg.JWT)
		if err != nil {
			return nil, fmt.Errorf("failed to create jwt service: %w", err)
		}
		return &JWTAuthenticator{svc: svc}, nil
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.Mode)
	}
}

// QueryAuthenticator trusts the userId query parameter, which an upstream
// gateway is expected to have verified.
type QueryAuthenticator struct{}

// Authenticate implements Authenticator.Authenticate
func (a *QueryAuthenticator) Authenticate(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get(QueryUserID)
	if raw == "" {
		return 0, cnst.ErrMissingUserID
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		return 0, fmt.Errorf("%w: %q", cnst.ErrInvalidUserID, raw)
	}
	return userID, nil
}

// JWTAuthenticator takes the user id from a signed token passed as the token
// query parameter or as a bearer Authorization header.
type JWTAuthenticator struct {
	svc *jwt.Service
}

// Authenticate implements Authenticator.Authenticate
func (a *JWTAuthenticator) Authenticate(r *http.Request) (int64, error) {
	token := r.URL.Query().Get(QueryToken)
	if token == "" {
		parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			token = parts[1]
		}
	}
	if token == "" {
		return 0, cnst.ErrMissingUserID
	}

	userID, _, err := a.svc.Verify(token)
	if err != nil {
		return 0, err
	}
	return userID, nil
}
