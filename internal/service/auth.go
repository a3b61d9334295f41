package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"

	"github.com/workos/workos-go/v6/pkg/usermanagement"

	"github.com/aakashsharma7/code-reviewer/core/config"
)

// ErrInvalidCredential is returned for a bad, expired, or missing
// realtime handshake credential.
var ErrInvalidCredential = errors.New("invalid credential")

// Identity is the verified principal behind a realtime connection.
type Identity struct {
	UserID int64
	Role   string // "member" or "admin"
}

// IdentityVerifier is the external identity collaborator: verify a
// bearer credential once at connect time.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// workosVerifier verifies connection credentials against WorkOS user
// management. The admin API key doubles as an operator credential for
// the admin room.
type workosVerifier struct {
	cfg         config.WorkOSConfig
	adminAPIKey string
}

func NewIdentityVerifier(cfg config.WorkOSConfig, adminAPIKey string) IdentityVerifier {
	if cfg.Enabled() {
		usermanagement.SetAPIKey(cfg.APIKey)
	}
	return &workosVerifier{cfg: cfg, adminAPIKey: adminAPIKey}
}

func (v *workosVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrInvalidCredential
	}

	if v.adminAPIKey != "" && subtle.ConstantTimeCompare([]byte(token), []byte(v.adminAPIKey)) == 1 {
		return &Identity{UserID: 0, Role: "admin"}, nil
	}

	if !v.cfg.Enabled() {
		return nil, ErrInvalidCredential
	}

	resp, err := usermanagement.AuthenticateWithRefreshToken(ctx, usermanagement.AuthenticateWithRefreshTokenOpts{
		ClientID:     v.cfg.ClientID,
		RefreshToken: token,
	})
	if err != nil {
		slog.DebugContext(ctx, "credential verification failed", "error", err)
		return nil, ErrInvalidCredential
	}

	return &Identity{UserID: snowflakeFromExternal(resp.User.ID), Role: "member"}, nil
}

// snowflakeFromExternal folds an external user identifier into the int64
// space used for room addressing. Stable per identifier.
func snowflakeFromExternal(externalID string) int64 {
	var h int64
	for _, c := range externalID {
		h = h*31 + int64(c)
	}
	if h < 0 {
		h = -h
	}
	return h
}
