package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrTokenNotFound = errors.New("token not found")
	ErrTokenExpired  = errors.New("token expired")
	ErrTokenRevoked  = errors.New("token revoked")
	ErrTokenUsed     = errors.New("token already used")
)

// RefreshToken is the stored side of a rotating refresh token; only the
// SHA-256 hash of the raw value is ever persisted.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	RevokedAt *time.Time
	CreatedAt time.Time
}

func (rt RefreshToken) Expired(now time.Time) bool { return now.After(rt.ExpiresAt) }
func (rt RefreshToken) Revoked() bool              { return rt.RevokedAt != nil }

// InvitePurpose scopes an invite token to the flow it was issued for.
type InvitePurpose string

const (
	PurposeActivate      InvitePurpose = "activate"
	PurposePasswordReset InvitePurpose = "reset"
)

// InviteToken is a single-use, hashed token for account activation and
// password resets.
type InviteToken struct {
	ID        string
	UserID    string
	TokenHash string
	Purpose   InvitePurpose
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

func (it InviteToken) Expired(now time.Time) bool { return now.After(it.ExpiresAt) }
func (it InviteToken) Used() bool                 { return it.UsedAt != nil }

// newRawToken returns a cryptographically random hex value.
func newRawToken() (string, error) {
	buf := make([]byte, 48)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "reading random bytes")
	}
	return hex.EncodeToString(buf), nil
}

// HashToken returns the hex SHA-256 digest of a raw token value.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
