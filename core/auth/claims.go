package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/user"
)

const jwtAudience = "Academia"

// Claims represents the authorization claims transmitted via a JWT.
type Claims struct {
	jwt.RegisteredClaims
	Name  string   `json:"name,omitempty"`
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

func (c Claims) UserID() string {
	return c.Subject
}

func (c Claims) GlobalRoles() []user.Role {
	return user.RolesFromStrings(c.Roles)
}

func (c Claims) HasAnyRole(roles ...user.Role) bool {
	if len(roles) == 0 {
		return true
	}
	for _, allowed := range roles {
		for _, r := range c.Roles {
			if user.Role(r) == allowed {
				return true
			}
		}
	}
	return false
}

func (c Claims) IsAdmin() bool { return c.HasAnyRole(user.RoleAdmin) }

// NewClaims builds the claims for a user's access token.
func NewClaims(conf *core.Config, usr user.User) *Claims {
	now := time.Now()
	return &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    conf.AppName,
			Subject:   usr.ID,
			Audience:  jwt.ClaimStrings{jwtAudience},
			ExpiresAt: jwt.NewNumericDate(now.Add(conf.Server.AccessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Name:  usr.Name,
		Email: usr.Email,
		Roles: user.RoleStrings(usr.Roles),
	}
}

// SignToken signs claims into a compact JWT string.
func SignToken(conf *core.Config, claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	ss, err := token.SignedString(conf.SecretKey)
	return ss, errors.Wrap(err, "signing token")
}

// VerifyToken decodes and verifies a compact JWT string. It fails with
// ErrInvalidToken on a bad signature, expiry, or a missing subject.
func VerifyToken(conf *core.Config, ss string) (*Claims, error) {
	claims := new(Claims)
	token, err := jwt.ParseWithClaims(ss, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return conf.SecretKey, nil
	})
	if err != nil || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
