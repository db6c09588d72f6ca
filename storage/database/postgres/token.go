package pgrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/auth"
)

type tokenRepository struct {
	exec core.DBExecutor
}

var _ auth.Repository = (*tokenRepository)(nil) // interface compliance check

func NewTokenRepository(exec core.DBExecutor) *tokenRepository {
	return &tokenRepository{exec: exec}
}

const refreshTokenColumns = "id, user_id, token_hash, expires_at, revoked_at, created_at"

func scanRefreshToken(row interface{ Scan(...interface{}) error }) (auth.RefreshToken, error) {
	var (
		rt        auth.RefreshToken
		revokedAt null.Time
	)
	err := row.Scan(&rt.ID, &rt.UserID, &rt.TokenHash, &rt.ExpiresAt, &revokedAt, &rt.CreatedAt)
	if err != nil {
		return auth.RefreshToken{}, err
	}
	if revokedAt.Valid {
		rt.RevokedAt = &revokedAt.Time
	}
	return rt, nil
}

func (repo tokenRepository) CreateRefreshToken(ctx context.Context, rt auth.RefreshToken, exec ...core.DBExecutor) (auth.RefreshToken, error) {
	rt.ID = uuid.New().String()
	_, err := getExec(repo.exec, exec).ExecContext(ctx,
		`INSERT INTO refresh_token (id, user_id, token_hash, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		rt.ID, rt.UserID, rt.TokenHash, rt.ExpiresAt, rt.CreatedAt,
	)
	if err != nil {
		return auth.RefreshToken{}, errors.Wrap(err, "inserting refresh token")
	}
	return rt, nil
}

func (repo tokenRepository) GetRefreshToken(ctx context.Context, hash string, exec ...core.DBExecutor) (auth.RefreshToken, error) {
	rt, err := scanRefreshToken(getExec(repo.exec, exec).QueryRowContext(ctx,
		"SELECT "+refreshTokenColumns+" FROM refresh_token WHERE token_hash = $1", hash))
	if err != nil {
		if isNoRows(err) {
			return auth.RefreshToken{}, auth.ErrTokenNotFound
		}
		return auth.RefreshToken{}, errors.Wrap(err, "getting refresh token")
	}
	return rt, nil
}

// ClaimRefreshToken revokes a live token in one conditional update; the row
// lock guarantees that concurrent claims of the same hash see exactly one
// winner. A miss is classified by re-reading the row.
func (repo tokenRepository) ClaimRefreshToken(ctx context.Context, hash string, now time.Time, exec ...core.DBExecutor) (auth.RefreshToken, error) {
	ex := getExec(repo.exec, exec)
	rt, err := scanRefreshToken(ex.QueryRowContext(ctx,
		`UPDATE refresh_token SET revoked_at = $2
		 WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > $2
		 RETURNING `+refreshTokenColumns,
		hash, now))
	if err == nil {
		return rt, nil
	}
	if !isNoRows(err) {
		return auth.RefreshToken{}, errors.Wrap(err, "claiming refresh token")
	}

	rt, err = scanRefreshToken(ex.QueryRowContext(ctx,
		"SELECT "+refreshTokenColumns+" FROM refresh_token WHERE token_hash = $1", hash))
	if err != nil {
		if isNoRows(err) {
			return auth.RefreshToken{}, auth.ErrTokenNotFound
		}
		return auth.RefreshToken{}, errors.Wrap(err, "classifying refresh token miss")
	}
	switch {
	case rt.Revoked():
		return auth.RefreshToken{}, auth.ErrTokenRevoked
	case rt.Expired(now):
		return auth.RefreshToken{}, auth.ErrTokenExpired
	}
	return auth.RefreshToken{}, auth.ErrTokenNotFound
}

func (repo tokenRepository) RevokeRefreshToken(ctx context.Context, hash string, now time.Time, exec ...core.DBExecutor) error {
	// logout is best-effort; revoking an unknown or dead token is not an error
	_, err := getExec(repo.exec, exec).ExecContext(ctx,
		"UPDATE refresh_token SET revoked_at = $2 WHERE token_hash = $1 AND revoked_at IS NULL",
		hash, now)
	return errors.Wrap(err, "revoking refresh token")
}

const inviteTokenColumns = "id, user_id, token_hash, purpose, expires_at, used_at, created_at"

func scanInviteToken(row interface{ Scan(...interface{}) error }) (auth.InviteToken, error) {
	var (
		it     auth.InviteToken
		usedAt null.Time
	)
	err := row.Scan(&it.ID, &it.UserID, &it.TokenHash, &it.Purpose, &it.ExpiresAt, &usedAt, &it.CreatedAt)
	if err != nil {
		return auth.InviteToken{}, err
	}
	if usedAt.Valid {
		it.UsedAt = &usedAt.Time
	}
	return it, nil
}

func (repo tokenRepository) CreateInviteToken(ctx context.Context, it auth.InviteToken, exec ...core.DBExecutor) (auth.InviteToken, error) {
	it.ID = uuid.New().String()
	_, err := getExec(repo.exec, exec).ExecContext(ctx,
		`INSERT INTO invite_token (id, user_id, token_hash, purpose, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		it.ID, it.UserID, it.TokenHash, it.Purpose, it.ExpiresAt, it.CreatedAt,
	)
	if err != nil {
		return auth.InviteToken{}, errors.Wrap(err, "inserting invite token")
	}
	return it, nil
}

// ConsumeInviteToken marks a live token of the given purpose used, atomically
// with the caller's transaction.
func (repo tokenRepository) ConsumeInviteToken(ctx context.Context, hash string, purpose auth.InvitePurpose, now time.Time, exec ...core.DBExecutor) (auth.InviteToken, error) {
	ex := getExec(repo.exec, exec)
	it, err := scanInviteToken(ex.QueryRowContext(ctx,
		`UPDATE invite_token SET used_at = $3
		 WHERE token_hash = $1 AND purpose = $2 AND used_at IS NULL AND expires_at > $3
		 RETURNING `+inviteTokenColumns,
		hash, purpose, now))
	if err == nil {
		return it, nil
	}
	if !isNoRows(err) {
		return auth.InviteToken{}, errors.Wrap(err, "consuming invite token")
	}

	it, err = scanInviteToken(ex.QueryRowContext(ctx,
		"SELECT "+inviteTokenColumns+" FROM invite_token WHERE token_hash = $1 AND purpose = $2",
		hash, purpose))
	if err != nil {
		if isNoRows(err) {
			return auth.InviteToken{}, auth.ErrTokenNotFound
		}
		return auth.InviteToken{}, errors.Wrap(err, "classifying invite token miss")
	}
	switch {
	case it.Used():
		return auth.InviteToken{}, auth.ErrTokenUsed
	case it.Expired(now):
		return auth.InviteToken{}, auth.ErrTokenExpired
	}
	return auth.InviteToken{}, auth.ErrTokenNotFound
}
