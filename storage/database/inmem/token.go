package inmemdb

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/auth"
)

type tokenRepository struct {
	db *DB
}

var _ auth.Repository = (*tokenRepository)(nil)

func NewTokenRepository(db *DB) *tokenRepository {
	return &tokenRepository{db: db}
}

func (repo *tokenRepository) CreateRefreshToken(ctx context.Context, rt auth.RefreshToken, exec ...core.DBExecutor) (auth.RefreshToken, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	rt.ID = uuid.New().String()
	repo.db.refreshTokens[rt.TokenHash] = &rt
	return rt, nil
}

func (repo *tokenRepository) GetRefreshToken(ctx context.Context, hash string, exec ...core.DBExecutor) (auth.RefreshToken, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if rt, ok := repo.db.refreshTokens[hash]; ok {
		return *rt, nil
	}
	return auth.RefreshToken{}, auth.ErrTokenNotFound
}

func (repo *tokenRepository) ClaimRefreshToken(ctx context.Context, hash string, now time.Time, exec ...core.DBExecutor) (auth.RefreshToken, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	rt, ok := repo.db.refreshTokens[hash]
	if !ok {
		return auth.RefreshToken{}, auth.ErrTokenNotFound
	}
	if rt.Revoked() {
		return auth.RefreshToken{}, auth.ErrTokenRevoked
	}
	if rt.Expired(now) {
		return auth.RefreshToken{}, auth.ErrTokenExpired
	}
	rt.RevokedAt = &now
	return *rt, nil
}

func (repo *tokenRepository) RevokeRefreshToken(ctx context.Context, hash string, now time.Time, exec ...core.DBExecutor) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if rt, ok := repo.db.refreshTokens[hash]; ok && !rt.Revoked() {
		rt.RevokedAt = &now
	}
	return nil
}

func (repo *tokenRepository) CreateInviteToken(ctx context.Context, it auth.InviteToken, exec ...core.DBExecutor) (auth.InviteToken, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	it.ID = uuid.New().String()
	repo.db.inviteTokens[it.TokenHash] = &it
	return it, nil
}

func (repo *tokenRepository) ConsumeInviteToken(ctx context.Context, hash string, purpose auth.InvitePurpose, now time.Time, exec ...core.DBExecutor) (auth.InviteToken, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	it, ok := repo.db.inviteTokens[hash]
	if !ok || it.Purpose != purpose {
		return auth.InviteToken{}, auth.ErrTokenNotFound
	}
	if it.Used() {
		return auth.InviteToken{}, auth.ErrTokenUsed
	}
	if it.Expired(now) {
		return auth.InviteToken{}, auth.ErrTokenExpired
	}
	it.UsedAt = &now
	return *it, nil
}
