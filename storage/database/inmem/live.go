package inmemdb

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/live"
)

type liveRepository struct {
	db *DB
}

var _ live.Repository = (*liveRepository)(nil)

func NewLiveRepository(db *DB) *liveRepository {
	return &liveRepository{db: db}
}

func (repo *liveRepository) CreateSession(ctx context.Context, s live.Session, exec ...core.DBExecutor) (live.Session, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	s.ID = uuid.New().String()
	repo.db.sessions[s.ID] = &s
	return s, nil
}

func (repo *liveRepository) GetSession(ctx context.Context, id string, exec ...core.DBExecutor) (live.Session, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if s, ok := repo.db.sessions[id]; ok {
		return *s, nil
	}
	return live.Session{}, live.ErrNotFound
}

func (repo *liveRepository) QuerySessionsByCourse(ctx context.Context, courseID string, exec ...core.DBExecutor) ([]live.Session, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	sessions := make([]live.Session, 0)
	for _, s := range repo.db.sessions {
		if s.CourseID == courseID {
			sessions = append(sessions, *s)
		}
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].StartsAt.Before(sessions[j].StartsAt) })
	return sessions, nil
}

func (repo *liveRepository) UpdateSession(ctx context.Context, s live.Session, exec ...core.DBExecutor) (live.Session, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	cur, ok := repo.db.sessions[s.ID]
	if !ok {
		return live.Session{}, live.ErrNotFound
	}
	cur.Title = s.Title
	cur.StartsAt = s.StartsAt
	cur.DurationMinutes = s.DurationMinutes
	cur.Recurrence = s.Recurrence
	cur.UpdatedAt = s.UpdatedAt
	return *cur, nil
}

func (repo *liveRepository) DeleteSession(ctx context.Context, id string, exec ...core.DBExecutor) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.sessions[id]; !ok {
		return live.ErrNotFound
	}
	delete(repo.db.sessions, id)
	return nil
}

func (repo *liveRepository) CourseIDBySession(ctx context.Context, sessionID string, exec ...core.DBExecutor) (string, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if s, ok := repo.db.sessions[sessionID]; ok {
		return s.CourseID, nil
	}
	return "", live.ErrNotFound
}
