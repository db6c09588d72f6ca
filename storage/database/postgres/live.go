package pgrepos

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/live"
)

type liveRepository struct {
	exec core.DBExecutor
}

var _ live.Repository = (*liveRepository)(nil) // interface compliance check

func NewLiveRepository(exec core.DBExecutor) *liveRepository {
	return &liveRepository{exec: exec}
}

const sessionColumns = "id, course_id, title, starts_at, duration_minutes, recurrence, created_at, updated_at"

func scanSession(row interface{ Scan(...interface{}) error }) (live.Session, error) {
	var s live.Session
	err := row.Scan(&s.ID, &s.CourseID, &s.Title, &s.StartsAt, &s.DurationMinutes,
		&s.Recurrence, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func (repo liveRepository) CreateSession(ctx context.Context, s live.Session, exec ...core.DBExecutor) (live.Session, error) {
	s.ID = uuid.New().String()
	_, err := getExec(repo.exec, exec).ExecContext(ctx,
		`INSERT INTO live_session (id, course_id, title, starts_at, duration_minutes, recurrence, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.CourseID, s.Title, s.StartsAt, s.DurationMinutes, s.Recurrence, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return live.Session{}, errors.Wrap(err, "inserting live session")
	}
	return s, nil
}

func (repo liveRepository) GetSession(ctx context.Context, id string, exec ...core.DBExecutor) (live.Session, error) {
	if !validUUID(id) {
		return live.Session{}, live.ErrNotFound
	}
	s, err := scanSession(getExec(repo.exec, exec).QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM live_session WHERE id = $1", id))
	if err != nil {
		if isNoRows(err) {
			return live.Session{}, live.ErrNotFound
		}
		return live.Session{}, errors.Wrap(err, "getting live session")
	}
	return s, nil
}

func (repo liveRepository) QuerySessionsByCourse(ctx context.Context, courseID string, exec ...core.DBExecutor) ([]live.Session, error) {
	if !validUUID(courseID) {
		return []live.Session{}, nil
	}
	rows, err := getExec(repo.exec, exec).QueryContext(ctx,
		"SELECT "+sessionColumns+" FROM live_session WHERE course_id = $1 ORDER BY starts_at", courseID)
	if err != nil {
		return nil, errors.Wrap(err, "querying live sessions")
	}
	defer rows.Close()

	sessions := make([]live.Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scanning live session")
		}
		sessions = append(sessions, s)
	}
	return sessions, errors.Wrap(rows.Err(), "iterating live sessions")
}

func (repo liveRepository) UpdateSession(ctx context.Context, s live.Session, exec ...core.DBExecutor) (live.Session, error) {
	res, err := getExec(repo.exec, exec).ExecContext(ctx,
		`UPDATE live_session SET title = $2, starts_at = $3, duration_minutes = $4, recurrence = $5, updated_at = $6
		 WHERE id = $1`,
		s.ID, s.Title, s.StartsAt, s.DurationMinutes, s.Recurrence, s.UpdatedAt)
	if err != nil {
		return live.Session{}, errors.Wrap(err, "updating live session")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return live.Session{}, live.ErrNotFound
	}
	return s, nil
}

func (repo liveRepository) DeleteSession(ctx context.Context, id string, exec ...core.DBExecutor) error {
	if !validUUID(id) {
		return live.ErrNotFound
	}
	res, err := getExec(repo.exec, exec).ExecContext(ctx, "DELETE FROM live_session WHERE id = $1", id)
	if err != nil {
		return errors.Wrap(err, "deleting live session")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return live.ErrNotFound
	}
	return nil
}

func (repo liveRepository) CourseIDBySession(ctx context.Context, sessionID string, exec ...core.DBExecutor) (string, error) {
	if !validUUID(sessionID) {
		return "", live.ErrNotFound
	}
	var courseID string
	err := getExec(repo.exec, exec).QueryRowContext(ctx,
		"SELECT course_id FROM live_session WHERE id = $1", sessionID).Scan(&courseID)
	if err != nil {
		if isNoRows(err) {
			return "", live.ErrNotFound
		}
		return "", errors.Wrap(err, "resolving session course")
	}
	return courseID, nil
}
