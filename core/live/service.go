package live

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
)

var ErrNotFound = errors.New("live session not found")

type (
	Repository interface {
		CreateSession(ctx context.Context, s Session, exec ...core.DBExecutor) (Session, error)
		GetSession(ctx context.Context, id string, exec ...core.DBExecutor) (Session, error)
		QuerySessionsByCourse(ctx context.Context, courseID string, exec ...core.DBExecutor) ([]Session, error)
		UpdateSession(ctx context.Context, s Session, exec ...core.DBExecutor) (Session, error)
		DeleteSession(ctx context.Context, id string, exec ...core.DBExecutor) error
		CourseIDBySession(ctx context.Context, sessionID string, exec ...core.DBExecutor) (string, error)
	}

	ServiceInterface interface {
		Create(ctx context.Context, courseID string, ns NewSession) (Session, error)
		GetByID(ctx context.Context, id string) (Session, error)
		QueryByCourse(ctx context.Context, courseID string) ([]Session, error)
		Update(ctx context.Context, id string, us UpdateSession) (Session, error)
		Remove(ctx context.Context, id string) error
		// Occurrences expands every session of a course within [from, to).
		Occurrences(ctx context.Context, courseID string, from, to time.Time) ([]Occurrence, error)
		ResolveCourseID(ctx context.Context, sessionID string) (string, error)
	}

	Service struct {
		repo     Repository
		expander Expander
	}
)

var _ ServiceInterface = (*Service)(nil)

func NewService(repo Repository, expander Expander) *Service {
	if expander == nil {
		expander = IntervalExpander{}
	}
	return &Service{repo: repo, expander: expander}
}

func (svc *Service) Create(ctx context.Context, courseID string, ns NewSession) (Session, error) {
	now := time.Now().UTC()
	s := Session{
		CourseID:        courseID,
		Title:           core.CleanString(ns.Title),
		StartsAt:        ns.StartsAt.UTC(),
		DurationMinutes: ns.DurationMinutes,
		Recurrence:      core.CleanString(ns.Recurrence, true /* lower */),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if _, err := svc.expander.Expand(s.Recurrence, s.StartsAt, s.StartsAt, s.StartsAt.Add(time.Minute)); err != nil {
		return Session{}, core.NewValidationError(err, core.FieldError{Field: "recurrence", Error: err.Error()})
	}
	return svc.repo.CreateSession(ctx, s)
}

func (svc *Service) GetByID(ctx context.Context, id string) (Session, error) {
	return svc.repo.GetSession(ctx, id)
}

func (svc *Service) QueryByCourse(ctx context.Context, courseID string) ([]Session, error) {
	return svc.repo.QuerySessionsByCourse(ctx, courseID)
}

func (svc *Service) Update(ctx context.Context, id string, us UpdateSession) (Session, error) {
	s, err := svc.repo.GetSession(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if title := core.CleanString(us.Title); title != "" {
		s.Title = title
	}
	if us.StartsAt != nil {
		s.StartsAt = us.StartsAt.UTC()
	}
	if us.DurationMinutes != nil {
		s.DurationMinutes = *us.DurationMinutes
	}
	if us.Recurrence != nil {
		s.Recurrence = core.CleanString(*us.Recurrence, true /* lower */)
	}
	s.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateSession(ctx, s)
}

func (svc *Service) Remove(ctx context.Context, id string) error {
	return svc.repo.DeleteSession(ctx, id)
}

func (svc *Service) Occurrences(ctx context.Context, courseID string, from, to time.Time) ([]Occurrence, error) {
	sessions, err := svc.repo.QuerySessionsByCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}

	var out []Occurrence
	for _, s := range sessions {
		starts, err := svc.expander.Expand(s.Recurrence, s.StartsAt, from, to)
		if err != nil {
			return nil, errors.Wrapf(err, "expanding session %s", s.ID)
		}
		for _, st := range starts {
			out = append(out, Occurrence{
				SessionID: s.ID,
				Title:     s.Title,
				StartsAt:  st,
				EndsAt:    st.Add(time.Duration(s.DurationMinutes) * time.Minute),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func (svc *Service) ResolveCourseID(ctx context.Context, sessionID string) (string, error) {
	return svc.repo.CourseIDBySession(ctx, sessionID)
}
