package quiz

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
)

var ErrNotFound = errors.New("quiz not found")

type (
	Repository interface {
		CreateQuiz(ctx context.Context, q Quiz, exec ...core.DBExecutor) (Quiz, error)
		GetQuiz(ctx context.Context, id string, exec ...core.DBExecutor) (Quiz, error)
		QueryQuizzesByLesson(ctx context.Context, lessonID string, exec ...core.DBExecutor) ([]Quiz, error)
		UpdateQuiz(ctx context.Context, q Quiz, exec ...core.DBExecutor) (Quiz, error)
		DeleteQuiz(ctx context.Context, id string, exec ...core.DBExecutor) error
		// CourseIDByQuiz resolves quiz -> lesson -> module -> course.
		CourseIDByQuiz(ctx context.Context, quizID string, exec ...core.DBExecutor) (string, error)
	}

	ServiceInterface interface {
		Create(ctx context.Context, lessonID string, nq NewQuiz) (Quiz, error)
		GetByID(ctx context.Context, id string) (Quiz, error)
		QueryByLesson(ctx context.Context, lessonID string) ([]Quiz, error)
		Update(ctx context.Context, id string, uq UpdateQuiz) (Quiz, error)
		Remove(ctx context.Context, id string) error
		ResolveCourseID(ctx context.Context, quizID string) (string, error)
	}

	Service struct {
		repo Repository
	}
)

var _ ServiceInterface = (*Service)(nil)

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (svc *Service) Create(ctx context.Context, lessonID string, nq NewQuiz) (Quiz, error) {
	now := time.Now().UTC()
	q := Quiz{
		LessonID:  lessonID,
		Title:     core.CleanString(nq.Title),
		Questions: nq.Questions,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return svc.repo.CreateQuiz(ctx, q)
}

func (svc *Service) GetByID(ctx context.Context, id string) (Quiz, error) {
	return svc.repo.GetQuiz(ctx, id)
}

func (svc *Service) QueryByLesson(ctx context.Context, lessonID string) ([]Quiz, error) {
	return svc.repo.QueryQuizzesByLesson(ctx, lessonID)
}

func (svc *Service) Update(ctx context.Context, id string, uq UpdateQuiz) (Quiz, error) {
	q, err := svc.repo.GetQuiz(ctx, id)
	if err != nil {
		return Quiz{}, err
	}
	if title := core.CleanString(uq.Title); title != "" {
		q.Title = title
	}
	if uq.Questions != nil {
		q.Questions = uq.Questions
	}
	if uq.IsPublished != nil {
		q.IsPublished = *uq.IsPublished
	}
	q.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateQuiz(ctx, q)
}

func (svc *Service) Remove(ctx context.Context, id string) error {
	return svc.repo.DeleteQuiz(ctx, id)
}

func (svc *Service) ResolveCourseID(ctx context.Context, quizID string) (string, error) {
	return svc.repo.CourseIDByQuiz(ctx, quizID)
}
