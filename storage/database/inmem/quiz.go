package inmemdb

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/quiz"
)

type quizRepository struct {
	db *DB
}

var _ quiz.Repository = (*quizRepository)(nil)

func NewQuizRepository(db *DB) *quizRepository {
	return &quizRepository{db: db}
}

func (repo *quizRepository) CreateQuiz(ctx context.Context, q quiz.Quiz, exec ...core.DBExecutor) (quiz.Quiz, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	q.ID = uuid.New().String()
	if q.Questions == nil {
		q.Questions = []byte("[]")
	}
	repo.db.quizzes[q.ID] = &q
	return q, nil
}

func (repo *quizRepository) GetQuiz(ctx context.Context, id string, exec ...core.DBExecutor) (quiz.Quiz, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if q, ok := repo.db.quizzes[id]; ok {
		return *q, nil
	}
	return quiz.Quiz{}, quiz.ErrNotFound
}

func (repo *quizRepository) QueryQuizzesByLesson(ctx context.Context, lessonID string, exec ...core.DBExecutor) ([]quiz.Quiz, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	quizzes := make([]quiz.Quiz, 0)
	for _, q := range repo.db.quizzes {
		if q.LessonID == lessonID {
			quizzes = append(quizzes, *q)
		}
	}
	sort.Slice(quizzes, func(i, j int) bool { return quizzes[i].CreatedAt.Before(quizzes[j].CreatedAt) })
	return quizzes, nil
}

func (repo *quizRepository) UpdateQuiz(ctx context.Context, q quiz.Quiz, exec ...core.DBExecutor) (quiz.Quiz, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	cur, ok := repo.db.quizzes[q.ID]
	if !ok {
		return quiz.Quiz{}, quiz.ErrNotFound
	}
	cur.Title = q.Title
	cur.IsPublished = q.IsPublished
	cur.Questions = q.Questions
	cur.UpdatedAt = q.UpdatedAt
	return *cur, nil
}

func (repo *quizRepository) DeleteQuiz(ctx context.Context, id string, exec ...core.DBExecutor) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.quizzes[id]; !ok {
		return quiz.ErrNotFound
	}
	delete(repo.db.quizzes, id)
	return nil
}

func (repo *quizRepository) CourseIDByQuiz(ctx context.Context, quizID string, exec ...core.DBExecutor) (string, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	q, ok := repo.db.quizzes[quizID]
	if !ok {
		return "", quiz.ErrNotFound
	}
	l, ok := repo.db.lessons[q.LessonID]
	if !ok {
		return "", quiz.ErrNotFound
	}
	m, ok := repo.db.modules[l.ModuleID]
	if !ok {
		return "", quiz.ErrNotFound
	}
	return m.CourseID, nil
}
