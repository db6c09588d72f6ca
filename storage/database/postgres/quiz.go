package pgrepos

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/quiz"
)

type quizRepository struct {
	exec core.DBExecutor
}

var _ quiz.Repository = (*quizRepository)(nil) // interface compliance check

func NewQuizRepository(exec core.DBExecutor) *quizRepository {
	return &quizRepository{exec: exec}
}

const quizColumns = "id, lesson_id, title, is_published, questions, created_at, updated_at"

func scanQuiz(row interface{ Scan(...interface{}) error }) (quiz.Quiz, error) {
	var (
		q         quiz.Quiz
		questions []byte
	)
	err := row.Scan(&q.ID, &q.LessonID, &q.Title, &q.IsPublished, &questions, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return quiz.Quiz{}, err
	}
	q.Questions = questions
	return q, nil
}

func (repo quizRepository) CreateQuiz(ctx context.Context, q quiz.Quiz, exec ...core.DBExecutor) (quiz.Quiz, error) {
	q.ID = uuid.New().String()
	if q.Questions == nil {
		q.Questions = []byte("[]")
	}
	_, err := getExec(repo.exec, exec).ExecContext(ctx,
		`INSERT INTO quiz (id, lesson_id, title, questions, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		q.ID, q.LessonID, q.Title, []byte(q.Questions), q.CreatedAt, q.UpdatedAt)
	if err != nil {
		return quiz.Quiz{}, errors.Wrap(err, "inserting quiz")
	}
	return q, nil
}

func (repo quizRepository) GetQuiz(ctx context.Context, id string, exec ...core.DBExecutor) (quiz.Quiz, error) {
	if !validUUID(id) {
		return quiz.Quiz{}, quiz.ErrNotFound
	}
	q, err := scanQuiz(getExec(repo.exec, exec).QueryRowContext(ctx,
		"SELECT "+quizColumns+" FROM quiz WHERE id = $1", id))
	if err != nil {
		if isNoRows(err) {
			return quiz.Quiz{}, quiz.ErrNotFound
		}
		return quiz.Quiz{}, errors.Wrap(err, "getting quiz")
	}
	return q, nil
}

func (repo quizRepository) QueryQuizzesByLesson(ctx context.Context, lessonID string, exec ...core.DBExecutor) ([]quiz.Quiz, error) {
	if !validUUID(lessonID) {
		return []quiz.Quiz{}, nil
	}
	rows, err := getExec(repo.exec, exec).QueryContext(ctx,
		"SELECT "+quizColumns+" FROM quiz WHERE lesson_id = $1 ORDER BY created_at", lessonID)
	if err != nil {
		return nil, errors.Wrap(err, "querying quizzes")
	}
	defer rows.Close()

	quizzes := make([]quiz.Quiz, 0)
	for rows.Next() {
		q, err := scanQuiz(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scanning quiz")
		}
		quizzes = append(quizzes, q)
	}
	return quizzes, errors.Wrap(rows.Err(), "iterating quizzes")
}

func (repo quizRepository) UpdateQuiz(ctx context.Context, q quiz.Quiz, exec ...core.DBExecutor) (quiz.Quiz, error) {
	res, err := getExec(repo.exec, exec).ExecContext(ctx,
		"UPDATE quiz SET title = $2, is_published = $3, questions = $4, updated_at = $5 WHERE id = $1",
		q.ID, q.Title, q.IsPublished, []byte(q.Questions), q.UpdatedAt)
	if err != nil {
		return quiz.Quiz{}, errors.Wrap(err, "updating quiz")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return quiz.Quiz{}, quiz.ErrNotFound
	}
	return q, nil
}

func (repo quizRepository) DeleteQuiz(ctx context.Context, id string, exec ...core.DBExecutor) error {
	if !validUUID(id) {
		return quiz.ErrNotFound
	}
	res, err := getExec(repo.exec, exec).ExecContext(ctx, "DELETE FROM quiz WHERE id = $1", id)
	if err != nil {
		return errors.Wrap(err, "deleting quiz")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return quiz.ErrNotFound
	}
	return nil
}

func (repo quizRepository) CourseIDByQuiz(ctx context.Context, quizID string, exec ...core.DBExecutor) (string, error) {
	if !validUUID(quizID) {
		return "", quiz.ErrNotFound
	}
	var courseID string
	err := getExec(repo.exec, exec).QueryRowContext(ctx,
		`SELECT m.course_id FROM quiz q
		 JOIN lesson l ON l.id = q.lesson_id
		 JOIN course_module m ON m.id = l.module_id
		 WHERE q.id = $1`, quizID).Scan(&courseID)
	if err != nil {
		if isNoRows(err) {
			return "", quiz.ErrNotFound
		}
		return "", errors.Wrap(err, "resolving quiz course")
	}
	return courseID, nil
}
