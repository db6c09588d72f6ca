package quiz

import (
	"encoding/json"
	"time"
)

// Quiz hangs off a lesson and inherits its visibility chain.
// Questions is an opaque document; grading happens elsewhere.
type Quiz struct {
	ID          string          `json:"id"`
	LessonID    string          `json:"lesson_id"`
	Title       string          `json:"title"`
	IsPublished bool            `json:"is_published"`
	Questions   json.RawMessage `json:"questions"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type NewQuiz struct {
	Title     string          `json:"title" validate:"required"`
	Questions json.RawMessage `json:"questions"`
}

type UpdateQuiz struct {
	Title       string          `json:"title"`
	Questions   json.RawMessage `json:"questions"`
	IsPublished *bool           `json:"is_published"`
}
