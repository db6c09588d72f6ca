package live

import "time"

// Session is a scheduled live meeting on a course. Recurrence is an opaque
// rule handed to an Expander; the built-in one understands "", "daily" and
// "weekly".
type Session struct {
	ID              string    `json:"id"`
	CourseID        string    `json:"course_id"`
	Title           string    `json:"title"`
	StartsAt        time.Time `json:"starts_at"` // UTC
	DurationMinutes int       `json:"duration_minutes"`
	Recurrence      string    `json:"recurrence"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Occurrence is one expanded instance of a session.
type Occurrence struct {
	SessionID string    `json:"session_id"`
	Title     string    `json:"title"`
	StartsAt  time.Time `json:"starts_at"`
	EndsAt    time.Time `json:"ends_at"`
}

type NewSession struct {
	Title           string    `json:"title" validate:"required"`
	StartsAt        time.Time `json:"starts_at" validate:"required"`
	DurationMinutes int       `json:"duration_minutes" validate:"required,gt=0"`
	Recurrence      string    `json:"recurrence"`
}

type UpdateSession struct {
	Title           string     `json:"title"`
	StartsAt        *time.Time `json:"starts_at"`
	DurationMinutes *int       `json:"duration_minutes" validate:"omitempty,gt=0"`
	Recurrence      *string    `json:"recurrence"`
}
