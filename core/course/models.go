package course

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/academia/core"
)

// Role is a capability scoped to one course, distinct from global roles.
type Role string

const (
	RoleInstructor        Role = "instructor"
	RoleContentEditor     Role = "content_editor"
	RoleEnrollmentManager Role = "enrollment_manager"
)

var AllRoles = []Role{RoleInstructor, RoleContentEditor, RoleEnrollmentManager}

func (r Role) Valid() bool {
	for _, role := range AllRoles {
		if r == role {
			return true
		}
	}
	return false
}

func (r Role) String() string { return string(r) }

type Course struct {
	ID          string     `json:"id"`
	OwnerUserID string     `json:"owner_user_id"`
	Title       string     `json:"title"`
	Slug        string     `json:"slug"`
	Description string     `json:"description"`
	IsPublished bool       `json:"is_published"`
	PublishedAt *time.Time `json:"published_at"`
	CreatedAt   time.Time  `json:"created_at"` // UTC
	UpdatedAt   time.Time  `json:"updated_at"` // UTC
}

type Module struct {
	ID          string     `json:"id"`
	CourseID    string     `json:"course_id"`
	Title       string     `json:"title"`
	Position    int        `json:"position"`
	IsPublished bool       `json:"is_published"`
	PublishedAt *time.Time `json:"published_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type Lesson struct {
	ID          string     `json:"id"`
	ModuleID    string     `json:"module_id"`
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	Position    int        `json:"position"`
	IsPublished bool       `json:"is_published"`
	PublishedAt *time.Time `json:"published_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ModuleDetail is a module with its lessons.
type ModuleDetail struct {
	Module
	Lessons []Lesson `json:"lessons"`
}

// Detail is a course with its full content tree.
type Detail struct {
	Course
	Modules []ModuleDetail `json:"modules"`
}

// VisibleToStudent prunes the tree down to what an enrolled student may see:
// a node is visible only when it and all its ancestors are published.
func (d Detail) VisibleToStudent() (Detail, bool) {
	if !d.IsPublished {
		return Detail{}, false
	}
	out := d
	out.Modules = make([]ModuleDetail, 0, len(d.Modules))
	for _, mod := range d.Modules {
		if !mod.IsPublished {
			continue
		}
		vis := mod
		vis.Lessons = make([]Lesson, 0, len(mod.Lessons))
		for _, les := range mod.Lessons {
			if les.IsPublished {
				vis.Lessons = append(vis.Lessons, les)
			}
		}
		out.Modules = append(out.Modules, vis)
	}
	return out, true
}

// Grant is a (course, user, role) assignment.
type Grant struct {
	CourseID  string    `json:"course_id"`
	UserID    string    `json:"user_id"`
	Role      Role      `json:"role"`
	GrantedAt time.Time `json:"granted_at"`
}

// StaffMember groups a user's grants on one course.
type StaffMember struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Roles  []Role `json:"roles"`
}

type Group struct {
	ID        string    `json:"id"`
	CourseID  string    `json:"course_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Enrollment struct {
	CourseID  string    `json:"course_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Input payloads

type NewCourse struct {
	Title       string `json:"title" validate:"required"`
	Description string `json:"description"`
}

func (nc *NewCourse) Validate(validate *validator.Validate, svc ServiceInterface) error {
	nc.Title = core.CleanString(nc.Title)
	nc.Description = core.CleanString(nc.Description)
	if err := validate.Struct(nc); err != nil {
		return err
	}
	return svc.CheckSlugUniqueness(context.Background(), Slugify(nc.Title))
}

type UpdateCourse struct {
	Title       string  `json:"title"`
	Description *string `json:"description"`
}

type NewModule struct {
	Title    string `json:"title" validate:"required"`
	Position int    `json:"position" validate:"gte=0"`
}

type UpdateModule struct {
	Title    string `json:"title"`
	Position *int   `json:"position" validate:"omitempty,gte=0"`
}

type NewLesson struct {
	Title    string `json:"title" validate:"required"`
	Content  string `json:"content"`
	Position int    `json:"position" validate:"gte=0"`
}

type UpdateLesson struct {
	Title    string  `json:"title"`
	Content  *string `json:"content"`
	Position *int    `json:"position" validate:"omitempty,gte=0"`
}

type NewGroup struct {
	Name string `json:"name" validate:"required"`
}

type NewGrant struct {
	UserID string `json:"user_id" validate:"required"`
	Role   string `json:"role" validate:"required,courserole"`
}

var slugRegex = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify derives a URL-safe slug from a title.
func Slugify(title string) string {
	slug := slugRegex.ReplaceAllString(strings.ToLower(title), "-")
	return strings.Trim(slug, "-")
}
