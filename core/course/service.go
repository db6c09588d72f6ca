package course

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
)

var (
	ErrNotFound        = errors.New("course not found")
	ErrModuleNotFound  = errors.New("module not found")
	ErrLessonNotFound  = errors.New("lesson not found")
	ErrGroupNotFound   = errors.New("group not found")
	ErrSlugExists      = errors.New("a course with this title already exists")
	ErrAlreadyEnrolled = errors.New("user is already enrolled in this course")
)

type (
	GetFilter struct {
		ID   string
		Slug string
	}

	Repository interface {
		CreateCourse(ctx context.Context, c Course, exec ...core.DBExecutor) (Course, error)
		GetCourse(ctx context.Context, filter GetFilter, exec ...core.DBExecutor) (Course, error)
		GetCourseTree(ctx context.Context, id string, exec ...core.DBExecutor) (Detail, error)
		QueryAllCourses(ctx context.Context, exec ...core.DBExecutor) ([]Course, error)
		QueryCoursesByEnrollment(ctx context.Context, userID string, publishedOnly bool, exec ...core.DBExecutor) ([]Course, error)
		UpdateCourse(ctx context.Context, c Course, exec ...core.DBExecutor) (Course, error)
		SetCoursePublished(ctx context.Context, id string, published bool, at time.Time, exec ...core.DBExecutor) error
		CheckSlugUniqueness(ctx context.Context, slug string, exec ...core.DBExecutor) error

		CreateModule(ctx context.Context, m Module, exec ...core.DBExecutor) (Module, error)
		GetModule(ctx context.Context, id string, exec ...core.DBExecutor) (Module, error)
		UpdateModule(ctx context.Context, m Module, exec ...core.DBExecutor) (Module, error)
		SetModulePublished(ctx context.Context, id string, published bool, at time.Time, exec ...core.DBExecutor) error
		DeleteModule(ctx context.Context, id string, exec ...core.DBExecutor) error

		CreateLesson(ctx context.Context, l Lesson, exec ...core.DBExecutor) (Lesson, error)
		GetLesson(ctx context.Context, id string, exec ...core.DBExecutor) (Lesson, error)
		UpdateLesson(ctx context.Context, l Lesson, exec ...core.DBExecutor) (Lesson, error)
		SetLessonPublished(ctx context.Context, id string, published bool, at time.Time, exec ...core.DBExecutor) error
		DeleteLesson(ctx context.Context, id string, exec ...core.DBExecutor) error

		// course id resolution; each fails with the parent's not-found error
		CourseIDByModule(ctx context.Context, moduleID string, exec ...core.DBExecutor) (string, error)
		CourseIDByLesson(ctx context.Context, lessonID string, exec ...core.DBExecutor) (string, error)
		CourseIDByGroup(ctx context.Context, groupID string, exec ...core.DBExecutor) (string, error)

		// role grants
		GrantRole(ctx context.Context, g Grant, exec ...core.DBExecutor) error // idempotent
		RevokeRole(ctx context.Context, courseID, userID string, role Role, exec ...core.DBExecutor) error
		HasAnyRole(ctx context.Context, courseID, userID string, roles []Role, exec ...core.DBExecutor) (bool, error)
		ListStaff(ctx context.Context, courseID string, exec ...core.DBExecutor) ([]StaffMember, error)

		// enrollments
		CreateEnrollment(ctx context.Context, courseID, userID string, exec ...core.DBExecutor) error
		DeleteEnrollment(ctx context.Context, courseID, userID string, exec ...core.DBExecutor) error
		IsEnrolled(ctx context.Context, courseID, userID string, exec ...core.DBExecutor) (bool, error)

		// groups
		CreateGroup(ctx context.Context, g Group, exec ...core.DBExecutor) (Group, error)
		GetGroup(ctx context.Context, id string, exec ...core.DBExecutor) (Group, error)
		QueryGroups(ctx context.Context, courseID string, exec ...core.DBExecutor) ([]Group, error)
		DeleteGroup(ctx context.Context, id string, exec ...core.DBExecutor) error
		RemoveUserFromCourseGroups(ctx context.Context, courseID, userID string, exec ...core.DBExecutor) error
		AddGroupMember(ctx context.Context, groupID, userID string, exec ...core.DBExecutor) error
		ListGroupMembers(ctx context.Context, groupID string, exec ...core.DBExecutor) ([]string, error)
	}

	ServiceInterface interface {
		CheckSlugUniqueness(ctx context.Context, slug string) error
		Create(ctx context.Context, ownerUserID string, nc NewCourse) (Course, error)
		GetByID(ctx context.Context, id string) (Course, error)
		GetBySlug(ctx context.Context, slug string) (Course, error)
		GetTree(ctx context.Context, id string) (Detail, error)
		QueryAll(ctx context.Context) ([]Course, error)
		QueryEnrolled(ctx context.Context, userID string) ([]Course, error)
		Update(ctx context.Context, id string, uc UpdateCourse) (Course, error)
		SetPublished(ctx context.Context, id string, published bool) error

		AddModule(ctx context.Context, courseID string, nm NewModule) (Module, error)
		GetModule(ctx context.Context, id string) (Module, error)
		UpdateModule(ctx context.Context, id string, um UpdateModule) (Module, error)
		SetModulePublished(ctx context.Context, id string, published bool) error
		RemoveModule(ctx context.Context, id string) error

		AddLesson(ctx context.Context, moduleID string, nl NewLesson) (Lesson, error)
		GetLesson(ctx context.Context, id string) (Lesson, error)
		UpdateLesson(ctx context.Context, id string, ul UpdateLesson) (Lesson, error)
		SetLessonPublished(ctx context.Context, id string, published bool) error
		RemoveLesson(ctx context.Context, id string) error

		ResolveCourseID(ctx context.Context, ref ResourceRef) (string, error)

		Grant(ctx context.Context, g Grant, exec ...core.DBExecutor) error
		Revoke(ctx context.Context, courseID, userID string, role Role) error
		Staff(ctx context.Context, courseID string) ([]StaffMember, error)
		// Authorize decides a course-scoped action: global admin bypasses;
		// the owner counts as instructor; otherwise a grant row must match.
		Authorize(ctx context.Context, userID string, isAdmin bool, courseID string, allowed ...Role) error

		Enroll(ctx context.Context, courseID, userID string, exec ...core.DBExecutor) error
		Unenroll(ctx context.Context, courseID, userID string) error
		IsEnrolled(ctx context.Context, courseID, userID string) (bool, error)

		AddGroup(ctx context.Context, courseID string, ng NewGroup) (Group, error)
		GetGroup(ctx context.Context, id string) (Group, error)
		QueryGroups(ctx context.Context, courseID string) ([]Group, error)
		RemoveGroup(ctx context.Context, id string) error
		// MoveToGroup puts a student in the group, removing them from any other
		// group of the same course first (delete-then-insert, one transaction).
		MoveToGroup(ctx context.Context, groupID, userID string) error
		GroupMembers(ctx context.Context, groupID string) ([]string, error)
	}

	Service struct {
		db   core.DB
		repo Repository
	}
)

var _ ServiceInterface = (*Service)(nil)

func NewService(db core.DB, repo Repository) *Service {
	return &Service{db: db, repo: repo}
}

// ResourceRef points at a course through one of its child resources.
type ResourceRef struct {
	CourseID string
	ModuleID string
	LessonID string
	GroupID  string
}

func (svc *Service) CheckSlugUniqueness(ctx context.Context, slug string) error {
	if err := svc.repo.CheckSlugUniqueness(ctx, slug); err != nil {
		if errors.Cause(err) == ErrSlugExists {
			return core.NewValidationError(err, core.FieldError{Field: "title", Error: err.Error()})
		}
		return err
	}
	return nil
}

func (svc *Service) Create(ctx context.Context, ownerUserID string, nc NewCourse) (Course, error) {
	now := time.Now().UTC()
	c := Course{
		OwnerUserID: ownerUserID,
		Title:       nc.Title,
		Slug:        Slugify(nc.Title),
		Description: nc.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return svc.repo.CreateCourse(ctx, c)
}

func (svc *Service) GetByID(ctx context.Context, id string) (Course, error) {
	return svc.repo.GetCourse(ctx, GetFilter{ID: id})
}

func (svc *Service) GetBySlug(ctx context.Context, slug string) (Course, error) {
	return svc.repo.GetCourse(ctx, GetFilter{Slug: core.CleanString(slug, true /* lower */)})
}

func (svc *Service) GetTree(ctx context.Context, id string) (Detail, error) {
	return svc.repo.GetCourseTree(ctx, id)
}

func (svc *Service) QueryAll(ctx context.Context) ([]Course, error) {
	return svc.repo.QueryAllCourses(ctx)
}

func (svc *Service) QueryEnrolled(ctx context.Context, userID string) ([]Course, error) {
	return svc.repo.QueryCoursesByEnrollment(ctx, userID, true /* publishedOnly */)
}

func (svc *Service) Update(ctx context.Context, id string, uc UpdateCourse) (Course, error) {
	c, err := svc.repo.GetCourse(ctx, GetFilter{ID: id})
	if err != nil {
		return Course{}, err
	}
	if title := core.CleanString(uc.Title); title != "" {
		c.Title = title
	}
	if uc.Description != nil {
		c.Description = core.CleanString(*uc.Description)
	}
	c.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateCourse(ctx, c)
}

func (svc *Service) SetPublished(ctx context.Context, id string, published bool) error {
	if _, err := svc.repo.GetCourse(ctx, GetFilter{ID: id}); err != nil {
		return err
	}
	return svc.repo.SetCoursePublished(ctx, id, published, time.Now().UTC())
}

func (svc *Service) AddModule(ctx context.Context, courseID string, nm NewModule) (Module, error) {
	if _, err := svc.repo.GetCourse(ctx, GetFilter{ID: courseID}); err != nil {
		return Module{}, err
	}
	now := time.Now().UTC()
	m := Module{
		CourseID:  courseID,
		Title:     core.CleanString(nm.Title),
		Position:  nm.Position,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return svc.repo.CreateModule(ctx, m)
}

func (svc *Service) GetModule(ctx context.Context, id string) (Module, error) {
	return svc.repo.GetModule(ctx, id)
}

func (svc *Service) UpdateModule(ctx context.Context, id string, um UpdateModule) (Module, error) {
	m, err := svc.repo.GetModule(ctx, id)
	if err != nil {
		return Module{}, err
	}
	if title := core.CleanString(um.Title); title != "" {
		m.Title = title
	}
	if um.Position != nil {
		m.Position = *um.Position
	}
	m.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateModule(ctx, m)
}

func (svc *Service) SetModulePublished(ctx context.Context, id string, published bool) error {
	if _, err := svc.repo.GetModule(ctx, id); err != nil {
		return err
	}
	return svc.repo.SetModulePublished(ctx, id, published, time.Now().UTC())
}

func (svc *Service) RemoveModule(ctx context.Context, id string) error {
	return svc.repo.DeleteModule(ctx, id)
}

func (svc *Service) AddLesson(ctx context.Context, moduleID string, nl NewLesson) (Lesson, error) {
	if _, err := svc.repo.GetModule(ctx, moduleID); err != nil {
		return Lesson{}, err
	}
	now := time.Now().UTC()
	l := Lesson{
		ModuleID:  moduleID,
		Title:     core.CleanString(nl.Title),
		Content:   nl.Content,
		Position:  nl.Position,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return svc.repo.CreateLesson(ctx, l)
}

func (svc *Service) GetLesson(ctx context.Context, id string) (Lesson, error) {
	return svc.repo.GetLesson(ctx, id)
}

func (svc *Service) UpdateLesson(ctx context.Context, id string, ul UpdateLesson) (Lesson, error) {
	l, err := svc.repo.GetLesson(ctx, id)
	if err != nil {
		return Lesson{}, err
	}
	if title := core.CleanString(ul.Title); title != "" {
		l.Title = title
	}
	if ul.Content != nil {
		l.Content = *ul.Content
	}
	if ul.Position != nil {
		l.Position = *ul.Position
	}
	l.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateLesson(ctx, l)
}

func (svc *Service) SetLessonPublished(ctx context.Context, id string, published bool) error {
	if _, err := svc.repo.GetLesson(ctx, id); err != nil {
		return err
	}
	return svc.repo.SetLessonPublished(ctx, id, published, time.Now().UTC())
}

func (svc *Service) RemoveLesson(ctx context.Context, id string) error {
	return svc.repo.DeleteLesson(ctx, id)
}

// ResolveCourseID derives the target course from whichever reference is set.
// A dangling reference resolves to the same not-found outcome as a missing
// course, never an internal error.
func (svc *Service) ResolveCourseID(ctx context.Context, ref ResourceRef) (string, error) {
	switch {
	case ref.CourseID != "":
		if _, err := svc.repo.GetCourse(ctx, GetFilter{ID: ref.CourseID}); err != nil {
			return "", err
		}
		return ref.CourseID, nil
	case ref.ModuleID != "":
		return svc.repo.CourseIDByModule(ctx, ref.ModuleID)
	case ref.LessonID != "":
		return svc.repo.CourseIDByLesson(ctx, ref.LessonID)
	case ref.GroupID != "":
		return svc.repo.CourseIDByGroup(ctx, ref.GroupID)
	}
	return "", ErrNotFound
}

func (svc *Service) Grant(ctx context.Context, g Grant, exec ...core.DBExecutor) error {
	if !g.Role.Valid() {
		return core.NewValidationError(nil, core.FieldError{Field: "role", Error: "unknown course role"})
	}
	if g.GrantedAt.IsZero() {
		g.GrantedAt = time.Now().UTC()
	}
	return svc.repo.GrantRole(ctx, g, exec...)
}

func (svc *Service) Revoke(ctx context.Context, courseID, userID string, role Role) error {
	return svc.repo.RevokeRole(ctx, courseID, userID, role)
}

func (svc *Service) Staff(ctx context.Context, courseID string) ([]StaffMember, error) {
	return svc.repo.ListStaff(ctx, courseID)
}

func (svc *Service) Authorize(ctx context.Context, userID string, isAdmin bool, courseID string, allowed ...Role) error {
	if isAdmin {
		// admin bypass; the course may not even exist yet for some callers,
		// but a course-scoped route still 404s on a missing course.
		if _, err := svc.repo.GetCourse(ctx, GetFilter{ID: courseID}); err != nil {
			return err
		}
		return nil
	}

	c, err := svc.repo.GetCourse(ctx, GetFilter{ID: courseID})
	if err != nil {
		return err
	}

	// ownership is an implicit instructor grant, nothing more
	if c.OwnerUserID == userID {
		for _, r := range allowed {
			if r == RoleInstructor {
				return nil
			}
		}
	}

	ok, err := svc.repo.HasAnyRole(ctx, courseID, userID, allowed)
	if err != nil {
		return errors.Wrap(err, "checking course roles")
	}
	if !ok {
		return core.ErrPermissionDenied
	}
	return nil
}

func (svc *Service) Enroll(ctx context.Context, courseID, userID string, exec ...core.DBExecutor) error {
	return svc.repo.CreateEnrollment(ctx, courseID, userID, exec...)
}

func (svc *Service) Unenroll(ctx context.Context, courseID, userID string) error {
	return svc.repo.DeleteEnrollment(ctx, courseID, userID)
}

func (svc *Service) IsEnrolled(ctx context.Context, courseID, userID string) (bool, error) {
	return svc.repo.IsEnrolled(ctx, courseID, userID)
}

func (svc *Service) AddGroup(ctx context.Context, courseID string, ng NewGroup) (Group, error) {
	if _, err := svc.repo.GetCourse(ctx, GetFilter{ID: courseID}); err != nil {
		return Group{}, err
	}
	g := Group{
		CourseID:  courseID,
		Name:      core.CleanString(ng.Name),
		CreatedAt: time.Now().UTC(),
	}
	return svc.repo.CreateGroup(ctx, g)
}

func (svc *Service) GetGroup(ctx context.Context, id string) (Group, error) {
	return svc.repo.GetGroup(ctx, id)
}

func (svc *Service) QueryGroups(ctx context.Context, courseID string) ([]Group, error) {
	return svc.repo.QueryGroups(ctx, courseID)
}

func (svc *Service) RemoveGroup(ctx context.Context, id string) error {
	return svc.repo.DeleteGroup(ctx, id)
}

func (svc *Service) MoveToGroup(ctx context.Context, groupID, userID string) error {
	g, err := svc.repo.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	return core.RunInTx(ctx, svc.db, func(tx core.DBTransactor) error {
		if err := svc.repo.RemoveUserFromCourseGroups(ctx, g.CourseID, userID, tx); err != nil {
			return errors.Wrap(err, "leaving current group")
		}
		return errors.Wrap(svc.repo.AddGroupMember(ctx, groupID, userID, tx), "joining group")
	})
}

func (svc *Service) GroupMembers(ctx context.Context, groupID string) ([]string, error) {
	return svc.repo.ListGroupMembers(ctx, groupID)
}
