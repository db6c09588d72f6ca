package pgrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/course"
)

type courseRepository struct {
	exec core.DBExecutor
}

var _ course.Repository = (*courseRepository)(nil) // interface compliance check

func NewCourseRepository(exec core.DBExecutor) *courseRepository {
	return &courseRepository{exec: exec}
}

const courseColumns = "id, owner_user_id, title, slug, description, is_published, published_at, created_at, updated_at"

func scanCourse(row interface{ Scan(...interface{}) error }) (course.Course, error) {
	var (
		c           course.Course
		publishedAt null.Time
	)
	err := row.Scan(&c.ID, &c.OwnerUserID, &c.Title, &c.Slug, &c.Description,
		&c.IsPublished, &publishedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return course.Course{}, err
	}
	if publishedAt.Valid {
		c.PublishedAt = &publishedAt.Time
	}
	return c, nil
}

func (repo courseRepository) CreateCourse(ctx context.Context, c course.Course, exec ...core.DBExecutor) (course.Course, error) {
	c.ID = uuid.New().String()
	_, err := getExec(repo.exec, exec).ExecContext(ctx,
		`INSERT INTO course (id, owner_user_id, title, slug, description, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.OwnerUserID, c.Title, c.Slug, c.Description, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return course.Course{}, course.ErrSlugExists
		}
		return course.Course{}, errors.Wrap(err, "inserting course")
	}
	return c, nil
}

func (repo courseRepository) GetCourse(ctx context.Context, filter course.GetFilter, exec ...core.DBExecutor) (course.Course, error) {
	var (
		query string
		arg   interface{}
	)
	switch {
	case filter.ID != "":
		if !validUUID(filter.ID) {
			return course.Course{}, course.ErrNotFound
		}
		query = "SELECT " + courseColumns + " FROM course WHERE id = $1"
		arg = filter.ID
	case filter.Slug != "":
		query = "SELECT " + courseColumns + " FROM course WHERE slug = $1"
		arg = filter.Slug
	default:
		return course.Course{}, course.ErrNotFound
	}

	c, err := scanCourse(getExec(repo.exec, exec).QueryRowContext(ctx, query, arg))
	if err != nil {
		if isNoRows(err) {
			return course.Course{}, course.ErrNotFound
		}
		return course.Course{}, errors.Wrap(err, "getting course")
	}
	return c, nil
}

const (
	moduleColumns = "id, course_id, title, position, is_published, published_at, created_at, updated_at"
	lessonColumns = "id, module_id, title, content, position, is_published, published_at, created_at, updated_at"
)

func scanModule(row interface{ Scan(...interface{}) error }) (course.Module, error) {
	var (
		m           course.Module
		publishedAt null.Time
	)
	err := row.Scan(&m.ID, &m.CourseID, &m.Title, &m.Position,
		&m.IsPublished, &publishedAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return course.Module{}, err
	}
	if publishedAt.Valid {
		m.PublishedAt = &publishedAt.Time
	}
	return m, nil
}

func scanLesson(row interface{ Scan(...interface{}) error }) (course.Lesson, error) {
	var (
		l           course.Lesson
		publishedAt null.Time
	)
	err := row.Scan(&l.ID, &l.ModuleID, &l.Title, &l.Content, &l.Position,
		&l.IsPublished, &publishedAt, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return course.Lesson{}, err
	}
	if publishedAt.Valid {
		l.PublishedAt = &publishedAt.Time
	}
	return l, nil
}

func (repo courseRepository) GetCourseTree(ctx context.Context, id string, exec ...core.DBExecutor) (course.Detail, error) {
	ex := getExec(repo.exec, exec)

	c, err := repo.GetCourse(ctx, course.GetFilter{ID: id}, ex)
	if err != nil {
		return course.Detail{}, err
	}
	detail := course.Detail{Course: c, Modules: make([]course.ModuleDetail, 0)}

	rows, err := ex.QueryContext(ctx,
		"SELECT "+moduleColumns+" FROM course_module WHERE course_id = $1 ORDER BY position, created_at", id)
	if err != nil {
		return course.Detail{}, errors.Wrap(err, "querying modules")
	}
	defer rows.Close()

	moduleIdx := make(map[string]int)
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			return course.Detail{}, errors.Wrap(err, "scanning module")
		}
		moduleIdx[m.ID] = len(detail.Modules)
		detail.Modules = append(detail.Modules, course.ModuleDetail{Module: m, Lessons: make([]course.Lesson, 0)})
	}
	if err = rows.Err(); err != nil {
		return course.Detail{}, errors.Wrap(err, "iterating modules")
	}

	lrows, err := ex.QueryContext(ctx,
		`SELECT l.id, l.module_id, l.title, l.content, l.position, l.is_published, l.published_at, l.created_at, l.updated_at
		 FROM lesson l JOIN course_module m ON m.id = l.module_id
		 WHERE m.course_id = $1 ORDER BY l.position, l.created_at`, id)
	if err != nil {
		return course.Detail{}, errors.Wrap(err, "querying lessons")
	}
	defer lrows.Close()

	for lrows.Next() {
		l, err := scanLesson(lrows)
		if err != nil {
			return course.Detail{}, errors.Wrap(err, "scanning lesson")
		}
		if i, ok := moduleIdx[l.ModuleID]; ok {
			detail.Modules[i].Lessons = append(detail.Modules[i].Lessons, l)
		}
	}
	return detail, errors.Wrap(lrows.Err(), "iterating lessons")
}

func (repo courseRepository) queryCourses(ctx context.Context, ex core.DBExecutor, query string, args ...interface{}) ([]course.Course, error) {
	rows, err := ex.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "querying courses")
	}
	defer rows.Close()

	courses := make([]course.Course, 0)
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scanning course")
		}
		courses = append(courses, c)
	}
	return courses, errors.Wrap(rows.Err(), "iterating courses")
}

func (repo courseRepository) QueryAllCourses(ctx context.Context, exec ...core.DBExecutor) ([]course.Course, error) {
	return repo.queryCourses(ctx, getExec(repo.exec, exec),
		"SELECT "+courseColumns+" FROM course ORDER BY created_at DESC")
}

func (repo courseRepository) QueryCoursesByEnrollment(ctx context.Context, userID string, publishedOnly bool, exec ...core.DBExecutor) ([]course.Course, error) {
	if !validUUID(userID) {
		return []course.Course{}, nil
	}
	query := `SELECT c.id, c.owner_user_id, c.title, c.slug, c.description, c.is_published, c.published_at, c.created_at, c.updated_at
		 FROM course c JOIN enrollment e ON e.course_id = c.id
		 WHERE e.user_id = $1`
	if publishedOnly {
		query += " AND c.is_published"
	}
	query += " ORDER BY c.title"
	return repo.queryCourses(ctx, getExec(repo.exec, exec), query, userID)
}

func (repo courseRepository) UpdateCourse(ctx context.Context, c course.Course, exec ...core.DBExecutor) (course.Course, error) {
	res, err := getExec(repo.exec, exec).ExecContext(ctx,
		"UPDATE course SET title = $2, description = $3, updated_at = $4 WHERE id = $1",
		c.ID, c.Title, c.Description, c.UpdatedAt)
	if err != nil {
		return course.Course{}, errors.Wrap(err, "updating course")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return course.Course{}, course.ErrNotFound
	}
	return c, nil
}

func (repo courseRepository) SetCoursePublished(ctx context.Context, id string, published bool, at time.Time, exec ...core.DBExecutor) error {
	return repo.setPublished(ctx, getExec(repo.exec, exec), "course", id, published, at, course.ErrNotFound)
}

func (repo courseRepository) setPublished(ctx context.Context, ex core.DBExecutor, table, id string, published bool, at time.Time, notFound error) error {
	if !validUUID(id) {
		return notFound
	}
	res, err := ex.ExecContext(ctx,
		`UPDATE `+table+` SET is_published = $2,
		 published_at = CASE WHEN $2 THEN $3 ELSE NULL END, updated_at = $3
		 WHERE id = $1`,
		id, published, at)
	if err != nil {
		return errors.Wrapf(err, "publishing %s", table)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound
	}
	return nil
}

func (repo courseRepository) CheckSlugUniqueness(ctx context.Context, slug string, exec ...core.DBExecutor) error {
	var exists bool
	err := getExec(repo.exec, exec).QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM course WHERE slug = $1)", slug).Scan(&exists)
	if err != nil {
		return errors.Wrap(err, "checking slug uniqueness")
	}
	if exists {
		return course.ErrSlugExists
	}
	return nil
}

// --- modules ---

func (repo courseRepository) CreateModule(ctx context.Context, m course.Module, exec ...core.DBExecutor) (course.Module, error) {
	m.ID = uuid.New().String()
	_, err := getExec(repo.exec, exec).ExecContext(ctx,
		`INSERT INTO course_module (id, course_id, title, position, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.CourseID, m.Title, m.Position, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return course.Module{}, errors.Wrap(err, "inserting module")
	}
	return m, nil
}

func (repo courseRepository) GetModule(ctx context.Context, id string, exec ...core.DBExecutor) (course.Module, error) {
	if !validUUID(id) {
		return course.Module{}, course.ErrModuleNotFound
	}
	m, err := scanModule(getExec(repo.exec, exec).QueryRowContext(ctx,
		"SELECT "+moduleColumns+" FROM course_module WHERE id = $1", id))
	if err != nil {
		if isNoRows(err) {
			return course.Module{}, course.ErrModuleNotFound
		}
		return course.Module{}, errors.Wrap(err, "getting module")
	}
	return m, nil
}

func (repo courseRepository) UpdateModule(ctx context.Context, m course.Module, exec ...core.DBExecutor) (course.Module, error) {
	res, err := getExec(repo.exec, exec).ExecContext(ctx,
		"UPDATE course_module SET title = $2, position = $3, updated_at = $4 WHERE id = $1",
		m.ID, m.Title, m.Position, m.UpdatedAt)
	if err != nil {
		return course.Module{}, errors.Wrap(err, "updating module")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return course.Module{}, course.ErrModuleNotFound
	}
	return m, nil
}

func (repo courseRepository) SetModulePublished(ctx context.Context, id string, published bool, at time.Time, exec ...core.DBExecutor) error {
	return repo.setPublished(ctx, getExec(repo.exec, exec), "course_module", id, published, at, course.ErrModuleNotFound)
}

func (repo courseRepository) DeleteModule(ctx context.Context, id string, exec ...core.DBExecutor) error {
	return repo.deleteByID(ctx, getExec(repo.exec, exec), "course_module", id, course.ErrModuleNotFound)
}

func (repo courseRepository) deleteByID(ctx context.Context, ex core.DBExecutor, table, id string, notFound error) error {
	if !validUUID(id) {
		return notFound
	}
	res, err := ex.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = $1", id)
	if err != nil {
		return errors.Wrapf(err, "deleting from %s", table)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound
	}
	return nil
}

// --- lessons ---

func (repo courseRepository) CreateLesson(ctx context.Context, l course.Lesson, exec ...core.DBExecutor) (course.Lesson, error) {
	l.ID = uuid.New().String()
	_, err := getExec(repo.exec, exec).ExecContext(ctx,
		`INSERT INTO lesson (id, module_id, title, content, position, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		l.ID, l.ModuleID, l.Title, l.Content, l.Position, l.CreatedAt, l.UpdatedAt)
	if err != nil {
		return course.Lesson{}, errors.Wrap(err, "inserting lesson")
	}
	return l, nil
}

func (repo courseRepository) GetLesson(ctx context.Context, id string, exec ...core.DBExecutor) (course.Lesson, error) {
	if !validUUID(id) {
		return course.Lesson{}, course.ErrLessonNotFound
	}
	l, err := scanLesson(getExec(repo.exec, exec).QueryRowContext(ctx,
		"SELECT "+lessonColumns+" FROM lesson WHERE id = $1", id))
	if err != nil {
		if isNoRows(err) {
			return course.Lesson{}, course.ErrLessonNotFound
		}
		return course.Lesson{}, errors.Wrap(err, "getting lesson")
	}
	return l, nil
}

func (repo courseRepository) UpdateLesson(ctx context.Context, l course.Lesson, exec ...core.DBExecutor) (course.Lesson, error) {
	res, err := getExec(repo.exec, exec).ExecContext(ctx,
		"UPDATE lesson SET title = $2, content = $3, position = $4, updated_at = $5 WHERE id = $1",
		l.ID, l.Title, l.Content, l.Position, l.UpdatedAt)
	if err != nil {
		return course.Lesson{}, errors.Wrap(err, "updating lesson")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return course.Lesson{}, course.ErrLessonNotFound
	}
	return l, nil
}

func (repo courseRepository) SetLessonPublished(ctx context.Context, id string, published bool, at time.Time, exec ...core.DBExecutor) error {
	return repo.setPublished(ctx, getExec(repo.exec, exec), "lesson", id, published, at, course.ErrLessonNotFound)
}

func (repo courseRepository) DeleteLesson(ctx context.Context, id string, exec ...core.DBExecutor) error {
	return repo.deleteByID(ctx, getExec(repo.exec, exec), "lesson", id, course.ErrLessonNotFound)
}

// --- course id resolution ---

func (repo courseRepository) CourseIDByModule(ctx context.Context, moduleID string, exec ...core.DBExecutor) (string, error) {
	return repo.resolveCourseID(ctx, getExec(repo.exec, exec),
		"SELECT course_id FROM course_module WHERE id = $1", moduleID, course.ErrModuleNotFound)
}

func (repo courseRepository) CourseIDByLesson(ctx context.Context, lessonID string, exec ...core.DBExecutor) (string, error) {
	return repo.resolveCourseID(ctx, getExec(repo.exec, exec),
		`SELECT m.course_id FROM lesson l JOIN course_module m ON m.id = l.module_id WHERE l.id = $1`,
		lessonID, course.ErrLessonNotFound)
}

func (repo courseRepository) CourseIDByGroup(ctx context.Context, groupID string, exec ...core.DBExecutor) (string, error) {
	return repo.resolveCourseID(ctx, getExec(repo.exec, exec),
		"SELECT course_id FROM course_group WHERE id = $1", groupID, course.ErrGroupNotFound)
}

func (repo courseRepository) resolveCourseID(ctx context.Context, ex core.DBExecutor, query, id string, notFound error) (string, error) {
	if !validUUID(id) {
		return "", notFound
	}
	var courseID string
	if err := ex.QueryRowContext(ctx, query, id).Scan(&courseID); err != nil {
		if isNoRows(err) {
			return "", notFound
		}
		return "", errors.Wrap(err, "resolving course id")
	}
	return courseID, nil
}

// --- role grants ---

func (repo courseRepository) GrantRole(ctx context.Context, g course.Grant, exec ...core.DBExecutor) error {
	_, err := getExec(repo.exec, exec).ExecContext(ctx,
		`INSERT INTO course_role (course_id, user_id, role, granted_at)
		 VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`,
		g.CourseID, g.UserID, g.Role.String(), g.GrantedAt)
	return errors.Wrap(err, "granting course role")
}

func (repo courseRepository) RevokeRole(ctx context.Context, courseID, userID string, role course.Role, exec ...core.DBExecutor) error {
	if !validUUID(courseID) || !validUUID(userID) {
		return nil
	}
	_, err := getExec(repo.exec, exec).ExecContext(ctx,
		"DELETE FROM course_role WHERE course_id = $1 AND user_id = $2 AND role = $3",
		courseID, userID, role.String())
	return errors.Wrap(err, "revoking course role")
}

func (repo courseRepository) HasAnyRole(ctx context.Context, courseID, userID string, roles []course.Role, exec ...core.DBExecutor) (bool, error) {
	if len(roles) == 0 || !validUUID(courseID) || !validUUID(userID) {
		return false, nil
	}
	ss := make([]string, 0, len(roles))
	for _, r := range roles {
		ss = append(ss, r.String())
	}
	var ok bool
	err := getExec(repo.exec, exec).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM course_role
		 WHERE course_id = $1 AND user_id = $2 AND role = ANY($3))`,
		courseID, userID, pq.Array(ss)).Scan(&ok)
	return ok, errors.Wrap(err, "checking course roles")
}

func (repo courseRepository) ListStaff(ctx context.Context, courseID string, exec ...core.DBExecutor) ([]course.StaffMember, error) {
	if !validUUID(courseID) {
		return []course.StaffMember{}, nil
	}
	rows, err := getExec(repo.exec, exec).QueryContext(ctx,
		`SELECT u.id, u.name, u.email, array_agg(cr.role ORDER BY cr.role)
		 FROM course_role cr JOIN app_user u ON u.id = cr.user_id
		 WHERE cr.course_id = $1
		 GROUP BY u.id, u.name, u.email ORDER BY u.name`, courseID)
	if err != nil {
		return nil, errors.Wrap(err, "listing staff")
	}
	defer rows.Close()

	staff := make([]course.StaffMember, 0)
	for rows.Next() {
		var (
			sm    course.StaffMember
			roles pq.StringArray
		)
		if err = rows.Scan(&sm.UserID, &sm.Name, &sm.Email, &roles); err != nil {
			return nil, errors.Wrap(err, "scanning staff member")
		}
		sm.Roles = make([]course.Role, 0, len(roles))
		for _, r := range roles {
			sm.Roles = append(sm.Roles, course.Role(r))
		}
		staff = append(staff, sm)
	}
	return staff, errors.Wrap(rows.Err(), "iterating staff")
}

// --- enrollments ---

func (repo courseRepository) CreateEnrollment(ctx context.Context, courseID, userID string, exec ...core.DBExecutor) error {
	res, err := getExec(repo.exec, exec).ExecContext(ctx,
		`INSERT INTO enrollment (course_id, user_id, created_at)
		 VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		courseID, userID, time.Now().UTC())
	if err != nil {
		return errors.Wrap(err, "inserting enrollment")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return course.ErrAlreadyEnrolled
	}
	return nil
}

func (repo courseRepository) DeleteEnrollment(ctx context.Context, courseID, userID string, exec ...core.DBExecutor) error {
	if !validUUID(courseID) || !validUUID(userID) {
		return nil
	}
	_, err := getExec(repo.exec, exec).ExecContext(ctx,
		"DELETE FROM enrollment WHERE course_id = $1 AND user_id = $2", courseID, userID)
	return errors.Wrap(err, "deleting enrollment")
}

func (repo courseRepository) IsEnrolled(ctx context.Context, courseID, userID string, exec ...core.DBExecutor) (bool, error) {
	if !validUUID(courseID) || !validUUID(userID) {
		return false, nil
	}
	var ok bool
	err := getExec(repo.exec, exec).QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM enrollment WHERE course_id = $1 AND user_id = $2)",
		courseID, userID).Scan(&ok)
	return ok, errors.Wrap(err, "checking enrollment")
}

// --- groups ---

func (repo courseRepository) CreateGroup(ctx context.Context, g course.Group, exec ...core.DBExecutor) (course.Group, error) {
	g.ID = uuid.New().String()
	_, err := getExec(repo.exec, exec).ExecContext(ctx,
		"INSERT INTO course_group (id, course_id, name, created_at) VALUES ($1, $2, $3, $4)",
		g.ID, g.CourseID, g.Name, g.CreatedAt)
	if err != nil {
		return course.Group{}, errors.Wrap(err, "inserting group")
	}
	return g, nil
}

func (repo courseRepository) GetGroup(ctx context.Context, id string, exec ...core.DBExecutor) (course.Group, error) {
	if !validUUID(id) {
		return course.Group{}, course.ErrGroupNotFound
	}
	var g course.Group
	err := getExec(repo.exec, exec).QueryRowContext(ctx,
		"SELECT id, course_id, name, created_at FROM course_group WHERE id = $1", id).
		Scan(&g.ID, &g.CourseID, &g.Name, &g.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return course.Group{}, course.ErrGroupNotFound
		}
		return course.Group{}, errors.Wrap(err, "getting group")
	}
	return g, nil
}

func (repo courseRepository) QueryGroups(ctx context.Context, courseID string, exec ...core.DBExecutor) ([]course.Group, error) {
	if !validUUID(courseID) {
		return []course.Group{}, nil
	}
	rows, err := getExec(repo.exec, exec).QueryContext(ctx,
		"SELECT id, course_id, name, created_at FROM course_group WHERE course_id = $1 ORDER BY name", courseID)
	if err != nil {
		return nil, errors.Wrap(err, "querying groups")
	}
	defer rows.Close()

	groups := make([]course.Group, 0)
	for rows.Next() {
		var g course.Group
		if err = rows.Scan(&g.ID, &g.CourseID, &g.Name, &g.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scanning group")
		}
		groups = append(groups, g)
	}
	return groups, errors.Wrap(rows.Err(), "iterating groups")
}

func (repo courseRepository) DeleteGroup(ctx context.Context, id string, exec ...core.DBExecutor) error {
	return repo.deleteByID(ctx, getExec(repo.exec, exec), "course_group", id, course.ErrGroupNotFound)
}

func (repo courseRepository) RemoveUserFromCourseGroups(ctx context.Context, courseID, userID string, exec ...core.DBExecutor) error {
	_, err := getExec(repo.exec, exec).ExecContext(ctx,
		`DELETE FROM group_member gm USING course_group g
		 WHERE g.id = gm.group_id AND g.course_id = $1 AND gm.user_id = $2`,
		courseID, userID)
	return errors.Wrap(err, "removing user from course groups")
}

func (repo courseRepository) AddGroupMember(ctx context.Context, groupID, userID string, exec ...core.DBExecutor) error {
	_, err := getExec(repo.exec, exec).ExecContext(ctx,
		"INSERT INTO group_member (group_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		groupID, userID)
	return errors.Wrap(err, "adding group member")
}

func (repo courseRepository) ListGroupMembers(ctx context.Context, groupID string, exec ...core.DBExecutor) ([]string, error) {
	if !validUUID(groupID) {
		return []string{}, nil
	}
	rows, err := getExec(repo.exec, exec).QueryContext(ctx,
		"SELECT user_id FROM group_member WHERE group_id = $1", groupID)
	if err != nil {
		return nil, errors.Wrap(err, "listing group members")
	}
	defer rows.Close()

	members := make([]string, 0)
	for rows.Next() {
		var id string
		if err = rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scanning group member")
		}
		members = append(members, id)
	}
	return members, errors.Wrap(rows.Err(), "iterating group members")
}
