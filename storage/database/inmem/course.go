package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/course"
)

type courseRepository struct {
	db *DB
}

var _ course.Repository = (*courseRepository)(nil)

func NewCourseRepository(db *DB) *courseRepository {
	return &courseRepository{db: db}
}

func (repo *courseRepository) CreateCourse(ctx context.Context, c course.Course, exec ...core.DBExecutor) (course.Course, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for _, cur := range repo.db.courses {
		if cur.Slug == c.Slug {
			return course.Course{}, course.ErrSlugExists
		}
	}
	c.ID = uuid.New().String()
	repo.db.courses[c.ID] = &c
	return c, nil
}

func (repo *courseRepository) GetCourse(ctx context.Context, filter course.GetFilter, exec ...core.DBExecutor) (course.Course, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()
	return repo.getCourse(filter)
}

func (repo *courseRepository) getCourse(filter course.GetFilter) (course.Course, error) {
	if filter.ID != "" {
		if c, ok := repo.db.courses[filter.ID]; ok {
			return *c, nil
		}
		return course.Course{}, course.ErrNotFound
	}
	if filter.Slug != "" {
		for _, c := range repo.db.courses {
			if c.Slug == filter.Slug {
				return *c, nil
			}
		}
	}
	return course.Course{}, course.ErrNotFound
}

func (repo *courseRepository) GetCourseTree(ctx context.Context, id string, exec ...core.DBExecutor) (course.Detail, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	c, err := repo.getCourse(course.GetFilter{ID: id})
	if err != nil {
		return course.Detail{}, err
	}
	detail := course.Detail{Course: c, Modules: make([]course.ModuleDetail, 0)}

	mods := make([]course.Module, 0)
	for _, m := range repo.db.modules {
		if m.CourseID == id {
			mods = append(mods, *m)
		}
	}
	sort.Slice(mods, func(i, j int) bool {
		if mods[i].Position != mods[j].Position {
			return mods[i].Position < mods[j].Position
		}
		return mods[i].CreatedAt.Before(mods[j].CreatedAt)
	})

	for _, m := range mods {
		md := course.ModuleDetail{Module: m, Lessons: make([]course.Lesson, 0)}
		for _, l := range repo.db.lessons {
			if l.ModuleID == m.ID {
				md.Lessons = append(md.Lessons, *l)
			}
		}
		sort.Slice(md.Lessons, func(i, j int) bool {
			if md.Lessons[i].Position != md.Lessons[j].Position {
				return md.Lessons[i].Position < md.Lessons[j].Position
			}
			return md.Lessons[i].CreatedAt.Before(md.Lessons[j].CreatedAt)
		})
		detail.Modules = append(detail.Modules, md)
	}
	return detail, nil
}

func (repo *courseRepository) QueryAllCourses(ctx context.Context, exec ...core.DBExecutor) ([]course.Course, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	courses := make([]course.Course, 0, len(repo.db.courses))
	for _, c := range repo.db.courses {
		courses = append(courses, *c)
	}
	sort.Slice(courses, func(i, j int) bool { return courses[i].CreatedAt.After(courses[j].CreatedAt) })
	return courses, nil
}

func (repo *courseRepository) QueryCoursesByEnrollment(ctx context.Context, userID string, publishedOnly bool, exec ...core.DBExecutor) ([]course.Course, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	courses := make([]course.Course, 0)
	for courseID, members := range repo.db.enrollments {
		if _, ok := members[userID]; !ok {
			continue
		}
		c, ok := repo.db.courses[courseID]
		if !ok || (publishedOnly && !c.IsPublished) {
			continue
		}
		courses = append(courses, *c)
	}
	sort.Slice(courses, func(i, j int) bool { return courses[i].Title < courses[j].Title })
	return courses, nil
}

func (repo *courseRepository) UpdateCourse(ctx context.Context, c course.Course, exec ...core.DBExecutor) (course.Course, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	cur, ok := repo.db.courses[c.ID]
	if !ok {
		return course.Course{}, course.ErrNotFound
	}
	cur.Title = c.Title
	cur.Description = c.Description
	cur.UpdatedAt = c.UpdatedAt
	return *cur, nil
}

func (repo *courseRepository) SetCoursePublished(ctx context.Context, id string, published bool, at time.Time, exec ...core.DBExecutor) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	c, ok := repo.db.courses[id]
	if !ok {
		return course.ErrNotFound
	}
	setPublished(&c.IsPublished, &c.PublishedAt, published, at)
	c.UpdatedAt = at
	return nil
}

func setPublished(flag *bool, stamp **time.Time, published bool, at time.Time) {
	*flag = published
	if published {
		*stamp = &at
	} else {
		*stamp = nil
	}
}

func (repo *courseRepository) CheckSlugUniqueness(ctx context.Context, slug string, exec ...core.DBExecutor) error {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	for _, c := range repo.db.courses {
		if c.Slug == slug {
			return course.ErrSlugExists
		}
	}
	return nil
}

// --- modules ---

func (repo *courseRepository) CreateModule(ctx context.Context, m course.Module, exec ...core.DBExecutor) (course.Module, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	m.ID = uuid.New().String()
	repo.db.modules[m.ID] = &m
	return m, nil
}

func (repo *courseRepository) GetModule(ctx context.Context, id string, exec ...core.DBExecutor) (course.Module, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if m, ok := repo.db.modules[id]; ok {
		return *m, nil
	}
	return course.Module{}, course.ErrModuleNotFound
}

func (repo *courseRepository) UpdateModule(ctx context.Context, m course.Module, exec ...core.DBExecutor) (course.Module, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	cur, ok := repo.db.modules[m.ID]
	if !ok {
		return course.Module{}, course.ErrModuleNotFound
	}
	cur.Title = m.Title
	cur.Position = m.Position
	cur.UpdatedAt = m.UpdatedAt
	return *cur, nil
}

func (repo *courseRepository) SetModulePublished(ctx context.Context, id string, published bool, at time.Time, exec ...core.DBExecutor) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	m, ok := repo.db.modules[id]
	if !ok {
		return course.ErrModuleNotFound
	}
	setPublished(&m.IsPublished, &m.PublishedAt, published, at)
	m.UpdatedAt = at
	return nil
}

func (repo *courseRepository) DeleteModule(ctx context.Context, id string, exec ...core.DBExecutor) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.modules[id]; !ok {
		return course.ErrModuleNotFound
	}
	delete(repo.db.modules, id)
	for lid, l := range repo.db.lessons {
		if l.ModuleID == id {
			delete(repo.db.lessons, lid)
		}
	}
	return nil
}

// --- lessons ---

func (repo *courseRepository) CreateLesson(ctx context.Context, l course.Lesson, exec ...core.DBExecutor) (course.Lesson, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	l.ID = uuid.New().String()
	repo.db.lessons[l.ID] = &l
	return l, nil
}

func (repo *courseRepository) GetLesson(ctx context.Context, id string, exec ...core.DBExecutor) (course.Lesson, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if l, ok := repo.db.lessons[id]; ok {
		return *l, nil
	}
	return course.Lesson{}, course.ErrLessonNotFound
}

func (repo *courseRepository) UpdateLesson(ctx context.Context, l course.Lesson, exec ...core.DBExecutor) (course.Lesson, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	cur, ok := repo.db.lessons[l.ID]
	if !ok {
		return course.Lesson{}, course.ErrLessonNotFound
	}
	cur.Title = l.Title
	cur.Content = l.Content
	cur.Position = l.Position
	cur.UpdatedAt = l.UpdatedAt
	return *cur, nil
}

func (repo *courseRepository) SetLessonPublished(ctx context.Context, id string, published bool, at time.Time, exec ...core.DBExecutor) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	l, ok := repo.db.lessons[id]
	if !ok {
		return course.ErrLessonNotFound
	}
	setPublished(&l.IsPublished, &l.PublishedAt, published, at)
	l.UpdatedAt = at
	return nil
}

func (repo *courseRepository) DeleteLesson(ctx context.Context, id string, exec ...core.DBExecutor) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.lessons[id]; !ok {
		return course.ErrLessonNotFound
	}
	delete(repo.db.lessons, id)
	return nil
}

// --- course id resolution ---

func (repo *courseRepository) CourseIDByModule(ctx context.Context, moduleID string, exec ...core.DBExecutor) (string, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if m, ok := repo.db.modules[moduleID]; ok {
		return m.CourseID, nil
	}
	return "", course.ErrModuleNotFound
}

func (repo *courseRepository) CourseIDByLesson(ctx context.Context, lessonID string, exec ...core.DBExecutor) (string, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	l, ok := repo.db.lessons[lessonID]
	if !ok {
		return "", course.ErrLessonNotFound
	}
	if m, ok := repo.db.modules[l.ModuleID]; ok {
		return m.CourseID, nil
	}
	return "", course.ErrLessonNotFound
}

func (repo *courseRepository) CourseIDByGroup(ctx context.Context, groupID string, exec ...core.DBExecutor) (string, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if g, ok := repo.db.groups[groupID]; ok {
		return g.CourseID, nil
	}
	return "", course.ErrGroupNotFound
}

// --- role grants ---

func (repo *courseRepository) GrantRole(ctx context.Context, g course.Grant, exec ...core.DBExecutor) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	byUser, ok := repo.db.grants[g.CourseID]
	if !ok {
		byUser = make(map[string]map[course.Role]time.Time)
		repo.db.grants[g.CourseID] = byUser
	}
	byRole, ok := byUser[g.UserID]
	if !ok {
		byRole = make(map[course.Role]time.Time)
		byUser[g.UserID] = byRole
	}
	if _, ok = byRole[g.Role]; !ok {
		byRole[g.Role] = g.GrantedAt
	}
	return nil
}

func (repo *courseRepository) RevokeRole(ctx context.Context, courseID, userID string, role course.Role, exec ...core.DBExecutor) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if byUser, ok := repo.db.grants[courseID]; ok {
		delete(byUser[userID], role)
	}
	return nil
}

func (repo *courseRepository) HasAnyRole(ctx context.Context, courseID, userID string, roles []course.Role, exec ...core.DBExecutor) (bool, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	byRole := repo.db.grants[courseID][userID]
	for _, r := range roles {
		if _, ok := byRole[r]; ok {
			return true, nil
		}
	}
	return false, nil
}

func (repo *courseRepository) ListStaff(ctx context.Context, courseID string, exec ...core.DBExecutor) ([]course.StaffMember, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	staff := make([]course.StaffMember, 0)
	for userID, byRole := range repo.db.grants[courseID] {
		if len(byRole) == 0 {
			continue
		}
		sm := course.StaffMember{UserID: userID}
		if usr, ok := repo.db.users[userID]; ok {
			sm.Name = usr.Name
			sm.Email = usr.Email
		}
		for r := range byRole {
			sm.Roles = append(sm.Roles, r)
		}
		sort.Slice(sm.Roles, func(i, j int) bool { return sm.Roles[i] < sm.Roles[j] })
		staff = append(staff, sm)
	}
	sort.Slice(staff, func(i, j int) bool { return staff[i].Name < staff[j].Name })
	return staff, nil
}

// --- enrollments ---

func (repo *courseRepository) CreateEnrollment(ctx context.Context, courseID, userID string, exec ...core.DBExecutor) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	members, ok := repo.db.enrollments[courseID]
	if !ok {
		members = make(map[string]time.Time)
		repo.db.enrollments[courseID] = members
	}
	if _, ok = members[userID]; ok {
		return course.ErrAlreadyEnrolled
	}
	members[userID] = time.Now().UTC()
	return nil
}

func (repo *courseRepository) DeleteEnrollment(ctx context.Context, courseID, userID string, exec ...core.DBExecutor) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	delete(repo.db.enrollments[courseID], userID)
	return nil
}

func (repo *courseRepository) IsEnrolled(ctx context.Context, courseID, userID string, exec ...core.DBExecutor) (bool, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	_, ok := repo.db.enrollments[courseID][userID]
	return ok, nil
}

// --- groups ---

func (repo *courseRepository) CreateGroup(ctx context.Context, g course.Group, exec ...core.DBExecutor) (course.Group, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	g.ID = uuid.New().String()
	repo.db.groups[g.ID] = &g
	return g, nil
}

func (repo *courseRepository) GetGroup(ctx context.Context, id string, exec ...core.DBExecutor) (course.Group, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if g, ok := repo.db.groups[id]; ok {
		return *g, nil
	}
	return course.Group{}, course.ErrGroupNotFound
}

func (repo *courseRepository) QueryGroups(ctx context.Context, courseID string, exec ...core.DBExecutor) ([]course.Group, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	groups := make([]course.Group, 0)
	for _, g := range repo.db.groups {
		if g.CourseID == courseID {
			groups = append(groups, *g)
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	return groups, nil
}

func (repo *courseRepository) DeleteGroup(ctx context.Context, id string, exec ...core.DBExecutor) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.groups[id]; !ok {
		return course.ErrGroupNotFound
	}
	delete(repo.db.groups, id)
	delete(repo.db.groupMembers, id)
	return nil
}

func (repo *courseRepository) RemoveUserFromCourseGroups(ctx context.Context, courseID, userID string, exec ...core.DBExecutor) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for gid, members := range repo.db.groupMembers {
		if g, ok := repo.db.groups[gid]; ok && g.CourseID == courseID {
			delete(members, userID)
		}
	}
	return nil
}

func (repo *courseRepository) AddGroupMember(ctx context.Context, groupID, userID string, exec ...core.DBExecutor) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	members, ok := repo.db.groupMembers[groupID]
	if !ok {
		members = make(map[string]bool)
		repo.db.groupMembers[groupID] = members
	}
	members[userID] = true
	return nil
}

func (repo *courseRepository) ListGroupMembers(ctx context.Context, groupID string, exec ...core.DBExecutor) ([]string, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	members := make([]string, 0)
	for id := range repo.db.groupMembers[groupID] {
		members = append(members, id)
	}
	sort.Strings(members)
	return members, nil
}
