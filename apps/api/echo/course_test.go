package echoapi

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/academia/core/course"
	"github.com/trezcool/academia/core/live"
	"github.com/trezcool/academia/core/quiz"
)

// courseFixture is a course with one published and one draft branch.
type courseFixture struct {
	crs       course.Course
	pubMod    course.Module
	draftMod  course.Module
	pubLes    course.Lesson
	draftLes  course.Lesson
	orphanLes course.Lesson // published lesson under the draft module
}

func (app *testApp) buildTree(t *testing.T, ownerID string, publishCourse bool) courseFixture {
	t.Helper()
	ctx := context.Background()

	fix := courseFixture{crs: app.createCourse(t, ownerID, "Course "+ownerID)}
	var err error

	fix.pubMod, err = app.courseSvc.AddModule(ctx, fix.crs.ID, course.NewModule{Title: "Published Module"})
	require.NoError(t, err)
	fix.draftMod, err = app.courseSvc.AddModule(ctx, fix.crs.ID, course.NewModule{Title: "Draft Module", Position: 1})
	require.NoError(t, err)

	fix.pubLes, err = app.courseSvc.AddLesson(ctx, fix.pubMod.ID, course.NewLesson{Title: "Published Lesson"})
	require.NoError(t, err)
	fix.draftLes, err = app.courseSvc.AddLesson(ctx, fix.pubMod.ID, course.NewLesson{Title: "Draft Lesson", Position: 1})
	require.NoError(t, err)
	fix.orphanLes, err = app.courseSvc.AddLesson(ctx, fix.draftMod.ID, course.NewLesson{Title: "Orphan Lesson"})
	require.NoError(t, err)

	require.NoError(t, app.courseSvc.SetModulePublished(ctx, fix.pubMod.ID, true))
	require.NoError(t, app.courseSvc.SetLessonPublished(ctx, fix.pubLes.ID, true))
	require.NoError(t, app.courseSvc.SetLessonPublished(ctx, fix.orphanLes.ID, true))
	if publishCourse {
		require.NoError(t, app.courseSvc.SetPublished(ctx, fix.crs.ID, true))
	}
	return fix
}

func Test_courseApi_list(t *testing.T) {
	app := setupApp(t)
	ctx := context.Background()

	owner := app.createUser(t, "owner@test.cd", "Str0ngPwd!", "instructor")
	student := app.createUser(t, "student@test.cd", "Str0ngPwd!", "student")
	admin := app.createUser(t, "admin@test.cd", "Str0ngPwd!", "admin")

	published := app.buildTree(t, owner.ID, true)
	draft := app.buildTree(t, owner.ID+"2", false)

	require.NoError(t, app.courseSvc.Enroll(ctx, published.crs.ID, student.ID))
	require.NoError(t, app.courseSvc.Enroll(ctx, draft.crs.ID, student.ID))

	t.Run("student sees published enrolled courses only", func(t *testing.T) {
		rec := app.run(t, httpTest{
			method: http.MethodGet, path: "/v1/courses", token: app.token(t, student),
			wantCode: http.StatusOK,
		})
		var courses []course.Course
		decode(t, rec, &courses)
		require.Len(t, courses, 1)
		assert.Equal(t, published.crs.ID, courses[0].ID)
	})

	t.Run("admin sees everything", func(t *testing.T) {
		rec := app.run(t, httpTest{
			method: http.MethodGet, path: "/v1/courses", token: app.token(t, admin),
			wantCode: http.StatusOK,
		})
		var courses []course.Course
		decode(t, rec, &courses)
		assert.Len(t, courses, 2)
	})

	t.Run("no token", func(t *testing.T) {
		app.run(t, httpTest{
			method: http.MethodGet, path: "/v1/courses",
			wantCode: http.StatusUnauthorized, wantErr: "authentication required",
		})
	})
}

func Test_courseApi_retrieve(t *testing.T) {
	app := setupApp(t)
	ctx := context.Background()

	owner := app.createUser(t, "owner@test.cd", "Str0ngPwd!", "instructor")
	student := app.createUser(t, "student@test.cd", "Str0ngPwd!", "student")
	stranger := app.createUser(t, "stranger@test.cd", "Str0ngPwd!", "student")
	admin := app.createUser(t, "admin@test.cd", "Str0ngPwd!", "admin")

	fix := app.buildTree(t, owner.ID, true)
	require.NoError(t, app.courseSvc.Enroll(ctx, fix.crs.ID, student.ID))

	t.Run("enrolled student gets the pruned tree", func(t *testing.T) {
		rec := app.run(t, httpTest{
			method: http.MethodGet, path: "/v1/courses/" + fix.crs.ID, token: app.token(t, student),
			wantCode: http.StatusOK,
		})
		var detail course.Detail
		decode(t, rec, &detail)
		require.Len(t, detail.Modules, 1)
		assert.Equal(t, fix.pubMod.ID, detail.Modules[0].ID)
		require.Len(t, detail.Modules[0].Lessons, 1)
		assert.Equal(t, fix.pubLes.ID, detail.Modules[0].Lessons[0].ID)
	})

	t.Run("owner gets the full tree", func(t *testing.T) {
		rec := app.run(t, httpTest{
			method: http.MethodGet, path: "/v1/courses/" + fix.crs.ID, token: app.token(t, owner),
			wantCode: http.StatusOK,
		})
		var detail course.Detail
		decode(t, rec, &detail)
		assert.Len(t, detail.Modules, 2)
	})

	t.Run("admin gets the full tree", func(t *testing.T) {
		rec := app.run(t, httpTest{
			method: http.MethodGet, path: "/v1/courses/" + fix.crs.ID, token: app.token(t, admin),
			wantCode: http.StatusOK,
		})
		var detail course.Detail
		decode(t, rec, &detail)
		assert.Len(t, detail.Modules, 2)
	})

	t.Run("not enrolled reads as not found", func(t *testing.T) {
		app.run(t, httpTest{
			method: http.MethodGet, path: "/v1/courses/" + fix.crs.ID, token: app.token(t, stranger),
			wantCode: http.StatusNotFound, wantErr: "not found",
		})
	})

	t.Run("enrolled in an unpublished course reads as not found", func(t *testing.T) {
		draft := app.buildTree(t, owner.ID+"2", false)
		require.NoError(t, app.courseSvc.Enroll(ctx, draft.crs.ID, student.ID))
		app.run(t, httpTest{
			method: http.MethodGet, path: "/v1/courses/" + draft.crs.ID, token: app.token(t, student),
			wantCode: http.StatusNotFound, wantErr: "not found",
		})
	})

	t.Run("unknown id", func(t *testing.T) {
		app.run(t, httpTest{
			method: http.MethodGet, path: "/v1/courses/does-not-exist", token: app.token(t, student),
			wantCode: http.StatusNotFound, wantErr: "not found",
		})
	})
}

func Test_courseApi_lesson(t *testing.T) {
	app := setupApp(t)
	ctx := context.Background()

	owner := app.createUser(t, "owner@test.cd", "Str0ngPwd!", "instructor")
	student := app.createUser(t, "student@test.cd", "Str0ngPwd!", "student")

	fix := app.buildTree(t, owner.ID, true)
	require.NoError(t, app.courseSvc.Enroll(ctx, fix.crs.ID, student.ID))

	lessonPath := func(courseID, lessonID string) string {
		return "/v1/courses/" + courseID + "/lessons/" + lessonID
	}

	tests := []httpTest{
		{
			name: "published lesson is visible", method: http.MethodGet,
			path: lessonPath(fix.crs.ID, fix.pubLes.ID), wantCode: http.StatusOK,
		},
		{
			name: "draft lesson is hidden", method: http.MethodGet,
			path: lessonPath(fix.crs.ID, fix.draftLes.ID), wantCode: http.StatusNotFound,
		},
		{
			name: "published lesson under a draft module is hidden", method: http.MethodGet,
			path: lessonPath(fix.crs.ID, fix.orphanLes.ID), wantCode: http.StatusNotFound,
		},
		{
			name: "lesson addressed through the wrong course is hidden", method: http.MethodGet,
			path: lessonPath("deadbeef", fix.pubLes.ID), wantCode: http.StatusNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.token = app.token(t, student)
			app.run(t, tt)
		})
	}

	t.Run("owner sees draft lessons", func(t *testing.T) {
		app.run(t, httpTest{
			method: http.MethodGet, path: lessonPath(fix.crs.ID, fix.draftLes.ID), token: app.token(t, owner),
			wantCode: http.StatusOK,
		})
	})

	t.Run("unpublishing the course hides the lesson again", func(t *testing.T) {
		require.NoError(t, app.courseSvc.SetPublished(ctx, fix.crs.ID, false))
		app.run(t, httpTest{
			method: http.MethodGet, path: lessonPath(fix.crs.ID, fix.pubLes.ID), token: app.token(t, student),
			wantCode: http.StatusNotFound,
		})
		require.NoError(t, app.courseSvc.SetPublished(ctx, fix.crs.ID, true))
	})
}

func Test_courseApi_lessonQuizzes(t *testing.T) {
	app := setupApp(t)
	ctx := context.Background()

	owner := app.createUser(t, "owner@test.cd", "Str0ngPwd!", "instructor")
	student := app.createUser(t, "student@test.cd", "Str0ngPwd!", "student")

	fix := app.buildTree(t, owner.ID, true)
	require.NoError(t, app.courseSvc.Enroll(ctx, fix.crs.ID, student.ID))

	pubQuiz, err := app.quizSvc.Create(ctx, fix.pubLes.ID, quiz.NewQuiz{Title: "Published Quiz"})
	require.NoError(t, err)
	_, err = app.quizSvc.Update(ctx, pubQuiz.ID, quiz.UpdateQuiz{IsPublished: boolPtr(true)})
	require.NoError(t, err)
	_, err = app.quizSvc.Create(ctx, fix.pubLes.ID, quiz.NewQuiz{Title: "Draft Quiz"})
	require.NoError(t, err)

	path := "/v1/courses/" + fix.crs.ID + "/lessons/" + fix.pubLes.ID + "/quizzes"

	t.Run("student sees published quizzes only", func(t *testing.T) {
		rec := app.run(t, httpTest{
			method: http.MethodGet, path: path, token: app.token(t, student),
			wantCode: http.StatusOK,
		})
		var quizzes []quiz.Quiz
		decode(t, rec, &quizzes)
		require.Len(t, quizzes, 1)
		assert.Equal(t, pubQuiz.ID, quizzes[0].ID)
	})

	t.Run("owner sees drafts too", func(t *testing.T) {
		rec := app.run(t, httpTest{
			method: http.MethodGet, path: path, token: app.token(t, owner),
			wantCode: http.StatusOK,
		})
		var quizzes []quiz.Quiz
		decode(t, rec, &quizzes)
		assert.Len(t, quizzes, 2)
	})
}

func Test_courseApi_sessions(t *testing.T) {
	app := setupApp(t)
	ctx := context.Background()

	owner := app.createUser(t, "owner@test.cd", "Str0ngPwd!", "instructor")
	student := app.createUser(t, "student@test.cd", "Str0ngPwd!", "student")
	stranger := app.createUser(t, "stranger@test.cd", "Str0ngPwd!", "student")

	fix := app.buildTree(t, owner.ID, true)
	require.NoError(t, app.courseSvc.Enroll(ctx, fix.crs.ID, student.ID))

	start := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	_, err := app.liveSvc.Create(ctx, fix.crs.ID, live.NewSession{
		Title:           "Weekly Q&A",
		StartsAt:        start,
		DurationMinutes: 60,
		Recurrence:      "weekly",
	})
	require.NoError(t, err)

	path := "/v1/courses/" + fix.crs.ID + "/sessions"

	t.Run("default window is two weeks", func(t *testing.T) {
		rec := app.run(t, httpTest{
			method: http.MethodGet, path: path, token: app.token(t, student),
			wantCode: http.StatusOK,
		})
		var occ []live.Occurrence
		decode(t, rec, &occ)
		require.Len(t, occ, 2)
		assert.Equal(t, start, occ[0].StartsAt)
		assert.Equal(t, start.Add(60*time.Minute), occ[0].EndsAt)
	})

	t.Run("explicit window", func(t *testing.T) {
		q := url.Values{}
		q.Set("from", start.Format(time.RFC3339))
		q.Set("to", start.Add(22*24*time.Hour).Format(time.RFC3339))
		rec := app.run(t, httpTest{
			method: http.MethodGet, path: path + "?" + q.Encode(), token: app.token(t, student),
			wantCode: http.StatusOK,
		})
		var occ []live.Occurrence
		decode(t, rec, &occ)
		assert.Len(t, occ, 4)
	})

	t.Run("bad window", func(t *testing.T) {
		app.run(t, httpTest{
			method: http.MethodGet, path: path + "?from=yesterday", token: app.token(t, student),
			wantCode: http.StatusBadRequest,
		})
	})

	t.Run("not enrolled reads as not found", func(t *testing.T) {
		app.run(t, httpTest{
			method: http.MethodGet, path: path, token: app.token(t, stranger),
			wantCode: http.StatusNotFound, wantErr: "not found",
		})
	})
}

func boolPtr(b bool) *bool { return &b }
