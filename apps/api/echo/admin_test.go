package echoapi

import (
	"bytes"
	"context"
	"database/sql"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/course"
	"github.com/trezcool/academia/core/user"
)

func Test_adminApi_users(t *testing.T) {
	app := setupApp(t)
	admin := app.createUser(t, "admin@test.cd", "Str0ngPwd!", "admin")
	student := app.createUser(t, "amy.student@test.cd", "Str0ngPwd!", "student")
	app.createUser(t, "zoe.teacher@test.cd", "Str0ngPwd!", "instructor")

	t.Run("admin only", func(t *testing.T) {
		app.run(t, httpTest{
			method: http.MethodGet, path: "/v1/admin/users", token: app.token(t, student),
			wantCode: http.StatusForbidden, wantErr: "permission denied",
		})
	})

	t.Run("list with search and ordering", func(t *testing.T) {
		rec := app.run(t, httpTest{
			method: http.MethodGet, path: "/v1/admin/users?ordering=-email", token: app.token(t, admin),
			wantCode: http.StatusOK,
		})
		var users []user.User
		decode(t, rec, &users)
		require.Len(t, users, 3)
		assert.Equal(t, "zoe.teacher@test.cd", users[0].Email)

		rec = app.run(t, httpTest{
			method: http.MethodGet, path: "/v1/admin/users?search=amy", token: app.token(t, admin),
			wantCode: http.StatusOK,
		})
		decode(t, rec, &users)
		require.Len(t, users, 1)
		assert.Equal(t, student.ID, users[0].ID)
	})

	t.Run("create", func(t *testing.T) {
		rec := app.run(t, httpTest{
			method: http.MethodPost, path: "/v1/admin/users", token: app.token(t, admin),
			body: map[string]interface{}{
				"name": "New Hire", "email": "hire@test.cd",
				"password": "Str0ngPwd!", "password_confirm": "Str0ngPwd!",
				"roles": []string{"content_editor"},
			},
			wantCode: http.StatusCreated,
		})
		var created user.User
		decode(t, rec, &created)
		assert.True(t, created.HasRole(user.RoleContentEditor))
	})

	t.Run("duplicate email", func(t *testing.T) {
		rec := app.run(t, httpTest{
			method: http.MethodPost, path: "/v1/admin/users", token: app.token(t, admin),
			body: map[string]interface{}{
				"name": "Copy Cat", "email": student.Email,
				"password": "Str0ngPwd!", "password_confirm": "Str0ngPwd!",
			},
			wantCode: http.StatusBadRequest,
		})
		var fields map[string]string
		decode(t, rec, &fields)
		assert.Contains(t, fields, "email")
	})

	t.Run("update and deactivate", func(t *testing.T) {
		inactive := false
		rec := app.run(t, httpTest{
			method: http.MethodPatch, path: "/v1/admin/users/" + student.ID, token: app.token(t, admin),
			body:     user.UpdateUser{Name: "Amy Renamed", IsActive: &inactive},
			wantCode: http.StatusOK,
		})
		var updated user.User
		decode(t, rec, &updated)
		assert.Equal(t, "Amy Renamed", updated.Name)
		assert.False(t, updated.Active())
	})

	t.Run("unknown user", func(t *testing.T) {
		app.run(t, httpTest{
			method: http.MethodGet, path: "/v1/admin/users/00000000-0000-0000-0000-000000000000", token: app.token(t, admin),
			wantCode: http.StatusNotFound, wantErr: "not found",
		})
	})
}

func (app *testApp) uploadCSV(t *testing.T, token, csvBody string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "invites.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte(csvBody))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/users/bulk-invite", &buf)
	req.Header.Set(echoHeaderContentType, mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	app.server.ServeHTTP(rec, req)
	return rec
}

func Test_adminApi_bulkInvite(t *testing.T) {
	app := setupApp(t)
	ctx := context.Background()

	admin := app.createUser(t, "admin@test.cd", "Str0ngPwd!", "admin")
	owner := app.createUser(t, "owner@test.cd", "Str0ngPwd!", "instructor")
	existing := app.createUser(t, "existing@test.cd", "Str0ngPwd!", "student")
	crs := app.createCourse(t, owner.ID, "Onboarding Course")
	require.Equal(t, "onboarding-course", crs.Slug)

	csvBody := "email,name,role,course_slug\n" +
		"fresh@test.cd,Fresh Student,student,onboarding-course\n" +
		"not-an-email,Bad Row,student\n" +
		"odd@test.cd,Odd Role,wizard\n" +
		"lost@test.cd,Lost Course,student,no-such-course\n" +
		"existing@test.cd,Existing Student,student,onboarding-course\n" +
		"helper@test.cd,Helping Hand,content_editor,onboarding-course\n" +
		"boss@test.cd,Big Boss,admin,onboarding-course\n" +
		"short\n"

	rec := app.uploadCSV(t, app.token(t, admin), csvBody)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

	var report BulkInviteReport
	decode(t, rec, &report)
	require.Len(t, report.Rows, 8)

	byLine := make(map[int]BulkInviteRow, len(report.Rows))
	for _, row := range report.Rows {
		byLine[row.Line] = row
	}

	assert.Equal(t, inviteStatusInvited, byLine[2].Status)
	assert.Equal(t, inviteStatusInvalidRow, byLine[3].Status)
	assert.Equal(t, inviteStatusInvalidRow, byLine[4].Status)
	assert.Equal(t, "unknown role: wizard", byLine[4].Reason)
	assert.Equal(t, inviteStatusInvalidRow, byLine[5].Status)
	assert.Equal(t, "unknown course: no-such-course", byLine[5].Reason)
	assert.Equal(t, inviteStatusAlreadyExists, byLine[6].Status)
	assert.Equal(t, inviteStatusSkippedNotStudent, byLine[7].Status)
	assert.Equal(t, inviteStatusSkippedNotStudent, byLine[8].Status)
	assert.Equal(t, inviteStatusInvalidRow, byLine[9].Status)

	t.Run("fresh student is created inactive and enrolled", func(t *testing.T) {
		fresh, err := app.usrSvc.GetByEmail(ctx, "fresh@test.cd")
		require.NoError(t, err)
		assert.False(t, fresh.Active())
		enrolled, err := app.courseSvc.IsEnrolled(ctx, crs.ID, fresh.ID)
		require.NoError(t, err)
		assert.True(t, enrolled)
	})

	t.Run("existing student enrollment is idempotent", func(t *testing.T) {
		enrolled, err := app.courseSvc.IsEnrolled(ctx, crs.ID, existing.ID)
		require.NoError(t, err)
		assert.True(t, enrolled)
	})

	t.Run("content editor row gets the course grant anyway", func(t *testing.T) {
		helper, err := app.usrSvc.GetByEmail(ctx, "helper@test.cd")
		require.NoError(t, err)
		err = app.courseSvc.Authorize(ctx, helper.ID, false, crs.ID, course.RoleContentEditor)
		assert.NoError(t, err)
	})

	t.Run("admin row gets no enrollment and no grant", func(t *testing.T) {
		boss, err := app.usrSvc.GetByEmail(ctx, "boss@test.cd")
		require.NoError(t, err)
		enrolled, err := app.courseSvc.IsEnrolled(ctx, crs.ID, boss.ID)
		require.NoError(t, err)
		assert.False(t, enrolled)
	})

	t.Run("enrollment managers may upload, students may not", func(t *testing.T) {
		manager := app.createUser(t, "manager@test.cd", "Str0ngPwd!", "enrollment_manager")
		rec := app.uploadCSV(t, app.token(t, manager), "email,name,role\n")
		assert.Equal(t, http.StatusOK, rec.Code)

		student := app.createUser(t, "student@test.cd", "Str0ngPwd!", "student")
		rec = app.uploadCSV(t, app.token(t, student), "email,name,role\n")
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("missing file", func(t *testing.T) {
		app.run(t, httpTest{
			method: http.MethodPost, path: "/v1/admin/users/bulk-invite", token: app.token(t, admin),
			wantCode: http.StatusBadRequest,
		})
	})
}

// txRecordingDB counts transactions so a test can observe how writes were
// grouped and resolved.
type txRecordingDB struct {
	core.DB
	mu        sync.Mutex
	begun     int
	rollbacks int
	commits   int
}

func (db *txRecordingDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (core.DBTransactor, error) {
	db.mu.Lock()
	db.begun++
	db.mu.Unlock()
	tx, err := db.DB.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &recordedTx{DBTransactor: tx, db: db}, nil
}

type recordedTx struct {
	core.DBTransactor
	db *txRecordingDB
}

func (tx *recordedTx) Rollback() error {
	tx.db.mu.Lock()
	tx.db.rollbacks++
	tx.db.mu.Unlock()
	return tx.DBTransactor.Rollback()
}

func (tx *recordedTx) Commit() error {
	tx.db.mu.Lock()
	tx.db.commits++
	tx.db.mu.Unlock()
	return tx.DBTransactor.Commit()
}

type enrollFailingCourseSvc struct {
	course.ServiceInterface
}

func (svc enrollFailingCourseSvc) Enroll(ctx context.Context, courseID, userID string, exec ...core.DBExecutor) error {
	return errors.New("enrollment write failed")
}

// A failing enrollment must take the user creation down with it: the whole
// row runs in a single transaction that gets rolled back as a unit.
func Test_adminApi_bulkInvite_rowTransaction(t *testing.T) {
	recDB := &txRecordingDB{}
	app := setupApp(t, func(deps *ServerDeps) {
		recDB.DB = deps.DB
		deps.DB = recDB
		deps.CourseSvc = enrollFailingCourseSvc{deps.CourseSvc}
	})
	admin := app.createUser(t, "admin@test.cd", "Str0ngPwd!", "admin")
	owner := app.createUser(t, "owner@test.cd", "Str0ngPwd!", "instructor")
	app.createCourse(t, owner.ID, "Flaky Course")

	rec := app.uploadCSV(t, app.token(t, admin),
		"email,name,role,course_slug\nfresh@test.cd,Fresh Student,student,flaky-course\n")
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

	var report BulkInviteReport
	decode(t, rec, &report)
	require.Len(t, report.Rows, 1)
	assert.Equal(t, inviteStatusInvalidRow, report.Rows[0].Status)

	assert.Equal(t, 1, recDB.begun, "the row must run in exactly one transaction")
	assert.Equal(t, 1, recDB.rollbacks)
	assert.Zero(t, recDB.commits)
}
