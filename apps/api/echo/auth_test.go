package echoapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/academia/core/user"
	emailsvc "github.com/trezcool/academia/services/email"
)

func Test_authApi_login(t *testing.T) {
	app := setupApp(t)
	usr := app.createUser(t, "jane@test.cd", "Str0ngPwd!", "student")

	t.Run("success sets the refresh cookie", func(t *testing.T) {
		rec := app.run(t, httpTest{
			method: http.MethodPost, path: "/v1/auth/login",
			body:     map[string]string{"email": usr.Email, "password": "Str0ngPwd!"},
			wantCode: http.StatusOK,
		})

		var sess SessionResponse
		decode(t, rec, &sess)
		assert.NotEmpty(t, sess.Token)
		assert.Equal(t, usr.ID, sess.User.ID)

		cookie := refreshCookie(rec)
		require.NotNil(t, cookie)
		assert.NotEmpty(t, cookie.Value)
		assert.Equal(t, "/v1/auth", cookie.Path)
		assert.True(t, cookie.HttpOnly)
	})

	t.Run("wrong password", func(t *testing.T) {
		app.run(t, httpTest{
			method: http.MethodPost, path: "/v1/auth/login",
			body:     map[string]string{"email": usr.Email, "password": "nope"},
			wantCode: http.StatusUnauthorized, wantErr: "invalid credentials",
		})
	})

	t.Run("unknown email reads the same as a wrong password", func(t *testing.T) {
		app.run(t, httpTest{
			method: http.MethodPost, path: "/v1/auth/login",
			body:     map[string]string{"email": "ghost@test.cd", "password": "Str0ngPwd!"},
			wantCode: http.StatusUnauthorized, wantErr: "invalid credentials",
		})
	})

	t.Run("validation errors", func(t *testing.T) {
		rec := app.run(t, httpTest{
			method: http.MethodPost, path: "/v1/auth/login",
			body:     map[string]string{"email": "not-an-email"},
			wantCode: http.StatusBadRequest,
		})
		var fields map[string]string
		decode(t, rec, &fields)
		assert.Contains(t, fields, "email")
		assert.Contains(t, fields, "password")
	})

	t.Run("deactivated account", func(t *testing.T) {
		inactive := false
		_, err := app.usrSvc.Update(context.Background(), usr.ID, user.UpdateUser{IsActive: &inactive})
		require.NoError(t, err)

		app.run(t, httpTest{
			method: http.MethodPost, path: "/v1/auth/login",
			body:     map[string]string{"email": usr.Email, "password": "Str0ngPwd!"},
			wantCode: http.StatusForbidden, wantErr: "account deactivated",
		})
	})
}

func Test_authApi_me(t *testing.T) {
	app := setupApp(t)
	usr := app.createUser(t, "jane@test.cd", "Str0ngPwd!", "student")

	t.Run("no token", func(t *testing.T) {
		app.run(t, httpTest{
			method: http.MethodGet, path: "/v1/me",
			wantCode: http.StatusUnauthorized, wantErr: "authentication required",
		})
	})

	t.Run("garbage token", func(t *testing.T) {
		app.run(t, httpTest{
			method: http.MethodGet, path: "/v1/me", token: "garbage",
			wantCode: http.StatusUnauthorized, wantErr: "authentication required",
		})
	})

	t.Run("ok", func(t *testing.T) {
		rec := app.run(t, httpTest{
			method: http.MethodGet, path: "/v1/me", token: app.token(t, usr),
			wantCode: http.StatusOK,
		})
		var got user.User
		decode(t, rec, &got)
		assert.Equal(t, usr.ID, got.ID)
		assert.Equal(t, usr.Email, got.Email)
	})
}

func (app *testApp) login(t *testing.T, email, pwd string) (SessionResponse, *http.Cookie) {
	t.Helper()
	rec := app.run(t, httpTest{
		method: http.MethodPost, path: "/v1/auth/login",
		body:     map[string]string{"email": email, "password": pwd},
		wantCode: http.StatusOK,
	})
	var sess SessionResponse
	decode(t, rec, &sess)
	cookie := refreshCookie(rec)
	require.NotNil(t, cookie)
	return sess, cookie
}

func (app *testApp) postWithCookie(t *testing.T, path string, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(""))
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	app.server.ServeHTTP(rec, req)
	return rec
}

func Test_authApi_refresh(t *testing.T) {
	app := setupApp(t)
	usr := app.createUser(t, "jane@test.cd", "Str0ngPwd!", "student")
	_, cookie := app.login(t, usr.Email, "Str0ngPwd!")

	t.Run("no cookie", func(t *testing.T) {
		rec := app.postWithCookie(t, "/v1/auth/refresh", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("never-issued token reads the same as an expired one", func(t *testing.T) {
		rec := app.postWithCookie(t, "/v1/auth/refresh", &http.Cookie{Name: "refresh_token", Value: "never-issued-raw-value"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		var body struct {
			Error string `json:"error"`
		}
		decode(t, rec, &body)
		assert.Equal(t, "invalid or expired token", body.Error)
	})

	var rotated *http.Cookie
	t.Run("rotation succeeds once", func(t *testing.T) {
		rec := app.postWithCookie(t, "/v1/auth/refresh", cookie)
		require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

		var sess SessionResponse
		decode(t, rec, &sess)
		assert.NotEmpty(t, sess.Token)

		rotated = refreshCookie(rec)
		require.NotNil(t, rotated)
		assert.NotEqual(t, cookie.Value, rotated.Value)
	})

	t.Run("old cookie is dead and gets cleared", func(t *testing.T) {
		rec := app.postWithCookie(t, "/v1/auth/refresh", cookie)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		cleared := refreshCookie(rec)
		require.NotNil(t, cleared)
		assert.Empty(t, cleared.Value)
	})

	t.Run("rotated cookie still works", func(t *testing.T) {
		rec := app.postWithCookie(t, "/v1/auth/refresh", rotated)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func Test_authApi_logout(t *testing.T) {
	app := setupApp(t)
	usr := app.createUser(t, "jane@test.cd", "Str0ngPwd!", "student")
	_, cookie := app.login(t, usr.Email, "Str0ngPwd!")

	rec := app.postWithCookie(t, "/v1/auth/logout", cookie)
	require.Equal(t, http.StatusNoContent, rec.Code)
	cleared := refreshCookie(rec)
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)

	// the revoked token cannot be rotated anymore
	rec = app.postWithCookie(t, "/v1/auth/refresh", cookie)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// logging out without a session is still a 204
	rec = app.postWithCookie(t, "/v1/auth/logout", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func Test_authApi_activate(t *testing.T) {
	app := setupApp(t)
	ctx := context.Background()

	usr, err := app.usrSvc.CreateInactive(ctx, user.InviteUser{
		Name:  "Invited User",
		Email: "invited@test.cd",
		Roles: []string{"student"},
	})
	require.NoError(t, err)
	raw, err := app.authSvc.Invite(ctx, usr)
	require.NoError(t, err)

	t.Run("bad token", func(t *testing.T) {
		app.run(t, httpTest{
			method: http.MethodPost, path: "/v1/auth/activate",
			body:     map[string]string{"token": "bogus", "password": "N3wStr0ngPwd!", "password_confirm": "N3wStr0ngPwd!"},
			wantCode: http.StatusUnauthorized, wantErr: "invalid or expired token",
		})
	})

	t.Run("weak password", func(t *testing.T) {
		app.run(t, httpTest{
			method: http.MethodPost, path: "/v1/auth/activate",
			body:     map[string]string{"token": raw, "password": "short", "password_confirm": "short"},
			wantCode: http.StatusBadRequest,
		})
	})

	t.Run("success then single-use", func(t *testing.T) {
		rec := app.run(t, httpTest{
			method: http.MethodPost, path: "/v1/auth/activate",
			body:     map[string]string{"token": raw, "password": "N3wStr0ngPwd!", "password_confirm": "N3wStr0ngPwd!"},
			wantCode: http.StatusOK,
		})
		var got user.User
		decode(t, rec, &got)
		assert.True(t, got.Active())

		app.login(t, usr.Email, "N3wStr0ngPwd!")

		app.run(t, httpTest{
			method: http.MethodPost, path: "/v1/auth/activate",
			body:     map[string]string{"token": raw, "password": "An0therPwd!!", "password_confirm": "An0therPwd!!"},
			wantCode: http.StatusUnauthorized, wantErr: "invalid or expired token",
		})
	})
}

func Test_authApi_passwordReset(t *testing.T) {
	app := setupApp(t)
	usr := app.createUser(t, "jane@test.cd", "Str0ngPwd!", "student")

	t.Run("unknown email is still a 204", func(t *testing.T) {
		app.run(t, httpTest{
			method: http.MethodPost, path: "/v1/auth/password-reset",
			body:     map[string]string{"email": "ghost@test.cd"},
			wantCode: http.StatusNoContent,
		})
		assert.Empty(t, emailsvc.SentMessages)
	})

	app.run(t, httpTest{
		method: http.MethodPost, path: "/v1/auth/password-reset",
		body:     map[string]string{"email": usr.Email},
		wantCode: http.StatusNoContent,
	})
	require.Len(t, emailsvc.SentMessages, 1)
	data := emailsvc.SentMessages[0].TemplateData.(struct{ Name, Token string })

	app.run(t, httpTest{
		method: http.MethodPost, path: "/v1/auth/password-reset-confirm",
		body:     map[string]string{"token": data.Token, "password": "Fresh&Clean1", "password_confirm": "Fresh&Clean1"},
		wantCode: http.StatusNoContent,
	})

	// old password is gone, new one works
	app.run(t, httpTest{
		method: http.MethodPost, path: "/v1/auth/login",
		body:     map[string]string{"email": usr.Email, "password": "Str0ngPwd!"},
		wantCode: http.StatusUnauthorized, wantErr: "invalid credentials",
	})
	app.login(t, usr.Email, "Fresh&Clean1")
}
