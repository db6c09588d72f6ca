package auth_test

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/auth"
	"github.com/trezcool/academia/core/user"
	emailsvc "github.com/trezcool/academia/services/email"
	inmemdb "github.com/trezcool/academia/storage/database/inmem"
)

func testConfig() *core.Config {
	return &core.Config{
		AppName:         "Academia",
		Env:             "TEST",
		TestMode:        true,
		SecretKey:       []byte("test-secret-key"),
		FrontendBaseURL: "http://localhost:3000",
		Server: core.ServerConfig{
			AccessTokenTTL:  10 * time.Minute,
			RefreshTokenTTL: 14 * 24 * time.Hour,
			InviteTokenTTL:  72 * time.Hour,
			CookieSameSite:  http.SameSiteLaxMode,
		},
	}
}

func setup(t *testing.T) (*auth.Service, user.ServiceInterface, *core.Config) {
	t.Helper()
	emailsvc.ClearSentMessages()

	conf := testConfig()
	db := inmemdb.NewDB()
	usrSvc := user.NewService(db, inmemdb.NewUserRepository(db))
	authSvc := auth.NewService(db, inmemdb.NewTokenRepository(db), usrSvc, emailsvc.NewConsoleService(conf), conf)
	return authSvc, usrSvc, conf
}

func createUser(t *testing.T, usrSvc user.ServiceInterface, email, pwd string, roles ...string) user.User {
	t.Helper()
	usr, err := usrSvc.Create(context.Background(), user.NewUser{
		Name:            "Test User",
		Email:           email,
		Password:        pwd,
		PasswordConfirm: pwd,
		Roles:           roles,
	})
	require.NoError(t, err)
	return usr
}

func Test_Authenticate(t *testing.T) {
	authSvc, usrSvc, _ := setup(t)
	ctx := context.Background()
	usr := createUser(t, usrSvc, "jane@test.cd", "Str0ngPwd!", "student")

	t.Run("unknown email", func(t *testing.T) {
		_, err := authSvc.Authenticate(ctx, "nobody@test.cd", "Str0ngPwd!")
		assert.Equal(t, auth.ErrInvalidCredentials, errors.Cause(err))
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := authSvc.Authenticate(ctx, usr.Email, "nope")
		assert.Equal(t, auth.ErrInvalidCredentials, errors.Cause(err))
	})

	t.Run("deactivated account", func(t *testing.T) {
		inactive := false
		_, err := usrSvc.Update(ctx, usr.ID, user.UpdateUser{IsActive: &inactive})
		require.NoError(t, err)
		_, err = authSvc.Authenticate(ctx, usr.Email, "Str0ngPwd!")
		assert.Equal(t, auth.ErrAccountDeactivated, errors.Cause(err))

		active := true
		_, err = usrSvc.Update(ctx, usr.ID, user.UpdateUser{IsActive: &active})
		require.NoError(t, err)
	})

	t.Run("success", func(t *testing.T) {
		sess, err := authSvc.Authenticate(ctx, usr.Email, "Str0ngPwd!")
		require.NoError(t, err)
		assert.NotEmpty(t, sess.AccessToken)
		assert.NotEmpty(t, sess.RefreshToken)

		claims, err := authSvc.VerifyAccess(sess.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, usr.ID, claims.UserID())
		assert.Equal(t, []string{"student"}, claims.Roles)

		got, err := usrSvc.GetByID(ctx, usr.ID)
		require.NoError(t, err)
		assert.False(t, got.LastLogin.IsZero())
	})
}

func Test_VerifyAccess(t *testing.T) {
	authSvc, usrSvc, conf := setup(t)
	usr := createUser(t, usrSvc, "jane@test.cd", "Str0ngPwd!")

	t.Run("garbage token", func(t *testing.T) {
		_, err := authSvc.VerifyAccess("not.a.token")
		assert.Equal(t, auth.ErrInvalidToken, errors.Cause(err))
	})

	t.Run("tampered token", func(t *testing.T) {
		token, err := auth.SignToken(conf, auth.NewClaims(conf, usr))
		require.NoError(t, err)
		_, err = authSvc.VerifyAccess(token + "x")
		assert.Equal(t, auth.ErrInvalidToken, errors.Cause(err))
	})

	t.Run("expired token", func(t *testing.T) {
		expConf := testConfig()
		expConf.Server.AccessTokenTTL = -time.Minute
		token, err := auth.SignToken(expConf, auth.NewClaims(expConf, usr))
		require.NoError(t, err)
		_, err = authSvc.VerifyAccess(token)
		assert.Equal(t, auth.ErrInvalidToken, errors.Cause(err))
	})
}

func Test_Rotate_singleUse(t *testing.T) {
	authSvc, usrSvc, _ := setup(t)
	ctx := context.Background()
	usr := createUser(t, usrSvc, "jane@test.cd", "Str0ngPwd!")

	sess, err := authSvc.IssueSession(ctx, usr)
	require.NoError(t, err)

	next, err := authSvc.Rotate(ctx, sess.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, sess.RefreshToken, next.RefreshToken)

	// the old raw value is dead
	_, err = authSvc.Rotate(ctx, sess.RefreshToken)
	assert.Equal(t, auth.ErrTokenRevoked, errors.Cause(err))

	// the replacement still works
	_, err = authSvc.Rotate(ctx, next.RefreshToken)
	assert.NoError(t, err)
}

func Test_Rotate_concurrent(t *testing.T) {
	authSvc, usrSvc, _ := setup(t)
	ctx := context.Background()
	usr := createUser(t, usrSvc, "jane@test.cd", "Str0ngPwd!")

	sess, err := authSvc.IssueSession(ctx, usr)
	require.NoError(t, err)

	const workers = 16
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := authSvc.Rotate(ctx, sess.RefreshToken)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins int
	for err := range results {
		if err == nil {
			wins++
		}
	}
	assert.Equal(t, 1, wins, "exactly one concurrent rotation must win")
}

func Test_Revoke(t *testing.T) {
	authSvc, usrSvc, _ := setup(t)
	ctx := context.Background()
	usr := createUser(t, usrSvc, "jane@test.cd", "Str0ngPwd!")

	sess, err := authSvc.IssueSession(ctx, usr)
	require.NoError(t, err)

	require.NoError(t, authSvc.Revoke(ctx, sess.RefreshToken))
	_, err = authSvc.Rotate(ctx, sess.RefreshToken)
	assert.Equal(t, auth.ErrTokenRevoked, errors.Cause(err))

	// revoking an unknown token is a no-op
	assert.NoError(t, authSvc.Revoke(ctx, "unknown"))
}

func Test_InviteActivateFlow(t *testing.T) {
	authSvc, usrSvc, _ := setup(t)
	ctx := context.Background()

	usr, err := usrSvc.CreateInactive(ctx, user.InviteUser{
		Name:  "Invited User",
		Email: "invited@test.cd",
		Roles: []string{"student"},
	})
	require.NoError(t, err)
	assert.False(t, usr.Active())

	raw, err := authSvc.Invite(ctx, usr)
	require.NoError(t, err)
	require.NotEmpty(t, raw)
	require.Len(t, emailsvc.SentMessages, 1)
	assert.Equal(t, "invite", emailsvc.SentMessages[0].TemplateName)

	t.Run("activation token is purpose-bound", func(t *testing.T) {
		err := authSvc.ConfirmPasswordReset(ctx, auth.ResetPassword{
			Token:           raw,
			Password:        "N3wStr0ngPwd!",
			PasswordConfirm: "N3wStr0ngPwd!",
		})
		assert.Equal(t, auth.ErrTokenNotFound, errors.Cause(err))
	})

	activated, err := authSvc.Activate(ctx, auth.ActivateAccount{
		Token:           raw,
		Password:        "N3wStr0ngPwd!",
		PasswordConfirm: "N3wStr0ngPwd!",
	})
	require.NoError(t, err)
	assert.True(t, activated.Active())

	_, err = authSvc.Authenticate(ctx, usr.Email, "N3wStr0ngPwd!")
	assert.NoError(t, err)

	t.Run("activation token is single-use", func(t *testing.T) {
		_, err := authSvc.Activate(ctx, auth.ActivateAccount{
			Token:           raw,
			Password:        "An0therPwd!!",
			PasswordConfirm: "An0therPwd!!",
		})
		assert.Equal(t, auth.ErrTokenUsed, errors.Cause(err))
	})
}

func Test_PasswordResetFlow(t *testing.T) {
	authSvc, usrSvc, _ := setup(t)
	ctx := context.Background()
	usr := createUser(t, usrSvc, "jane@test.cd", "Str0ngPwd!")

	require.NoError(t, authSvc.RequestPasswordReset(ctx, usr.Email))
	require.Len(t, emailsvc.SentMessages, 1)
	data := emailsvc.SentMessages[0].TemplateData.(struct{ Name, Token string })
	require.NotEmpty(t, data.Token)

	err := authSvc.ConfirmPasswordReset(ctx, auth.ResetPassword{
		Token:           data.Token,
		Password:        "Fresh&Clean1",
		PasswordConfirm: "Fresh&Clean1",
	})
	require.NoError(t, err)

	_, err = authSvc.Authenticate(ctx, usr.Email, "Str0ngPwd!")
	assert.Equal(t, auth.ErrInvalidCredentials, errors.Cause(err))
	_, err = authSvc.Authenticate(ctx, usr.Email, "Fresh&Clean1")
	assert.NoError(t, err)

	t.Run("unknown email", func(t *testing.T) {
		err := authSvc.RequestPasswordReset(ctx, "ghost@test.cd")
		assert.Equal(t, user.ErrNotFound, errors.Cause(err))
	})
}
