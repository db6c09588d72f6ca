package echoapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/trezcool/academia/core/auth"
	"github.com/trezcool/academia/core/user"
)

const refreshCookieName = "refresh_token"

// refreshCookiePath scopes the cookie to the auth endpoints so it never rides
// along on regular API calls.
const refreshCookiePath = "/v1/auth"

type authApi struct {
	deps ServerDeps
}

func registerAuthAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := authApi{deps: deps}

	ag := g.Group("/auth")

	loginLimiter := middleware.RateLimiter(
		middleware.NewRateLimiterMemoryStore(rate.Limit(deps.Conf.Server.LoginRateLimit)),
	)
	ag.POST("/login", api.login, loginLimiter)
	ag.POST("/refresh", api.refresh)
	ag.POST("/logout", api.logout)
	ag.POST("/activate", api.activate)
	ag.POST("/password-reset", api.resetPassword)
	ag.POST("/password-reset-confirm", api.confirmPasswordReset)

	g.GET("/me", api.me, jwt)
}

type (
	LoginRequest struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}

	SessionResponse struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
		User      user.User `json:"user"`
	}

	PasswordResetRequest struct {
		Email string `json:"email" validate:"required,email"`
	}
)

func (api *authApi) login(ctx echo.Context) error {
	var data LoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LoginRequest")
	}
	if err := api.deps.Validate.Struct(&data); err != nil {
		return err
	}

	sess, err := api.deps.AuthSvc.Authenticate(reqCtx(ctx), data.Email, data.Password)
	if err != nil {
		return err
	}
	api.setRefreshCookie(ctx, sess)
	return ctx.JSON(http.StatusOK, sessionResponse(sess))
}

func (api *authApi) refresh(ctx echo.Context) error {
	cookie, err := ctx.Cookie(refreshCookieName)
	if err != nil || cookie.Value == "" {
		return errUnauthorized
	}

	sess, err := api.deps.AuthSvc.Rotate(reqCtx(ctx), cookie.Value)
	if err != nil {
		api.clearRefreshCookie(ctx)
		return err
	}
	api.setRefreshCookie(ctx, sess)
	return ctx.JSON(http.StatusOK, sessionResponse(sess))
}

// logout revokes the session's refresh token. The cookie is cleared even when
// revocation fails server side.
func (api *authApi) logout(ctx echo.Context) error {
	if cookie, err := ctx.Cookie(refreshCookieName); err == nil && cookie.Value != "" {
		if err = api.deps.AuthSvc.Revoke(reqCtx(ctx), cookie.Value); err != nil {
			api.deps.Logger.Warn("revoking refresh token on logout", err)
		}
	}
	api.clearRefreshCookie(ctx)
	return ctx.NoContent(http.StatusNoContent)
}

func (api *authApi) activate(ctx echo.Context) error {
	var data auth.ActivateAccount
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ActivateAccount")
	}
	if err := api.deps.Validate.Struct(&data); err != nil {
		return err
	}

	usr, err := api.deps.AuthSvc.Activate(reqCtx(ctx), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, usr)
}

// resetPassword never discloses whether the email exists.
func (api *authApi) resetPassword(ctx echo.Context) error {
	var data PasswordResetRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PasswordResetRequest")
	}
	if err := api.deps.Validate.Struct(&data); err != nil {
		return err
	}

	if err := api.deps.AuthSvc.RequestPasswordReset(reqCtx(ctx), data.Email); err != nil {
		if errors.Cause(err) != user.ErrNotFound {
			return errors.Wrap(err, "requesting password reset")
		}
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *authApi) confirmPasswordReset(ctx echo.Context) error {
	var data auth.ResetPassword
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ResetPassword")
	}
	if err := api.deps.Validate.Struct(&data); err != nil {
		return err
	}
	if err := api.deps.AuthSvc.ConfirmPasswordReset(reqCtx(ctx), data); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *authApi) me(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	usr, err := api.deps.UserSvc.GetByID(reqCtx(ctx), claims.UserID())
	if err != nil {
		return errors.Wrap(err, "getting current user")
	}
	return ctx.JSON(http.StatusOK, usr)
}

func sessionResponse(sess auth.Session) SessionResponse {
	return SessionResponse{
		Token:     sess.AccessToken,
		ExpiresAt: sess.AccessExpiresAt,
		User:      sess.User,
	}
}

func (api *authApi) setRefreshCookie(ctx echo.Context, sess auth.Session) {
	ctx.SetCookie(&http.Cookie{
		Name:     refreshCookieName,
		Value:    sess.RefreshToken,
		Path:     refreshCookiePath,
		Expires:  sess.RefreshExpiresAt,
		HttpOnly: true,
		SameSite: api.deps.Conf.Server.CookieSameSite,
		Secure:   api.deps.Conf.Server.CookieSecure,
	})
}

func (api *authApi) clearRefreshCookie(ctx echo.Context) {
	ctx.SetCookie(&http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     refreshCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: api.deps.Conf.Server.CookieSameSite,
		Secure:   api.deps.Conf.Server.CookieSecure,
	})
}
