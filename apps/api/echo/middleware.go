package echoapi

import (
	"context"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core/auth"
	"github.com/trezcool/academia/core/course"
	"github.com/trezcool/academia/core/user"
)

const contextClaimsKey = "userClaims"

// jwtMiddleware verifies the bearer access token and stores the claims on the
// request context. Requests without a valid token fail with a 401.
func jwtMiddleware(authSvc auth.ServiceInterface) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			header := ctx.Request().Header.Get(echo.HeaderAuthorization)
			if !strings.HasPrefix(header, "Bearer ") {
				return errUnauthorized
			}
			claims, err := authSvc.VerifyAccess(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				return errUnauthorized
			}
			ctx.Set(contextClaimsKey, claims)
			return next(ctx)
		}
	}
}

func getContextClaims(ctx echo.Context) (*auth.Claims, error) {
	if claims, ok := ctx.Get(contextClaimsKey).(*auth.Claims); ok {
		return claims, nil
	}
	return nil, errUnauthorized
}

// requireAnyRole gates a route on the caller's global roles; an empty list
// admits any authenticated user.
func requireAnyRole(roles ...user.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return err
			}
			if claims.HasAnyRole(roles...) {
				return next(ctx)
			}
			return errHTTPForbidden
		}
	}
}

// courseResolver derives the target course from the request.
type courseResolver func(ctx echo.Context, deps ServerDeps) (string, error)

func resolveByCourseParam(param string) courseResolver {
	return func(ctx echo.Context, deps ServerDeps) (string, error) {
		return deps.CourseSvc.ResolveCourseID(reqCtx(ctx), course.ResourceRef{CourseID: ctx.Param(param)})
	}
}

func resolveByModuleParam(param string) courseResolver {
	return func(ctx echo.Context, deps ServerDeps) (string, error) {
		return deps.CourseSvc.ResolveCourseID(reqCtx(ctx), course.ResourceRef{ModuleID: ctx.Param(param)})
	}
}

func resolveByLessonParam(param string) courseResolver {
	return func(ctx echo.Context, deps ServerDeps) (string, error) {
		return deps.CourseSvc.ResolveCourseID(reqCtx(ctx), course.ResourceRef{LessonID: ctx.Param(param)})
	}
}

func resolveByGroupParam(param string) courseResolver {
	return func(ctx echo.Context, deps ServerDeps) (string, error) {
		return deps.CourseSvc.ResolveCourseID(reqCtx(ctx), course.ResourceRef{GroupID: ctx.Param(param)})
	}
}

func resolveByQuizParam(param string) courseResolver {
	return func(ctx echo.Context, deps ServerDeps) (string, error) {
		return deps.QuizSvc.ResolveCourseID(reqCtx(ctx), ctx.Param(param))
	}
}

func resolveBySessionParam(param string) courseResolver {
	return func(ctx echo.Context, deps ServerDeps) (string, error) {
		return deps.LiveSvc.ResolveCourseID(reqCtx(ctx), ctx.Param(param))
	}
}

const contextCourseIDKey = "courseID"

// requireAnyCourseRole gates a route on course-scoped roles. The resolver
// derives the course from the request; a dangling reference is a 404, a
// missing grant a uniform 403. Global admins bypass the grant check and the
// course owner counts as instructor.
func requireAnyCourseRole(deps ServerDeps, resolve courseResolver, roles ...course.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return err
			}
			courseID, err := resolve(ctx, deps)
			if err != nil {
				return errors.Wrap(err, "resolving course")
			}
			if err = deps.CourseSvc.Authorize(reqCtx(ctx), claims.UserID(), claims.IsAdmin(), courseID, roles...); err != nil {
				return err
			}
			ctx.Set(contextCourseIDKey, courseID)
			return next(ctx)
		}
	}
}

// contextCourseID returns the course resolved by requireAnyCourseRole.
func contextCourseID(ctx echo.Context) string {
	id, _ := ctx.Get(contextCourseIDKey).(string)
	return id
}

func reqCtx(ctx echo.Context) context.Context {
	return ctx.Request().Context()
}
