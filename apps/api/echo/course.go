package echoapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/auth"
	"github.com/trezcool/academia/core/course"
)

// courseApi is the read surface students (and staff) browse.
type courseApi struct {
	deps ServerDeps
}

func registerCourseAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := courseApi{deps: deps}

	cg := g.Group("/courses", jwt)
	cg.GET("", api.list)
	cg.GET("/:id", api.retrieve)
	cg.GET("/:id/lessons/:lessonID", api.lesson)
	cg.GET("/:id/lessons/:lessonID/quizzes", api.lessonQuizzes)
	cg.GET("/:id/sessions", api.sessions)
}

func (api *courseApi) list(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	if claims.IsAdmin() {
		courses, err := api.deps.CourseSvc.QueryAll(reqCtx(ctx))
		if err != nil {
			return errors.Wrap(err, "querying courses")
		}
		return ctx.JSON(http.StatusOK, courses)
	}
	courses, err := api.deps.CourseSvc.QueryEnrolled(reqCtx(ctx), claims.UserID())
	if err != nil {
		return errors.Wrap(err, "querying enrolled courses")
	}
	return ctx.JSON(http.StatusOK, courses)
}

// isStaff reports whether the caller holds any role on the course; the owner
// counts through the instructor rule.
func (api *courseApi) isStaff(ctx echo.Context, claims *auth.Claims, courseID string) (bool, error) {
	err := api.deps.CourseSvc.Authorize(reqCtx(ctx), claims.UserID(), false, courseID, course.AllRoles...)
	if err == nil {
		return true, nil
	}
	if errors.Cause(err) == core.ErrPermissionDenied {
		return false, nil
	}
	return false, err
}

func (api *courseApi) retrieve(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	detail, err := api.deps.CourseSvc.GetTree(reqCtx(ctx), ctx.Param("id"))
	if err != nil {
		return err
	}
	if claims.IsAdmin() {
		return ctx.JSON(http.StatusOK, detail)
	}
	if staff, err := api.isStaff(ctx, claims, detail.ID); err != nil {
		return err
	} else if staff {
		return ctx.JSON(http.StatusOK, detail)
	}

	// students see only the published subtree, and only when enrolled
	enrolled, err := api.deps.CourseSvc.IsEnrolled(reqCtx(ctx), detail.ID, claims.UserID())
	if err != nil {
		return errors.Wrap(err, "checking enrollment")
	}
	if !enrolled {
		return course.ErrNotFound
	}
	visible, ok := detail.VisibleToStudent()
	if !ok {
		return course.ErrNotFound
	}
	return ctx.JSON(http.StatusOK, visible)
}

// lessonAccess resolves a lesson under a course and decides what the caller
// may see. Visibility is transitive: a lesson is hidden whenever it, its
// module or its course is unpublished.
func (api *courseApi) lessonAccess(ctx echo.Context, claims *auth.Claims) (course.Lesson, error) {
	rctx := reqCtx(ctx)

	courseID, err := api.deps.CourseSvc.ResolveCourseID(rctx, course.ResourceRef{LessonID: ctx.Param("lessonID")})
	if err != nil {
		return course.Lesson{}, err
	}
	if courseID != ctx.Param("id") {
		return course.Lesson{}, course.ErrLessonNotFound
	}

	lesson, err := api.deps.CourseSvc.GetLesson(rctx, ctx.Param("lessonID"))
	if err != nil {
		return course.Lesson{}, err
	}
	if claims.IsAdmin() {
		return lesson, nil
	}
	if staff, err := api.isStaff(ctx, claims, courseID); err != nil {
		return course.Lesson{}, err
	} else if staff {
		return lesson, nil
	}

	enrolled, err := api.deps.CourseSvc.IsEnrolled(rctx, courseID, claims.UserID())
	if err != nil {
		return course.Lesson{}, errors.Wrap(err, "checking enrollment")
	}
	if !enrolled || !lesson.IsPublished {
		return course.Lesson{}, course.ErrLessonNotFound
	}
	mod, err := api.deps.CourseSvc.GetModule(rctx, lesson.ModuleID)
	if err != nil {
		return course.Lesson{}, err
	}
	crs, err := api.deps.CourseSvc.GetByID(rctx, courseID)
	if err != nil {
		return course.Lesson{}, err
	}
	if !mod.IsPublished || !crs.IsPublished {
		return course.Lesson{}, course.ErrLessonNotFound
	}
	return lesson, nil
}

func (api *courseApi) lesson(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	lesson, err := api.lessonAccess(ctx, claims)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, lesson)
}

// lessonQuizzes lists a lesson's quizzes; students only see published ones.
func (api *courseApi) lessonQuizzes(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	lesson, err := api.lessonAccess(ctx, claims)
	if err != nil {
		return err
	}
	quizzes, err := api.deps.QuizSvc.QueryByLesson(reqCtx(ctx), lesson.ID)
	if err != nil {
		return errors.Wrap(err, "querying quizzes")
	}

	if !claims.IsAdmin() {
		if staff, err := api.isStaff(ctx, claims, ctx.Param("id")); err != nil {
			return err
		} else if !staff {
			published := quizzes[:0]
			for _, q := range quizzes {
				if q.IsPublished {
					published = append(published, q)
				}
			}
			quizzes = published
		}
	}
	return ctx.JSON(http.StatusOK, quizzes)
}

// sessions lists upcoming live-session occurrences in a window; the window
// defaults to the next two weeks.
func (api *courseApi) sessions(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	crs, err := api.deps.CourseSvc.GetByID(reqCtx(ctx), ctx.Param("id"))
	if err != nil {
		return err
	}
	if !claims.IsAdmin() {
		staff, err := api.isStaff(ctx, claims, crs.ID)
		if err != nil {
			return err
		}
		if !staff {
			enrolled, err := api.deps.CourseSvc.IsEnrolled(reqCtx(ctx), crs.ID, claims.UserID())
			if err != nil {
				return errors.Wrap(err, "checking enrollment")
			}
			if !enrolled || !crs.IsPublished {
				return course.ErrNotFound
			}
		}
	}

	from := time.Now().UTC()
	if v := ctx.QueryParam("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			return core.NewValidationError(nil, core.FieldError{Field: "from", Error: "invalid RFC3339 timestamp"})
		}
	}
	to := from.Add(14 * 24 * time.Hour)
	if v := ctx.QueryParam("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			return core.NewValidationError(nil, core.FieldError{Field: "to", Error: "invalid RFC3339 timestamp"})
		}
	}

	occurrences, err := api.deps.LiveSvc.Occurrences(reqCtx(ctx), crs.ID, from, to)
	if err != nil {
		return errors.Wrap(err, "expanding occurrences")
	}
	return ctx.JSON(http.StatusOK, occurrences)
}
