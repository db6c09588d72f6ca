package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/course"
	"github.com/trezcool/academia/core/live"
	"github.com/trezcool/academia/core/quiz"
	"github.com/trezcool/academia/core/user"
)

// cmsApi is the authoring surface; every route below course creation is
// course-scoped.
type cmsApi struct {
	deps ServerDeps
}

func registerCMSAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := cmsApi{deps: deps}

	cms := g.Group("/cms", jwt)

	editors := func(resolve courseResolver) echo.MiddlewareFunc {
		return requireAnyCourseRole(deps, resolve, course.RoleInstructor, course.RoleContentEditor)
	}
	instructors := func(resolve courseResolver) echo.MiddlewareFunc {
		return requireAnyCourseRole(deps, resolve, course.RoleInstructor)
	}
	enrollers := func(resolve courseResolver) echo.MiddlewareFunc {
		return requireAnyCourseRole(deps, resolve, course.RoleInstructor, course.RoleEnrollmentManager)
	}

	byCourse := resolveByCourseParam("id")

	// courses
	cms.POST("/courses", api.createCourse, requireAnyRole(user.RoleAdmin, user.RoleInstructor))
	cms.PATCH("/courses/:id", api.updateCourse, editors(byCourse))
	cms.POST("/courses/:id/publish", api.publishCourse(true), editors(byCourse))
	cms.POST("/courses/:id/unpublish", api.publishCourse(false), editors(byCourse))

	// modules
	cms.POST("/courses/:id/modules", api.createModule, editors(byCourse))
	cms.PATCH("/modules/:moduleID", api.updateModule, editors(resolveByModuleParam("moduleID")))
	cms.POST("/modules/:moduleID/publish", api.publishModule(true), editors(resolveByModuleParam("moduleID")))
	cms.POST("/modules/:moduleID/unpublish", api.publishModule(false), editors(resolveByModuleParam("moduleID")))
	cms.DELETE("/modules/:moduleID", api.deleteModule, editors(resolveByModuleParam("moduleID")))

	// lessons
	cms.POST("/modules/:moduleID/lessons", api.createLesson, editors(resolveByModuleParam("moduleID")))
	cms.PATCH("/lessons/:lessonID", api.updateLesson, editors(resolveByLessonParam("lessonID")))
	cms.POST("/lessons/:lessonID/publish", api.publishLesson(true), editors(resolveByLessonParam("lessonID")))
	cms.POST("/lessons/:lessonID/unpublish", api.publishLesson(false), editors(resolveByLessonParam("lessonID")))
	cms.DELETE("/lessons/:lessonID", api.deleteLesson, editors(resolveByLessonParam("lessonID")))

	// quizzes
	cms.POST("/lessons/:lessonID/quizzes", api.createQuiz, editors(resolveByLessonParam("lessonID")))
	cms.GET("/lessons/:lessonID/quizzes", api.listQuizzes, editors(resolveByLessonParam("lessonID")))
	cms.PATCH("/quizzes/:quizID", api.updateQuiz, editors(resolveByQuizParam("quizID")))
	cms.DELETE("/quizzes/:quizID", api.deleteQuiz, editors(resolveByQuizParam("quizID")))

	// live sessions
	cms.POST("/courses/:id/sessions", api.createSession, instructors(byCourse))
	cms.PATCH("/sessions/:sessionID", api.updateSession, instructors(resolveBySessionParam("sessionID")))
	cms.DELETE("/sessions/:sessionID", api.deleteSession, instructors(resolveBySessionParam("sessionID")))

	// staff
	cms.GET("/courses/:id/staff", api.listStaff, instructors(byCourse))
	cms.POST("/courses/:id/staff", api.grantRole, instructors(byCourse))
	cms.DELETE("/courses/:id/staff/:userID/:role", api.revokeRole, instructors(byCourse))

	// groups & enrollments
	cms.POST("/courses/:id/groups", api.createGroup, enrollers(byCourse))
	cms.GET("/courses/:id/groups", api.listGroups, enrollers(byCourse))
	cms.DELETE("/groups/:groupID", api.deleteGroup, enrollers(resolveByGroupParam("groupID")))
	cms.GET("/groups/:groupID/members", api.listGroupMembers, enrollers(resolveByGroupParam("groupID")))
	cms.PUT("/groups/:groupID/members/:userID", api.moveToGroup, enrollers(resolveByGroupParam("groupID")))
	cms.POST("/courses/:id/enrollments", api.enroll, enrollers(byCourse))
	cms.DELETE("/courses/:id/enrollments/:userID", api.unenroll, enrollers(byCourse))
}

// --- courses ---

func (api *cmsApi) createCourse(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	var data course.NewCourse
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewCourse")
	}
	if err := data.Validate(api.deps.Validate, api.deps.CourseSvc); err != nil {
		return err
	}

	// the creator becomes the owner
	crs, err := api.deps.CourseSvc.Create(reqCtx(ctx), claims.UserID(), data)
	if err != nil {
		return errors.Wrap(err, "creating course")
	}
	return ctx.JSON(http.StatusCreated, crs)
}

func (api *cmsApi) updateCourse(ctx echo.Context) error {
	var data course.UpdateCourse
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateCourse")
	}
	crs, err := api.deps.CourseSvc.Update(reqCtx(ctx), contextCourseID(ctx), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, crs)
}

func (api *cmsApi) publishCourse(published bool) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		if err := api.deps.CourseSvc.SetPublished(reqCtx(ctx), contextCourseID(ctx), published); err != nil {
			return err
		}
		return ctx.NoContent(http.StatusNoContent)
	}
}

// --- modules ---

func (api *cmsApi) createModule(ctx echo.Context) error {
	var data course.NewModule
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewModule")
	}
	if err := api.deps.Validate.Struct(&data); err != nil {
		return err
	}
	mod, err := api.deps.CourseSvc.AddModule(reqCtx(ctx), contextCourseID(ctx), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, mod)
}

func (api *cmsApi) updateModule(ctx echo.Context) error {
	var data course.UpdateModule
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateModule")
	}
	if err := api.deps.Validate.Struct(&data); err != nil {
		return err
	}
	mod, err := api.deps.CourseSvc.UpdateModule(reqCtx(ctx), ctx.Param("moduleID"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, mod)
}

func (api *cmsApi) publishModule(published bool) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		if err := api.deps.CourseSvc.SetModulePublished(reqCtx(ctx), ctx.Param("moduleID"), published); err != nil {
			return err
		}
		return ctx.NoContent(http.StatusNoContent)
	}
}

func (api *cmsApi) deleteModule(ctx echo.Context) error {
	if err := api.deps.CourseSvc.RemoveModule(reqCtx(ctx), ctx.Param("moduleID")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

// --- lessons ---

func (api *cmsApi) createLesson(ctx echo.Context) error {
	var data course.NewLesson
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewLesson")
	}
	if err := api.deps.Validate.Struct(&data); err != nil {
		return err
	}
	lesson, err := api.deps.CourseSvc.AddLesson(reqCtx(ctx), ctx.Param("moduleID"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, lesson)
}

func (api *cmsApi) updateLesson(ctx echo.Context) error {
	var data course.UpdateLesson
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateLesson")
	}
	if err := api.deps.Validate.Struct(&data); err != nil {
		return err
	}
	lesson, err := api.deps.CourseSvc.UpdateLesson(reqCtx(ctx), ctx.Param("lessonID"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, lesson)
}

func (api *cmsApi) publishLesson(published bool) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		if err := api.deps.CourseSvc.SetLessonPublished(reqCtx(ctx), ctx.Param("lessonID"), published); err != nil {
			return err
		}
		return ctx.NoContent(http.StatusNoContent)
	}
}

func (api *cmsApi) deleteLesson(ctx echo.Context) error {
	if err := api.deps.CourseSvc.RemoveLesson(reqCtx(ctx), ctx.Param("lessonID")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

// --- quizzes ---

func (api *cmsApi) createQuiz(ctx echo.Context) error {
	var data quiz.NewQuiz
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewQuiz")
	}
	if err := api.deps.Validate.Struct(&data); err != nil {
		return err
	}
	q, err := api.deps.QuizSvc.Create(reqCtx(ctx), ctx.Param("lessonID"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, q)
}

func (api *cmsApi) listQuizzes(ctx echo.Context) error {
	quizzes, err := api.deps.QuizSvc.QueryByLesson(reqCtx(ctx), ctx.Param("lessonID"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, quizzes)
}

func (api *cmsApi) updateQuiz(ctx echo.Context) error {
	var data quiz.UpdateQuiz
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateQuiz")
	}
	q, err := api.deps.QuizSvc.Update(reqCtx(ctx), ctx.Param("quizID"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, q)
}

func (api *cmsApi) deleteQuiz(ctx echo.Context) error {
	if err := api.deps.QuizSvc.Remove(reqCtx(ctx), ctx.Param("quizID")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

// --- live sessions ---

func (api *cmsApi) createSession(ctx echo.Context) error {
	var data live.NewSession
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSession")
	}
	if err := api.deps.Validate.Struct(&data); err != nil {
		return err
	}
	sess, err := api.deps.LiveSvc.Create(reqCtx(ctx), contextCourseID(ctx), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, sess)
}

func (api *cmsApi) updateSession(ctx echo.Context) error {
	var data live.UpdateSession
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateSession")
	}
	if err := api.deps.Validate.Struct(&data); err != nil {
		return err
	}
	sess, err := api.deps.LiveSvc.Update(reqCtx(ctx), ctx.Param("sessionID"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sess)
}

func (api *cmsApi) deleteSession(ctx echo.Context) error {
	if err := api.deps.LiveSvc.Remove(reqCtx(ctx), ctx.Param("sessionID")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

// --- staff ---

func (api *cmsApi) listStaff(ctx echo.Context) error {
	staff, err := api.deps.CourseSvc.Staff(reqCtx(ctx), contextCourseID(ctx))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, staff)
}

func (api *cmsApi) grantRole(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	var data course.NewGrant
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewGrant")
	}
	if err := api.deps.Validate.Struct(&data); err != nil {
		return err
	}

	role := course.Role(data.Role)
	// handing out the instructor role is reserved for global admins
	if role == course.RoleInstructor && !claims.IsAdmin() {
		return core.ErrPermissionDenied
	}
	if _, err := api.deps.UserSvc.GetByID(reqCtx(ctx), data.UserID); err != nil {
		return err
	}

	err = api.deps.CourseSvc.Grant(reqCtx(ctx), course.Grant{
		CourseID: contextCourseID(ctx),
		UserID:   data.UserID,
		Role:     role,
	})
	if err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *cmsApi) revokeRole(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	role := course.Role(ctx.Param("role"))
	if !role.Valid() {
		return core.NewValidationError(nil, core.FieldError{Field: "role", Error: "unknown course role"})
	}
	// mirror the grant rule
	if role == course.RoleInstructor && !claims.IsAdmin() {
		return core.ErrPermissionDenied
	}
	if err := api.deps.CourseSvc.Revoke(reqCtx(ctx), contextCourseID(ctx), ctx.Param("userID"), role); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

// --- groups & enrollments ---

func (api *cmsApi) createGroup(ctx echo.Context) error {
	var data course.NewGroup
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewGroup")
	}
	if err := api.deps.Validate.Struct(&data); err != nil {
		return err
	}
	grp, err := api.deps.CourseSvc.AddGroup(reqCtx(ctx), contextCourseID(ctx), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, grp)
}

func (api *cmsApi) listGroups(ctx echo.Context) error {
	groups, err := api.deps.CourseSvc.QueryGroups(reqCtx(ctx), contextCourseID(ctx))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, groups)
}

func (api *cmsApi) deleteGroup(ctx echo.Context) error {
	if err := api.deps.CourseSvc.RemoveGroup(reqCtx(ctx), ctx.Param("groupID")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *cmsApi) listGroupMembers(ctx echo.Context) error {
	members, err := api.deps.CourseSvc.GroupMembers(reqCtx(ctx), ctx.Param("groupID"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, members)
}

// moveToGroup puts the student in the group, leaving any other group of the
// same course in the same transaction.
func (api *cmsApi) moveToGroup(ctx echo.Context) error {
	if _, err := api.deps.UserSvc.GetByID(reqCtx(ctx), ctx.Param("userID")); err != nil {
		return err
	}
	if err := api.deps.CourseSvc.MoveToGroup(reqCtx(ctx), ctx.Param("groupID"), ctx.Param("userID")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

type EnrollRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

func (api *cmsApi) enroll(ctx echo.Context) error {
	var data EnrollRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to EnrollRequest")
	}
	if err := api.deps.Validate.Struct(&data); err != nil {
		return err
	}
	if _, err := api.deps.UserSvc.GetByID(reqCtx(ctx), data.UserID); err != nil {
		return err
	}
	if err := api.deps.CourseSvc.Enroll(reqCtx(ctx), contextCourseID(ctx), data.UserID); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *cmsApi) unenroll(ctx echo.Context) error {
	if err := api.deps.CourseSvc.Unenroll(reqCtx(ctx), contextCourseID(ctx), ctx.Param("userID")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}
