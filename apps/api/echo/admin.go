package echoapi

import (
	"encoding/csv"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/course"
	"github.com/trezcool/academia/core/user"
)

type adminApi struct {
	deps ServerDeps
}

func registerAdminAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := adminApi{deps: deps}

	admin := g.Group("/admin", jwt)

	admin.GET("/users", api.listUsers, requireAnyRole(user.RoleAdmin))
	admin.POST("/users", api.createUser, requireAnyRole(user.RoleAdmin))
	admin.GET("/users/:id", api.retrieveUser, requireAnyRole(user.RoleAdmin))
	admin.PATCH("/users/:id", api.updateUser, requireAnyRole(user.RoleAdmin))
	admin.POST("/users/bulk-invite", api.bulkInvite, requireAnyRole(user.RoleAdmin, user.RoleEnrollmentManager))
}

func (api *adminApi) listUsers(ctx echo.Context) error {
	var filter user.QueryFilter
	if err := ctx.Bind(&filter); err != nil {
		return errors.Wrap(err, "binding to QueryFilter")
	}
	filter.Clean()

	var ord Ordering
	ord.Bind(ctx)

	users, err := api.deps.UserSvc.Filter(reqCtx(ctx), &filter, ord.Orderings...)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, users)
}

func (api *adminApi) createUser(ctx echo.Context) error {
	var data user.NewUser
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewUser")
	}
	if err := data.Validate(api.deps.Validate, api.deps.UserSvc); err != nil {
		return err
	}
	usr, err := api.deps.UserSvc.Create(reqCtx(ctx), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, usr)
}

func (api *adminApi) retrieveUser(ctx echo.Context) error {
	usr, err := api.deps.UserSvc.GetByID(reqCtx(ctx), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, usr)
}

func (api *adminApi) updateUser(ctx echo.Context) error {
	usr, err := api.deps.UserSvc.GetByID(reqCtx(ctx), ctx.Param("id"))
	if err != nil {
		return err
	}

	var data user.UpdateUser
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateUser")
	}
	if err = data.Validate(api.deps.Validate, api.deps.UserSvc, usr); err != nil {
		return err
	}

	usr, err = api.deps.UserSvc.Update(reqCtx(ctx), usr.ID, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, usr)
}

// Bulk invite

const (
	inviteStatusInvited           = "invited"
	inviteStatusInvalidRow        = "invalid_row"
	inviteStatusAlreadyExists     = "already_exists"
	inviteStatusSkippedNotStudent = "skipped_not_student"
)

type BulkInviteRow struct {
	Line   int    `json:"line"`
	Email  string `json:"email"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type BulkInviteReport struct {
	Rows []BulkInviteRow `json:"rows"`
}

// bulkInvite ingests a CSV of (email, name, role, course_slug) rows. Each row
// is processed in its own transaction so one bad row never poisons the batch.
func (api *adminApi) bulkInvite(ctx echo.Context) error {
	fileHdr, err := ctx.FormFile("file")
	if err != nil {
		return core.NewValidationError(nil, core.FieldError{Field: "file", Error: "a CSV file upload is required"})
	}
	f, err := fileHdr.Open()
	if err != nil {
		return errors.Wrap(err, "opening uploaded file")
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1 // validated per row
	reader.TrimLeadingSpace = true

	report := BulkInviteReport{Rows: []BulkInviteRow{}}
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			report.Rows = append(report.Rows, BulkInviteRow{Line: line, Status: inviteStatusInvalidRow, Reason: "malformed CSV row"})
			continue
		}
		if line == 1 && len(record) > 0 && strings.EqualFold(strings.TrimSpace(record[0]), "email") {
			continue // header row
		}
		report.Rows = append(report.Rows, api.processInviteRow(ctx, line, record))
	}
	return ctx.JSON(http.StatusOK, report)
}

func (api *adminApi) processInviteRow(ctx echo.Context, line int, record []string) BulkInviteRow {
	row := BulkInviteRow{Line: line}
	if len(record) < 3 {
		row.Status = inviteStatusInvalidRow
		row.Reason = "expected email,name,role[,course_slug]"
		return row
	}

	email := core.CleanString(record[0], true /* lower */)
	name := core.CleanString(record[1])
	row.Email = email

	if err := api.deps.Validate.Var(email, "required,email"); err != nil {
		row.Status = inviteStatusInvalidRow
		row.Reason = "invalid email"
		return row
	}
	if name == "" {
		row.Status = inviteStatusInvalidRow
		row.Reason = "name is required"
		return row
	}
	role, err := user.ParseRole(record[2])
	if err != nil {
		row.Status = inviteStatusInvalidRow
		row.Reason = "unknown role: " + record[2]
		return row
	}

	var crs course.Course
	var hasCourse bool
	if len(record) > 3 {
		if slug := core.CleanString(record[3], true); slug != "" {
			crs, err = api.deps.CourseSvc.GetBySlug(reqCtx(ctx), slug)
			if err != nil {
				row.Status = inviteStatusInvalidRow
				row.Reason = "unknown course: " + slug
				return row
			}
			hasCourse = true
		}
	}

	usr, err := api.deps.UserSvc.GetByEmail(reqCtx(ctx), email)
	exists := err == nil
	if err != nil && errors.Cause(err) != user.ErrNotFound {
		api.deps.Logger.Error("bulk invite: looking up user", err)
		row.Status = inviteStatusInvalidRow
		row.Reason = "could not process row"
		return row
	}

	// the whole row is one transaction: a failed enrollment or grant also
	// rolls back the user creation, so the report never contradicts the store
	err = core.RunInTx(reqCtx(ctx), api.deps.DB, func(tx core.DBTransactor) error {
		if !exists {
			usr, err = api.deps.UserSvc.CreateInactive(reqCtx(ctx), user.InviteUser{
				Name:  name,
				Email: email,
				Roles: []string{role.String()},
			}, tx)
			if err != nil {
				return errors.Wrap(err, "creating user")
			}
			if _, err = api.deps.AuthSvc.Invite(reqCtx(ctx), usr, tx); err != nil {
				return errors.Wrap(err, "inviting user")
			}
		}
		if !hasCourse {
			return nil
		}
		// course column: students get enrolled, course-scopable staff roles
		// get granted; anything else only gets reported below.
		switch role {
		case user.RoleStudent:
			if err := api.deps.CourseSvc.Enroll(reqCtx(ctx), crs.ID, usr.ID, tx); err != nil && errors.Cause(err) != course.ErrAlreadyEnrolled {
				return errors.Wrap(err, "enrolling user")
			}
		case user.RoleInstructor, user.RoleContentEditor, user.RoleEnrollmentManager:
			grant := course.Grant{CourseID: crs.ID, UserID: usr.ID, Role: course.Role(role.String())}
			if err := api.deps.CourseSvc.Grant(reqCtx(ctx), grant, tx); err != nil {
				return errors.Wrap(err, "granting course role")
			}
		}
		return nil
	})
	if err != nil {
		api.deps.Logger.Error("bulk invite: processing row", err)
		row.Status = inviteStatusInvalidRow
		row.Reason = "could not process row"
		return row
	}

	if exists {
		row.Status = inviteStatusAlreadyExists
	} else {
		row.Status = inviteStatusInvited
	}
	if hasCourse && !exists && role != user.RoleStudent {
		row.Status = inviteStatusSkippedNotStudent
		row.Reason = "course enrollment only applies to students"
	}
	return row
}
