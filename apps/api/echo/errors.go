package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/auth"
	"github.com/trezcool/academia/core/course"
	"github.com/trezcool/academia/core/live"
	"github.com/trezcool/academia/core/quiz"
	"github.com/trezcool/academia/core/user"
)

var (
	errUnauthorized       = echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	errInvalidCredentials = echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	errAccountDeactivated = echo.NewHTTPError(http.StatusForbidden, "account deactivated")
	errHTTPForbidden      = echo.NewHTTPError(http.StatusForbidden, "permission denied")
	errHTTPNotFound       = echo.NewHTTPError(http.StatusNotFound, "not found")
)

// notFoundCauses are the domain errors that render as a 404.
var notFoundCauses = map[error]bool{
	user.ErrNotFound:         true,
	course.ErrNotFound:       true,
	course.ErrModuleNotFound: true,
	course.ErrLessonNotFound: true,
	course.ErrGroupNotFound:  true,
	quiz.ErrNotFound:         true,
	live.ErrNotFound:         true,
}

// conflictCauses render as a 409.
var conflictCauses = map[error]bool{
	user.ErrEmailExists:       true,
	course.ErrSlugExists:      true,
	course.ErrAlreadyEnrolled: true,
}

// invalidTokenCauses cover every way a refresh or invite token can be dead.
// A token we never issued renders the same as an expired one so the response
// never discloses whether a hash exists in the store.
var invalidTokenCauses = map[error]bool{
	auth.ErrInvalidToken:  true,
	auth.ErrTokenNotFound: true,
	auth.ErrTokenExpired:  true,
	auth.ErrTokenRevoked:  true,
	auth.ErrTokenUsed:     true,
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how
// to render our errors. signalShutdown is called whenever a core shutdown
// error is caught so the server can stop gracefully.
func newAppHTTPErrorHandler(logger core.Logger, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		cause := errors.Cause(err)
		switch {
		case notFoundCauses[cause]:
			code = http.StatusNotFound
			message = errHTTPNotFound.Message
		case conflictCauses[cause]:
			code = http.StatusConflict
			message = cause.Error()
		case invalidTokenCauses[cause]:
			code = http.StatusUnauthorized
			message = "invalid or expired token"
		case cause == core.ErrPermissionDenied:
			// uniform body, never leaks which role was missing
			code = errHTTPForbidden.Code
			message = errHTTPForbidden.Message
		case cause == auth.ErrInvalidCredentials:
			code = errInvalidCredentials.Code
			message = errInvalidCredentials.Message
		case cause == auth.ErrAccountDeactivated:
			code = errAccountDeactivated.Code
			message = errAccountDeactivated.Message
		default:
			code, message = classify(err, ctx, logger, signalShutdown)
		}

		if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
		}

		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead {
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}

func classify(err error, ctx echo.Context, logger core.Logger, signalShutdown func()) (int, interface{}) {
	switch origErr := errors.Cause(err).(type) {
	case *echo.HTTPError:
		if origErr.Internal != nil {
			if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
				origErr = herr
			}
		}
		return origErr.Code, origErr.Message
	case validator.ValidationErrors:
		fldErrs := make(map[string]string, len(origErr))
		for _, vErr := range origErr {
			fldErrs[vErr.Field()] = vErr.Translate(core.Translator)
		}
		return http.StatusBadRequest, fldErrs
	case *core.ValidationError:
		if origErr.Fields != nil {
			fldErrs := make(map[string]string, len(origErr.Fields))
			for _, fErr := range origErr.Fields {
				fldErrs[fErr.Field] = fErr.Error
			}
			return http.StatusBadRequest, fldErrs
		}
		return http.StatusBadRequest, origErr.Error()
	default: // any other error is a server error
		msg := http.StatusText(http.StatusInternalServerError)

		var usr user.User
		if claims, cErr := getContextClaims(ctx); cErr == nil {
			usr.ID = claims.UserID()
			usr.Name = claims.Name
			usr.Email = claims.Email
		}
		logger.Error(msg, errors.Wrap(err, msg), usr)

		if core.IsShutdown(err) {
			signalShutdown()
		}
		return http.StatusInternalServerError, msg
	}
}
