package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
)

var (
	errUnauthorized  = echo.NewHTTPError(http.StatusUnauthorized, "client not authenticated")
	errHttpForbidden = echo.NewHTTPError(http.StatusForbidden, "permission denied")
	errHttpNotFound  = echo.NewHTTPError(http.StatusNotFound, "not found")
)

// echo answers a missing token with a 400
var replacedHTTPErrors = map[*echo.HTTPError]*echo.HTTPError{
	middleware.ErrJWTMissing: echo.NewHTTPError(http.StatusUnauthorized, middleware.ErrJWTMissing.Message),
}

// errorResponse returns the status code and body describing err.
// Anything that is neither an HTTP nor a validation error is a server error.
func errorResponse(err error) (int, interface{}) {
	switch cause := errors.Cause(err).(type) {
	case *echo.HTTPError:
		if replaced, ok := replacedHTTPErrors[cause]; ok {
			cause = replaced
		}
		return cause.Code, cause.Message
	case *core.ValidationError:
		if len(cause.Fields) == 0 {
			return http.StatusBadRequest, cause.Error()
		}
		fields := make(map[string]string, len(cause.Fields))
		for _, fErr := range cause.Fields {
			fields[fErr.Field] = fErr.Error
		}
		return http.StatusBadRequest, fields
	default:
		return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
	}
}

// newAppHTTPErrorHandler reports server errors with the client that caused them.
// signalShutdown is called whenever a core shutdown error reaches the API.
func newAppHTTPErrorHandler(logger core.Logger, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		code, body := errorResponse(err)

		if code == http.StatusInternalServerError {
			msg := http.StatusText(code)
			logger.Error(msg, errors.Wrap(err, msg), contextPerson(ctx))
			if core.IsShutdown(err) {
				signalShutdown()
			}
		}

		if ctx.Echo().Debug {
			body = err.Error()
		}
		if msg, ok := body.(string); ok {
			body = echo.Map{"error": msg}
		}

		if ctx.Response().Committed {
			return
		}
		if err = ctx.JSON(code, body); err != nil {
			ctx.Echo().Logger.Error(err)
		}
	}
}
