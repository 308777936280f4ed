package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	apperr "github.com/anonto42/nano-midea/chatsync/pkg/errors"
)

var statusByCode = map[apperr.Code]int{
	apperr.CodeInvalidArgument:    http.StatusBadRequest,
	apperr.CodeNotFound:           http.StatusNotFound,
	apperr.CodeAlreadyExists:      http.StatusConflict,
	apperr.CodePermissionDenied:   http.StatusForbidden,
	apperr.CodeUnauthenticated:    http.StatusUnauthorized,
	apperr.CodeFailedPrecondition: http.StatusPreconditionFailed,
	apperr.CodeConflict:           http.StatusConflict,
	apperr.CodeUnavailable:        http.StatusServiceUnavailable,
	apperr.CodeDeadlineExceeded:   http.StatusGatewayTimeout,
}

// httpError converts a domain error into an echo error.
func httpError(err error) error {
	if err == nil {
		return nil
	}
	if he, ok := err.(*echo.HTTPError); ok {
		return he
	}
	status, ok := statusByCode[apperr.CodeOf(err)]
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
	return echo.NewHTTPError(status, apperr.MessageOf(err)).SetInternal(err)
}

// bindAndValidate decodes the request into req and runs its validate tags.
func bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request payload")
	}
	if err := c.Validate(req); err != nil {
		return err
	}
	return nil
}
