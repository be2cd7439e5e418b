package api

import (
	"context"
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"rollcall/attendance"
	"rollcall/bridge"
	"rollcall/serialport"
)

var (
	errTagNotFound = echo.NewHTTPError(http.StatusNotFound, "tag not found")
	errInvalidID   = echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	errInvalidDate = echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
)

// statusFor maps domain errors to HTTP status codes. 0 means unmapped.
func statusFor(err error) int {
	switch {
	case errors.Is(err, bridge.ErrNotConnected):
		return http.StatusServiceUnavailable
	case errors.Is(err, bridge.ErrNoPortAvailable),
		errors.Is(err, serialport.ErrPortUnavailable),
		errors.Is(err, bridge.ErrDisconnected):
		return http.StatusConflict
	case errors.Is(err, attendance.ErrUnknownCard),
		errors.Is(err, attendance.ErrUnknownStudent):
		return http.StatusNotFound
	case errors.Is(err, attendance.ErrAlreadyCheckedIn),
		errors.Is(err, attendance.ErrCardInUse):
		return http.StatusConflict
	case errors.Is(err, attendance.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return 0
}

// newHTTPErrorHandler returns an echo.HTTPErrorHandler rendering every error
// as JSON.
func newHTTPErrorHandler(log logrus.FieldLogger, translator ut.Translator) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		switch origErr := errors.Cause(err).(type) {
		case *echo.HTTPError:
			if origErr.Internal != nil {
				if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
					origErr = herr
				}
			}
			code = origErr.Code
			message = origErr.Message
		case validator.ValidationErrors:
			fldErrs := make(map[string]string, len(origErr))
			for _, vErr := range origErr {
				fldErrs[vErr.Field()] = vErr.Translate(translator)
			}
			code = http.StatusBadRequest
			message = echo.Map{"error": "validation failed", "fields": fldErrs}
		default:
			if code = statusFor(err); code != 0 {
				message = err.Error()
				break
			}
			code = http.StatusInternalServerError
			message = http.StatusText(code)
			log.WithError(err).WithFields(logrus.Fields{
				"method": ctx.Request().Method,
				"path":   ctx.Path(),
			}).Error("request failed")
		}

		if ctx.Echo().Debug {
			message = err.Error()
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
				log.WithError(err).Warn("write error response")
			}
		}
	}
}
