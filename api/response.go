package api

import (
	"errors"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"net/http"
	"syncstream.me/model"
)

// envelope wraps every json response
type envelope struct {
	Data  interface{} `json:"data"`
	Error *string     `json:"error"`
}

func respond(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, &envelope{Data: data})
}

func respondError(c echo.Context, code int, message string) error {
	return c.JSON(code, &envelope{Error: &message})
}

// statusOf maps the error taxonomy onto http status codes
func statusOf(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrAuthFailure):
		return http.StatusForbidden
	case errors.Is(err, model.ErrInvalid):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrUnconfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, model.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// messageOf is the user facing text of err
func messageOf(err error) string {
	switch code := statusOf(err); code {
	case http.StatusNotFound:
		return "session not found"
	case http.StatusForbidden, http.StatusUnprocessableEntity:
		return err.Error()
	case http.StatusServiceUnavailable:
		return "this feature is not configured on the server"
	case http.StatusBadGateway:
		return "upstream service failed, please try again later"
	default:
		return http.StatusText(code)
	}
}

func fail(c echo.Context, err error) error {
	code := statusOf(err)
	if code >= http.StatusInternalServerError {
		log.Error(err)
	} else {
		log.Debug(err)
	}
	return respondError(c, code, messageOf(err))
}

// handleError renders errors returned by handlers and echo itself
func handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code, message := statusOf(err), messageOf(err)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		message = http.StatusText(he.Code)
		if m, ok := he.Message.(string); ok {
			message = m
		}
	}
	if code >= http.StatusInternalServerError {
		log.Error(err)
	}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = respondError(c, code, message)
	}
	if err != nil {
		log.Error(err)
	}
}
