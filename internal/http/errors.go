package http

import (
	"errors"
	"net/http"

	"github.com/jmehdipour/nyx-sync/internal/syncerr"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

// errorJSON maps the sync error taxonomy onto status codes.
func errorJSON(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	code := "internal"
	switch {
	case errors.Is(err, syncerr.ErrTableNotFound):
		status, code = http.StatusNotFound, "unknown_table"
	case errors.Is(err, syncerr.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, syncerr.ErrInvalidOperation), errors.Is(err, syncerr.ErrInvalidSchema):
		status, code = http.StatusBadRequest, "invalid"
	case errors.Is(err, syncerr.ErrNotRequeueable):
		status, code = http.StatusConflict, "not_requeueable"
	case errors.Is(err, syncerr.ErrBreakerOpen):
		status, code = http.StatusServiceUnavailable, "remote_unavailable"
	}

	if status == http.StatusInternalServerError {
		log.Errorf("%s %s: %v", c.Request().Method, c.Path(), err)
	}
	return c.JSON(status, map[string]string{"error": code, "description": err.Error()})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request", "description": msg})
}
