package http

import (
	"net/http"
	"strconv"

	"github.com/jmehdipour/nyx-sync/internal/syncerr"
	"github.com/labstack/echo/v4"
)

// drainHandler pokes the background drainer; with ?wait=true it drains in the
// request and returns the tally.
func drainHandler(d DrainRunner) echo.HandlerFunc {
	return func(c echo.Context) error {
		if wait, _ := strconv.ParseBool(c.QueryParam("wait")); !wait {
			d.Trigger()
			return c.JSON(http.StatusAccepted, map[string]bool{"triggered": true})
		}
		res, err := d.Drain(c.Request().Context())
		if err != nil {
			return errorJSON(c, err)
		}
		return c.JSON(http.StatusOK, res)
	}
}

func schemaDiffHandler(s SchemaService) echo.HandlerFunc {
	return func(c echo.Context) error {
		diff, err := s.Diff(c.Request().Context())
		if err != nil {
			return errorJSON(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{
			"clean":          diff.Clean(),
			"missing_local":  diff.MissingLocal,
			"missing_remote": diff.MissingRemote,
			"in_all":         diff.InAll,
		})
	}
}

type ensureFailure struct {
	Table string `json:"table"`
	Error string `json:"error"`
}

func schemaEnsureHandler(s SchemaService) echo.HandlerFunc {
	return func(c echo.Context) error {
		rep := s.EnsureAll(c.Request().Context())
		status := http.StatusOK
		if !rep.OK() {
			status = http.StatusMultiStatus
		}
		return c.JSON(status, map[string]any{
			"ok":            rep.OK(),
			"tables":        rep.Tables,
			"local_failed":  failures(rep.LocalFailed),
			"remote_failed": failures(rep.RemoteFailed),
		})
	}
}

func failures(errs []*syncerr.TableEnsureError) []ensureFailure {
	out := make([]ensureFailure, 0, len(errs))
	for _, e := range errs {
		out = append(out, ensureFailure{Table: e.Table, Error: e.Err.Error()})
	}
	return out
}
