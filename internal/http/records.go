package http

import (
	"errors"
	"net/http"

	"github.com/jmehdipour/nyx-sync/internal/model"
	"github.com/jmehdipour/nyx-sync/internal/syncerr"
	"github.com/labstack/echo/v4"
)

func listRecordsHandler(rr RecordReader) echo.HandlerFunc {
	return func(c echo.Context) error {
		res, err := rr.List(c.Request().Context(), c.Param("table"))
		if err != nil {
			return errorJSON(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{
			"count":    len(res.Records),
			"results":  res.Records,
			"degraded": res.Degraded,
			"warning":  res.Warning,
		})
	}
}

func getRecordHandler(rr RecordReader) echo.HandlerFunc {
	return func(c echo.Context) error {
		res, err := rr.Get(c.Request().Context(), c.Param("table"), c.Param("id"))
		if err != nil {
			if errors.Is(err, syncerr.ErrNotFound) && res != nil && res.Degraded {
				return c.JSON(http.StatusNotFound, map[string]any{
					"error":    "not_found",
					"degraded": true,
					"warning":  res.Warning,
				})
			}
			return errorJSON(c, err)
		}
		return c.JSON(http.StatusOK, res)
	}
}

// saveRecordHandler serves both POST (create) and PUT (upsert by path id).
func saveRecordHandler(w RecordWriter) echo.HandlerFunc {
	return func(c echo.Context) error {
		// body only: the default binder would also copy path params into the map
		var rec model.Record
		if err := (&echo.DefaultBinder{}).BindBody(c, &rec); err != nil {
			return badRequest(c, "body must be a JSON object")
		}
		if rec == nil {
			rec = model.Record{}
		}
		if id := c.Param("id"); id != "" {
			if body := rec.ID(); body != "" && body != id {
				return badRequest(c, "id in body does not match path")
			}
			rec[model.FieldID] = id
		}

		saved, entry, err := w.Save(c.Request().Context(), c.Param("table"), rec)
		if err != nil {
			return errorJSON(c, err)
		}

		status := http.StatusOK
		if entry.Operation == model.OpInsert {
			status = http.StatusCreated
		}
		return c.JSON(status, map[string]any{
			"record": saved,
			"queued": queuedRef(entry),
		})
	}
}

func deleteRecordHandler(w RecordWriter) echo.HandlerFunc {
	return func(c echo.Context) error {
		entry, err := w.Delete(c.Request().Context(), c.Param("table"), c.Param("id"))
		if err != nil {
			return errorJSON(c, err)
		}
		return c.JSON(http.StatusAccepted, map[string]any{"queued": queuedRef(entry)})
	}
}

func queuedRef(e model.SyncQueueEntry) map[string]any {
	return map[string]any{
		"entry_id":  e.ID,
		"operation": e.Operation,
		"version":   e.Version,
	}
}
