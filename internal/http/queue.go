package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/jmehdipour/nyx-sync/internal/model"
	"github.com/labstack/echo/v4"
)

func listQueueHandler(q QueueService) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit, offset := pageParams(c)
		f := model.QueueFilter{
			TableName: strings.TrimSpace(c.QueryParam("table")),
			Limit:     limit,
			Offset:    offset,
		}
		if raw := strings.TrimSpace(c.QueryParam("status")); raw != "" {
			st := model.QueueStatus(raw)
			if !st.Valid() {
				return badRequest(c, "unknown status "+raw)
			}
			f.Status = st
		}

		entries, err := q.List(c.Request().Context(), f)
		if err != nil {
			return errorJSON(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(entries),
			"results": entries,
		})
	}
}

func queueStatsHandler(q QueueService) echo.HandlerFunc {
	return func(c echo.Context) error {
		stats, err := q.Stats(c.Request().Context())
		if err != nil {
			return errorJSON(c, err)
		}
		return c.JSON(http.StatusOK, stats)
	}
}

func getQueueEntryHandler(q QueueService) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, ok := entryID(c)
		if !ok {
			return badRequest(c, "invalid entry id")
		}
		e, err := q.Get(c.Request().Context(), id)
		if err != nil {
			return errorJSON(c, err)
		}
		return c.JSON(http.StatusOK, e)
	}
}

func requeueHandler(q QueueService) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, ok := entryID(c)
		if !ok {
			return badRequest(c, "invalid entry id")
		}
		e, err := q.Requeue(c.Request().Context(), id)
		if err != nil {
			return errorJSON(c, err)
		}
		return c.JSON(http.StatusOK, e)
	}
}

func discardHandler(q QueueService) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, ok := entryID(c)
		if !ok {
			return badRequest(c, "invalid entry id")
		}
		if err := q.Discard(c.Request().Context(), id); err != nil {
			return errorJSON(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func entryID(c echo.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	return id, err == nil && id > 0
}

func pageParams(c echo.Context) (limit, offset int) {
	limit = 50
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
