package http

import (
	"net/http"
	"strings"

	"github.com/jmehdipour/nyx-sync/internal/model"
	"github.com/jmehdipour/nyx-sync/internal/repository"
	echo "github.com/labstack/echo/v4"
)

// listSyncLogHandler pages through the ClickHouse replay log. The route
// answers 404 when ClickHouse is disabled.
func listSyncLogHandler(repo repository.SyncLogRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		if repo == nil {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "sync log disabled"})
		}

		limit, offset := pageParams(c)

		var outcome model.ReplayOutcome
		if raw := strings.TrimSpace(c.QueryParam("outcome")); raw != "" {
			tmp := model.ReplayOutcome(raw)
			if tmp.Valid() {
				outcome = tmp
			}
		}

		rows, err := repo.List(
			c.Request().Context(),
			strings.TrimSpace(c.QueryParam("table")),
			outcome,
			limit,
			offset,
		)
		if err != nil {
			c.Logger().Errorf("clickhouse list failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(rows),
			"results": rows,
		})
	}
}
