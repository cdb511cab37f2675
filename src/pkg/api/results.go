package api

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/tuumbleweed/xerr"

	"safe-bite/src/pkg/history"
	"safe-bite/src/pkg/imagestore"
)

func internalError(c echo.Context, e *xerr.Error) error {
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": fmt.Sprint(e)})
}

// getResult returns the snapshot. ?restore=true falls back to the durable backup.
func (s *Server) getResult(c echo.Context) error {
	snapshot, ok := s.deps.Results.Load(c.Request().Context(), c.QueryParam("restore") == "true")
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no result"})
	}
	return c.JSON(http.StatusOK, snapshot)
}

func (s *Server) restoreResult(c echo.Context) error {
	restored := s.deps.Results.RestoreBackup(c.Request().Context())
	return c.JSON(http.StatusOK, map[string]bool{"restored": restored})
}

func (s *Server) updateTimestamp(c echo.Context) error {
	var body struct {
		Timestamp string `json:"timestamp"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	if _, err := time.Parse(time.RFC3339, body.Timestamp); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "timestamp must be RFC 3339"})
	}
	if s.deps.Results.GetData().Empty() {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no result"})
	}
	s.deps.Results.UpdateTimestamp(body.Timestamp)
	return c.JSON(http.StatusOK, s.deps.Results.GetData())
}

func (s *Server) clearResult(c echo.Context) error {
	if e := s.deps.Results.Clear(c.Request().Context()); e != nil {
		return internalError(c, e)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) listHistory(c echo.Context) error {
	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)
	records, e := s.deps.History.List(c.Request().Context(), limit, offset)
	if e != nil {
		return internalError(c, e)
	}
	if records == nil {
		records = []history.Record{}
	}
	return c.JSON(http.StatusOK, records)
}

func (s *Server) getHistory(c echo.Context) error {
	record, found, e := s.deps.History.Get(c.Request().Context(), c.Param("id"))
	if e != nil {
		return internalError(c, e)
	}
	if !found {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no such record"})
	}
	return c.JSON(http.StatusOK, record)
}

// deleteHistory also deletes the record's managed image.
func (s *Server) deleteHistory(c echo.Context) error {
	deleted, e := s.deps.History.Delete(c.Request().Context(), c.Param("id"))
	if e != nil {
		return internalError(c, e)
	}
	if !deleted {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no such record"})
	}
	return c.NoContent(http.StatusNoContent)
}

// image serves managed files only, never arbitrary paths.
func (s *Server) image(c echo.Context) error {
	name := c.Param("name")
	if !imagestore.IsBareFilename(name) || strings.HasPrefix(name, ".") {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "not a managed image"})
	}
	path := s.deps.Images.Resolve(name)
	if _, err := os.Stat(path); err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no such image"})
	}
	return c.File(path)
}

func (s *Server) cleanup(c echo.Context) error {
	removed, e := s.deps.Images.CleanupOrphans(c.Request().Context(), s.deps.History, s.deps.Results)
	if e != nil {
		return internalError(c, e)
	}
	return c.JSON(http.StatusOK, map[string]int{"removed": removed})
}

/*
monthlyReport renders the month's scans as HTML. Parameters: year, month
(default: the current month), tz (IANA name, default UTC), email=true to also
send it to the notification recipients.
*/
func (s *Server) monthlyReport(c echo.Context) error {
	location := time.UTC
	if tz := c.QueryParam("tz"); tz != "" {
		loaded, err := time.LoadLocation(tz)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown timezone"})
		}
		location = loaded
	}
	now := time.Now().In(location)
	options := history.ReportOptions{
		Year:     queryInt(c, "year", now.Year()),
		Month:    time.Month(queryInt(c, "month", int(now.Month()))),
		Location: location,
		Timezone: location.String(),
		MaxRows:  8,
		Title:    "Safe-bite monthly report",
	}
	if options.Month < time.January || options.Month > time.December {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "month must be 1-12"})
	}

	ctx := c.Request().Context()
	start, end := options.Period()
	records, e := s.deps.History.Between(ctx, start, end)
	if e != nil {
		return internalError(c, e)
	}
	report := history.BuildMonthlyReport(records, options, now)
	html := history.RenderHTML(report)

	if c.QueryParam("email") == "true" {
		if s.deps.Notifier == nil {
			return c.JSON(http.StatusConflict, map[string]string{"error": "email is not configured"})
		}
		subject := fmt.Sprintf("%s: %s %d", options.Title, options.Month, options.Year)
		if e := s.deps.Notifier.SendReport(ctx, subject, html, true); e != nil {
			return internalError(c, e)
		}
	}
	return c.HTML(http.StatusOK, html)
}

func queryInt(c echo.Context, name string, fallback int) int {
	value, err := strconv.Atoi(c.QueryParam(name))
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
