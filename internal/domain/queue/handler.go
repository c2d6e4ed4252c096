package queue

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// Sweeper triggers one queue sweep outside the timer, for operators who do
// not want to wait for the next interval.
type Sweeper interface {
	Sweep(ctx context.Context) error
}

type Handler struct {
	repo    Repository
	sweeper Sweeper
}

func NewHandler(repo Repository, sweeper Sweeper) *Handler {
	return &Handler{repo: repo, sweeper: sweeper}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/queue", h.ListEntries)
	api.POST("/queue/sweep", h.TriggerSweep)
}

var validStatuses = map[Status]bool{
	StatusPending:    true,
	StatusProcessing: true,
	StatusFailed:     true,
	StatusExpired:    true,
}

func (h *Handler) ListEntries(c echo.Context) error {
	status := Status(c.QueryParam("status"))
	if status == "" {
		status = StatusPending
	}
	if !validStatuses[status] {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown status "+string(status))
	}

	limit := 100
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}

	entries, err := h.repo.ListByStatus(c.Request().Context(), status, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if entries == nil {
		entries = []Entry{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":  status,
		"count":   len(entries),
		"entries": entries,
	})
}

func (h *Handler) TriggerSweep(c echo.Context) error {
	if err := h.sweeper.Sweep(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "swept"})
}
