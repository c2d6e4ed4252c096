package deadletter

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// Lister is the read side of the sink, for the operator surface.
type Lister interface {
	List(limit int) ([]Record, error)
}

type Handler struct {
	lister Lister
}

func NewHandler(lister Lister) *Handler {
	return &Handler{lister: lister}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/dead-letters", h.ListRecords)
}

func (h *Handler) ListRecords(c echo.Context) error {
	limit := 100
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}

	records, err := h.lister.List(limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if records == nil {
		records = []Record{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"count":   len(records),
		"records": records,
	})
}
