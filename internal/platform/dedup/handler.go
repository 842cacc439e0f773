package dedup

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/rkgudboy/patient-data-extraction/internal/domain/patient"
	"github.com/rkgudboy/patient-data-extraction/internal/platform/auth"
)

// maxBatchSize bounds the records accepted by one $analyze-batch request.
const maxBatchSize = 100

// Handler exposes the engine over HTTP.
type Handler struct {
	engine *Engine
}

func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes adds the deduplication operations to the API group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	allowed := auth.RequireRole(auth.RoleIntake, auth.RoleReviewer)
	api.POST("/records/$analyze-duplicates", h.HandleAnalyze, allowed)
	api.POST("/records/$analyze-batch", h.HandleAnalyzeBatch, allowed)
	api.POST("/records/$match", h.HandleMatch, allowed)
}

// HandleAnalyze handles POST /records/$analyze-duplicates.
func (h *Handler) HandleAnalyze(c echo.Context) error {
	var r patient.Record
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.engine.AnalyzeDuplicates(c.Request().Context(), &r)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

// HandleAnalyzeBatch handles POST /records/$analyze-batch with a JSON array.
func (h *Handler) HandleAnalyzeBatch(c echo.Context) error {
	var records []patient.Record
	if err := c.Bind(&records); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(records) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "at least one record is required")
	}
	if len(records) > maxBatchSize {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "too many records in batch")
	}
	res, err := h.engine.AnalyzeBatch(c.Request().Context(), records)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"results": res})
}

// HandleMatch handles POST /records/$match.
func (h *Handler) HandleMatch(c echo.Context) error {
	var r patient.Record
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.engine.FindMatches(c.Request().Context(), &r)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrStoreUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
