package patient

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/rkgudboy/patient-data-extraction/internal/platform/auth"
	"github.com/rkgudboy/patient-data-extraction/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes adds the record routes. Role checks are attached per route so
// unknown paths under api still answer 404.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints: intake staff and reviewers
	read := auth.RequireRole(auth.RoleIntake, auth.RoleReviewer)
	api.GET("/records", h.ListRecords, read)
	api.GET("/records/:id", h.GetRecord, read)
	api.POST("/records/validate", h.ValidateRecord, read)

	// Intake
	api.POST("/records", h.CreateRecord, auth.RequireRole(auth.RoleIntake))

	// Review decisions
	review := auth.RequireRole(auth.RoleReviewer)
	api.POST("/records/:id/confirm", h.ConfirmRecord, review)
	api.POST("/records/:id/mark-duplicate", h.MarkDuplicate, review)
	api.DELETE("/records/:id", h.DeleteRecord, review)
}

type intakeResponse struct {
	Record   *StoredRecord            `json:"record,omitempty"`
	Analysis *DuplicateAnalysisResult `json:"analysis,omitempty"`
	Error    string                   `json:"error,omitempty"`
}

func (h *Handler) CreateRecord(c echo.Context) error {
	var r Record
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	force, _ := strconv.ParseBool(c.QueryParam("force"))

	stored, analysis, err := h.svc.Intake(c.Request().Context(), &r, force)
	if err != nil {
		var intakeErr *IntakeError
		switch {
		case errors.As(err, &intakeErr) && errors.Is(err, ErrDuplicate):
			return c.JSON(http.StatusConflict, intakeResponse{Analysis: intakeErr.Analysis, Error: err.Error()})
		case errors.As(err, &intakeErr):
			return c.JSON(http.StatusUnprocessableEntity, intakeResponse{Analysis: intakeErr.Analysis, Error: err.Error()})
		case errors.Is(err, ErrStoreUnavailable):
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, intakeResponse{Record: stored, Analysis: analysis})
}

func (h *Handler) GetRecord(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rec, err := h.svc.GetRecord(c.Request().Context(), id)
	if err != nil {
		return storeError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) ListRecords(c echo.Context) error {
	pg := pagination.FromContext(c)
	records, total, err := h.svc.ListRecords(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return storeError(err)
	}
	resp := pagination.NewResponse(records, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL.Path)
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) DeleteRecord(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteRecord(c.Request().Context(), id); err != nil {
		return storeError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ConfirmRecord(c echo.Context) error {
	return h.changeStatus(c, h.svc.Confirm)
}

func (h *Handler) MarkDuplicate(c echo.Context) error {
	return h.changeStatus(c, h.svc.MarkDuplicate)
}

func (h *Handler) changeStatus(c echo.Context, apply func(ctx context.Context, id uuid.UUID) error) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := apply(c.Request().Context(), id); err != nil {
		return storeError(err)
	}
	rec, err := h.svc.GetRecord(c.Request().Context(), id)
	if err != nil {
		return storeError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

// ValidateRecord runs the country rules without touching the store.
func (h *Handler) ValidateRecord(c echo.Context) error {
	var r Record
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	errs := Validate(&r)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"valid":             len(errs) == 0,
		"validation_errors": errs,
	})
}

func storeError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "patient record not found")
	case errors.Is(err, ErrStoreUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
