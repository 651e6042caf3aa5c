package task

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/recoverly/recoverly/internal/platform/apperr"
	"github.com/recoverly/recoverly/internal/platform/auth"
	"github.com/recoverly/recoverly/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	provider := auth.RequireRole("provider")
	anyUser := auth.RequireRole("provider", "patient")

	api.POST("/task-templates", h.CreateTemplate, provider)
	api.GET("/task-templates", h.ListTemplates, provider)
	api.DELETE("/task-templates/:id", h.DeleteTemplate, provider)

	api.POST("/patients/:id/tasks", h.CreateAdHoc, provider)
	api.POST("/patients/:id/tasks/instantiate", h.Instantiate, provider)
	api.GET("/patients/:id/tasks/board", h.Board, anyUser)
	api.GET("/patients/:id/timeline", h.Timeline, anyUser)
	api.GET("/patients/:id/tasks", h.List, anyUser)
	api.POST("/patients/:id/tasks/reconcile", h.Reconcile, anyUser)

	api.POST("/tasks/:id/start", h.Start, anyUser)
	api.POST("/tasks/:id/complete", h.Complete, anyUser)
	api.POST("/tasks/:id/skip", h.Skip, anyUser)
}

func (h *Handler) CreateTemplate(c echo.Context) error {
	var t TaskTemplate
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateTemplate(c.Request().Context(), &t); err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) ListTemplates(c echo.Context) error {
	items, err := h.svc.ListTemplates(c.Request().Context(), c.QueryParam("surgery_type"))
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) DeleteTemplate(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteTemplate(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) CreateAdHoc(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	var t PatientTask
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t.PatientID = patientID
	if err := h.svc.CreateAdHoc(c.Request().Context(), &t); err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) Instantiate(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	var body struct {
		SurgeryType string `json:"surgery_type"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if body.SurgeryType == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "surgery_type is required")
	}
	tasks, err := h.svc.InstantiateForPatient(c.Request().Context(), patientID, body.SurgeryType)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, tasks)
}

// Board returns the patient's tasks for their current recovery day, or for
// an explicit ?day= override.
func (h *Handler) Board(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}

	ctx := c.Request().Context()
	if dayParam := c.QueryParam("day"); dayParam != "" {
		day, err := strconv.Atoi(dayParam)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid day")
		}
		board, err := h.svc.BoardForDay(ctx, patientID, day)
		if err != nil {
			return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
		}
		return c.JSON(http.StatusOK, board)
	}

	board, err := h.svc.BoardForToday(ctx, patientID)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, board)
}

// Timeline returns the patient's full recovery plan grouped by day.
func (h *Handler) Timeline(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	tl, err := h.svc.RecoveryTimeline(c.Request().Context(), patientID)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, tl)
}

func (h *Handler) List(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), patientID, c.QueryParam("status"), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Reconcile(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	var body struct {
		Updates []ReconcileUpdate `json:"updates"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	tasks, err := h.svc.Reconcile(c.Request().Context(), patientID, body.Updates)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, tasks)
}

func (h *Handler) Start(c echo.Context) error    { return h.move(c, h.svc.Start) }
func (h *Handler) Complete(c echo.Context) error { return h.move(c, h.svc.Complete) }
func (h *Handler) Skip(c echo.Context) error     { return h.move(c, h.svc.Skip) }

func (h *Handler) move(c echo.Context, fn func(context.Context, uuid.UUID) (*PatientTask, error)) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid task id")
	}
	t, err := fn(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, t)
}
