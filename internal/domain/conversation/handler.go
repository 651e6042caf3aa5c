package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/recoverly/recoverly/internal/platform/apperr"
	"github.com/recoverly/recoverly/internal/platform/auth"
	"github.com/recoverly/recoverly/internal/platform/realtime"
	"github.com/recoverly/recoverly/pkg/pagination"
)

type Handler struct {
	svc        *Service
	dispatcher *Dispatcher
	source     realtime.Source
	logger     zerolog.Logger
}

func NewHandler(svc *Service, dispatcher *Dispatcher, source realtime.Source, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, dispatcher: dispatcher, source: source, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	anyUser := auth.RequireRole("provider", "patient")
	provider := auth.RequireRole("provider")

	api.POST("/patients/:id/messages", h.Send, anyUser)
	api.GET("/patients/:id/conversation", h.ActiveConversation, anyUser)
	api.GET("/patients/:id/conversations", h.ListConversations, provider)
	api.GET("/conversations/:id/messages", h.Messages, anyUser)
	api.GET("/conversations/:id/events", h.Stream, anyUser)
	api.PUT("/conversations/:id/status", h.SetStatus, provider)
	api.PUT("/messages/:id/read", h.MarkRead, anyUser)
}

// Send accepts a patient message and returns the full dispatch result,
// including the assistant's reply, in one round trip.
func (h *Handler) Send(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	var req SendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.PatientID = patientID

	result, err := h.dispatcher.Send(c.Request().Context(), req)
	if err != nil {
		// A partial result means the inbound message was persisted even
		// though the turn did not finish; return it with the error status.
		if result != nil {
			return c.JSON(apperr.HTTPStatus(err), result)
		}
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, result)
}

func (h *Handler) ActiveConversation(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	cv, err := h.svc.GetOrCreateActive(c.Request().Context(), patientID)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, cv)
}

func (h *Handler) ListConversations(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByPatient(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Messages(c echo.Context) error {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid conversation id")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.History(c.Request().Context(), conversationID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// Stream pushes a conversation's message events over server-sent events.
// The feed backfills the full history on connect and after any hub drop,
// so a client that reconnects never misses a message.
func (h *Handler) Stream(c echo.Context) error {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid conversation id")
	}
	if _, err := h.svc.Get(c.Request().Context(), conversationID); err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}

	ctx := c.Request().Context()
	backfill := func(ctx context.Context) ([]realtime.Event, error) {
		return h.svc.BackfillEvents(ctx, conversationID)
	}
	feed := realtime.NewFeed(h.source, realtime.ConversationTopic(conversationID),
		backfill, realtime.DefaultFeedConfig(), h.logger)
	go feed.Run(ctx)

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	for evt := range feed.Events() {
		payload, err := json.Marshal(evt)
		if err != nil {
			continue
		}
		if _, err := fmt.Fprintf(res, "id: %s\nevent: %s\ndata: %s\n\n", evt.ID, evt.Type, payload); err != nil {
			return nil
		}
		res.Flush()
	}
	return nil
}

func (h *Handler) SetStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid conversation id")
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.SetStatus(c.Request().Context(), id, body.Status); err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) MarkRead(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid message id")
	}
	if err := h.svc.MarkRead(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
