package handler

// HTTP handlers for reservations.  Validation and conflict errors are
// reported as structured JSON bodies; store failures are logged and
// surfaced as a generic 500.

import (
    "errors"
    "net/http"
    "strconv"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/field-reservation/internal/middleware"
    "github.com/iliyamo/field-reservation/internal/service"
)

// ReservationHandler exposes the reservation service over HTTP.
type ReservationHandler struct {
    Service *service.ReservationService
}

// NewReservationHandler panics on a nil service.
func NewReservationHandler(svc *service.ReservationService) *ReservationHandler {
    if svc == nil {
        panic("nil service passed to NewReservationHandler")
    }
    return &ReservationHandler{Service: svc}
}

// List handles GET /v1/reservations?date=YYYY-MM-DD.  Without a date every
// reservation is returned, ordered by date, start and id.
func (h *ReservationHandler) List(c echo.Context) error {
    items, err := h.Service.List(c.Request().Context(), c.QueryParam("date"))
    if err != nil {
        return writeError(c, err, "failed to list reservations")
    }
    return c.JSON(http.StatusOK, items)
}

// Get handles GET /v1/reservations/:id.
func (h *ReservationHandler) Get(c echo.Context) error {
    id, ok := parseID(c)
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation id"})
    }
    r, err := h.Service.Get(c.Request().Context(), id)
    if err != nil {
        return writeError(c, err, "failed to fetch reservation")
    }
    return c.JSON(http.StatusOK, r)
}

// Create handles POST /v1/reservations and answers 201 with the stored
// reservation.
func (h *ReservationHandler) Create(c echo.Context) error {
    var in service.CreateInput
    if err := (&echo.DefaultBinder{}).BindBody(c, &in); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
    }
    r, err := h.Service.Create(c.Request().Context(), in)
    if err != nil {
        return writeError(c, err, "failed to create reservation")
    }
    return c.JSON(http.StatusCreated, r)
}

// Update handles PUT and PATCH /v1/reservations/:id.  Members missing from
// the body keep their stored value.
func (h *ReservationHandler) Update(c echo.Context) error {
    id, ok := parseID(c)
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation id"})
    }
    var patch service.UpdateInput
    if err := (&echo.DefaultBinder{}).BindBody(c, &patch); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
    }
    r, err := h.Service.Update(c.Request().Context(), id, patch)
    if err != nil {
        return writeError(c, err, "failed to update reservation")
    }
    return c.JSON(http.StatusOK, r)
}

// Delete handles DELETE /v1/reservations/:id and answers 204.
func (h *ReservationHandler) Delete(c echo.Context) error {
    id, ok := parseID(c)
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation id"})
    }
    if err := h.Service.Delete(c.Request().Context(), id); err != nil {
        return writeError(c, err, "failed to delete reservation")
    }
    return c.NoContent(http.StatusNoContent)
}

// ListAudit handles GET /v1/audit, newest entry first.
func (h *ReservationHandler) ListAudit(c echo.Context) error {
    entries, err := h.Service.ListAudit(c.Request().Context())
    if err != nil {
        return writeError(c, err, "failed to list audit log")
    }
    return c.JSON(http.StatusOK, entries)
}

func parseID(c echo.Context) (uint64, bool) {
    id, err := strconv.ParseUint(c.Param("id"), 10, 64)
    return id, err == nil && id > 0
}

// writeError maps service errors to status codes.  Anything unrecognised
// is logged and answered with a 500 carrying fallback and, when assigned,
// the request id.
func writeError(c echo.Context, err error, fallback string) error {
    var ve *service.ValidationError
    if errors.As(err, &ve) {
        body := echo.Map{"error": ve.Error()}
        if ve.Field != "" {
            body["field"] = ve.Field
        }
        return c.JSON(http.StatusBadRequest, body)
    }
    var ce *service.ConflictError
    if errors.As(err, &ce) {
        return c.JSON(http.StatusConflict, echo.Map{
            "error":    ce.Error(),
            "field":    ce.Field,
            "conflict": ce.Conflicting,
        })
    }
    if errors.Is(err, service.ErrNotFound) {
        return c.JSON(http.StatusNotFound, echo.Map{"error": "reservation not found"})
    }
    body := echo.Map{"error": fallback}
    if id := middleware.RequestIDFrom(c); id != "" {
        body["request_id"] = id
        c.Logger().Errorf("%s (request_id=%s): %v", fallback, id, err)
    } else {
        c.Logger().Errorf("%s: %v", fallback, err)
    }
    return c.JSON(http.StatusInternalServerError, body)
}
