package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/idempotency"
	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/models"
	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/service"
	"github.com/OmniQuestMedia/RedRoomRewards-sub002/internal/utils"
)

// Handler holds the API handlers for the points core
type Handler struct {
	service service.Service
	logger  *utils.Logger
}

// NewHandler creates a new API handler
func NewHandler(svc service.Service, logger *utils.Logger) *Handler {
	return &Handler{service: svc, logger: logger}
}

// SetupRoutes registers all routes on the router
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.POST("/ledger/entries", h.CreateEntry)
		api.GET("/ledger/entries", h.QueryEntries)
		api.GET("/accounts/:accountId/balance", h.GetBalance)
		api.GET("/accounts/:accountId/reconciliation", h.GetReconciliation)
		api.POST("/reservations", h.Reserve)
		api.POST("/reservations/:reservationId/commit", h.Commit)
		api.POST("/reservations/:reservationId/release", h.Release)
		api.GET("/reservations/:reservationId", h.GetReservation)
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) CreateEntry(c *gin.Context) {
	var req models.CreateEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "Malformed request body")
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = idempotency.ExtractKey(c.Request.Header, nil)
	}
	if req.RequestID == "" {
		req.RequestID = c.GetString("requestId")
	}

	entry, err := h.service.CreateEntry(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *Handler) QueryEntries(c *gin.Context) {
	filter := models.EntryFilter{
		AccountID:   c.Query("accountId"),
		AccountType: models.AccountType(c.Query("accountType")),
		Type:        models.EntryType(c.Query("type")),
		Limit:       intQuery(c, "limit", 0),
		Offset:      intQuery(c, "offset", 0),
	}
	var ok bool
	if filter.StartDate, ok = timeQuery(c, "startDate"); !ok {
		h.badRequest(c, "Invalid startDate")
		return
	}
	if filter.EndDate, ok = timeQuery(c, "endDate"); !ok {
		h.badRequest(c, "Invalid endDate")
		return
	}

	resp, err := h.service.QueryEntries(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetBalance(c *gin.Context) {
	asOf, ok := timeQuery(c, "asOf")
	if !ok {
		h.badRequest(c, "Invalid asOf")
		return
	}

	snap, err := h.service.GetBalanceSnapshot(
		c.Request.Context(),
		c.Param("accountId"),
		models.AccountType(c.DefaultQuery("accountType", string(models.AccountTypeUser))),
		asOf,
	)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) GetReconciliation(c *gin.Context) {
	start, ok := timeQuery(c, "start")
	if !ok {
		h.badRequest(c, "Invalid start")
		return
	}
	end, ok := timeQuery(c, "end")
	if !ok {
		h.badRequest(c, "Invalid end")
		return
	}

	report, err := h.service.GenerateReconciliationReport(
		c.Request.Context(),
		c.Param("accountId"),
		models.AccountType(c.DefaultQuery("accountType", string(models.AccountTypeUser))),
		start, end,
	)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) Reserve(c *gin.Context) {
	var req models.ReserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "Malformed request body")
		return
	}
	if req.PointsIdempotencyKey == "" {
		req.PointsIdempotencyKey = idempotency.ExtractKey(c.Request.Header, nil)
	}
	if req.RequestID == "" {
		req.RequestID = c.GetString("requestId")
	}

	resp, err := h.service.Reserve(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Commit(c *gin.Context) {
	var req models.CommitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "Malformed request body")
		return
	}
	req.ReservationID = c.Param("reservationId")
	if req.PointsIdempotencyKey == "" {
		req.PointsIdempotencyKey = idempotency.ExtractKey(c.Request.Header, nil)
	}
	if req.RequestID == "" {
		req.RequestID = c.GetString("requestId")
	}

	resp, err := h.service.Commit(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Release(c *gin.Context) {
	var req models.ReleaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "Malformed request body")
		return
	}
	req.ReservationID = c.Param("reservationId")
	if req.PointsIdempotencyKey == "" {
		req.PointsIdempotencyKey = idempotency.ExtractKey(c.Request.Header, nil)
	}
	if req.RequestID == "" {
		req.RequestID = c.GetString("requestId")
	}

	resp, err := h.service.Release(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetReservation(c *gin.Context) {
	res, err := h.service.GetReservation(c.Request.Context(), c.Param("reservationId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// respondError maps domain errors to stable machine-checkable codes.
// Internal storage error text never reaches the caller.
func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidIdempotencyKey):
		h.respond(c, http.StatusBadRequest, "INVALID_IDEMPOTENCY_KEY", "Idempotency key is missing or malformed")
	case errors.Is(err, models.ErrValidation):
		h.respond(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid field in request")
	case errors.Is(err, models.ErrAmountSignMismatch):
		h.respond(c, http.StatusUnprocessableEntity, "AMOUNT_SIGN_MISMATCH", "Amount sign does not match entry type")
	case errors.Is(err, models.ErrInvalidStateTransition):
		h.respond(c, http.StatusUnprocessableEntity, "INVALID_STATE_TRANSITION", "Balance state transition is not allowed")
	case errors.Is(err, models.ErrPIIDetected):
		h.respond(c, http.StatusUnprocessableEntity, "PII_DETECTED", "Metadata must not contain personal information")
	case errors.Is(err, models.ErrReservationNotFound):
		h.respond(c, http.StatusNotFound, "RESERVATION_NOT_FOUND", "Reservation not found")
	case errors.Is(err, models.ErrReservationAlreadyProcessed):
		h.respond(c, http.StatusConflict, "RESERVATION_ALREADY_PROCESSED", "Reservation has already been processed")
	case errors.Is(err, models.ErrReservationExpired):
		h.respond(c, http.StatusConflict, "RESERVATION_EXPIRED", "Reservation has expired")
	case errors.Is(err, models.ErrRequestInProgress):
		h.respond(c, http.StatusConflict, "REQUEST_IN_PROGRESS", "Request is already being processed")
	default:
		h.logger.Error("internal error handling %s %s: %v", c.Request.Method, c.FullPath(), err)
		h.respond(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}

func (h *Handler) badRequest(c *gin.Context, msg string) {
	h.respond(c, http.StatusBadRequest, "INVALID_REQUEST", msg)
}

func (h *Handler) respond(c *gin.Context, status int, code, msg string) {
	c.JSON(status, models.ErrorResponse{
		Status:  "error",
		Code:    code,
		Message: msg,
	})
}

func intQuery(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return def
	}
	return v
}

// timeQuery parses an optional RFC3339 query parameter. The second return
// is false when the parameter is present but malformed.
func timeQuery(c *gin.Context, name string) (time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
