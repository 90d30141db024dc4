package handler

import (
	"github.com/billflow/backend/internal/application/event"
	"github.com/gin-gonic/gin"
)

// OutboxHandler handles outbox administration: dead letters, retries and stats
type OutboxHandler struct {
	BaseHandler
	outboxService *event.OutboxService
}

// NewOutboxHandler creates a new outbox handler
func NewOutboxHandler(outboxService *event.OutboxService) *OutboxHandler {
	return &OutboxHandler{outboxService: outboxService}
}

// RegisterRoutes mounts /system/outbox
func (h *OutboxHandler) RegisterRoutes(rg *gin.RouterGroup) {
	g := rg.Group("/system/outbox")
	g.GET("/dead", h.GetDeadLetterEntries)
	g.POST("/dead/retry-all", h.RetryAllDeadEntries)
	g.GET("/stats", h.GetStats)
	g.GET("/:id", h.GetEntry)
	g.POST("/:id/retry", h.RetryDeadEntry)
}

// RetryAllResponse represents the response for retry all operation
type RetryAllResponse struct {
	Count int64 `json:"count"`
}

// GetDeadLetterEntries lists dead entries
// @ID           listDeadOutboxEntries
// @Summary      List dead outbox entries
// @Tags         outbox
// @Produce      json
// @Param        page       query     int  false  "Page number"  default(1)
// @Param        page_size  query     int  false  "Page size"    default(20)
// @Success      200        {object}  APIResponse[[]event.OutboxEntryDTO]
// @Failure      500        {object}  ErrorResponse
// @Router       /system/outbox/dead [get]
func (h *OutboxHandler) GetDeadLetterEntries(c *gin.Context) {
	filter, ok := h.ListFilter(c)
	if !ok {
		return
	}
	result, err := h.outboxService.GetDeadLetterEntries(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	SuccessPage(c, result)
}

// GetEntry returns one outbox entry
// @ID           getOutboxEntry
// @Summary      Get an outbox entry
// @Tags         outbox
// @Produce      json
// @Param        id   path      string  true  "Outbox entry ID"  format(uuid)
// @Success      200  {object}  APIResponse[event.OutboxEntryDTO]
// @Failure      404  {object}  ErrorResponse
// @Router       /system/outbox/{id} [get]
func (h *OutboxHandler) GetEntry(c *gin.Context) {
	id, ok := h.ParseUUID(c, "id")
	if !ok {
		return
	}
	entry, err := h.outboxService.GetEntry(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, entry)
}

// RetryDeadEntry moves a dead entry back to pending
// @ID           retryDeadOutboxEntry
// @Summary      Retry a dead outbox entry
// @Tags         outbox
// @Produce      json
// @Param        id   path      string  true  "Outbox entry ID"  format(uuid)
// @Success      200  {object}  APIResponse[event.OutboxEntryDTO]
// @Failure      404  {object}  ErrorResponse
// @Failure      409  {object}  ErrorResponse
// @Router       /system/outbox/{id}/retry [post]
func (h *OutboxHandler) RetryDeadEntry(c *gin.Context) {
	id, ok := h.ParseUUID(c, "id")
	if !ok {
		return
	}
	entry, err := h.outboxService.RetryDeadEntry(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, entry)
}

// RetryAllDeadEntries moves every dead entry back to pending
// @ID           retryAllDeadOutboxEntries
// @Summary      Retry every dead outbox entry
// @Tags         outbox
// @Produce      json
// @Success      200  {object}  APIResponse[RetryAllResponse]
// @Failure      500  {object}  ErrorResponse
// @Router       /system/outbox/dead/retry-all [post]
func (h *OutboxHandler) RetryAllDeadEntries(c *gin.Context) {
	count, err := h.outboxService.RetryAllDeadEntries(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, RetryAllResponse{Count: count})
}

// GetStats counts entries by status
// @ID           getOutboxStats
// @Summary      Count outbox entries by status
// @Tags         outbox
// @Produce      json
// @Success      200  {object}  APIResponse[event.OutboxStatsDTO]
// @Failure      500  {object}  ErrorResponse
// @Router       /system/outbox/stats [get]
func (h *OutboxHandler) GetStats(c *gin.Context) {
	stats, err := h.outboxService.GetStats(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, stats)
}
