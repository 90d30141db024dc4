package handler

import (
	"net/http"
	"strings"

	usageapp "github.com/billflow/backend/internal/application/usage"
	"github.com/billflow/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// IdempotencyKeyHeader is read when the body carries no idempotency_key
const IdempotencyKeyHeader = "Idempotency-Key"

// UsageHandler records and reads usage events
type UsageHandler struct {
	BaseHandler
	recorder *usageapp.Recorder
}

// NewUsageHandler creates a UsageHandler
func NewUsageHandler(recorder *usageapp.Recorder) *UsageHandler {
	return &UsageHandler{recorder: recorder}
}

// RegisterRoutes mounts /usage
func (h *UsageHandler) RegisterRoutes(rg *gin.RouterGroup) {
	g := rg.Group("/usage")
	g.POST("", h.RecordUsage)
	g.GET("", h.ListUsageEvents)
	g.GET("/:id", h.GetUsageEvent)
}

// RecordUsage stores a usage event. A new event answers 201, a replay of a recorded
// one answers 200 with duplicate=true.
// @ID           recordUsage
// @Summary      Record a usage event
// @Description  Stores a usage event. A replayed idempotency key answers 200 with duplicate=true.
// @Tags         usage
// @Accept       json
// @Produce      json
// @Param        Idempotency-Key  header    string                          false  "Idempotency key when the body carries none"
// @Param        request          body      usageapp.RecordUsageInput       true   "Usage event"
// @Success      201              {object}  APIResponse[usageapp.RecordUsageResult]
// @Success      200              {object}  APIResponse[usageapp.RecordUsageResult]
// @Failure      400              {object}  ErrorResponse
// @Failure      500              {object}  ErrorResponse
// @Router       /usage [post]
func (h *UsageHandler) RecordUsage(c *gin.Context) {
	var in usageapp.RecordUsageInput
	if !h.BindJSON(c, &in) {
		return
	}
	if strings.TrimSpace(in.IdempotencyKey) == "" {
		in.IdempotencyKey = c.GetHeader(IdempotencyKeyHeader)
	}

	result, err := h.recorder.RecordUsage(c.Request.Context(), in)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if result.Duplicate {
		h.Success(c, result)
		return
	}
	h.Created(c, result)
}

// GetUsageEvent returns one usage event
// @ID           getUsageEvent
// @Summary      Get a usage event
// @Tags         usage
// @Produce      json
// @Param        id   path      string  true  "Usage event ID"  format(uuid)
// @Success      200  {object}  APIResponse[usageapp.UsageEventResponse]
// @Failure      400  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Router       /usage/{id} [get]
func (h *UsageHandler) GetUsageEvent(c *gin.Context) {
	id, ok := h.ParseUUID(c, "id")
	if !ok {
		return
	}
	event, err := h.recorder.GetUsageEvent(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, event)
}

// ListUsageEvents pages through a user's usage events
// @ID           listUsageEvents
// @Summary      List usage events of a user
// @Tags         usage
// @Produce      json
// @Param        user_id    query     string  true   "User ID"
// @Param        page       query     int     false  "Page number"  default(1)
// @Param        page_size  query     int     false  "Page size"    default(20)
// @Success      200        {object}  APIResponse[[]usageapp.UsageEventResponse]
// @Failure      400        {object}  ErrorResponse
// @Router       /usage [get]
func (h *UsageHandler) ListUsageEvents(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeValidation, "user_id is required")
		return
	}
	filter, ok := h.ListFilter(c)
	if !ok {
		return
	}
	page, err := h.recorder.ListUsageEvents(c.Request.Context(), userID, filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	SuccessPage(c, page)
}
