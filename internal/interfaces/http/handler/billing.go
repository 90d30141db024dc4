package handler

import (
	"errors"
	"net/http"

	billingapp "github.com/billflow/backend/internal/application/billing"
	walletapp "github.com/billflow/backend/internal/application/wallet"
	"github.com/billflow/backend/internal/domain/billing"
	"github.com/billflow/backend/internal/domain/shared"
	"github.com/billflow/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// BillingHandler reads billing records and retries their settlement
type BillingHandler struct {
	BaseHandler
	queries *billingapp.QueryService
	wallets *walletapp.Service
}

// NewBillingHandler creates a BillingHandler
func NewBillingHandler(queries *billingapp.QueryService, wallets *walletapp.Service) *BillingHandler {
	return &BillingHandler{queries: queries, wallets: wallets}
}

// RegisterRoutes mounts /billing/records
func (h *BillingHandler) RegisterRoutes(rg *gin.RouterGroup) {
	g := rg.Group("/billing/records")
	g.GET("", h.ListRecords)
	g.GET("/:id", h.GetRecord)
	g.POST("/:id/settle", h.Settle)
}

// GetRecord returns one billing record
// @ID           getBillingRecord
// @Summary      Get a billing record
// @Tags         billing
// @Produce      json
// @Param        id   path      string  true  "Billing record ID"  format(uuid)
// @Success      200  {object}  APIResponse[billingapp.BillingRecordResponse]
// @Failure      400  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Router       /billing/records/{id} [get]
func (h *BillingHandler) GetRecord(c *gin.Context) {
	id, ok := h.ParseUUID(c, "id")
	if !ok {
		return
	}
	record, err := h.queries.GetRecord(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, record)
}

// ListRecords pages through billing records, optionally by user and status
// @ID           listBillingRecords
// @Summary      List billing records
// @Tags         billing
// @Produce      json
// @Param        user_id    query     string  false  "User ID"
// @Param        status     query     string  false  "Record status"  Enums(pending, charged, failed, subscription_included)
// @Param        page       query     int     false  "Page number"    default(1)
// @Param        page_size  query     int     false  "Page size"      default(20)
// @Success      200        {object}  APIResponse[[]billingapp.BillingRecordResponse]
// @Failure      400        {object}  ErrorResponse
// @Router       /billing/records [get]
func (h *BillingHandler) ListRecords(c *gin.Context) {
	base, ok := h.ListFilter(c)
	if !ok {
		return
	}
	page, err := h.queries.ListRecords(c.Request.Context(), billing.Filter{
		Filter: base,
		UserID: c.Query("user_id"),
		Status: billing.Status(c.Query("status")),
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	SuccessPage(c, page)
}

// Settle retries the settlement of a record, typically a failed one after a top-up.
// A balance that is still short answers 422 with the settlement outcome.
// @ID           settleBillingRecord
// @Summary      Retry settlement of a billing record
// @Tags         billing
// @Produce      json
// @Param        id   path      string  true  "Billing record ID"  format(uuid)
// @Success      200  {object}  APIResponse[walletapp.SettlementResponse]
// @Failure      404  {object}  ErrorResponse
// @Failure      422  {object}  APIResponse[walletapp.SettlementResponse]
// @Router       /billing/records/{id}/settle [post]
func (h *BillingHandler) Settle(c *gin.Context) {
	id, ok := h.ParseUUID(c, "id")
	if !ok {
		return
	}
	result, err := h.wallets.RetrySettlement(c.Request.Context(), id)
	if err != nil && result != nil && errors.Is(err, shared.ErrInsufficientBalance) {
		resp := dto.NewErrorResponseWithRequestID(dto.ErrCodeInsufficientBalance, err.Error(), getRequestID(c))
		resp.Data = result
		c.JSON(http.StatusUnprocessableEntity, resp)
		return
	}
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}
