package handler

import (
	"time"

	"github.com/billflow/backend/internal/domain/pricing"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// PricingHandler exposes the price resolver
type PricingHandler struct {
	BaseHandler
	resolver pricing.Resolver
}

// NewPricingHandler creates a PricingHandler. resolver may be the cached resolver.
func NewPricingHandler(resolver pricing.Resolver) *PricingHandler {
	return &PricingHandler{resolver: resolver}
}

// RegisterRoutes mounts /pricing
func (h *PricingHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/pricing/:product_id", h.GetPrice)
}

type priceQuery struct {
	UserID         string `form:"user_id" binding:"max=128"`
	SubscriptionID string `form:"subscription_id" binding:"omitempty,uuid"`
	At             string `form:"at" binding:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

// GetPrice quotes a product for a user
// @ID           getPrice
// @Summary      Quote a product price
// @Description  Resolves the effective unit price for a user, honouring subscriptions and price rules
// @Tags         pricing
// @Produce      json
// @Param        product_id       path      string  true   "Product ID"
// @Param        user_id          query     string  false  "User ID"
// @Param        subscription_id  query     string  false  "Subscription ID"  format(uuid)
// @Param        at               query     string  false  "Pricing instant (RFC3339)"
// @Success      200              {object}  APIResponse[pricing.PriceQuote]
// @Failure      400              {object}  ErrorResponse
// @Failure      404              {object}  ErrorResponse
// @Router       /pricing/{product_id} [get]
func (h *PricingHandler) GetPrice(c *gin.Context) {
	var q priceQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.BadRequest(c, "Invalid query parameters")
		return
	}

	req := pricing.PriceRequest{
		ProductID: c.Param("product_id"),
		UserID:    q.UserID,
		At:        time.Now(),
	}
	if q.SubscriptionID != "" {
		id := uuid.MustParse(q.SubscriptionID)
		req.SubscriptionID = &id
	}
	if q.At != "" {
		at, _ := time.Parse(time.RFC3339, q.At)
		req.At = at
	}

	quote, err := h.resolver.GetPrice(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, quote)
}
