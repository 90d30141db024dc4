// Package pricing resolves the price of a product for a user.
package pricing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/billflow/backend/internal/domain/pricing"
	"github.com/billflow/backend/internal/domain/shared"
	"github.com/billflow/backend/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// Service implements pricing.Resolver on the product and subscription stores
type Service struct {
	products      pricing.ProductRepository
	subscriptions pricing.SubscriptionRepository
	now           func() time.Time
}

// NewService creates a pricing service
func NewService(products pricing.ProductRepository, subscriptions pricing.SubscriptionRepository) *Service {
	return &Service{
		products:      products,
		subscriptions: subscriptions,
		now:           time.Now,
	}
}

// GetPrice returns the quote for req. Unknown and inactive products yield
// pricing.ErrProductNotFound; store failures are transient.
func (s *Service) GetPrice(ctx context.Context, req pricing.PriceRequest) (*pricing.PriceQuote, error) {
	productID := strings.TrimSpace(req.ProductID)
	if productID == "" {
		return nil, shared.NewValidationError("product_id is required")
	}
	at := req.At
	if at.IsZero() {
		at = s.now()
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, pricing.NewProductNotFoundError(productID)
		}
		return nil, shared.NewTransientIOError("load product", err)
	}
	if !product.Active {
		return nil, pricing.NewProductNotFoundError(productID)
	}

	subs, err := s.candidateSubscriptions(ctx, req, at)
	if err != nil {
		return nil, err
	}

	quote := pricing.Quote(product, subs, at)
	logger.L(ctx).Debug("price resolved",
		zap.String("product_id", productID),
		zap.String("user_id", req.UserID),
		zap.String("unit_price", quote.UnitPrice.String()),
		zap.Bool("included_in_subscription", quote.IsIncludedInSubscription),
	)
	return quote, nil
}

// candidateSubscriptions returns the explicit subscription when one is named,
// otherwise the user's active ones
func (s *Service) candidateSubscriptions(ctx context.Context, req pricing.PriceRequest, at time.Time) ([]*pricing.Subscription, error) {
	if req.SubscriptionID != nil {
		sub, err := s.subscriptions.FindByID(ctx, *req.SubscriptionID)
		if errors.Is(err, shared.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, shared.NewTransientIOError("load subscription", err)
		}
		if req.UserID != "" && sub.UserID != req.UserID {
			return nil, nil
		}
		return []*pricing.Subscription{sub}, nil
	}

	if req.UserID == "" {
		return nil, nil
	}
	subs, err := s.subscriptions.FindActiveByUser(ctx, req.UserID, at)
	if err != nil {
		return nil, shared.NewTransientIOError("load subscriptions", err)
	}
	return subs, nil
}

var _ pricing.Resolver = (*Service)(nil)
