package billing

import (
	"context"
	"fmt"

	"github.com/billflow/backend/internal/domain/billing"
	"github.com/billflow/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// QueryService reads billing records
type QueryService struct {
	records billing.Repository
}

// NewQueryService creates a QueryService
func NewQueryService(records billing.Repository) *QueryService {
	return &QueryService{records: records}
}

// GetRecord returns a billing record by id
func (s *QueryService) GetRecord(ctx context.Context, id uuid.UUID) (*BillingRecordResponse, error) {
	r, err := s.records.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := ToBillingRecordResponse(r)
	return &resp, nil
}

// ListRecords pages through billing records, newest first
func (s *QueryService) ListRecords(ctx context.Context, filter billing.Filter) (shared.Paginated[BillingRecordResponse], error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return shared.Paginated[BillingRecordResponse]{},
			shared.NewValidationError(fmt.Sprintf("unknown billing status %q", filter.Status))
	}
	filter.Filter = filter.Filter.Normalize()
	records, total, err := s.records.FindAll(ctx, filter)
	if err != nil {
		return shared.Paginated[BillingRecordResponse]{}, err
	}
	items := make([]BillingRecordResponse, len(records))
	for i, r := range records {
		items[i] = ToBillingRecordResponse(r)
	}
	return shared.NewPaginated(items, total, filter.Page, filter.PageSize), nil
}
