package shared

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_Is(t *testing.T) {
	wrapped := fmt.Errorf("find wallet: %w", NewDomainError("NOT_FOUND", "wallet not found"))

	assert.True(t, errors.Is(wrapped, ErrNotFound))
	assert.False(t, errors.Is(wrapped, ErrAlreadyExists))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(NewTransientIOError("save usage", errors.New("conn refused"))))
	assert.True(t, IsTransient(fmt.Errorf("lookup: %w", context.DeadlineExceeded)))
	assert.True(t, IsTransient(ErrConcurrencyConflict))
	assert.False(t, IsTransient(NewValidationError("amount must be non-negative")))
	assert.False(t, IsTransient(nil))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil is acked", nil, false},
		{"retryable", Retryable("TRANSIENT_IO", errors.New("timeout")), true},
		{"permanent", Permanent("PRODUCT_NOT_FOUND", errors.New("unknown")), false},
		{"wrapped permanent", fmt.Errorf("handle: %w", Permanent("VALIDATION_ERROR", nil)), false},
		{"unclassified is retried", errors.New("unexpected"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestHandlerError_Error(t *testing.T) {
	err := Retryable("TRANSIENT_IO", errors.New("db down"))
	assert.Equal(t, "retryable failure [TRANSIENT_IO]: db down", err.Error())
	assert.Equal(t, "permanent failure [X]", Permanent("X", nil).Error())
}

func TestDeliveryAttempt(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, 1, DeliveryAttempt(ctx))
	assert.Equal(t, 3, DeliveryAttempt(WithDeliveryAttempt(ctx, 3)))
	assert.Equal(t, 1, DeliveryAttempt(WithDeliveryAttempt(ctx, 0)))
}

func TestFilter_Normalize(t *testing.T) {
	f := Filter{Page: 0, PageSize: 500, OrderDir: "sideways"}.Normalize()
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, MaxPageSize, f.PageSize)
	assert.Equal(t, "desc", f.OrderDir)
	assert.Equal(t, "created_at", f.OrderBy)
	assert.Equal(t, 0, f.Offset())

	p := NewPaginated([]int{1, 2}, 41, 2, 20)
	assert.Equal(t, 3, p.TotalPages)
}
