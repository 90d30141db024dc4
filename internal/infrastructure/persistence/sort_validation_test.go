package persistence

import (
	"testing"

	"github.com/billflow/backend/internal/domain/shared"
	"github.com/stretchr/testify/assert"
)

func TestValidateSortOrder(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"asc", "ASC"},
		{" ASC ", "ASC"},
		{"desc", "DESC"},
		{"", "DESC"},
		{"asc; DROP TABLE wallets", "DESC"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ValidateSortOrder(tt.input))
		})
	}
}

func TestValidateSortField(t *testing.T) {
	assert.Equal(t, "billing_status", ValidateSortField("status", billingSortFields, "created_at"))
	assert.Equal(t, "created_at", ValidateSortField("", billingSortFields, "created_at"))
	assert.Equal(t, "created_at", ValidateSortField("user_id; --", billingSortFields, "created_at"))
	assert.Equal(t, "recorded_at", ValidateSortField("created_at", usageSortFields, "occurred_at"))
}

func TestOrderClause(t *testing.T) {
	f := shared.Filter{OrderBy: "cost_usd", OrderDir: "asc"}
	assert.Equal(t, "cost_usd ASC, id ASC", orderClause(f, billingSortFields, "created_at"))

	f = shared.Filter{OrderBy: "nope"}
	assert.Equal(t, "created_at DESC, id DESC", orderClause(f, walletTransactionSortFields, "created_at"))
}
