package persistence

import (
	"strings"

	"github.com/billflow/backend/internal/domain/shared"
)

// ValidateSortOrder validates and normalizes the sort order to ASC or DESC.
// Returns "DESC" as the default if the input is invalid or empty.
func ValidateSortOrder(orderDir string) string {
	normalized := strings.ToUpper(strings.TrimSpace(orderDir))
	if normalized == "ASC" {
		return "ASC"
	}
	return "DESC"
}

// ValidateSortField validates the sort field against a whitelist of allowed fields.
// Returns the defaultField if the input is invalid, empty, or not in the whitelist.
func ValidateSortField(sortField string, allowedFields map[string]string, defaultField string) string {
	trimmed := strings.TrimSpace(sortField)
	if column, ok := allowedFields[trimmed]; ok {
		return column
	}
	return defaultField
}

// Sort fields accepted by list endpoints, mapped to their column
var (
	usageSortFields = map[string]string{
		"created_at":  "recorded_at",
		"recorded_at": "recorded_at",
		"occurred_at": "occurred_at",
		"amount":      "amount",
		"product_id":  "product_id",
	}

	billingSortFields = map[string]string{
		"created_at": "created_at",
		"updated_at": "updated_at",
		"cost_usd":   "cost_usd",
		"product_id": "product_id",
		"status":     "billing_status",
	}

	walletTransactionSortFields = map[string]string{
		"created_at": "created_at",
		"amount":     "amount",
	}
)

// orderClause builds a whitelisted ORDER BY expression. The id tiebreak keeps paging stable.
func orderClause(filter shared.Filter, allowed map[string]string, defaultColumn string) string {
	column := ValidateSortField(filter.OrderBy, allowed, defaultColumn)
	return column + " " + ValidateSortOrder(filter.OrderDir) + ", id " + ValidateSortOrder(filter.OrderDir)
}
