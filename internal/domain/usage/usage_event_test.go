package usage

import (
	"testing"
	"time"

	"github.com/billflow/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validParams() NewUsageEventParams {
	return NewUsageEventParams{
		UserID:       "u1",
		ProductID:    "gpt-4",
		Amount:       decimal.NewFromInt(100),
		UnitType:     UnitTypeToken,
		UsageDetails: map[string]string{"model": "gpt-4"},
		OccurredAt:   time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC),
	}
}

func TestNewUsageEvent(t *testing.T) {
	t.Run("creates valid usage event", func(t *testing.T) {
		e, err := NewUsageEvent(validParams())

		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, e.ID)
		assert.Equal(t, "u1", e.UserID)
		assert.Equal(t, "gpt-4", e.ProductID)
		assert.True(t, e.Amount.Equal(decimal.NewFromInt(100)))
		assert.Equal(t, UnitTypeToken, e.UnitType)
		assert.Equal(t, "gpt-4", e.UsageDetails["model"])
		assert.Equal(t, 123456000, e.OccurredAt.Nanosecond())
		assert.False(t, e.RecordedAt().IsZero())
	})

	t.Run("keeps caller supplied id", func(t *testing.T) {
		id := uuid.New()
		p := validParams()
		p.EventID = id

		e, err := NewUsageEvent(p)
		require.NoError(t, err)
		assert.Equal(t, id, e.ID)
	})

	t.Run("allows zero amount", func(t *testing.T) {
		p := validParams()
		p.Amount = decimal.Zero

		_, err := NewUsageEvent(p)
		assert.NoError(t, err)
	})

	tests := []struct {
		name   string
		mutate func(*NewUsageEventParams)
		msg    string
	}{
		{"empty user", func(p *NewUsageEventParams) { p.UserID = "  " }, "user_id cannot be empty"},
		{"empty product", func(p *NewUsageEventParams) { p.ProductID = "" }, "product_id cannot be empty"},
		{"negative amount", func(p *NewUsageEventParams) { p.Amount = decimal.NewFromInt(-1) }, "amount cannot be negative"},
		{"bad unit", func(p *NewUsageEventParams) { p.UnitType = "litre" }, "unsupported unit_type"},
	}
	for _, tt := range tests {
		t.Run("fails with "+tt.name, func(t *testing.T) {
			p := validParams()
			tt.mutate(&p)

			e, err := NewUsageEvent(p)
			assert.Nil(t, e)
			require.Error(t, err)
			assert.ErrorIs(t, err, shared.ErrValidation)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestDeriveEventID(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	amount := decimal.RequireFromString("100.0")

	t.Run("is stable for the same content", func(t *testing.T) {
		a := DeriveEventID("", "u1", "gpt-4", amount, UnitTypeToken, at)
		b := DeriveEventID("", "u1", "gpt-4", decimal.NewFromInt(100), UnitTypeToken, at.In(time.FixedZone("X", 3600)))
		assert.Equal(t, a, b)
	})

	t.Run("differs when content differs", func(t *testing.T) {
		a := DeriveEventID("", "u1", "gpt-4", amount, UnitTypeToken, at)
		b := DeriveEventID("", "u1", "gpt-4", amount, UnitTypeToken, at.Add(time.Second))
		assert.NotEqual(t, a, b)
	})

	t.Run("idempotency key wins over content", func(t *testing.T) {
		a := DeriveEventID("req-1", "u1", "gpt-4", amount, UnitTypeToken, at)
		b := DeriveEventID("req-1", "u1", "gpt-3", decimal.NewFromInt(5), UnitTypeRequest, at.Add(time.Hour))
		assert.Equal(t, a, b)
		assert.NotEqual(t, a, DeriveEventID("req-1", "u2", "gpt-4", amount, UnitTypeToken, at))
	})

	t.Run("retried recording yields the same event", func(t *testing.T) {
		first, err := NewUsageEvent(validParams())
		require.NoError(t, err)
		second, err := NewUsageEvent(validParams())
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
	})
}

func TestParseAmount(t *testing.T) {
	amount, err := ParseAmount(" 0.25 ")
	require.NoError(t, err)
	assert.Equal(t, "0.25", amount.String())

	_, err = ParseAmount("abc")
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = ParseAmount("-3")
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestUsageRecordedEvent(t *testing.T) {
	e, err := NewUsageEvent(validParams())
	require.NoError(t, err)

	ev := e.ToRecordedEvent()
	assert.Equal(t, e.ID, ev.EventID())
	assert.Equal(t, e.ID, ev.UsageEventID)
	assert.Equal(t, e.OccurredAt, ev.UsageOccurredAt)
	assert.Equal(t, EventTypeUsageRecorded, ev.EventType())
	assert.Equal(t, "usage.recorded.gpt-4", ev.Subject())
	assert.Equal(t, "usage.recorded.gpt-4", shared.SubjectOf(ev))
	assert.NoError(t, ev.Validate())

	ev.UserID = ""
	ev.UnitType = "x"
	err = ev.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user_id is required")
	assert.Contains(t, err.Error(), "unsupported unit_type")
}

func TestUnitType_IsValid(t *testing.T) {
	for _, u := range AllUnitTypes() {
		assert.True(t, u.IsValid(), u.String())
	}
	assert.False(t, UnitType("TOKEN").IsValid())
}
