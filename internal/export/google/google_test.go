package google

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"divvy/internal/core"
)

func TestExpenseRow(t *testing.T) {
	e := core.Expense{
		ID:               42,
		LedgerID:         3,
		PayerID:          7,
		OriginalAmount:   decimal.RequireFromString("50.25"),
		OriginalCurrency: "EUR",
		AmountInBase:     decimal.RequireFromString("206.025"),
		FxRate:           decimal.RequireFromString("4.1"),
		FxApproximate:    true,
		Category:         "food",
		SpentAt:          time.Date(2025, 6, 1, 22, 30, 0, 0, time.UTC),
		Status:           core.StatusApproved,
	}

	row := expenseRow(e)
	want := []any{int64(3), int64(42), "2025-06-01", int64(7), "50.25", "EUR", "206.025", "4.1", "~", "food", "approved"}
	if len(row) != len(want) {
		t.Fatalf("row has %d columns, want %d", len(row), len(want))
	}
	for i := range want {
		if row[i] != want[i] {
			t.Errorf("column %d = %v, want %v", i, row[i], want[i])
		}
	}
}

func TestExpenseRowExactRate(t *testing.T) {
	e := core.Expense{
		OriginalAmount:   decimal.RequireFromString("10"),
		OriginalCurrency: "USD",
		AmountInBase:     decimal.RequireFromString("10"),
		FxRate:           decimal.RequireFromString("1"),
		SpentAt:          time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		Status:           core.StatusApproved,
	}

	row := expenseRow(e)
	if row[8] != "" {
		t.Errorf("approximate marker = %v, want empty for exact rates", row[8])
	}
}
