package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"divvy/internal/core"
)

func TestExportAndList(t *testing.T) {
	s := New()
	ctx := context.Background()

	e := core.Expense{
		ID:               1,
		LedgerID:         1,
		PayerID:          2,
		OriginalAmount:   decimal.RequireFromString("50"),
		OriginalCurrency: "EUR",
		AmountInBase:     decimal.RequireFromString("205"),
		FxRate:           decimal.RequireFromString("4.1"),
		SpentAt:          time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		Status:           core.StatusApproved,
	}

	ref, err := s.Export(ctx, e)
	if err != nil {
		t.Fatalf("Export error = %v", err)
	}
	if ref != "mem:1" {
		t.Errorf("ref = %q, want mem:1", ref)
	}

	ref, _ = s.Export(ctx, e)
	if ref != "mem:2" {
		t.Errorf("second ref = %q, want mem:2", ref)
	}

	got := s.Exported()
	if len(got) != 2 || !got[0].AmountInBase.Equal(decimal.RequireFromString("205")) {
		t.Errorf("Exported() = %+v, want both copies", got)
	}
}
