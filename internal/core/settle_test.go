package core

import (
	"testing"

	"github.com/shopspring/decimal"
)

// applyPlan plays the transfers back onto a copy of the balances and
// returns the residuals.
func applyPlan(balances map[int64]decimal.Decimal, plan []Transfer) map[int64]decimal.Decimal {
	out := make(map[int64]decimal.Decimal, len(balances))
	for id, b := range balances {
		out[id] = b
	}
	for _, tr := range plan {
		out[tr.From] = out[tr.From].Add(tr.Amount)
		out[tr.To] = out[tr.To].Sub(tr.Amount)
	}
	return out
}

func assertSettled(t *testing.T, balances map[int64]decimal.Decimal, plan []Transfer) {
	t.Helper()
	for id, residual := range applyPlan(balances, plan) {
		if !WithinEpsilon(residual) {
			t.Errorf("participant %d left with residual %s after applying plan", id, residual)
		}
	}
	if len(plan) > len(balances)-1 {
		t.Errorf("plan has %d transfers for %d participants", len(plan), len(balances))
	}
}

func TestPlanSettlementSinglePair(t *testing.T) {
	balances := map[int64]decimal.Decimal{
		1: dec("50"),
		2: dec("-50"),
	}
	plan := PlanSettlement(balances)

	if len(plan) != 1 {
		t.Fatalf("expected 1 transfer, got %d: %v", len(plan), plan)
	}
	if plan[0].From != 2 || plan[0].To != 1 || !plan[0].Amount.Equal(dec("50")) {
		t.Errorf("transfer = %d->%d %s, want 2->1 50", plan[0].From, plan[0].To, plan[0].Amount)
	}
	assertSettled(t, balances, plan)
}

func TestPlanSettlementEqualDebtorsTieBreak(t *testing.T) {
	balances := map[int64]decimal.Decimal{
		1: dec("60"),
		2: dec("-30"),
		3: dec("-30"),
	}
	plan := PlanSettlement(balances)

	if len(plan) != 2 {
		t.Fatalf("expected 2 transfers, got %d: %v", len(plan), plan)
	}
	// Equal debts break by participant ID ascending.
	if plan[0].From != 2 || plan[0].To != 1 || !plan[0].Amount.Equal(dec("30")) {
		t.Errorf("first transfer = %d->%d %s, want 2->1 30", plan[0].From, plan[0].To, plan[0].Amount)
	}
	if plan[1].From != 3 || plan[1].To != 1 || !plan[1].Amount.Equal(dec("30")) {
		t.Errorf("second transfer = %d->%d %s, want 3->1 30", plan[1].From, plan[1].To, plan[1].Amount)
	}
	assertSettled(t, balances, plan)
}

func TestPlanSettlementReinsertsRemainder(t *testing.T) {
	balances := map[int64]decimal.Decimal{
		1: dec("70"),
		2: dec("50"),
		3: dec("-60"),
		4: dec("-60"),
	}
	plan := PlanSettlement(balances)

	want := []Transfer{
		{From: 3, To: 1, Amount: dec("60")},
		{From: 4, To: 2, Amount: dec("50")},
		{From: 4, To: 1, Amount: dec("10")},
	}
	if len(plan) != len(want) {
		t.Fatalf("expected %d transfers, got %d: %v", len(want), len(plan), plan)
	}
	for i, w := range want {
		if plan[i].From != w.From || plan[i].To != w.To || !plan[i].Amount.Equal(w.Amount) {
			t.Errorf("transfer %d = %d->%d %s, want %d->%d %s",
				i, plan[i].From, plan[i].To, plan[i].Amount, w.From, w.To, w.Amount)
		}
	}
	assertSettled(t, balances, plan)
}

func TestPlanSettlementIgnoresNearZero(t *testing.T) {
	balances := map[int64]decimal.Decimal{
		1: dec("0.0000001"),
		2: dec("-0.0000001"),
	}
	if plan := PlanSettlement(balances); len(plan) != 0 {
		t.Errorf("expected empty plan, got %v", plan)
	}
}

func TestPlanSettlementEmptyAndSettled(t *testing.T) {
	if plan := PlanSettlement(nil); len(plan) != 0 {
		t.Errorf("nil balances produced %v", plan)
	}
	if plan := PlanSettlement(map[int64]decimal.Decimal{7: decimal.Zero}); len(plan) != 0 {
		t.Errorf("settled ledger produced %v", plan)
	}
}

func TestPlanSettlementDoesNotMutateInput(t *testing.T) {
	balances := map[int64]decimal.Decimal{
		1: dec("25"),
		2: dec("-25"),
	}
	PlanSettlement(balances)

	if !balances[1].Equal(dec("25")) || !balances[2].Equal(dec("-25")) {
		t.Errorf("input balances mutated: %v", balances)
	}
}

func TestPlanSettlementDeterministic(t *testing.T) {
	balances := map[int64]decimal.Decimal{
		1: dec("10"),
		2: dec("10"),
		3: dec("-10"),
		4: dec("-10"),
	}
	first := PlanSettlement(balances)
	for run := 0; run < 10; run++ {
		again := PlanSettlement(balances)
		if len(again) != len(first) {
			t.Fatalf("run %d: plan length %d != %d", run, len(again), len(first))
		}
		for i := range first {
			if first[i].From != again[i].From || first[i].To != again[i].To ||
				!first[i].Amount.Equal(again[i].Amount) {
				t.Fatalf("run %d: transfer %d differs: %v vs %v", run, i, first[i], again[i])
			}
		}
	}
}

func TestPlanSettlementFromComputedBalances(t *testing.T) {
	expenses := []Expense{
		approvedExpense(1, "90", equalShares(1, 2, 3)...),
		approvedExpense(2, "30", equalShares(2, 3)...),
	}
	balances := ComputeBalances(expenses, Window{})
	plan := PlanSettlement(balances)
	assertSettled(t, balances, plan)
}
