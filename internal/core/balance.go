package core

import (
	"sort"

	"github.com/shopspring/decimal"
)

// ComputeBalances derives each participant's net position in base
// currency from the expenses in scope. The payer of an expense is
// credited its full base amount; every snapshot entry (the payer
// included, when present) is debited amount * weight / total weight.
// Voided expenses and expenses outside the window are skipped.
// Participants with no activity in scope are absent from the result.
//
// Pure function; never mutates its input and is safe to call
// concurrently.
func ComputeBalances(expenses []Expense, window Window) map[int64]decimal.Decimal {
	balances := make(map[int64]decimal.Decimal)
	for _, e := range expenses {
		if !e.Approved() {
			continue
		}
		if !window.Contains(e.SpentAt) {
			continue
		}
		total := e.Snapshot.TotalWeight()
		if !total.IsPositive() {
			// Approved expenses always carry a positive total weight;
			// never divide by a zero snapshot.
			continue
		}
		balances[e.PayerID] = balances[e.PayerID].Add(e.AmountInBase)
		for _, s := range e.Snapshot {
			share := e.AmountInBase.Mul(s.Weight).Div(total)
			balances[s.ParticipantID] = balances[s.ParticipantID].Sub(share)
		}
	}
	return balances
}

// CategoryAmount is a base-currency total aggregated by category name.
type CategoryAmount struct {
	Name   string
	Amount decimal.Decimal
}

// CategoryTotals sums approved in-window expenses per category, largest
// first, name ascending on equal totals. Uncategorized expenses
// aggregate under the empty name.
func CategoryTotals(expenses []Expense, window Window) []CategoryAmount {
	totals := make(map[string]decimal.Decimal)
	for _, e := range expenses {
		if !e.Approved() || !window.Contains(e.SpentAt) {
			continue
		}
		totals[e.Category] = totals[e.Category].Add(e.AmountInBase)
	}
	out := make([]CategoryAmount, 0, len(totals))
	for name, amount := range totals {
		out = append(out, CategoryAmount{Name: name, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Amount.Equal(out[j].Amount) {
			return out[i].Amount.GreaterThan(out[j].Amount)
		}
		return out[i].Name < out[j].Name
	})
	return out
}
