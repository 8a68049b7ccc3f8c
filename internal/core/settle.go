package core

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Transfer is one directed settlement payment: From pays To.
type Transfer struct {
	From   int64
	To     int64
	Amount decimal.Decimal
}

type settleEntry struct {
	id     int64
	amount decimal.Decimal // positive magnitude
}

// PlanSettlement reduces net balances to an ordered list of pairwise
// transfers using greedy largest-creditor against largest-debtor
// pairing. Ties on magnitude break by participant ID ascending, so the
// plan is reproducible regardless of map iteration order. The input map
// is never mutated.
//
// Participants within Epsilon of zero are ignored. Applying the returned
// transfers back onto the balances brings every participant to within
// Epsilon of zero, with at most participants-1 transfers. The plan is a
// reasonable simplification, not a provably minimal one.
func PlanSettlement(balances map[int64]decimal.Decimal) []Transfer {
	var creditors, debtors []settleEntry
	for id, b := range balances {
		switch {
		case b.GreaterThan(Epsilon):
			creditors = append(creditors, settleEntry{id: id, amount: b})
		case b.LessThan(Epsilon.Neg()):
			debtors = append(debtors, settleEntry{id: id, amount: b.Neg()})
		}
	}
	sortByMagnitude(creditors)
	sortByMagnitude(debtors)

	var plan []Transfer
	for len(creditors) > 0 && len(debtors) > 0 {
		c, d := creditors[0], debtors[0]
		amount := decimal.Min(c.amount, d.amount)
		plan = append(plan, Transfer{From: d.id, To: c.id, Amount: amount})
		creditors = settleHead(creditors, amount)
		debtors = settleHead(debtors, amount)
	}
	return plan
}

// sortByMagnitude orders amount descending, participant ID ascending on
// equal amounts.
func sortByMagnitude(entries []settleEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].amount.Equal(entries[j].amount) {
			return entries[i].amount.GreaterThan(entries[j].amount)
		}
		return entries[i].id < entries[j].id
	})
}

// settleHead subtracts amount from the head entry, drops it when within
// Epsilon of zero, otherwise re-inserts it at its sorted position.
func settleHead(entries []settleEntry, amount decimal.Decimal) []settleEntry {
	head := entries[0]
	rest := entries[1:]
	head.amount = head.amount.Sub(amount)
	if head.amount.LessThanOrEqual(Epsilon) {
		return rest
	}
	idx := sort.Search(len(rest), func(i int) bool {
		if !rest[i].amount.Equal(head.amount) {
			return rest[i].amount.LessThan(head.amount)
		}
		return rest[i].id > head.id
	})
	out := make([]settleEntry, 0, len(rest)+1)
	out = append(out, rest[:idx]...)
	out = append(out, head)
	out = append(out, rest[idx:]...)
	return out
}
