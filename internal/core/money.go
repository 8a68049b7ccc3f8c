// Package core holds the ledger domain: currencies, expenses, weight
// snapshots, balance computation and settlement planning. Everything in
// it is pure; persistence and rate resolution are collaborators.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Epsilon is the tolerance for balance and settlement comparisons.
// Anything within 1e-6 of zero is treated as settled.
var Epsilon = decimal.New(1, -6)

// ParseAmount converts a user-typed amount to a decimal.
//
// It accepts both dot (12.34) and comma (12,34) separators and requires a
// strictly positive value. Explicit signs are rejected; amounts are
// always entered as positive quantities.
//
// Examples:
//
//	ParseAmount("12.34")  -> 12.34, nil
//	ParseAmount("12,34")  -> 12.34, nil
//	ParseAmount("-5")     -> ErrInvalidAmount
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return decimal.Zero, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if !d.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// WithinEpsilon reports whether d is within Epsilon of zero.
func WithinEpsilon(d decimal.Decimal) bool {
	return d.Abs().LessThanOrEqual(Epsilon)
}
