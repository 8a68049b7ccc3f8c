package fx

import (
	"github.com/shopspring/decimal"

	"divvy/internal/core"
)

// DefaultStaticVersion identifies the built-in snapshot of emergency
// rates. Bump it whenever the numbers are refreshed.
const DefaultStaticVersion = "2025-06"

type pairKey struct {
	from core.Currency
	to   core.Currency
}

// StaticTable is the last-resort set of hard-coded approximate
// mid-market rates for common pairs, consulted only after every live
// layer failed. It is owned by this package and updated independently of
// the external source.
type StaticTable struct {
	version string
	rates   map[pairKey]decimal.Decimal
}

// NewStaticTable creates an empty table tagged with a version.
func NewStaticTable(version string) *StaticTable {
	return &StaticTable{
		version: version,
		rates:   make(map[pairKey]decimal.Decimal),
	}
}

// DefaultStaticTable returns the built-in emergency rates.
func DefaultStaticTable() *StaticTable {
	t := NewStaticTable(DefaultStaticVersion)
	t.Put("USD", "ILS", decimal.New(370, -2))
	t.Put("EUR", "ILS", decimal.New(4, 0))
	t.Put("GBP", "ILS", decimal.New(470, -2))
	t.Put("USD", "EUR", decimal.New(92, -2))
	t.Put("EUR", "USD", decimal.New(109, -2))
	return t
}

// Put registers an approximate rate for a directed pair.
func (t *StaticTable) Put(from, to core.Currency, rate decimal.Decimal) {
	t.rates[pairKey{from: from, to: to}] = rate
}

// Lookup returns the static rate for a directed pair. No inversion or
// bridging happens here; only exact pairs are served.
func (t *StaticTable) Lookup(from, to core.Currency) (decimal.Decimal, bool) {
	if t == nil {
		return decimal.Zero, false
	}
	rate, ok := t.rates[pairKey{from: from, to: to}]
	return rate, ok
}

// Version reports which snapshot of numbers the table carries.
func (t *StaticTable) Version() string {
	if t == nil {
		return ""
	}
	return t.version
}
