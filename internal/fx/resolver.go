// Package fx resolves currency conversion rates through a layered
// fallback chain: cache, direct quote, inverted quote, bridge through
// USD, then a static emergency table. Every layer except the direct
// quote yields an approximate rate.
package fx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"divvy/internal/core"
)

var (
	// ErrRateUnavailable means every resolution layer failed for a pair.
	ErrRateUnavailable = errors.New("exchange rate unavailable")

	// ErrSourceUnavailable is returned by sources that cannot produce a
	// quote. Inside the resolver it only ever causes fallthrough to the
	// next layer.
	ErrSourceUnavailable = errors.New("rate source unavailable")
)

// RateUnavailableError carries the pair that could not be resolved. It
// matches ErrRateUnavailable under errors.Is.
type RateUnavailableError struct {
	From core.Currency
	To   core.Currency
}

func (e *RateUnavailableError) Error() string {
	return fmt.Sprintf("exchange rate unavailable for %s->%s", e.From, e.To)
}

func (e *RateUnavailableError) Is(target error) bool { return target == ErrRateUnavailable }

// Rate is a resolved conversion factor. Approximate marks any value not
// obtained from a direct primary-source quote: inverted, bridged or
// static-table derived.
type Rate struct {
	Value       decimal.Decimal
	Approximate bool
}

// Source quotes a currency pair from a live provider. Implementations
// are network-backed and may be slow or down; the resolver bounds every
// call and treats any error as failure of that layer only.
type Source interface {
	FetchRate(ctx context.Context, from, to core.Currency) (decimal.Decimal, error)
}

// Resolver walks the fallback chain for a pair. The cache and static
// table are explicit dependencies so tests can seed them; there is no
// package-level state.
type Resolver struct {
	source       Source
	static       *StaticTable
	cache        *RateCache
	layerTimeout time.Duration
}

// NewResolver builds a resolver. source may be nil, in which case the
// live layers are skipped and only cache and static table serve.
// layerTimeout bounds each individual source query.
func NewResolver(source Source, static *StaticTable, cache *RateCache, layerTimeout time.Duration) *Resolver {
	if layerTimeout <= 0 {
		layerTimeout = 5 * time.Second
	}
	if cache == nil {
		cache = NewRateCache(1024, DefaultCacheTTL)
	}
	return &Resolver{
		source:       source,
		static:       static,
		cache:        cache,
		layerTimeout: layerTimeout,
	}
}

var one = decimal.NewFromInt(1)

// Resolve returns the conversion rate from -> to as of the given time.
//
// Layer order, first success wins: identical pair (always 1, exact, no
// cache involved), cache, direct quote, inverted quote, bridge through
// USD, static table. Any success from a live or static layer is written
// through to the cache before returning. When every layer fails the
// error matches ErrRateUnavailable and nothing is cached.
func (r *Resolver) Resolve(ctx context.Context, from, to core.Currency, asOf time.Time) (Rate, error) {
	if from == to {
		return Rate{Value: one}, nil
	}

	if rate, ok := r.cache.Get(from, to, asOf); ok {
		slog.DebugContext(ctx, "Rate cache hit", "from", from, "to", to, "rate", rate.Value, "approximate", rate.Approximate)
		return rate, nil
	}

	if v, err := r.query(ctx, from, to); err == nil {
		slog.DebugContext(ctx, "Rate resolved from direct quote", "from", from, "to", to, "rate", v)
		return r.remember(from, to, asOf, Rate{Value: v}), nil
	}

	if v, err := r.query(ctx, to, from); err == nil {
		inv := one.Div(v)
		slog.DebugContext(ctx, "Rate resolved from inverted quote", "from", from, "to", to, "rate", inv)
		return r.remember(from, to, asOf, Rate{Value: inv, Approximate: true}), nil
	}

	if from != core.BridgeCurrency && to != core.BridgeCurrency {
		if a, err := r.query(ctx, from, core.BridgeCurrency); err == nil {
			if b, err := r.query(ctx, core.BridgeCurrency, to); err == nil {
				bridged := a.Mul(b)
				slog.DebugContext(ctx, "Rate resolved through bridge", "from", from, "to", to, "rate", bridged)
				return r.remember(from, to, asOf, Rate{Value: bridged, Approximate: true}), nil
			}
		}
	}

	if v, ok := r.static.Lookup(from, to); ok {
		slog.DebugContext(ctx, "Rate resolved from static table", "from", from, "to", to, "rate", v, "table_version", r.static.Version())
		return r.remember(from, to, asOf, Rate{Value: v, Approximate: true}), nil
	}

	slog.WarnContext(ctx, "All rate layers failed", "from", from, "to", to)
	return Rate{}, &RateUnavailableError{From: from, To: to}
}

// query runs one bounded source call. A timeout, transport error or
// non-positive quote all read as failure of this layer.
func (r *Resolver) query(ctx context.Context, from, to core.Currency) (decimal.Decimal, error) {
	if r.source == nil {
		return decimal.Zero, ErrSourceUnavailable
	}
	qctx, cancel := context.WithTimeout(ctx, r.layerTimeout)
	defer cancel()
	v, err := r.source.FetchRate(qctx, from, to)
	if err != nil {
		slog.DebugContext(ctx, "Rate source query failed", "from", from, "to", to, "error", err)
		return decimal.Zero, err
	}
	if !v.IsPositive() {
		slog.DebugContext(ctx, "Rate source returned non-positive quote", "from", from, "to", to, "rate", v)
		return decimal.Zero, ErrSourceUnavailable
	}
	return v, nil
}

func (r *Resolver) remember(from, to core.Currency, asOf time.Time, rate Rate) Rate {
	r.cache.Set(from, to, asOf, rate)
	return rate
}
