package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"divvy/internal/core"
	"divvy/internal/fx"
	"divvy/internal/ledger"
	"divvy/internal/storage"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var spentAt = time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)

// stubSource serves canned quotes for directed pairs.
type stubSource struct {
	quotes map[string]string
}

func (s *stubSource) FetchRate(_ context.Context, from, to core.Currency) (decimal.Decimal, error) {
	if rate, ok := s.quotes[string(from)+"->"+string(to)]; ok {
		return dec(rate), nil
	}
	return decimal.Zero, fx.ErrSourceUnavailable
}

// queueRecorder captures published draft keys.
type queueRecorder struct {
	keys []string
}

func (q *queueRecorder) PublishDraftQueued(_ context.Context, draftKey string) error {
	q.keys = append(q.keys, draftKey)
	return nil
}

type fixture struct {
	svc    *ledger.Service
	store  *storage.Memory
	source *stubSource
	queue  *queueRecorder
	ledger core.Ledger
}

// newFixture builds a service over the in-memory store with a ledger in
// the given base currency and participants 1 and 2 registered.
func newFixture(t *testing.T, base core.Currency) *fixture {
	t.Helper()
	ctx := context.Background()

	store := storage.NewMemory()
	source := &stubSource{quotes: map[string]string{}}
	queue := &queueRecorder{}
	resolver := fx.NewResolver(source, fx.DefaultStaticTable(), fx.NewRateCache(64, fx.DefaultCacheTTL), time.Second)
	svc := ledger.NewService(store, resolver, queue)

	l, err := svc.CreateLedger(ctx, "trip", base)
	if err != nil {
		t.Fatalf("CreateLedger error = %v", err)
	}
	for id, name := range map[int64]string{1: "alice", 2: "bob"} {
		_, err := svc.AddParticipant(ctx, core.Participant{ID: id, LedgerID: l.ID, DisplayName: name})
		if err != nil {
			t.Fatalf("AddParticipant(%s) error = %v", name, err)
		}
	}
	return &fixture{svc: svc, store: store, source: source, queue: queue, ledger: l}
}

func equalSplit(payer int64, amount, currency string, ids ...int64) core.ExpenseDraft {
	shares := make([]core.Share, len(ids))
	for i, id := range ids {
		shares[i] = core.Share{ParticipantID: id, Weight: dec("1")}
	}
	return core.ExpenseDraft{
		PayerID:      payer,
		Amount:       dec(amount),
		Currency:     core.Currency(currency),
		Participants: shares,
		SpentAt:      spentAt,
	}
}

func TestAddExpenseSameCurrency(t *testing.T) {
	f := newFixture(t, "USD")
	ctx := context.Background()

	e, err := f.svc.AddExpense(ctx, f.ledger.ID, equalSplit(1, "100", "USD", 1, 2))
	if err != nil {
		t.Fatalf("AddExpense error = %v", err)
	}
	if !e.AmountInBase.Equal(dec("100")) {
		t.Errorf("AmountInBase = %s, want 100", e.AmountInBase)
	}
	if !e.FxRate.Equal(dec("1")) || e.FxApproximate {
		t.Errorf("rate = %s approximate=%v, want exact 1", e.FxRate, e.FxApproximate)
	}
	if e.Status != core.StatusApproved {
		t.Errorf("status = %s, want approved", e.Status)
	}
	if e.ID == 0 {
		t.Error("expense was not assigned an ID")
	}
}

func TestAddExpenseConvertsToBase(t *testing.T) {
	f := newFixture(t, "ILS")
	f.source.quotes["EUR->ILS"] = "4.10"
	ctx := context.Background()

	e, err := f.svc.AddExpense(ctx, f.ledger.ID, equalSplit(1, "50", "EUR", 1, 2))
	if err != nil {
		t.Fatalf("AddExpense error = %v", err)
	}
	if !e.AmountInBase.Equal(dec("205")) {
		t.Errorf("AmountInBase = %s, want 205", e.AmountInBase)
	}
	if e.FxApproximate {
		t.Error("direct quote flagged approximate")
	}
	if !e.OriginalAmount.Equal(dec("50")) || e.OriginalCurrency != "EUR" {
		t.Errorf("original = %s %s, want 50 EUR", e.OriginalAmount, e.OriginalCurrency)
	}
}

func TestAddExpenseStaticFallback(t *testing.T) {
	// No live quotes anywhere; the static table carries EUR->ILS 4.00.
	f := newFixture(t, "ILS")
	ctx := context.Background()

	e, err := f.svc.AddExpense(ctx, f.ledger.ID, equalSplit(1, "25", "EUR", 1, 2))
	if err != nil {
		t.Fatalf("AddExpense error = %v", err)
	}
	if !e.FxApproximate {
		t.Error("static-table rate must be approximate")
	}
	if !e.AmountInBase.Equal(dec("100")) {
		t.Errorf("AmountInBase = %s, want 100", e.AmountInBase)
	}
}

func TestAddExpenseInvalid(t *testing.T) {
	f := newFixture(t, "USD")
	ctx := context.Background()

	zeroAmount := equalSplit(1, "1", "USD", 1, 2)
	zeroAmount.Amount = decimal.Zero

	tests := []struct {
		name  string
		draft core.ExpenseDraft
	}{
		{"zero amount", zeroAmount},
		{"no participants", equalSplit(1, "10", "USD")},
		{"unregistered payer", equalSplit(99, "10", "USD", 1, 2)},
		{"unregistered participant", equalSplit(1, "10", "USD", 1, 99)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.AddExpense(ctx, f.ledger.ID, tt.draft)
			if !errors.Is(err, core.ErrInvalidExpense) {
				t.Errorf("error = %v, want ErrInvalidExpense", err)
			}
		})
	}

	items, err := f.svc.Expenses(ctx, f.ledger.ID, core.Window{}, true)
	if err != nil {
		t.Fatalf("Expenses error = %v", err)
	}
	if len(items) != 0 {
		t.Errorf("invalid drafts persisted %d expenses", len(items))
	}
}

func TestAddExpenseAwaitingRate(t *testing.T) {
	f := newFixture(t, "SEK") // no quotes, no static entry for JPY->SEK
	ctx := context.Background()

	_, err := f.svc.AddExpense(ctx, f.ledger.ID, equalSplit(1, "100", "JPY", 1, 2))
	if !errors.Is(err, ledger.ErrAwaitingRate) {
		t.Fatalf("error = %v, want ErrAwaitingRate", err)
	}
	var awaiting *ledger.AwaitingRateError
	if !errors.As(err, &awaiting) {
		t.Fatalf("error %v is not AwaitingRateError", err)
	}
	if awaiting.DraftKey == "" {
		t.Error("awaiting error missing draft key")
	}
	if awaiting.From != "JPY" || awaiting.To != "SEK" {
		t.Errorf("pair = %s->%s, want JPY->SEK", awaiting.From, awaiting.To)
	}

	// Ledger unchanged, draft parked, worker notified.
	items, _ := f.svc.Expenses(ctx, f.ledger.ID, core.Window{}, true)
	if len(items) != 0 {
		t.Errorf("awaiting-rate draft persisted %d expenses", len(items))
	}
	if len(f.queue.keys) != 1 || f.queue.keys[0] != awaiting.DraftKey {
		t.Errorf("queue got %v, want [%s]", f.queue.keys, awaiting.DraftKey)
	}
	drafts, err := f.svc.PendingDrafts(ctx, time.Now().Add(time.Minute), 0)
	if err != nil {
		t.Fatalf("PendingDrafts error = %v", err)
	}
	if len(drafts) != 1 || drafts[0].DraftKey != awaiting.DraftKey {
		t.Errorf("parked drafts = %v, want one with key %s", drafts, awaiting.DraftKey)
	}
}

func TestRetryDraft(t *testing.T) {
	f := newFixture(t, "SEK")
	ctx := context.Background()

	_, err := f.svc.AddExpense(ctx, f.ledger.ID, equalSplit(1, "100", "JPY", 1, 2))
	var awaiting *ledger.AwaitingRateError
	if !errors.As(err, &awaiting) {
		t.Fatalf("expected awaiting-rate, got %v", err)
	}

	// Still unavailable: the attempt is recorded and the draft survives.
	_, err = f.svc.RetryDraft(ctx, awaiting.DraftKey)
	if !errors.Is(err, ledger.ErrAwaitingRate) {
		t.Fatalf("retry error = %v, want ErrAwaitingRate", err)
	}
	drafts, _ := f.svc.PendingDrafts(ctx, time.Now().Add(time.Minute), 0)
	if len(drafts) != 1 || drafts[0].Attempts != 1 {
		t.Fatalf("draft after failed retry = %+v, want attempts=1", drafts)
	}

	// The source comes back; the retry must create the expense and
	// consume the draft without anyone re-entering it.
	f.source.quotes["JPY->SEK"] = "0.07"
	e, err := f.svc.RetryDraft(ctx, awaiting.DraftKey)
	if err != nil {
		t.Fatalf("retry error = %v", err)
	}
	if !e.AmountInBase.Equal(dec("7")) {
		t.Errorf("AmountInBase = %s, want 7", e.AmountInBase)
	}
	if _, err := f.svc.RetryDraft(ctx, awaiting.DraftKey); !errors.Is(err, ledger.ErrDraftNotFound) {
		t.Errorf("second retry error = %v, want ErrDraftNotFound", err)
	}

	items, _ := f.svc.Expenses(ctx, f.ledger.ID, core.Window{}, false)
	if len(items) != 1 {
		t.Errorf("ledger has %d expenses after retry, want 1", len(items))
	}
}

func TestVoidExpense(t *testing.T) {
	f := newFixture(t, "USD")
	ctx := context.Background()

	e, err := f.svc.AddExpense(ctx, f.ledger.ID, equalSplit(1, "100", "USD", 1, 2))
	if err != nil {
		t.Fatalf("AddExpense error = %v", err)
	}

	if err := f.svc.VoidExpense(ctx, f.ledger.ID, e.ID); err != nil {
		t.Fatalf("VoidExpense error = %v", err)
	}

	// Voided expenses leave balances but stay retrievable for audit.
	balances, err := f.svc.Balances(ctx, f.ledger.ID, core.Window{})
	if err != nil {
		t.Fatalf("Balances error = %v", err)
	}
	if len(balances) != 0 {
		t.Errorf("balances after void = %v, want empty", balances)
	}
	all, _ := f.svc.Expenses(ctx, f.ledger.ID, core.Window{}, true)
	if len(all) != 1 || all[0].Status != core.StatusVoid {
		t.Errorf("voided expense not retrievable: %+v", all)
	}

	if err := f.svc.VoidExpense(ctx, f.ledger.ID, e.ID); !errors.Is(err, core.ErrExpenseVoided) {
		t.Errorf("double void error = %v, want ErrExpenseVoided", err)
	}
	if err := f.svc.VoidExpense(ctx, f.ledger.ID, 9999); !errors.Is(err, core.ErrExpenseNotFound) {
		t.Errorf("void missing error = %v, want ErrExpenseNotFound", err)
	}
}

func TestBalancesAndSettlement(t *testing.T) {
	f := newFixture(t, "USD")
	ctx := context.Background()
	if _, err := f.svc.AddParticipant(ctx, core.Participant{ID: 3, LedgerID: f.ledger.ID, DisplayName: "carol"}); err != nil {
		t.Fatalf("AddParticipant error = %v", err)
	}

	if _, err := f.svc.AddExpense(ctx, f.ledger.ID, equalSplit(1, "90", "USD", 1, 2, 3)); err != nil {
		t.Fatalf("AddExpense error = %v", err)
	}

	balances, err := f.svc.Balances(ctx, f.ledger.ID, core.Window{})
	if err != nil {
		t.Fatalf("Balances error = %v", err)
	}
	if !balances[1].Equal(dec("60")) || !balances[2].Equal(dec("-30")) || !balances[3].Equal(dec("-30")) {
		t.Errorf("balances = %v, want {1:60 2:-30 3:-30}", balances)
	}

	plan, err := f.svc.Settlement(ctx, f.ledger.ID)
	if err != nil {
		t.Fatalf("Settlement error = %v", err)
	}
	if len(plan) != 2 {
		t.Fatalf("plan = %v, want 2 transfers", plan)
	}
	if plan[0].From != 2 || plan[0].To != 1 || plan[1].From != 3 || plan[1].To != 1 {
		t.Errorf("plan order = %v, want 2->1 then 3->1", plan)
	}
}

func TestSetBaseCurrencyLocksAfterFirstExpense(t *testing.T) {
	f := newFixture(t, "USD")
	ctx := context.Background()

	if err := f.svc.SetBaseCurrency(ctx, f.ledger.ID, "EUR"); err != nil {
		t.Fatalf("SetBaseCurrency before expenses error = %v", err)
	}

	if _, err := f.svc.AddExpense(ctx, f.ledger.ID, equalSplit(1, "10", "EUR", 1, 2)); err != nil {
		t.Fatalf("AddExpense error = %v", err)
	}

	err := f.svc.SetBaseCurrency(ctx, f.ledger.ID, "ILS")
	if !errors.Is(err, core.ErrCurrencyLocked) {
		t.Errorf("SetBaseCurrency after expense error = %v, want ErrCurrencyLocked", err)
	}
}

func TestAddVirtualParticipant(t *testing.T) {
	f := newFixture(t, "USD")
	ctx := context.Background()

	first, err := f.svc.AddVirtualParticipant(ctx, f.ledger.ID, "guest one")
	if err != nil {
		t.Fatalf("AddVirtualParticipant error = %v", err)
	}
	second, err := f.svc.AddVirtualParticipant(ctx, f.ledger.ID, "guest two")
	if err != nil {
		t.Fatalf("AddVirtualParticipant error = %v", err)
	}
	if first.ID != -1 || second.ID != -2 {
		t.Errorf("virtual IDs = %d, %d, want -1, -2", first.ID, second.ID)
	}
	if !first.Virtual || !second.Virtual {
		t.Error("virtual participants not flagged")
	}

	// Virtual participants are full ledger members.
	if _, err := f.svc.AddExpense(ctx, f.ledger.ID, equalSplit(1, "30", "USD", 1, first.ID)); err != nil {
		t.Fatalf("AddExpense with virtual participant error = %v", err)
	}
	balances, _ := f.svc.Balances(ctx, f.ledger.ID, core.Window{})
	if !balances[first.ID].Equal(dec("-15")) {
		t.Errorf("virtual balance = %s, want -15", balances[first.ID])
	}
}

func TestStats(t *testing.T) {
	f := newFixture(t, "USD")
	ctx := context.Background()

	groceries := equalSplit(1, "80", "USD", 1, 2)
	groceries.Category = "groceries"
	fuel := equalSplit(2, "30", "USD", 1, 2)
	fuel.Category = "fuel"
	for _, d := range []core.ExpenseDraft{groceries, fuel} {
		if _, err := f.svc.AddExpense(ctx, f.ledger.ID, d); err != nil {
			t.Fatalf("AddExpense error = %v", err)
		}
	}

	stats, err := f.svc.Stats(ctx, f.ledger.ID, core.Window{})
	if err != nil {
		t.Fatalf("Stats error = %v", err)
	}
	if len(stats) != 2 || stats[0].Name != "groceries" || !stats[0].Amount.Equal(dec("80")) {
		t.Errorf("stats = %v, want groceries 80 first", stats)
	}
}
