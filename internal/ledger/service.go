// Package ledger orchestrates expense creation, voiding and the derived
// balance and settlement views. Mutations on one ledger are serialized;
// different ledgers never contend.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"divvy/internal/core"
	"divvy/internal/fx"
)

var (
	// ErrAwaitingRate means the expense was not created because no
	// exchange rate could be resolved. The draft is parked for retry;
	// nothing needs re-entering.
	ErrAwaitingRate = errors.New("awaiting exchange rate")

	// ErrDraftNotFound is returned when retrying a draft that no longer
	// exists, usually because an earlier retry already consumed it.
	ErrDraftNotFound = errors.New("pending draft not found")
)

// AwaitingRateError carries the parked draft key and the unresolved
// pair. It matches ErrAwaitingRate under errors.Is.
type AwaitingRateError struct {
	DraftKey string
	From     core.Currency
	To       core.Currency
}

func (e *AwaitingRateError) Error() string {
	return fmt.Sprintf("awaiting exchange rate %s->%s (draft %s)", e.From, e.To, e.DraftKey)
}

func (e *AwaitingRateError) Is(target error) bool { return target == ErrAwaitingRate }

// Service coordinates the store, the rate resolver and the retry queue.
type Service struct {
	store    Store
	resolver *fx.Resolver
	queue    RetryQueue // optional; nil skips queueing

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewService(store Store, resolver *fx.Resolver, queue RetryQueue) *Service {
	return &Service{
		store:    store,
		resolver: resolver,
		queue:    queue,
		locks:    make(map[int64]*sync.Mutex),
	}
}

// ledgerLock returns the mutex serializing mutations for one ledger.
func (s *Service) ledgerLock(ledgerID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[ledgerID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[ledgerID] = l
	}
	return l
}

// CreateLedger registers a new ledger with its base currency.
func (s *Service) CreateLedger(ctx context.Context, title string, base core.Currency) (core.Ledger, error) {
	if err := core.ValidateLedgerTitle(title); err != nil {
		return core.Ledger{}, err
	}
	if !base.Valid() {
		return core.Ledger{}, fmt.Errorf("%w: unrecognized base currency %s", core.ErrInvalidCurrency, base)
	}
	l, err := s.store.CreateLedger(ctx, title, base)
	if err != nil {
		return core.Ledger{}, fmt.Errorf("create ledger: %w", err)
	}
	slog.InfoContext(ctx, "Ledger created", "ledger_id", l.ID, "base_currency", l.BaseCurrency)
	return l, nil
}

// SetBaseCurrency changes a ledger's base currency. Allowed only while
// the ledger has no expenses; afterwards every stored base amount is
// fixed in the old currency and the change is refused.
func (s *Service) SetBaseCurrency(ctx context.Context, ledgerID int64, base core.Currency) error {
	if !base.Valid() {
		return fmt.Errorf("%w: unrecognized base currency %s", core.ErrInvalidCurrency, base)
	}
	lock := s.ledgerLock(ledgerID)
	lock.Lock()
	defer lock.Unlock()

	n, err := s.store.CountExpenses(ctx, ledgerID)
	if err != nil {
		return fmt.Errorf("count expenses: %w", err)
	}
	if n > 0 {
		return core.ErrCurrencyLocked
	}
	if err := s.store.SetBaseCurrency(ctx, ledgerID, base); err != nil {
		return fmt.Errorf("set base currency: %w", err)
	}
	slog.InfoContext(ctx, "Base currency changed", "ledger_id", ledgerID, "base_currency", base)
	return nil
}

// Ledger returns one ledger by ID.
func (s *Service) Ledger(ctx context.Context, ledgerID int64) (core.Ledger, error) {
	return s.store.GetLedger(ctx, ledgerID)
}

// AddParticipant registers a real participant on a ledger.
func (s *Service) AddParticipant(ctx context.Context, p core.Participant) (core.Participant, error) {
	if p.DisplayName == "" {
		return core.Participant{}, &core.InvalidExpenseError{Reason: "participant needs a display name"}
	}
	if !p.Weight.IsPositive() {
		p.Weight = decimal.NewFromInt(1)
	}
	created, err := s.store.AddParticipant(ctx, p)
	if err != nil {
		return core.Participant{}, fmt.Errorf("add participant: %w", err)
	}
	return created, nil
}

// AddVirtualParticipant registers a person without an account under the
// ledger's reserved negative identity space.
func (s *Service) AddVirtualParticipant(ctx context.Context, ledgerID int64, displayName string) (core.Participant, error) {
	if displayName == "" {
		return core.Participant{}, &core.InvalidExpenseError{Reason: "participant needs a display name"}
	}
	id, err := s.store.NextVirtualID(ctx, ledgerID)
	if err != nil {
		return core.Participant{}, fmt.Errorf("allocate virtual id: %w", err)
	}
	created, err := s.store.AddParticipant(ctx, core.Participant{
		ID:          id,
		LedgerID:    ledgerID,
		DisplayName: displayName,
		Weight:      decimal.NewFromInt(1),
		Virtual:     true,
	})
	if err != nil {
		return core.Participant{}, fmt.Errorf("add virtual participant: %w", err)
	}
	slog.InfoContext(ctx, "Virtual participant added", "ledger_id", ledgerID, "participant_id", created.ID)
	return created, nil
}

// Participants lists a ledger's members.
func (s *Service) Participants(ctx context.Context, ledgerID int64) ([]core.Participant, error) {
	return s.store.ListParticipants(ctx, ledgerID)
}

// AddExpense validates the draft, resolves its exchange rate and appends
// the approved expense with a weight snapshot cloned from the draft.
//
// A violated precondition returns an error matching
// core.ErrInvalidExpense and persists nothing. When every rate layer
// fails the draft is parked and the error matches ErrAwaitingRate,
// carrying the draft key for later retry.
func (s *Service) AddExpense(ctx context.Context, ledgerID int64, draft core.ExpenseDraft) (core.Expense, error) {
	lock := s.ledgerLock(ledgerID)
	lock.Lock()
	defer lock.Unlock()

	e, err := s.approve(ctx, ledgerID, draft)
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, fx.ErrRateUnavailable) {
		return core.Expense{}, err
	}
	return core.Expense{}, s.parkDraft(ctx, ledgerID, draft, err)
}

// approve runs the draft through validation, rate resolution and the
// append. Rate trouble surfaces as the resolver's own error so callers
// can decide between parking and attempt accounting.
func (s *Service) approve(ctx context.Context, ledgerID int64, draft core.ExpenseDraft) (core.Expense, error) {
	if err := draft.Validate(); err != nil {
		return core.Expense{}, err
	}
	l, err := s.store.GetLedger(ctx, ledgerID)
	if err != nil {
		return core.Expense{}, err
	}
	if err := s.checkParticipants(ctx, ledgerID, draft); err != nil {
		return core.Expense{}, err
	}

	if draft.SpentAt.IsZero() {
		draft.SpentAt = time.Now().UTC()
	}

	rate, err := s.resolver.Resolve(ctx, draft.Currency, l.BaseCurrency, draft.SpentAt)
	if err != nil {
		return core.Expense{}, err
	}

	e := core.Expense{
		LedgerID:         ledgerID,
		PayerID:          draft.PayerID,
		OriginalAmount:   draft.Amount,
		OriginalCurrency: draft.Currency,
		AmountInBase:     draft.Amount.Mul(rate.Value),
		FxRate:           rate.Value,
		FxApproximate:    rate.Approximate,
		Category:         draft.Category,
		SpentAt:          draft.SpentAt,
		Snapshot:         core.NewWeightSnapshot(draft.Participants),
		Status:           core.StatusApproved,
		ExportStatus:     core.ExportPending,
		CreatedAt:        time.Now().UTC(),
	}
	id, err := s.store.AppendExpense(ctx, e)
	if err != nil {
		return core.Expense{}, fmt.Errorf("append expense: %w", err)
	}
	e.ID = id

	slog.InfoContext(ctx, "Expense created",
		"ledger_id", ledgerID,
		"expense_id", id,
		"payer_id", e.PayerID,
		"amount", e.OriginalAmount,
		"currency", e.OriginalCurrency,
		"amount_base", e.AmountInBase,
		"fx_approximate", e.FxApproximate,
		"participants", len(e.Snapshot))
	return e, nil
}

// checkParticipants verifies the payer and every share references a
// registered member of the ledger.
func (s *Service) checkParticipants(ctx context.Context, ledgerID int64, draft core.ExpenseDraft) error {
	members, err := s.store.ListParticipants(ctx, ledgerID)
	if err != nil {
		return fmt.Errorf("list participants: %w", err)
	}
	known := make(map[int64]bool, len(members))
	for _, m := range members {
		known[m.ID] = true
	}
	if !known[draft.PayerID] {
		return &core.InvalidExpenseError{Reason: fmt.Sprintf("payer %d not registered", draft.PayerID)}
	}
	for _, sh := range draft.Participants {
		if !known[sh.ParticipantID] {
			return &core.InvalidExpenseError{Reason: fmt.Sprintf("participant %d not registered", sh.ParticipantID)}
		}
	}
	return nil
}

// parkDraft stores the draft for retry and notifies the worker. The
// returned error always matches ErrAwaitingRate.
func (s *Service) parkDraft(ctx context.Context, ledgerID int64, draft core.ExpenseDraft, cause error) error {
	key := uuid.NewString()
	pd := PendingDraft{
		DraftKey:  key,
		LedgerID:  ledgerID,
		Draft:     draft,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.SavePendingDraft(ctx, pd); err != nil {
		return fmt.Errorf("park draft: %w", err)
	}

	if s.queue != nil {
		if err := s.queue.PublishDraftQueued(ctx, key); err != nil {
			// The sweep will still find the stored draft.
			slog.WarnContext(ctx, "Failed to queue draft retry", "draft_key", key, "error", err)
		}
	}

	awaiting := &AwaitingRateError{DraftKey: key}
	var unavailable *fx.RateUnavailableError
	if errors.As(cause, &unavailable) {
		awaiting.From = unavailable.From
		awaiting.To = unavailable.To
	}
	slog.WarnContext(ctx, "Expense parked awaiting rate",
		"ledger_id", ledgerID, "draft_key", key, "from", awaiting.From, "to", awaiting.To)
	return awaiting
}

// RetryDraft re-runs a parked draft. On success, or when the draft turns
// out invalid, the draft is consumed; while the rate is still missing
// the attempt is recorded and the error matches ErrAwaitingRate.
func (s *Service) RetryDraft(ctx context.Context, draftKey string) (core.Expense, error) {
	pd, err := s.store.GetPendingDraft(ctx, draftKey)
	if err != nil {
		return core.Expense{}, err
	}

	lock := s.ledgerLock(pd.LedgerID)
	lock.Lock()
	defer lock.Unlock()

	e, err := s.approve(ctx, pd.LedgerID, pd.Draft)
	switch {
	case err == nil:
		if derr := s.store.DeletePendingDraft(ctx, draftKey); derr != nil {
			slog.ErrorContext(ctx, "Failed to delete consumed draft", "draft_key", draftKey, "error", derr)
		}
		return e, nil
	case errors.Is(err, fx.ErrRateUnavailable):
		if merr := s.store.MarkDraftAttempt(ctx, draftKey, err.Error()); merr != nil {
			slog.ErrorContext(ctx, "Failed to record draft attempt", "draft_key", draftKey, "error", merr)
		}
		awaiting := &AwaitingRateError{DraftKey: draftKey}
		var unavailable *fx.RateUnavailableError
		if errors.As(err, &unavailable) {
			awaiting.From = unavailable.From
			awaiting.To = unavailable.To
		}
		return core.Expense{}, awaiting
	case errors.Is(err, core.ErrInvalidExpense):
		// Retrying cannot heal a bad draft; drop it.
		if derr := s.store.DeletePendingDraft(ctx, draftKey); derr != nil {
			slog.ErrorContext(ctx, "Failed to delete invalid draft", "draft_key", draftKey, "error", derr)
		}
		return core.Expense{}, err
	default:
		return core.Expense{}, err
	}
}

// PendingDrafts lists parked drafts created before olderThan.
func (s *Service) PendingDrafts(ctx context.Context, olderThan time.Time, limit int) ([]PendingDraft, error) {
	return s.store.ListPendingDrafts(ctx, olderThan, limit)
}

// VoidExpense soft-deletes: the expense stays retrievable for audit but
// is excluded from balances, settlement and stats.
func (s *Service) VoidExpense(ctx context.Context, ledgerID, expenseID int64) error {
	lock := s.ledgerLock(ledgerID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.store.MarkVoid(ctx, ledgerID, expenseID); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Expense voided", "ledger_id", ledgerID, "expense_id", expenseID)
	return nil
}

// Expenses lists a ledger's expenses inside the window.
func (s *Service) Expenses(ctx context.Context, ledgerID int64, window core.Window, includeVoid bool) ([]core.Expense, error) {
	return s.store.ListExpenses(ctx, ledgerID, window, includeVoid)
}

// Balances derives net positions from the approved expenses in scope.
func (s *Service) Balances(ctx context.Context, ledgerID int64, window core.Window) (map[int64]decimal.Decimal, error) {
	expenses, err := s.store.ListExpenses(ctx, ledgerID, window, false)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	return core.ComputeBalances(expenses, window), nil
}

// Settlement plans the transfers that zero out current balances.
func (s *Service) Settlement(ctx context.Context, ledgerID int64) ([]core.Transfer, error) {
	balances, err := s.Balances(ctx, ledgerID, core.Window{})
	if err != nil {
		return nil, err
	}
	return core.PlanSettlement(balances), nil
}

// Stats aggregates approved in-window expenses per category.
func (s *Service) Stats(ctx context.Context, ledgerID int64, window core.Window) ([]core.CategoryAmount, error) {
	expenses, err := s.store.ListExpenses(ctx, ledgerID, window, false)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	return core.CategoryTotals(expenses, window), nil
}
