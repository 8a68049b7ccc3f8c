package ledger

import (
	"context"
	"time"

	"divvy/internal/core"
)

// Ports for the storage and messaging collaborators.
type (
	// Store is the persistence boundary. Implementations must keep the
	// full durable record per expense: original amount and currency,
	// base amount, rate, approximate flag and the complete weight
	// snapshot.
	Store interface {
		CreateLedger(ctx context.Context, title string, base core.Currency) (core.Ledger, error)
		GetLedger(ctx context.Context, ledgerID int64) (core.Ledger, error)
		SetBaseCurrency(ctx context.Context, ledgerID int64, base core.Currency) error

		AddParticipant(ctx context.Context, p core.Participant) (core.Participant, error)
		// NextVirtualID allocates the next ID from the ledger's reserved
		// negative space, starting at -1 and decrementing.
		NextVirtualID(ctx context.Context, ledgerID int64) (int64, error)
		ListParticipants(ctx context.Context, ledgerID int64) ([]core.Participant, error)

		AppendExpense(ctx context.Context, e core.Expense) (int64, error)
		MarkVoid(ctx context.Context, ledgerID, expenseID int64) error
		// ListExpenses returns expenses for a ledger inside the window,
		// approved only unless includeVoid is set, ordered by creation.
		ListExpenses(ctx context.Context, ledgerID int64, window core.Window, includeVoid bool) ([]core.Expense, error)
		CountExpenses(ctx context.Context, ledgerID int64) (int, error)

		SavePendingDraft(ctx context.Context, d PendingDraft) error
		GetPendingDraft(ctx context.Context, draftKey string) (PendingDraft, error)
		ListPendingDrafts(ctx context.Context, olderThan time.Time, limit int) ([]PendingDraft, error)
		MarkDraftAttempt(ctx context.Context, draftKey string, lastError string) error
		DeletePendingDraft(ctx context.Context, draftKey string) error

		ListPendingExport(ctx context.Context, limit int) ([]core.Expense, error)
		MarkExported(ctx context.Context, expenseID int64) error
	}

	// RetryQueue notifies the worker that a draft is waiting for an
	// exchange rate. Queueing is best-effort; the periodic sweep picks
	// up anything a lost message leaves behind.
	RetryQueue interface {
		PublishDraftQueued(ctx context.Context, draftKey string) error
	}
)

// PendingDraft is a validated expense draft parked because its exchange
// rate could not be resolved. It retries without the caller re-entering
// anything.
type PendingDraft struct {
	DraftKey  string
	LedgerID  int64
	Draft     core.ExpenseDraft
	Attempts  int
	LastError string
	CreatedAt time.Time
}
