package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"divvy/internal/amqp"
	"divvy/internal/core"
	"divvy/internal/export"
	"divvy/internal/ledger"
)

const (
	defaultBatchSize = 50
	// Drafts younger than this are left to their in-flight queue
	// message; the sweep only picks up what the broker lost.
	defaultMinDraftAge = time.Minute
)

// Worker retries parked drafts and exports approved expenses to the
// audit sheet. Queue messages drive immediate retries; the periodic
// sweep is the backup for anything a lost message leaves behind.
type Worker struct {
	svc         *ledger.Service
	store       ledger.Store
	exporter    export.ExpenseExporter
	batchSize   int
	minDraftAge time.Duration
}

func NewWorker(svc *ledger.Service, store ledger.Store, exporter export.ExpenseExporter, batchSize int) *Worker {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Worker{
		svc:         svc,
		store:       store,
		exporter:    exporter,
		batchSize:   batchSize,
		minDraftAge: defaultMinDraftAge,
	}
}

// HandleDraftQueued processes one retry notification. Only transient
// failures return an error (and requeue); everything the retry itself
// settles, including drafts that are still waiting, acks the message.
func (w *Worker) HandleDraftQueued(ctx context.Context, msg *amqp.DraftQueuedMessage) error {
	e, err := w.svc.RetryDraft(ctx, msg.DraftKey)
	switch {
	case err == nil:
		slog.InfoContext(ctx, "draft approved on retry",
			"draft_key", msg.DraftKey,
			"expense_id", e.ID)
		return nil
	case errors.Is(err, ledger.ErrDraftNotFound):
		// Already retried by the sweep or deleted; nothing to do.
		return nil
	case errors.Is(err, ledger.ErrAwaitingRate):
		// Attempt recorded; the periodic sweep tries again later.
		slog.InfoContext(ctx, "draft still awaiting rate", "draft_key", msg.DraftKey)
		return nil
	case errors.Is(err, core.ErrInvalidExpense):
		slog.WarnContext(ctx, "parked draft no longer valid, dropped",
			"draft_key", msg.DraftKey,
			"error", err)
		return nil
	default:
		return fmt.Errorf("retry draft %s: %w", msg.DraftKey, err)
	}
}

// ProcessPendingDrafts retries every parked draft old enough that no
// queue message should still be in flight for it.
func (w *Worker) ProcessPendingDrafts(ctx context.Context) error {
	cutoff := time.Now().Add(-w.minDraftAge)
	drafts, err := w.svc.PendingDrafts(ctx, cutoff, w.batchSize)
	if err != nil {
		return fmt.Errorf("list pending drafts: %w", err)
	}
	if len(drafts) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "sweeping pending drafts", "count", len(drafts))

	for _, d := range drafts {
		_, err := w.svc.RetryDraft(ctx, d.DraftKey)
		switch {
		case err == nil:
		case errors.Is(err, ledger.ErrDraftNotFound):
		case errors.Is(err, ledger.ErrAwaitingRate):
		case errors.Is(err, core.ErrInvalidExpense):
			slog.WarnContext(ctx, "dropped invalid parked draft",
				"draft_key", d.DraftKey,
				"error", err)
		default:
			slog.ErrorContext(ctx, "draft retry failed",
				"draft_key", d.DraftKey,
				"attempts", d.Attempts,
				"error", err)
		}
	}
	return nil
}

// ProcessPendingExport appends unexported expenses to the audit sheet
// and marks them exported. A failed row stays pending for the next
// sweep.
func (w *Worker) ProcessPendingExport(ctx context.Context) error {
	if w.exporter == nil {
		return nil
	}

	pending, err := w.store.ListPendingExport(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("list pending export: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "exporting expenses", "count", len(pending))

	for _, e := range pending {
		ref, err := w.exporter.Export(ctx, e)
		if err != nil {
			slog.ErrorContext(ctx, "export failed",
				"expense_id", e.ID,
				"ledger_id", e.LedgerID,
				"error", err)
			continue
		}
		if err := w.store.MarkExported(ctx, e.ID); err != nil {
			// The row is on the sheet; a duplicate on the next sweep
			// beats losing the expense.
			slog.ErrorContext(ctx, "mark exported failed",
				"expense_id", e.ID,
				"error", err)
			continue
		}
		slog.InfoContext(ctx, "expense exported",
			"expense_id", e.ID,
			"ref", ref)
	}
	return nil
}

// StartupCheck drains the backlog once before the periodic loop starts,
// recovering from missed messages or worker downtime.
func (w *Worker) StartupCheck(ctx context.Context) error {
	if err := w.ProcessPendingDrafts(ctx); err != nil {
		return fmt.Errorf("startup draft sweep: %w", err)
	}
	if err := w.ProcessPendingExport(ctx); err != nil {
		return fmt.Errorf("startup export sweep: %w", err)
	}
	return nil
}

// Run executes both sweeps on the given interval until ctx is done.
func (w *Worker) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.ProcessPendingDrafts(ctx); err != nil {
				slog.ErrorContext(ctx, "draft sweep failed", "error", err)
			}
			if err := w.ProcessPendingExport(ctx); err != nil {
				slog.ErrorContext(ctx, "export sweep failed", "error", err)
			}
		}
	}
}
