package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"divvy/internal/core"
	"divvy/internal/ledger"

	_ "modernc.org/sqlite"
)

// SQLite is the durable Store. Monetary values are stored as decimal
// strings, never as floats.
type SQLite struct {
	db *sql.DB
}

var _ ledger.Store = (*SQLite)(nil)

func NewSQLite(dbPath string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite serializes writers at the file level; a single pooled
	// connection avoids busy errors instead of surfacing them.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLite) CreateLedger(ctx context.Context, title string, base core.Currency) (core.Ledger, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO ledgers (title, base_currency, virtual_seq, created_at) VALUES (?, ?, -1, ?)`,
		title, string(base), now)
	if err != nil {
		return core.Ledger{}, fmt.Errorf("insert ledger: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Ledger{}, fmt.Errorf("ledger id: %w", err)
	}
	return core.Ledger{ID: id, Title: title, BaseCurrency: base, VirtualSeq: -1, CreatedAt: now}, nil
}

func (s *SQLite) GetLedger(ctx context.Context, ledgerID int64) (core.Ledger, error) {
	var (
		l    core.Ledger
		base string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, base_currency, virtual_seq, created_at FROM ledgers WHERE id = ?`,
		ledgerID).Scan(&l.ID, &l.Title, &base, &l.VirtualSeq, &l.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Ledger{}, core.ErrLedgerNotFound
	}
	if err != nil {
		return core.Ledger{}, fmt.Errorf("select ledger: %w", err)
	}
	l.BaseCurrency = core.Currency(base)
	return l, nil
}

func (s *SQLite) SetBaseCurrency(ctx context.Context, ledgerID int64, base core.Currency) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ledgers SET base_currency = ? WHERE id = ?`, string(base), ledgerID)
	if err != nil {
		return fmt.Errorf("update base currency: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrLedgerNotFound
	}
	return nil
}

func (s *SQLite) AddParticipant(ctx context.Context, p core.Participant) (core.Participant, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Participant{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var exists int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM ledgers WHERE id = ?`, p.LedgerID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Participant{}, core.ErrLedgerNotFound
	}
	if err != nil {
		return core.Participant{}, fmt.Errorf("select ledger: %w", err)
	}

	if p.ID == 0 {
		err = tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(id), 0) + 1 FROM participants WHERE ledger_id = ? AND id > 0`,
			p.LedgerID).Scan(&p.ID)
		if err != nil {
			return core.Participant{}, fmt.Errorf("allocate participant id: %w", err)
		}
	}

	// Re-registering refreshes the display name and weight; the virtual
	// flag keeps its original value.
	_, err = tx.ExecContext(ctx,
		`INSERT INTO participants (ledger_id, id, display_name, weight, virtual) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (ledger_id, id) DO UPDATE SET display_name = excluded.display_name, weight = excluded.weight`,
		p.LedgerID, p.ID, p.DisplayName, p.Weight.String(), p.Virtual)
	if err != nil {
		return core.Participant{}, fmt.Errorf("upsert participant: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return core.Participant{}, fmt.Errorf("commit: %w", err)
	}
	return p, nil
}

func (s *SQLite) NextVirtualID(ctx context.Context, ledgerID int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx, `SELECT virtual_seq FROM ledgers WHERE id = ?`, ledgerID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, core.ErrLedgerNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("select virtual seq: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE ledgers SET virtual_seq = ? WHERE id = ?`, seq-1, ledgerID); err != nil {
		return 0, fmt.Errorf("advance virtual seq: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return seq, nil
}

func (s *SQLite) ListParticipants(ctx context.Context, ledgerID int64) ([]core.Participant, error) {
	if _, err := s.GetLedger(ctx, ledgerID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT ledger_id, id, display_name, weight, virtual FROM participants WHERE ledger_id = ? ORDER BY id`,
		ledgerID)
	if err != nil {
		return nil, fmt.Errorf("select participants: %w", err)
	}
	defer rows.Close()

	var out []core.Participant
	for rows.Next() {
		var (
			p      core.Participant
			weight string
		)
		if err := rows.Scan(&p.LedgerID, &p.ID, &p.DisplayName, &weight, &p.Virtual); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		if p.Weight, err = parseStoredDecimal("weight", weight); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLite) AppendExpense(ctx context.Context, e core.Expense) (int64, error) {
	if _, err := s.GetLedger(ctx, e.LedgerID); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO expenses (ledger_id, payer_id, original_amount, original_currency, amount_base,
		                       fx_rate, fx_approximate, category, spent_at, status, export_status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.LedgerID, e.PayerID, e.OriginalAmount.String(), string(e.OriginalCurrency),
		e.AmountInBase.String(), e.FxRate.String(), e.FxApproximate, e.Category,
		e.SpentAt.UTC(), string(e.Status), string(e.ExportStatus), e.CreatedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("insert expense: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("expense id: %w", err)
	}

	for _, share := range e.Snapshot {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO expense_shares (expense_id, participant_id, weight) VALUES (?, ?, ?)`,
			id, share.ParticipantID, share.Weight.String()); err != nil {
			return 0, fmt.Errorf("insert share: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	slog.InfoContext(ctx, "expense saved",
		"id", id,
		"ledger_id", e.LedgerID,
		"amount_base", e.AmountInBase.String(),
		"currency", e.OriginalCurrency)
	return id, nil
}

func (s *SQLite) MarkVoid(ctx context.Context, ledgerID, expenseID int64) error {
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM expenses WHERE ledger_id = ? AND id = ?`, ledgerID, expenseID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrExpenseNotFound
	}
	if err != nil {
		return fmt.Errorf("select expense status: %w", err)
	}
	if status == string(core.StatusVoid) {
		return core.ErrExpenseVoided
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE expenses SET status = ? WHERE id = ?`, string(core.StatusVoid), expenseID); err != nil {
		return fmt.Errorf("void expense: %w", err)
	}
	return nil
}

func (s *SQLite) ListExpenses(ctx context.Context, ledgerID int64, window core.Window, includeVoid bool) ([]core.Expense, error) {
	if _, err := s.GetLedger(ctx, ledgerID); err != nil {
		return nil, err
	}

	query := `SELECT ` + expenseColumns + ` FROM expenses WHERE ledger_id = ?`
	args := []any{ledgerID}
	if !includeVoid {
		query += ` AND status = ?`
		args = append(args, string(core.StatusApproved))
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select expenses: %w", err)
	}
	defer rows.Close()

	var out []core.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		if !window.Contains(e.SpentAt) {
			continue
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.attachShares(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLite) CountExpenses(ctx context.Context, ledgerID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM expenses WHERE ledger_id = ?`, ledgerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count expenses: %w", err)
	}
	return n, nil
}

func (s *SQLite) SavePendingDraft(ctx context.Context, d ledger.PendingDraft) error {
	payload, err := json.Marshal(d.Draft)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pending_drafts (draft_key, ledger_id, payload, attempts, last_error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		d.DraftKey, d.LedgerID, string(payload), d.Attempts, d.LastError, d.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert pending draft: %w", err)
	}
	return nil
}

func (s *SQLite) GetPendingDraft(ctx context.Context, draftKey string) (ledger.PendingDraft, error) {
	var (
		d       ledger.PendingDraft
		payload string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT draft_key, ledger_id, payload, attempts, last_error, created_at FROM pending_drafts WHERE draft_key = ?`,
		draftKey).Scan(&d.DraftKey, &d.LedgerID, &payload, &d.Attempts, &d.LastError, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.PendingDraft{}, ledger.ErrDraftNotFound
	}
	if err != nil {
		return ledger.PendingDraft{}, fmt.Errorf("select pending draft: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &d.Draft); err != nil {
		return ledger.PendingDraft{}, fmt.Errorf("unmarshal draft %s: %w", draftKey, err)
	}
	return d, nil
}

func (s *SQLite) ListPendingDrafts(ctx context.Context, olderThan time.Time, limit int) ([]ledger.PendingDraft, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT draft_key, ledger_id, payload, attempts, last_error, created_at FROM pending_drafts`)
	if err != nil {
		return nil, fmt.Errorf("select pending drafts: %w", err)
	}
	defer rows.Close()

	var out []ledger.PendingDraft
	for rows.Next() {
		var (
			d       ledger.PendingDraft
			payload string
		)
		if err := rows.Scan(&d.DraftKey, &d.LedgerID, &payload, &d.Attempts, &d.LastError, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pending draft: %w", err)
		}
		if !d.CreatedAt.Before(olderThan) {
			continue
		}
		if err := json.Unmarshal([]byte(payload), &d.Draft); err != nil {
			return nil, fmt.Errorf("unmarshal draft %s: %w", d.DraftKey, err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *SQLite) MarkDraftAttempt(ctx context.Context, draftKey string, lastError string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_drafts SET attempts = attempts + 1, last_error = ? WHERE draft_key = ?`,
		lastError, draftKey)
	if err != nil {
		return fmt.Errorf("update pending draft: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrDraftNotFound
	}
	return nil
}

func (s *SQLite) DeletePendingDraft(ctx context.Context, draftKey string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_drafts WHERE draft_key = ?`, draftKey); err != nil {
		return fmt.Errorf("delete pending draft: %w", err)
	}
	return nil
}

func (s *SQLite) ListPendingExport(ctx context.Context, limit int) ([]core.Expense, error) {
	if limit <= 0 {
		limit = -1 // no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+expenseColumns+` FROM expenses WHERE export_status = ? ORDER BY id LIMIT ?`,
		string(core.ExportPending), limit)
	if err != nil {
		return nil, fmt.Errorf("select pending export: %w", err)
	}
	defer rows.Close()

	var out []core.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.attachShares(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLite) MarkExported(ctx context.Context, expenseID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE expenses SET export_status = ? WHERE id = ?`, string(core.ExportDone), expenseID)
	if err != nil {
		return fmt.Errorf("mark exported: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrExpenseNotFound
	}
	return nil
}

const expenseColumns = `id, ledger_id, payer_id, original_amount, original_currency, amount_base,
	fx_rate, fx_approximate, category, spent_at, status, export_status, created_at`

func scanExpense(rows *sql.Rows) (core.Expense, error) {
	var (
		e                                    core.Expense
		originalAmount, currency, amountBase string
		fxRate, status, exportStatus         string
	)
	err := rows.Scan(&e.ID, &e.LedgerID, &e.PayerID, &originalAmount, &currency, &amountBase,
		&fxRate, &e.FxApproximate, &e.Category, &e.SpentAt, &status, &exportStatus, &e.CreatedAt)
	if err != nil {
		return core.Expense{}, fmt.Errorf("scan expense: %w", err)
	}

	e.OriginalCurrency = core.Currency(currency)
	e.Status = core.ExpenseStatus(status)
	e.ExportStatus = core.ExportStatus(exportStatus)
	if e.OriginalAmount, err = parseStoredDecimal("original_amount", originalAmount); err != nil {
		return core.Expense{}, err
	}
	if e.AmountInBase, err = parseStoredDecimal("amount_base", amountBase); err != nil {
		return core.Expense{}, err
	}
	if e.FxRate, err = parseStoredDecimal("fx_rate", fxRate); err != nil {
		return core.Expense{}, err
	}
	return e, nil
}

// attachShares loads the weight snapshots for the given expenses in one
// query, preserving insertion order within each snapshot.
func (s *SQLite) attachShares(ctx context.Context, expenses []core.Expense) error {
	if len(expenses) == 0 {
		return nil
	}

	byID := make(map[int64]*core.Expense, len(expenses))
	args := make([]any, 0, len(expenses))
	for i := range expenses {
		byID[expenses[i].ID] = &expenses[i]
		args = append(args, expenses[i].ID)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(args)), ",")

	rows, err := s.db.QueryContext(ctx,
		`SELECT expense_id, participant_id, weight FROM expense_shares WHERE expense_id IN (`+placeholders+`) ORDER BY rowid`,
		args...)
	if err != nil {
		return fmt.Errorf("select shares: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			expenseID int64
			share     core.Share
			weight    string
		)
		if err := rows.Scan(&expenseID, &share.ParticipantID, &weight); err != nil {
			return fmt.Errorf("scan share: %w", err)
		}
		if share.Weight, err = parseStoredDecimal("weight", weight); err != nil {
			return err
		}
		if e, ok := byID[expenseID]; ok {
			e.Snapshot = append(e.Snapshot, share)
		}
	}
	return rows.Err()
}

func parseStoredDecimal(column, value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse %s %q: %w", column, value, err)
	}
	return d, nil
}
