package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	StatusApproved ExpenseStatus = "approved"
	StatusVoid     ExpenseStatus = "void"
)

const (
	ExportPending ExportStatus = "pending"
	ExportDone    ExportStatus = "exported"
)

type (
	ExpenseStatus string

	ExportStatus string

	// Participant is a member of a ledger. Virtual participants (people
	// without an account) live in a reserved negative identity space
	// allocated per ledger.
	Participant struct {
		ID          int64
		LedgerID    int64
		DisplayName string
		Weight      decimal.Decimal // default share weight for new drafts
		Virtual     bool
	}

	// Share is one participant's weight inside a single expense.
	Share struct {
		ParticipantID int64
		Weight        decimal.Decimal
	}

	// WeightSnapshot is the immutable per-expense copy of the shares it
	// was created with. It is written once and never recomputed from a
	// participant's current weight.
	WeightSnapshot []Share

	// ExpenseDraft is the validated input shape for creating an expense.
	// Everything upstream (commands, free text, API payloads) must be
	// reduced to this before it reaches the ledger.
	ExpenseDraft struct {
		PayerID      int64
		Amount       decimal.Decimal
		Currency     Currency
		Participants []Share
		Category     string
		SpentAt      time.Time
	}

	Expense struct {
		ID               int64
		LedgerID         int64
		PayerID          int64
		OriginalAmount   decimal.Decimal
		OriginalCurrency Currency
		AmountInBase     decimal.Decimal
		FxRate           decimal.Decimal
		FxApproximate    bool
		Category         string
		SpentAt          time.Time
		Snapshot         WeightSnapshot
		Status           ExpenseStatus
		ExportStatus     ExportStatus
		CreatedAt        time.Time
	}

	Ledger struct {
		ID           int64
		Title        string
		BaseCurrency Currency
		// VirtualSeq is the next virtual participant ID, starting at -1
		// and decrementing.
		VirtualSeq int64
		CreatedAt  time.Time
	}

	// Window bounds a query in time. Zero endpoints are unbounded.
	Window struct {
		From time.Time
		To   time.Time
	}
)

var (
	ErrInvalidExpense   = errors.New("invalid expense")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidCurrency  = errors.New("invalid currency")
	ErrInvalidTitle     = errors.New("invalid ledger title")
	ErrLedgerNotFound   = errors.New("ledger not found")
	ErrExpenseNotFound  = errors.New("expense not found")
	ErrExpenseVoided    = errors.New("expense already void")
	ErrUnknownParticipant = errors.New("unknown participant")
	ErrCurrencyLocked   = errors.New("base currency locked after first expense")
)

// InvalidExpenseError carries the precondition a draft violated. It
// matches ErrInvalidExpense under errors.Is so callers can branch on the
// class without inspecting the reason.
type InvalidExpenseError struct {
	Reason string
}

func (e *InvalidExpenseError) Error() string { return "invalid expense: " + e.Reason }

func (e *InvalidExpenseError) Is(target error) bool { return target == ErrInvalidExpense }

func invalid(reason string) error { return &InvalidExpenseError{Reason: reason} }

// Validate checks the draft preconditions: positive amount, recognized
// currency, a payer, and a nonempty participant list with strictly
// positive weights. A violated precondition means the draft must not be
// persisted.
func (d ExpenseDraft) Validate() error {
	if d.PayerID == 0 {
		return invalid("missing payer")
	}
	if !d.Amount.IsPositive() {
		return invalid("amount must be positive")
	}
	if !d.Currency.Valid() {
		return invalid("unrecognized currency " + string(d.Currency))
	}
	if len(d.Participants) == 0 {
		return invalid("no participants")
	}
	seen := make(map[int64]bool, len(d.Participants))
	for _, p := range d.Participants {
		if p.ParticipantID == 0 {
			return invalid("participant without identity")
		}
		if seen[p.ParticipantID] {
			return invalid("duplicate participant")
		}
		seen[p.ParticipantID] = true
		if !p.Weight.IsPositive() {
			return invalid("weight must be positive")
		}
	}
	if len(d.Category) > 100 {
		return invalid("category too long (max 100 characters)")
	}
	return nil
}

// NewWeightSnapshot clones the given shares into a snapshot. The caller's
// slice stays independent; later mutation of it never reaches the
// snapshot.
func NewWeightSnapshot(shares []Share) WeightSnapshot {
	ws := make(WeightSnapshot, len(shares))
	copy(ws, shares)
	return ws
}

// Clone returns an independent copy of the snapshot.
func (ws WeightSnapshot) Clone() WeightSnapshot {
	out := make(WeightSnapshot, len(ws))
	copy(out, ws)
	return out
}

// TotalWeight sums the snapshot weights.
func (ws WeightSnapshot) TotalWeight() decimal.Decimal {
	total := decimal.Zero
	for _, s := range ws {
		total = total.Add(s.Weight)
	}
	return total
}

func (e Expense) Approved() bool { return e.Status == StatusApproved }

// Contains reports whether t falls inside the window. Zero endpoints do
// not constrain.
func (w Window) Contains(t time.Time) bool {
	if !w.From.IsZero() && t.Before(w.From) {
		return false
	}
	if !w.To.IsZero() && t.After(w.To) {
		return false
	}
	return true
}

// IsZero reports whether the window is unbounded on both ends.
func (w Window) IsZero() bool { return w.From.IsZero() && w.To.IsZero() }

// ValidateLedgerTitle bounds ledger titles to something displayable.
func ValidateLedgerTitle(title string) error {
	if len(strings.TrimSpace(title)) == 0 {
		return fmt.Errorf("%w: empty title", ErrInvalidTitle)
	}
	if len(title) > 200 {
		return fmt.Errorf("%w: too long (max 200 characters)", ErrInvalidTitle)
	}
	return nil
}
