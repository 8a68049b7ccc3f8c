package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"divvy/internal/core"
	"divvy/internal/ledger"
)

// Memory is the in-memory Store used by tests and local development. It
// mirrors the SQLite semantics exactly, including snapshot isolation:
// expenses go in and come out as independent copies.
type Memory struct {
	mu            sync.Mutex
	nextLedgerID  int64
	nextExpenseID int64
	nextMemberID  int64
	ledgers       map[int64]core.Ledger
	participants  map[int64][]core.Participant
	expenses      map[int64][]core.Expense
	drafts        map[string]ledger.PendingDraft
}

var _ ledger.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		nextLedgerID:  1,
		nextExpenseID: 1,
		nextMemberID:  1,
		ledgers:       make(map[int64]core.Ledger),
		participants:  make(map[int64][]core.Participant),
		expenses:      make(map[int64][]core.Expense),
		drafts:        make(map[string]ledger.PendingDraft),
	}
}

func (m *Memory) CreateLedger(_ context.Context, title string, base core.Currency) (core.Ledger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := core.Ledger{
		ID:           m.nextLedgerID,
		Title:        title,
		BaseCurrency: base,
		VirtualSeq:   -1,
		CreatedAt:    time.Now().UTC(),
	}
	m.nextLedgerID++
	m.ledgers[l.ID] = l
	return l, nil
}

func (m *Memory) GetLedger(_ context.Context, ledgerID int64) (core.Ledger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.ledgers[ledgerID]
	if !ok {
		return core.Ledger{}, core.ErrLedgerNotFound
	}
	return l, nil
}

func (m *Memory) SetBaseCurrency(_ context.Context, ledgerID int64, base core.Currency) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.ledgers[ledgerID]
	if !ok {
		return core.ErrLedgerNotFound
	}
	l.BaseCurrency = base
	m.ledgers[ledgerID] = l
	return nil
}

func (m *Memory) AddParticipant(_ context.Context, p core.Participant) (core.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.ledgers[p.LedgerID]; !ok {
		return core.Participant{}, core.ErrLedgerNotFound
	}
	if p.ID == 0 {
		p.ID = m.nextMemberID
		m.nextMemberID++
	}
	members := m.participants[p.LedgerID]
	for i, existing := range members {
		if existing.ID == p.ID {
			// Re-registering refreshes the display name and weight.
			members[i].DisplayName = p.DisplayName
			members[i].Weight = p.Weight
			return members[i], nil
		}
	}
	m.participants[p.LedgerID] = append(members, p)
	return p, nil
}

func (m *Memory) NextVirtualID(_ context.Context, ledgerID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.ledgers[ledgerID]
	if !ok {
		return 0, core.ErrLedgerNotFound
	}
	id := l.VirtualSeq
	l.VirtualSeq--
	m.ledgers[ledgerID] = l
	return id, nil
}

func (m *Memory) ListParticipants(_ context.Context, ledgerID int64) ([]core.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.ledgers[ledgerID]; !ok {
		return nil, core.ErrLedgerNotFound
	}
	members := m.participants[ledgerID]
	out := make([]core.Participant, len(members))
	copy(out, members)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) AppendExpense(_ context.Context, e core.Expense) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.ledgers[e.LedgerID]; !ok {
		return 0, core.ErrLedgerNotFound
	}
	e.ID = m.nextExpenseID
	m.nextExpenseID++
	e.Snapshot = e.Snapshot.Clone()
	m.expenses[e.LedgerID] = append(m.expenses[e.LedgerID], e)
	return e.ID, nil
}

func (m *Memory) MarkVoid(_ context.Context, ledgerID, expenseID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := m.expenses[ledgerID]
	for i := range items {
		if items[i].ID != expenseID {
			continue
		}
		if items[i].Status == core.StatusVoid {
			return core.ErrExpenseVoided
		}
		items[i].Status = core.StatusVoid
		return nil
	}
	return core.ErrExpenseNotFound
}

func (m *Memory) ListExpenses(_ context.Context, ledgerID int64, window core.Window, includeVoid bool) ([]core.Expense, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.ledgers[ledgerID]; !ok {
		return nil, core.ErrLedgerNotFound
	}
	var out []core.Expense
	for _, e := range m.expenses[ledgerID] {
		if !includeVoid && e.Status != core.StatusApproved {
			continue
		}
		if !window.Contains(e.SpentAt) {
			continue
		}
		e.Snapshot = e.Snapshot.Clone()
		out = append(out, e)
	}
	return out, nil
}

func (m *Memory) CountExpenses(_ context.Context, ledgerID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.expenses[ledgerID]), nil
}

func (m *Memory) SavePendingDraft(_ context.Context, d ledger.PendingDraft) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d.Draft.Participants = core.NewWeightSnapshot(d.Draft.Participants)
	m.drafts[d.DraftKey] = d
	return nil
}

func (m *Memory) GetPendingDraft(_ context.Context, draftKey string) (ledger.PendingDraft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.drafts[draftKey]
	if !ok {
		return ledger.PendingDraft{}, ledger.ErrDraftNotFound
	}
	return d, nil
}

func (m *Memory) ListPendingDrafts(_ context.Context, olderThan time.Time, limit int) ([]ledger.PendingDraft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []ledger.PendingDraft
	for _, d := range m.drafts {
		if d.CreatedAt.Before(olderThan) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) MarkDraftAttempt(_ context.Context, draftKey string, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.drafts[draftKey]
	if !ok {
		return ledger.ErrDraftNotFound
	}
	d.Attempts++
	d.LastError = lastError
	m.drafts[draftKey] = d
	return nil
}

func (m *Memory) DeletePendingDraft(_ context.Context, draftKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.drafts, draftKey)
	return nil
}

func (m *Memory) ListPendingExport(_ context.Context, limit int) ([]core.Expense, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []core.Expense
	for _, items := range m.expenses {
		for _, e := range items {
			if e.ExportStatus != core.ExportPending {
				continue
			}
			e.Snapshot = e.Snapshot.Clone()
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) MarkExported(_ context.Context, expenseID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, items := range m.expenses {
		for i := range items {
			if items[i].ID == expenseID {
				items[i].ExportStatus = core.ExportDone
				return nil
			}
		}
	}
	return core.ErrExpenseNotFound
}
