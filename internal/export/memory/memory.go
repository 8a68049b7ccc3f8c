package memory

import (
	"context"
	"fmt"
	"sync"

	"divvy/internal/core"
	ports "divvy/internal/export"
)

// Store is the in-memory ExpenseExporter used by tests and local runs
// without Sheets credentials.
type Store struct {
	mu    sync.Mutex
	items []core.Expense
}

var _ ports.ExpenseExporter = (*Store)(nil)

func New() *Store {
	return &Store{}
}

// Export stores the expense and returns a synthetic row reference.
func (s *Store) Export(_ context.Context, e core.Expense) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, e)
	return fmt.Sprintf("mem:%d", len(s.items)), nil
}

// Exported returns a copy of everything exported so far.
func (s *Store) Exported() []core.Expense {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Expense(nil), s.items...)
}
