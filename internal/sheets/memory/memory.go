package memory

import (
	"context"
	"fmt"
	"sync"

	"billfold/internal/core"
	ports "billfold/internal/sheets"
)

// Store is an in-memory export backend. It stands in for Google
// Sheets when no spreadsheet is configured and in tests.
type Store struct {
	mu    sync.Mutex
	items []core.Expense
}

var _ ports.ExpenseWriter = (*Store)(nil)

func New() *Store {
	return &Store{}
}

// Append stores the expense and returns a synthetic row reference.
func (s *Store) Append(_ context.Context, e core.Expense) (string, error) {
	if err := e.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, e)
	return fmt.Sprintf("mem:%d", len(s.items)), nil
}

// Rows returns a copy of everything appended so far.
func (s *Store) Rows() []core.Expense {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Expense(nil), s.items...)
}
