package sheets

import (
	"context"

	"billfold/internal/core"
)

// ExpenseWriter is the outbound port for the export backends. Append
// writes one expense and returns an opaque row reference.
type ExpenseWriter interface {
	Append(ctx context.Context, e core.Expense) (rowRef string, err error)
}
