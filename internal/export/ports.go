// Package export defines the audit export boundary. Approved expenses
// are appended to an external audit sheet asynchronously; the ledger
// remains the source of truth.
package export

import (
	"context"

	"divvy/internal/core"
)

type (
	// ExpenseExporter appends one expense row to the audit destination
	// and returns an opaque reference to the written row.
	ExpenseExporter interface {
		Export(ctx context.Context, e core.Expense) (string, error)
	}
)
