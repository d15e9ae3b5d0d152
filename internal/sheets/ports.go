package sheets

import (
	"context"

	"kasa/internal/core"
)

// SummaryWriter exports a user's month totals to an external sheet.
type SummaryWriter interface {
	// WriteSummary replaces the user's exported summary with totals.
	WriteSummary(ctx context.Context, username string, totals []core.MonthTotals) error
}

// Header is the first row of every exported summary.
var Header = []string{"Month", "Income", "Subscriptions", "Period expenses", "Installments", "Total expenses", "Leftover"}
