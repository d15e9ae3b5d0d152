package core

import (
	"slices"
	"strings"

	"github.com/shopspring/decimal"
)

// MonthTotals is a compact summary of one month.
type MonthTotals struct {
	MonthKey       string          `json:"monthKey"`
	TotalIncome    decimal.Decimal `json:"totalIncome"`
	Subscriptions  decimal.Decimal `json:"subscriptions"`
	PeriodExpenses decimal.Decimal `json:"periodExpenses"`
	Installments   decimal.Decimal `json:"installments"`
	TotalExpenses  decimal.Decimal `json:"totalExpenses"`
	Leftover       decimal.Decimal `json:"leftover"`
}

// SnapshotTotals sums a month. Installments count with their monthly amount.
func SnapshotTotals(s MonthlySnapshot) MonthTotals {
	t := MonthTotals{
		MonthKey:       s.MonthKey,
		TotalIncome:    SumAmounts(s.Incomes),
		Subscriptions:  SumAmounts(s.Subscriptions),
		PeriodExpenses: SumAmounts(s.PeriodExpenses),
		Installments:   decimal.Zero,
	}
	for _, inst := range s.Installments {
		t.Installments = t.Installments.Add(MonthlyInstallmentAmount(inst))
	}
	t.TotalExpenses = t.Subscriptions.Add(t.PeriodExpenses).Add(t.Installments)
	t.Leftover = t.TotalIncome.Sub(t.TotalExpenses)
	return t
}

// History returns the totals of every stored month, newest first. Overlays
// replace the stored snapshot of their month, which lets callers include a
// composite that has not been persisted.
func History(user UserRecord, overlays ...MonthlySnapshot) []MonthTotals {
	months := make(map[string]MonthlySnapshot, len(user.Months)+len(overlays))
	for k, m := range user.Months {
		months[k] = m
	}
	for _, o := range overlays {
		months[o.MonthKey] = o
	}

	out := make([]MonthTotals, 0, len(months))
	for k, m := range months {
		if m.MonthKey == "" {
			m.MonthKey = k
		}
		out = append(out, SnapshotTotals(m))
	}
	slices.SortFunc(out, func(a, b MonthTotals) int {
		return strings.Compare(b.MonthKey, a.MonthKey)
	})
	return out
}

// AvailableMonths lists the stored months plus selected, ascending.
func AvailableMonths(user UserRecord, selected string) []string {
	set := make(map[string]struct{}, len(user.Months)+1)
	if selected != "" {
		set[selected] = struct{}{}
	}
	for k := range user.Months {
		if k != "" {
			set[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// LatestMonth returns the newest stored month, or fallback when there is none.
func LatestMonth(user UserRecord, fallback string) string {
	latest := ""
	for k := range user.Months {
		if k > latest {
			latest = k
		}
	}
	if latest == "" {
		return fallback
	}
	return latest
}
